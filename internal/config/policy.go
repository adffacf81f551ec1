package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicyConfig holds entitlement policy knobs that operators may tune
// without a redeploy.
type PolicyConfig struct {
	// SuspendAddOnsOnDowngrade controls whether purchased add-on
	// capacity stops counting once the base plan has expired to the
	// free tier.
	SuspendAddOnsOnDowngrade bool            `mapstructure:"suspendAddOnsOnDowngrade"`
	BaseAllowances           []BaseAllowance `mapstructure:"baseAllowances"`
}

// BaseAllowance grants a resource quantity to every subscriber of a plan.
type BaseAllowance struct {
	Plan     string `mapstructure:"plan"`
	Resource string `mapstructure:"resource"`
	Quantity int    `mapstructure:"quantity"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		SuspendAddOnsOnDowngrade: false,
		BaseAllowances: []BaseAllowance{
			{Plan: "free", Resource: "brand_profile", Quantity: 0},
			{Plan: "monthly", Resource: "brand_profile", Quantity: 2},
			{Plan: "sixMonth", Resource: "brand_profile", Quantity: 2},
			{Plan: "annual", Resource: "brand_profile", Quantity: 2},
		},
	}
}

// PolicyHolder exposes the current policy and hot-reloads it when the
// config file changes.
type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("entitlements")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/stylora/config")
	v.AddConfigPath("/etc/stylora")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STYLORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPolicyConfig()
		v.SetDefault("entitlements.suspendAddOnsOnDowngrade", defaults.SuspendAddOnsOnDowngrade)
		v.SetDefault("entitlements.baseAllowances", defaults.BaseAllowances)
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("entitlements", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PolicyConfig
		if err := v.UnmarshalKey("entitlements", &updated); err != nil {
			log.Printf("[entitlement-policy] reload failed: %v", err)
			return
		}
		if err := validatePolicyConfig(updated); err != nil {
			log.Printf("[entitlement-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[entitlement-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

// Store replaces the current policy. Used by tests to exercise both
// sides of the downgrade flag.
func (h *PolicyHolder) Store(cfg PolicyConfig) {
	h.current.Store(cfg)
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if len(cfg.BaseAllowances) == 0 {
		return errors.New("entitlements.baseAllowances cannot be empty")
	}
	for _, allowance := range cfg.BaseAllowances {
		if strings.TrimSpace(allowance.Plan) == "" || strings.TrimSpace(allowance.Resource) == "" {
			return errors.New("entitlements.baseAllowances entries need plan and resource")
		}
		if allowance.Quantity < 0 {
			return errors.New("entitlements.baseAllowances quantity cannot be negative")
		}
	}
	return nil
}
