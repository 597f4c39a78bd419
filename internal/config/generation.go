package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// GenerationPolicy holds the tunables for the generation pipeline. It is
// hot-reloaded from generation.yml when the file changes.
type GenerationPolicy struct {
	TrialGrant         int           `mapstructure:"trialGrant"`
	MaxAreas           int           `mapstructure:"maxAreas"`
	MaxConcurrency     int           `mapstructure:"maxConcurrency"`
	CustomPromptMaxLen int           `mapstructure:"customPromptMaxLen"`
	AreaTimeout        time.Duration `mapstructure:"areaTimeout"`
	RequestTimeout     time.Duration `mapstructure:"requestTimeout"`
	PastDueGrace       time.Duration `mapstructure:"pastDueGrace"`
	RecoveryInterval   time.Duration `mapstructure:"recoveryInterval"`
	SubmitRate         float64       `mapstructure:"submitRate"`
	SubmitBurst        int           `mapstructure:"submitBurst"`
}

func DefaultGenerationPolicy() GenerationPolicy {
	return GenerationPolicy{
		TrialGrant:         3,
		MaxAreas:           5,
		MaxConcurrency:     5,
		CustomPromptMaxLen: 500,
		AreaTimeout:        45 * time.Second,
		RequestTimeout:     4 * time.Minute,
		PastDueGrace:       72 * time.Hour,
		RecoveryInterval:   time.Minute,
		SubmitRate:         0.5,
		SubmitBurst:        5,
	}
}

type GenerationPolicyHolder struct {
	current atomic.Value // holds GenerationPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy GenerationPolicy) *GenerationPolicyHolder {
	holder := &GenerationPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewGenerationPolicyHolder(log *zap.Logger) (*GenerationPolicyHolder, error) {
	log = log.Named("config.generation")
	v := viper.New()

	v.SetConfigName("generation")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/yardcraft/config")
	v.AddConfigPath("/etc/yardcraft")
	v.AddConfigPath(".")

	v.SetEnvPrefix("YARDCRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGenerationPolicy()
	v.SetDefault("generation.trialGrant", defaults.TrialGrant)
	v.SetDefault("generation.maxAreas", defaults.MaxAreas)
	v.SetDefault("generation.maxConcurrency", defaults.MaxConcurrency)
	v.SetDefault("generation.customPromptMaxLen", defaults.CustomPromptMaxLen)
	v.SetDefault("generation.areaTimeout", defaults.AreaTimeout)
	v.SetDefault("generation.requestTimeout", defaults.RequestTimeout)
	v.SetDefault("generation.pastDueGrace", defaults.PastDueGrace)
	v.SetDefault("generation.recoveryInterval", defaults.RecoveryInterval)
	v.SetDefault("generation.submitRate", defaults.SubmitRate)
	v.SetDefault("generation.submitBurst", defaults.SubmitBurst)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var policy GenerationPolicy
	if err := v.UnmarshalKey("generation", &policy); err != nil {
		return nil, err
	}
	if err := validateGenerationPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GenerationPolicy
		if err := v.UnmarshalKey("generation", &updated); err != nil {
			log.Warn("generation policy reload failed", zap.Error(err))
			return
		}
		if err := validateGenerationPolicy(updated); err != nil {
			log.Warn("invalid generation policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("generation policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *GenerationPolicyHolder) Get() GenerationPolicy {
	return h.current.Load().(GenerationPolicy)
}

func validateGenerationPolicy(p GenerationPolicy) error {
	if p.TrialGrant < 0 {
		return errors.New("generation.trialGrant cannot be negative")
	}
	if p.MaxAreas < 1 || p.MaxAreas > 5 {
		return errors.New("generation.maxAreas must be between 1 and 5")
	}
	if p.MaxConcurrency < 1 || p.MaxConcurrency > p.MaxAreas {
		return errors.New("generation.maxConcurrency must be between 1 and maxAreas")
	}
	if p.CustomPromptMaxLen < 1 {
		return errors.New("generation.customPromptMaxLen must be positive")
	}
	if p.AreaTimeout <= 0 || p.RequestTimeout <= 0 {
		return errors.New("generation timeouts must be positive")
	}
	if p.RequestTimeout < p.AreaTimeout {
		return errors.New("generation.requestTimeout must cover at least one areaTimeout")
	}
	return nil
}
