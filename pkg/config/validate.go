package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/stategc/pkg/gc"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		if err := gc.RegisterValidations(validate); err != nil {
			panic(err)
		}
	})
	return validate
}

// Validate checks struct tags across every section, then the cross-field
// rules of the GC and pruning sections.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := getValidator().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.GC.Validate(); err != nil {
		return err
	}
	if err := cfg.Prune.Validate(); err != nil {
		return err
	}
	if err := cfg.EffectiveGC().Validate(); err != nil {
		return fmt.Errorf("prune overrides: %w", err)
	}
	return nil
}
