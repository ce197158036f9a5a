package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults. Validation accepts
// both uppercase and lowercase levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	switch cfg.Store.Type {
	case "file":
		if _, err := decodeFileConfig(cfg.Store.File); err != nil {
			return fmt.Errorf("store.file: %w", err)
		}
	case "badger":
		if _, err := decodeBadgerConfig(cfg.Store.Badger); err != nil {
			return fmt.Errorf("store.badger: %w", err)
		}
	}

	if cfg.Ticker.Enabled && cfg.Ticker.Interval <= 0 {
		return fmt.Errorf("ticker.interval: must be positive when the ticker is enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Adapters.Socket.Port != 0 &&
		cfg.Server.Metrics.Port == cfg.Adapters.Socket.Port {
		return fmt.Errorf("server.metrics.port: %d conflicts with adapters.socket.port", cfg.Server.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
