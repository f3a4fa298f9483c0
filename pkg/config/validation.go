package config

import (
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
// Struct tag validation runs first; rules that cannot be expressed in tags
// (uniqueness across exports, type-specific delegate requirements) run
// after.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Exports) == 0 {
		return fmt.Errorf("exports: at least one export must be configured")
	}

	ids := make(map[uint16]bool)
	paths := make(map[string]bool)
	for i, exp := range cfg.Exports {
		if ids[exp.ID] {
			return fmt.Errorf("exports[%d]: duplicate export id %d", i, exp.ID)
		}
		ids[exp.ID] = true
		if paths[exp.Path] {
			return fmt.Errorf("exports[%d]: duplicate export path %q", i, exp.Path)
		}
		paths[exp.Path] = true
	}

	if cfg.Delegate.Type == "badger" {
		dir, _ := cfg.Delegate.Badger["dir"].(string)
		if dir == "" {
			return fmt.Errorf("delegate.badger: dir is required for the badger delegate")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
