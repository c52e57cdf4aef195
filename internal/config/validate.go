package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rileyhilliard/dockhop/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML names so messages match the file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the config for errors and returns the first problem as a
// CONFIG error naming the offending field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but dockhop only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade dockhop to read this file.")
	}

	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Config failed validation",
			"Check hosts.yaml against 'dockhop init' output.")
	}

	if err := validateTargetNames(cfg.Targets); err != nil {
		return err
	}

	return nil
}

// ValidateEndpoint checks the exactly-one-credential rule on its own. The
// tunnel manager calls it before any network I/O.
func ValidateEndpoint(label, keyFile, password string) error {
	switch {
	case keyFile == "" && password == "":
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s has no credentials", label),
			"Set exactly one of key_file or password.")
	case keyFile != "" && password != "":
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s sets both key_file and password", label),
			"Set exactly one of key_file or password.")
	}
	return nil
}

// fieldError turns one validator failure into a readable CONFIG error.
func fieldError(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")

	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("'%s' is required", field)
	case "required_without":
		msg = fmt.Sprintf("'%s' needs either key_file or password", parentOf(field))
	case "excluded_with":
		msg = fmt.Sprintf("'%s' sets both key_file and password", parentOf(field))
	case "oneof":
		msg = fmt.Sprintf("'%s' must be one of: %s (got %v)", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "min", "gte":
		msg = fmt.Sprintf("'%s' must be at least %s (got %v)", field, fe.Param(), fe.Value())
	case "max", "lte":
		msg = fmt.Sprintf("'%s' must be at most %s (got %v)", field, fe.Param(), fe.Value())
	case "gt":
		msg = fmt.Sprintf("'%s' must be greater than %s (got %v)", field, fe.Param(), fe.Value())
	default:
		msg = fmt.Sprintf("'%s' failed '%s' check", field, fe.Tag())
	}

	return errors.New(errors.ErrConfig, msg, "Fix the value in hosts.yaml.")
}

func parentOf(field string) string {
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		return field[:i]
	}
	return field
}

func validateTargetNames(targets []Target) error {
	seen := make(map[string]int, len(targets))
	for i, t := range targets {
		if j, dup := seen[t.Name]; dup {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Target name '%s' is used twice (targets[%d] and targets[%d])", t.Name, j, i),
				"Give every target a unique name.")
		}
		seen[t.Name] = i
	}
	return nil
}
