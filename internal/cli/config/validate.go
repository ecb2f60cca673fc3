package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// FieldError is one invalid config key.
type FieldError struct {
	Key   string
	Tag   string
	Param string
	Value interface{}
}

func (e FieldError) Error() string {
	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Key)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", e.Key, e.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", e.Key, e.Param, e.Value)
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Key, e.Param)
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", e.Key, e.Value)
	default:
		return fmt.Sprintf("%s failed %s validation", e.Key, e.Tag)
	}
}

// ValidationError lists every invalid key.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		// Namespace is "Config.output.root"; drop the struct name.
		_, key, _ := strings.Cut(fe.Namespace(), ".")
		param := fe.Param()
		if fe.Tag() == "required_with" {
			param = siblingKey(key, param)
		}
		out.Fields = append(out.Fields, FieldError{
			Key:   key,
			Tag:   fe.Tag(),
			Param: param,
			Value: fe.Value(),
		})
	}
	return out
}

// siblingKey maps a Go field name referenced by a cross-field tag to its
// config key in the same section.
func siblingKey(key, field string) string {
	section, _, _ := strings.Cut(key, ".")
	t := reflect.TypeOf(Config{})
	for i := range t.NumField() {
		sf := t.Field(i)
		if sf.Tag.Get("koanf") != section || sf.Type.Kind() != reflect.Struct {
			continue
		}
		if f, ok := sf.Type.FieldByName(field); ok {
			return section + "." + f.Tag.Get("koanf")
		}
	}
	return field
}
