package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
}

type structValidator struct {
	v        *validator.Validate
	messages map[string]string
}

// Rule is a custom string tag, e.g. "channel".
type Rule struct {
	Tag     string
	Message string
	Check   func(string) bool
}

// New returns a validator that reports fields by their json name.
func New(rules ...Rule) Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	messages := make(map[string]string, len(rules))
	for _, rule := range rules {
		check := rule.Check
		if err := v.RegisterValidation(rule.Tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		}); err != nil {
			panic(err)
		}
		messages[rule.Tag] = rule.Message
	}
	return &structValidator{v: v, messages: messages}
}

func (s *structValidator) Validate(obj interface{}) error {
	err := s.v.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, s.fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func (s *structValidator) fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if msg, ok := s.messages[fe.Tag()]; ok && msg != "" {
		return fmt.Sprintf("%s %s", field, msg)
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
