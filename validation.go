package authgate

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	letterPattern   = regexp.MustCompile(`[A-Za-z]`)
	digitPattern    = regexp.MustCompile(`[0-9]`)
	usernamePattern = regexp.MustCompile(`^[^\s@]+$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// emailRule checks syntax only.
var emailRule = validation.Match(emailPattern).Error("must be a valid email address")

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRegisterInput(in RegisterInput) RegisterInput {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	return in
}

// passwordRules returns the policy for a new password. strength adds the
// letter and digit requirement on top of the minimum length.
func (e *Engine) passwordRules(strength bool) []validation.Rule {
	rules := []validation.Rule{
		validation.Required,
		validation.Length(e.config.Password.MinLength, 1024),
	}
	if strength && e.config.Password.RequireLetterAndDigit {
		rules = append(rules,
			validation.Match(letterPattern).Error("must contain a letter"),
			validation.Match(digitPattern).Error("must contain a digit"),
		)
	}
	return rules
}

func (e *Engine) validateRegistration(in RegisterInput) error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.Username, validation.Required, validation.Length(1, 64),
			validation.Match(usernamePattern).Error("must not contain spaces or @")),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), emailRule),
		validation.Field(&in.Password, e.passwordRules(true)...),
	)
	return asValidationError(err)
}

// validateNewPassword checks a replacement password against the policy and
// reports failures under field.
func (e *Engine) validateNewPassword(field, plaintext string, strength bool) error {
	err := validation.Validate(plaintext, e.passwordRules(strength)...)
	if err == nil {
		return nil
	}
	var ierr validation.InternalError
	if errors.As(err, &ierr) {
		return err
	}
	return validationError(field, err.Error())
}

func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var ierr validation.InternalError
	if errors.As(err, &ierr) {
		return err
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for name, ferr := range verrs {
		fields[name] = ferr.Error()
	}
	return &ValidationError{Fields: fields}
}

func requireFields(fields map[string]string) error {
	missing := map[string]string{}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing[name] = "cannot be blank"
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Fields: missing}
}
