package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidPlate    = errors.New("invalid plate number")
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	plateRegex    = regexp.MustCompile(`^[A-Z0-9]{3,10}$`)
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Struct validates a request DTO against its `validate` tags. Besides the
// built-in rules it understands `plate` and `money` (a decimal string).
func Struct(v any) error {
	return get().Struct(v)
}

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		_ = instance.RegisterValidation("plate", func(fl validator.FieldLevel) bool {
			_, err := NormalizePlate(fl.Field().String())
			return err == nil
		})
		_ = instance.RegisterValidation("money", func(fl validator.FieldLevel) bool {
			return moneyRegex.MatchString(strings.TrimSpace(fl.Field().String()))
		})
	})
	return instance
}

var moneyRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d{0,2})?|\.\d{1,2})$`)

// NormalizePlate upper-cases the plate and strips spaces and dashes.
func NormalizePlate(plate string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(plate))
	normalized = strings.NewReplacer(" ", "", "-", "").Replace(normalized)
	if !plateRegex.MatchString(normalized) {
		return "", ErrInvalidPlate
	}
	return normalized, nil
}

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// FieldErrors flattens validation errors into field -> failed tag.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return fields
}
