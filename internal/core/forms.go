package core

// forms.go validates the register and login forms before any backend call.

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MsgAllFieldsRequired is shown when a mandatory field is empty.
const MsgAllFieldsRequired = "All fields are required"

// ErrFieldsRequired is wrapped by FormErrors when any required rule failed.
var ErrFieldsRequired = errors.New("all fields are required")

// RegisterForm is the registration form as posted.
type RegisterForm struct {
	Name            string `form:"name" validate:"required,max=32"`
	Email           string `form:"email" validate:"required,email"`
	PhoneNumber     string `form:"phoneNumber" validate:"required,min=10,max=15"`
	DOB             string `form:"dob" validate:"required,datetime=2006-01-02"`
	Password        string `form:"password" validate:"required,min=8,max=32"`
	PasswordConfirm string `form:"passwordConfirm" validate:"required,eqfield=Password"`
}

// SignUp converts the form to the auth container's input.
func (f RegisterForm) SignUp() SignUp {
	return SignUp{
		Name:        strings.TrimSpace(f.Name),
		Email:       strings.TrimSpace(f.Email),
		Password:    f.Password,
		DOB:         f.DOB,
		PhoneNumber: strings.TrimSpace(f.PhoneNumber),
	}
}

// LoginForm is the email sign-in form as posted.
type LoginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required,min=8,max=32"`
}

// FormErrors maps form field names to their first failing message.
type FormErrors map[string]string

func (e FormErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("form validation failed: %s", strings.Join(fields, ", "))
}

// Field returns the message for name, or "".
func (e FormErrors) Field(name string) string {
	return e[name]
}

// formError carries the field messages and whether any required rule failed.
type formError struct {
	FormErrors
	required bool
}

func (e *formError) Error() string {
	if e.required {
		return fmt.Sprintf("%s (%s)", ErrFieldsRequired, e.FormErrors.Error())
	}
	return e.FormErrors.Error()
}

func (e *formError) Unwrap() []error {
	if e.required {
		return []error{e.FormErrors, ErrFieldsRequired}
	}
	return []error{e.FormErrors}
}

var (
	formValidator     *validator.Validate
	formValidatorOnce sync.Once
)

func validate() *validator.Validate {
	formValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		formValidator = v
	})
	return formValidator
}

// fieldMessages are keyed by "field.tag".
var fieldMessages = map[string]string{
	"name.required":            "Name is required",
	"name.max":                 "Name must be less than 32 characters",
	"email.required":           "Email is required",
	"email.email":              "Email is invalid",
	"phoneNumber.required":     "Phone number is required",
	"phoneNumber.max":          "Phone number must be less than 15 digits",
	"phoneNumber.min":          "Phone number must be atleast 10 digits",
	"dob.required":             "Date of Birth is required",
	"dob.datetime":             "Date of Birth must be a date",
	"password.required":        "Password is required",
	"password.min":             "Password must be more than 8 characters",
	"password.max":             "Password must be less than 32 characters",
	"passwordConfirm.required": "Please confirm your password",
	"passwordConfirm.eqfield":  "Passwords do not match",
}

// ValidateRegister checks a registration form. The error, if any, is a
// FormErrors and also matches ErrFieldsRequired when a field was empty.
func ValidateRegister(f RegisterForm) error {
	return validateForm(f)
}

// ValidateLogin checks a login form.
func ValidateLogin(f LoginForm) error {
	return validateForm(f)
}

// AsFormErrors extracts per-field messages from a validation error.
func AsFormErrors(err error) (FormErrors, bool) {
	var fe FormErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func validateForm(form any) error {
	err := validate().Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate form: %w", err)
	}

	out := &formError{FormErrors: FormErrors{}}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out.FormErrors[field]; seen {
			continue
		}
		if fe.Tag() == "required" {
			out.required = true
		}
		msg, ok := fieldMessages[field+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s is not valid", field)
		}
		out.FormErrors[field] = msg
	}
	return out
}
