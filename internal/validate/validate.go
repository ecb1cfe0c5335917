// Package validate checks request payloads and reports field errors in English.
package validate

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/pavelanni/papergen/internal/model"
)

// FieldErrors maps a field path such as "sections[0].questionCount" to a
// human-readable message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, len(keys))
	for i, k := range keys {
		msgs[i] = k + ": " + fe[k]
	}
	return strings.Join(msgs, "; ")
}

// Validator wraps go-playground/validator with JSON field names and English messages.
type Validator struct {
	v     *govalidator.Validate
	trans ut.Translator
}

// New creates a Validator with the custom tags used by the model package.
func New() *Validator {
	v := govalidator.New(govalidator.WithRequiredStructEnabled())
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	_ = v.RegisterValidation("questiontype", func(fl govalidator.FieldLevel) bool {
		qt := model.QuestionType(fl.Field().String())
		for _, known := range model.QuestionTypes {
			if qt == known {
				return true
			}
		}
		return false
	})
	_ = v.RegisterTranslation("questiontype", trans,
		func(u ut.Translator) error {
			return u.Add("questiontype", "{0} must be a supported question type", true)
		},
		func(u ut.Translator, fe govalidator.FieldError) string {
			msg, _ := u.T("questiontype", fe.Field())
			return msg
		},
	)

	return &Validator{v: v, trans: trans}
}

// Struct validates s. It returns nil or FieldErrors.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(FieldErrors, len(ve))
	for _, fe := range ve {
		fields[fieldPath(fe.Namespace())] = fe.Translate(v.trans)
	}
	return fields
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
