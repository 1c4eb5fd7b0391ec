// Package validators holds input validation for requests sent to the backend.
package validators

import (
	"errors"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const (
	// ExamFileTag validates that a file name carries a supported extension
	ExamFileTag = "examfile"

	// ExamTypeTag validates the shape of an exam type identifier
	ExamTypeTag = "examtype"
)

// AllowedExtensions lists the file extensions the backend accepts for exams
var AllowedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".webp", ".heic"}

var examTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})

	_ = validate.RegisterValidation(ExamFileTag, examFileValidation)
	_ = validate.RegisterValidation(ExamTypeTag, examTypeValidation)

	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{ExamFileTag, ExamTypeTag} {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustom)
	}
}

// FieldError describes a single invalid field
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Struct validates v against its `validate` tags. The returned error joins one
// *FieldError per invalid field, in declaration order.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return err
	}

	errs := make([]error, 0, len(vErrs))
	for _, fe := range vErrs {
		errs = append(errs, &FieldError{
			Field:   fieldPath(fe),
			Message: fe.Translate(translator),
		})
	}
	return errors.Join(errs...)
}

// FieldErrors returns the field errors contained in an error produced by Struct
func FieldErrors(err error) []*FieldError {
	if err == nil {
		return nil
	}
	var out []*FieldError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var fe *FieldError
			if errors.As(e, &fe) {
				out = append(out, fe)
			}
		}
		return out
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		out = append(out, fe)
	}
	return out
}

// fieldPath strips the top-level struct name from the namespace ("UploadRequest.files[0].name")
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case ExamFileTag:
		return "unsupported file type, expected one of " + strings.Join(AllowedExtensions, ", ")
	case ExamTypeTag:
		return "invalid exam type"
	default:
		return ""
	}
}

func examFileValidation(fl validator.FieldLevel) bool {
	name, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return slices.Contains(AllowedExtensions, strings.ToLower(filepath.Ext(name)))
}

func examTypeValidation(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	return ok && examTypePattern.MatchString(s)
}
