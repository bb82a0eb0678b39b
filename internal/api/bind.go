package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const maxBodyBytes = 1 << 20

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

func initValidator() {
	validateOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		translator, _ = uni.GetTranslator("en")

		validate = validator.New(validator.WithRequiredStructEnabled())
		// prefer json tag names in messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(validate, translator)
	})
}

// decodeJSON reads one JSON object into T and validates it.
func decodeJSON[T any](r *http.Request) (T, error) {
	initValidator()
	var dst T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dst, errors.New("empty body")
		}
		return dst, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return dst, errors.New("unexpected trailing data")
	}
	if err := validate.Struct(dst); err != nil {
		return dst, validationMessage(err)
	}
	return dst, nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return errors.New(verrs[0].Translate(translator))
	}
	return err
}
