package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/model"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("symbol", validateSymbol)
	_ = v.RegisterValidation("side", validateSide)
	_ = v.RegisterValidation("asset_class", validateAssetClass)
	return v
}

func validateSymbol(fl validator.FieldLevel) bool {
	_, err := model.CanonicalSymbol(fl.Field().String())
	return err == nil
}

func validateSide(fl validator.FieldLevel) bool {
	_, ok := model.ParseSide(fl.Field().String())
	return ok
}

func validateAssetClass(fl validator.FieldLevel) bool {
	_, ok := model.ParseAssetClass(fl.Field().String())
	return ok
}

// Decode reads a JSON body into dst and validates its struct tags. Failures
// are INVALID_INPUT AppErrors naming the offending field.
func Decode(r *http.Request, dst any) error {
	if err := DecodeBody(r, dst); err != nil {
		return err
	}
	return Validate(dst)
}

// DecodeBody reads a JSON body into dst without validating it. Unknown
// fields and malformed JSON are INVALID_INPUT.
func DecodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.WithMessage(apperrors.ErrInvalidInput, "request body is required")
		}
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid request body: "+err.Error())
	}
	return nil
}

// Validate checks dst's struct tags and reports failures as INVALID_INPUT.
func Validate(dst any) error { return ValidateAs(dst, apperrors.ErrInvalidInput) }

// ValidateAs checks dst's struct tags and reports the first failure with
// the code of sentinel.
func ValidateAs(dst any, sentinel *apperrors.AppError) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.WithMessage(sentinel, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
	}
	return apperrors.Wrap(sentinel, err)
}
