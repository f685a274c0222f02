package pricing

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with decimal support registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		v.RegisterStructValidation(componentStructLevel, Component{})
		validate = v
	})
	return validate
}

func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// Equipment rows store a percentage, so their quantity is capped at 100.
func componentStructLevel(sl validator.StructLevel) {
	c := sl.Current().Interface().(Component)
	if c.Kind == KindEquipment && c.Quantity.GreaterThan(decimal.NewFromInt(100)) {
		sl.ReportError(c.Quantity, "quantity", "Quantity", "lte", "100")
	}
}

// Validate checks v against its struct tags and returns an *apperrors.ValidationError
// listing every failing field.
func Validate(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	return &apperrors.ValidationError{Fields: fields}
}

// ValidateComposition validates every component and checks they all belong to activityID.
func ValidateComposition(activityID int64, components []Component) error {
	if activityID <= 0 {
		return apperrors.NewValidationError("activity_id", "gt=0")
	}
	for _, c := range components {
		if c.ActivityID != activityID {
			return apperrors.NewValidationError("activity_id", "mismatch")
		}
		if err := Validate(c); err != nil {
			return err
		}
	}
	return nil
}
