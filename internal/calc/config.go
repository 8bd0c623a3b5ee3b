package calc

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds the financial assumptions behind every calculation.
type Config struct {
	DiscountRate       float64   `yaml:"discount_rate" json:"discount_rate" validate:"gte=0,lt=1"`
	HorizonYears       int       `yaml:"horizon_years" json:"horizon_years" validate:"gte=1,lte=10"`
	RampCurve          []float64 `yaml:"ramp_curve" json:"ramp_curve" validate:"len=12,dive,gt=0,lte=1"`
	ConservativeFactor float64   `yaml:"conservative_factor" json:"conservative_factor" validate:"gt=0,lte=1"`
	OptimisticFactor   float64   `yaml:"optimistic_factor" json:"optimistic_factor" validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{
		DiscountRate:       0.10,
		HorizonYears:       3,
		RampCurve:          []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1, 1},
		ConservativeFactor: 0.8,
		OptimisticFactor:   1.2,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the field constraints and that the ramp curve never
// decreases.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("calc %s failed %s", fe.Field(), fieldRule(fe)))
		}
	}
	for i := 1; i < len(c.RampCurve); i++ {
		if c.RampCurve[i] < c.RampCurve[i-1] {
			errs = append(errs, fmt.Errorf("ramp_curve decreases at month %d", i+1))
		}
	}
	return errors.Join(errs...)
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// AdoptionFactor is the mean of the ramp curve: the share of full run-rate
// benefit realized in year one.
func (c Config) AdoptionFactor() float64 {
	if len(c.RampCurve) == 0 {
		return 1
	}
	sum := 0.0
	for _, v := range c.RampCurve {
		sum += v
	}
	return sum / float64(len(c.RampCurve))
}
