package settings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
)

var ErrInvalid = errors.New("invalid view settings")

// ViewSettings is the calendar view state kept per owner between visits.
type ViewSettings struct {
	ResourceMode string   `json:"resource_mode" validate:"required,oneof=practitioner room"`
	Date         string   `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ResourceIDs  []string `json:"resource_ids,omitempty" validate:"max=20,dive,required"`
	Filters      Filters  `json:"filters"`
}

type Filters struct {
	ServiceUnitIDs   []string `json:"service_unit_ids,omitempty" validate:"dive,required"`
	AppointmentTypes []string `json:"appointment_types,omitempty" validate:"dive,required"`
	ShowCancelled    bool     `json:"show_cancelled"`
	ShowUnavailable  bool     `json:"show_unavailable"`
}

func Default() ViewSettings {
	return ViewSettings{
		ResourceMode: model.KindPractitioner,
		Filters:      Filters{ShowUnavailable: true},
	}
}

func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// Validate checks vs and reports every failing field in one error.
func Validate(v *validator.Validate, vs ViewSettings) error {
	err := v.Struct(vs)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
}
