package schedfile

import (
	"fmt"
	"log/slog"

	"github.com/me/gotp/pkg/model"
)

// Validator performs semantic validation on a parsed schedule document,
// applying the same rules the scheduler enforces at install time so a
// bad file is rejected before it travels anywhere.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator with the given logger.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("component", "schedfile")}
}

// Validate checks semantic correctness of a document. Returns nil if
// valid, or a *model.APIError with FieldError details.
func (v *Validator) Validate(doc *Document) *model.APIError {
	var errs []model.FieldError

	if doc.CPU < 0 {
		errs = append(errs, model.FieldError{
			Field:   "cpu",
			Message: fmt.Sprintf("cpu %d must not be negative", doc.CPU),
		})
	}
	errs = append(errs, v.validateWindows(doc)...)

	if len(errs) == 0 {
		return nil
	}
	return model.NewValidationError("schedule validation failed", errs...)
}

func (v *Validator) validateWindows(doc *Document) []model.FieldError {
	var errs []model.FieldError

	if len(doc.Windows) == 0 {
		return []model.FieldError{{
			Field:   "windows",
			Message: "schedule must define at least one window",
		}}
	}

	var nextOffset model.Duration
	for i, w := range doc.Windows {
		field := func(name string) string {
			return fmt.Sprintf("windows[%d].%s", i, name)
		}
		if w.Duration <= 0 {
			errs = append(errs, model.FieldError{
				Field:   field("duration"),
				Message: fmt.Sprintf("duration %s must be positive", w.Duration),
			})
		}
		if w.Offset != nextOffset {
			errs = append(errs, model.FieldError{
				Field: field("offset"),
				Message: fmt.Sprintf("offset %s leaves a gap or overlap; expected %s",
					w.Offset, nextOffset),
			})
		}
		if int(w.Partition) != model.PartitionIdle &&
			(int(w.Partition) < 0 || int(w.Partition) >= model.MaxPartitions) {
			errs = append(errs, model.FieldError{
				Field: field("partition"),
				Message: fmt.Sprintf("partition %d out of range [0, %d)",
					w.Partition, model.MaxPartitions),
			})
		}
		nextOffset = w.Offset + w.Duration
	}

	return errs
}
