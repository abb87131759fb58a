package segment

import (
	"slices"

	"github.com/Mutter0815/SegmentMailer/internal/errs"
)

// Validate reports the first malformed rule as an *errs.ValidationError.
// The terminal rule's logic is not inspected.
func Validate(rules RuleSet) error {
	if len(rules) == 0 {
		return errs.Invalid(0, "at least one rule is required")
	}
	for i, r := range rules {
		idx := i + 1
		if !slices.Contains(Fields, r.Field) {
			return errs.Invalid(idx, "unknown field %q", r.Field)
		}
		if !slices.Contains(Operators, r.Operator) {
			return errs.Invalid(idx, "unknown operator %q", r.Operator)
		}
		if _, err := Coerce(r.Field, r.Value); err != nil {
			return errs.Invalid(idx, "%s", err.Error())
		}
		if i < len(rules)-1 && r.Logic != NoLogic && r.Logic != And && r.Logic != Or {
			return errs.Invalid(idx, "logic must be AND or OR, got %q", r.Logic)
		}
	}
	return nil
}
