package fact

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/shoplane/factsync/src/common"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("nfc", isNFC)
		validate.RegisterValidation("nocontrol", hasNoControl)
	})
	return validate
}

// isNFC rejects strings that are not in Unicode normalization form C.
func isNFC(fl validator.FieldLevel) bool {
	return norm.NFC.IsNormalString(fl.Field().String())
}

// hasNoControl rejects strings containing control characters. The stores use
// NUL to separate key components.
func hasNoControl(fl validator.FieldLevel) bool {
	return strings.IndexFunc(fl.Field().String(), unicode.IsControl) < 0
}

// Validate checks the fields of a fact: entity, property, author and device
// must be set and free of control characters, every string must be in NFC,
// and the timestamp must be positive. Empty values are allowed.
func Validate(f *Fact) error {
	if err := validatorInstance().Struct(f); err != nil {
		return fmt.Errorf("invalid fact: %w", err)
	}
	return nil
}

// ValidateRecord checks the fact of a record, its hash, and the form of every
// obsoleted hash.
func ValidateRecord(r *Record) error {
	if err := r.Fact.Verify(); err != nil {
		return err
	}
	for _, o := range r.Obsoletes {
		if !common.ValidHash(o) {
			return fmt.Errorf("invalid obsoleted hash %q", o)
		}
		if o == r.Fact.Hash {
			return common.NewStoreErr("Record", common.SelfReference, o)
		}
	}
	return nil
}
