package procurement

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a batch against the input contract: required columns present,
// at least one record, unique identifiers, positive bounded values and award
// dates not preceding publication.
func Validate(b *Batch) error {
	if err := CheckSchema(b); err != nil {
		return err
	}
	if b.Len() == 0 {
		return fmt.Errorf("%w: empty batch", riskerr.ErrDataQuality)
	}

	v := recordValidator()
	seen := make(map[string]int, len(b.Records))
	for i, rec := range b.Records {
		if err := v.Struct(rec); err != nil {
			return fmt.Errorf("%w: record %d (%s): %s", riskerr.ErrDataQuality, i, rec.ID, describe(err))
		}
		if first, dup := seen[rec.ID]; dup {
			return fmt.Errorf("%w: duplicate contract id %q at records %d and %d", riskerr.ErrDataQuality, rec.ID, first, i)
		}
		seen[rec.ID] = i
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
