package runner

import (
	"context"
	"errors"

	"flow-runner/internal/models"
)

type multiStore []RunStore

// Tee returns a RunStore that saves every run to each of the given stores.
// Nil stores are ignored; every store is attempted even if an earlier one fails.
func Tee(stores ...RunStore) RunStore {
	var out multiStore
	for _, store := range stores {
		if store != nil {
			out = append(out, store)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m multiStore) Save(ctx context.Context, run *models.RunRecord) error {
	var errs []error
	for _, store := range m {
		if err := store.Save(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
