package syncerr

import "github.com/Guizzs26/go-ads-sync/internal/models"

// UnitResult is the outcome of one (account, entity type) fetch-then-upsert unit.
// Either Err is nil and Count rows were committed, or Err says why nothing was.
type UnitResult struct {
	EntityType models.EntityType
	Count      int
	Err        *Error
}

func Ok(et models.EntityType, count int) UnitResult {
	return UnitResult{EntityType: et, Count: count}
}

func Failed(et models.EntityType, err *Error) UnitResult {
	return UnitResult{EntityType: et, Err: err}
}

func (r UnitResult) OK() bool { return r.Err == nil }

// UnitError converts a failed result into the form stored in the sync log
func (r UnitResult) UnitError() models.UnitError {
	if r.Err == nil {
		return models.UnitError{EntityType: r.EntityType}
	}
	msg := r.Err.Op
	if r.Err.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += r.Err.Err.Error()
	}
	return models.UnitError{
		EntityType: r.EntityType,
		Kind:       r.Err.Kind.String(),
		Message:    msg,
	}
}
