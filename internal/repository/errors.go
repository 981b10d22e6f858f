package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrRosterPeriodTaken is returned when the non-forced (configuration, period) slot is already used.
var ErrRosterPeriodTaken = errors.New("roster period already taken")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
