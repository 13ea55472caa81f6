package auction

import (
	"github.com/cockroachdb/errors"

	"github.com/ashishshetty777/auction-app/internal/store"
)

var (
	// ErrRejected marks a request that failed validation. Nothing was
	// written; the caller may correct the input and retry.
	ErrRejected = errors.New("auction request rejected")
	// ErrStorage marks a failure of the record store. Any partial writes
	// have been rolled back or compensated.
	ErrStorage = errors.New("auction storage failure")
)

// Rejection reasons. Returned errors wrap one of these and carry the
// ErrRejected mark.
var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrTeamNotFound    = errors.New("team not found")
	ErrInvalidCategory = errors.New("unknown category")
	ErrAlreadySold     = errors.New("player already sold")
	ErrInvalidAmount   = errors.New("amount must not be negative")
	ErrBelowMinimumBid = errors.New("amount below category minimum bid")
	ErrAboveMaximumBid = errors.New("amount above team maximum bid")
	ErrCategoryFull    = errors.New("team category quota full")
	ErrRosterFull      = errors.New("team roster full")
	ErrNoSelection     = errors.New("no player selected")
	ErrLedgerEmpty     = errors.New("no sale to reverse")
	// ErrStaleSale is returned by Reverse when the latest ledger record no
	// longer matches the player and team it names. The record has been
	// discarded and nothing else changed.
	ErrStaleSale = errors.New("latest sale record is stale and was discarded")
)

func reject(reason error, format string, args ...any) error {
	if format != "" {
		reason = errors.Wrapf(reason, format, args...)
	}
	return errors.Mark(reason, ErrRejected)
}

// IsRejection reports whether err is a validation rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsStorageFailure reports whether err is a record store failure.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorage)
}

func storageErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrStorage)
}

// classify leaves rejections and marked storage errors alone and marks
// anything else as a storage failure.
func classify(err error) error {
	if err == nil || IsRejection(err) || IsStorageFailure(err) {
		return err
	}
	return errors.Mark(err, ErrStorage)
}

// lookupErr turns a missing record into the rejection reason and anything
// else into a storage failure.
func lookupErr(err error, reason error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return reject(reason, "%s", id)
	}
	return storageErr(err, "loading "+id)
}
