package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when the authenticated user id has no row.
	ErrUserNotFound = errors.New("user not found")
	// ErrCorruptUserState marks counters that violate basic invariants; never retried.
	ErrCorruptUserState = errors.New("malformed user state")
	// ErrCheckInBusy is returned after transient conflicts exhausted the retry budget.
	// Callers may retry the whole request.
	ErrCheckInBusy = errors.New("check-in temporarily unavailable, please retry")
	// ErrClaimConflict means every claim attempt lost a race to another claimant.
	ErrClaimConflict = errors.New("code claim conflict")

	ErrInventoryEmpty       = errors.New("no redemption code available")
	ErrCodeNotFound         = errors.New("redemption code not found")
	ErrCodeNotDistributed   = errors.New("redemption code has not been distributed")
	ErrCodeOwnedByOther     = errors.New("redemption code belongs to another user")
	ErrInvalidAmount        = errors.New("invalid code amount")
	ErrStorageNotConfigured = errors.New("object storage not configured")
)

// isTransient reports whether a failed transaction may succeed when replayed.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrClaimConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"deadlock",
		"lock wait timeout",
		"could not serialize",
		"database is locked",
		"duplicate entry",
		"unique constraint",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
