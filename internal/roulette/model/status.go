package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task, always equal to the status of its
// latest action.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAvailable     Status = "available"
	StatusSkipped       Status = "skipped"
	StatusAssigned      Status = "assigned"
	StatusEditing       Status = "editing"
	StatusFixed         Status = "fixed"
	StatusAlreadyFixed  Status = "alreadyfixed"
	StatusFalsePositive Status = "falsepositive"
	StatusDeleted       Status = "deleted"
)

// DefaultExpirationThreshold is how long an assigned or editing task stays leased.
const DefaultExpirationThreshold = time.Hour

var allStatuses = []Status{
	StatusCreated, StatusAvailable, StatusSkipped, StatusAssigned, StatusEditing,
	StatusFixed, StatusAlreadyFixed, StatusFalsePositive, StatusDeleted,
}

// AvailableStatuses are handed out without regard to age.
var AvailableStatuses = []Status{StatusCreated, StatusAvailable, StatusSkipped}

// LeasedStatuses are handed out only after the lease expired.
var LeasedStatuses = []Status{StatusAssigned, StatusEditing}

// Statuses returns every known status in declaration order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus normalizes and validates a status name.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsOpen reports whether the status alone makes a task available.
func (s Status) IsOpen() bool {
	return s == StatusCreated || s == StatusAvailable || s == StatusSkipped
}

// IsLeased reports whether the status is an in-progress lease.
func (s Status) IsLeased() bool {
	return s == StatusAssigned || s == StatusEditing
}

// IsAvailable is the availability predicate: open statuses always qualify,
// leased ones once now - statusAt exceeds threshold.
func IsAvailable(status Status, statusAt, now time.Time, threshold time.Duration) bool {
	if status.IsOpen() {
		return true
	}
	return status.IsLeased() && now.Sub(statusAt) > threshold
}

// StaleBefore is the status_at cutoff below which a lease counts as expired.
func StaleBefore(now time.Time, threshold time.Duration) time.Time {
	return now.Add(-threshold)
}

// LeaseLive reports whether a leased status is still within its threshold.
func LeaseLive(status Status, statusAt, now time.Time, threshold time.Duration) bool {
	return status.IsLeased() && now.Sub(statusAt) <= threshold
}
