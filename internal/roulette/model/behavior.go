package model

import (
	"strings"
	"sync"
	"time"
)

// ReportCounter returns how many actions on the task carry the given status,
// the action just appended included. It runs inside the append transaction.
type ReportCounter func(status Status) (int, error)

// ChallengeBehavior carries the per-challenge-type lifecycle rules.
type ChallengeBehavior interface {
	// Name is the value stored in challenges.type.
	Name() string
	// IsTaskAvailable decides whether the task may be handed out.
	IsTaskAvailable(task *Task, now time.Time, threshold time.Duration) bool
	// AllowsSubmission lists the statuses a contributor may report.
	AllowsSubmission(status Status) bool
	// OnActionAppended returns the status to append right after action, if any.
	OnActionAppended(action Action, reports ReportCounter) (Status, bool, error)
}

// DefaultBehavior is the stock challenge type. A single alreadyfixed or
// falsepositive report sends the task back to the pool; a second report of the
// same status resolves it.
type DefaultBehavior struct{}

// ConfirmationsRequired is how many identical reports resolve a disputed task.
const ConfirmationsRequired = 2

func (DefaultBehavior) Name() string { return DefaultChallengeType }

func (DefaultBehavior) IsTaskAvailable(task *Task, now time.Time, threshold time.Duration) bool {
	return task.Available(now, threshold)
}

func (DefaultBehavior) AllowsSubmission(status Status) bool {
	switch status {
	case StatusAvailable, StatusSkipped, StatusAssigned, StatusEditing,
		StatusFixed, StatusAlreadyFixed, StatusFalsePositive:
		return true
	default:
		return false
	}
}

func (DefaultBehavior) OnActionAppended(action Action, reports ReportCounter) (Status, bool, error) {
	if action.Status != StatusAlreadyFixed && action.Status != StatusFalsePositive {
		return "", false, nil
	}
	n, err := reports(action.Status)
	if err != nil {
		return "", false, err
	}
	if n < ConfirmationsRequired {
		return StatusAvailable, true, nil
	}
	return "", false, nil
}

// BehaviorRegistry resolves challenge types to behaviors.
type BehaviorRegistry struct {
	mu        sync.RWMutex
	behaviors map[string]ChallengeBehavior
	fallback  ChallengeBehavior
}

// NewBehaviorRegistry returns a registry holding the default behavior.
func NewBehaviorRegistry() *BehaviorRegistry {
	r := &BehaviorRegistry{
		behaviors: make(map[string]ChallengeBehavior),
		fallback:  DefaultBehavior{},
	}
	r.Register(DefaultBehavior{})
	return r
}

// Register adds or replaces a behavior under its name.
func (r *BehaviorRegistry) Register(b ChallengeBehavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviors[strings.ToLower(b.Name())] = b
}

// Lookup returns the behavior for the type and whether it was registered.
// Unknown and empty types get the default behavior with ok=false.
func (r *BehaviorRegistry) Lookup(challengeType string) (ChallengeBehavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name := strings.ToLower(strings.TrimSpace(challengeType))
	if name == "" {
		name = DefaultChallengeType
	}
	if b, ok := r.behaviors[name]; ok {
		return b, true
	}
	return r.fallback, false
}

// Has reports whether the type is registered.
func (r *BehaviorRegistry) Has(challengeType string) bool {
	_, ok := r.Lookup(challengeType)
	return ok
}
