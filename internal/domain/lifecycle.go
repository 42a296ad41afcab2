package domain

import (
	"fmt"
	"strings"
)

// Action is a lifecycle operation applied to a set of deliveries.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionPack    Action = "PACK"
	ActionSend    Action = "SEND"
	ActionDeliver Action = "DELIVER"
	ActionClaim   Action = "CLAIM"
	ActionDelete  Action = "DELETE"
)

func (a Action) String() string { return string(a) }

func (a Action) IsValid() bool {
	switch a {
	case ActionApprove, ActionPack, ActionSend, ActionDeliver, ActionClaim, ActionDelete:
		return true
	}
	return false
}

func ParseActionFromString(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: invalid action %q", ErrValidation, s)
	}
	return a, nil
}

// SupportsPartialClear reports whether succeeded items can be dropped from a
// selection while failed ones are kept for retry.
func (a Action) SupportsPartialClear() bool {
	return a != ActionApprove
}

// TargetStatus returns the status an item reaches after the action commits.
// Claim has no target: it never changes status.
func (a Action) TargetStatus() (Status, bool) {
	switch a {
	case ActionApprove:
		return StatusApproved, true
	case ActionPack:
		return StatusPacked, true
	case ActionSend:
		return StatusSentForDelivery, true
	case ActionDeliver:
		return StatusDelivered, true
	case ActionDelete:
		return StatusCancelled, true
	}
	return "", false
}

// CanApply checks whether the action is allowed from the delivery's current state.
func (a Action) CanApply(d DeliveryRecord) error {
	var allowed bool
	switch a {
	case ActionApprove:
		allowed = d.Status == StatusPending
	case ActionPack:
		allowed = d.Status == StatusApproved
	case ActionSend:
		allowed = d.Status == StatusPacked
	case ActionDeliver:
		allowed = d.Status == StatusSentForDelivery
	case ActionDelete:
		allowed = d.Status == StatusPending
	case ActionClaim:
		if d.IsClaimed {
			return fmt.Errorf("%w: delivery %d is already claimed", ErrConflict, d.EntryNo)
		}
		allowed = d.Status == StatusSentForDelivery || d.Status == StatusDelivered
	default:
		return fmt.Errorf("%w: invalid action %q", ErrValidation, a)
	}

	if !allowed {
		return fmt.Errorf("%w: cannot %s delivery %d in status %s",
			ErrConflict, strings.ToLower(a.String()), d.EntryNo, d.Status)
	}
	return nil
}
