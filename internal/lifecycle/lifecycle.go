// Package lifecycle is the order state machine: a pure transition table
// plus the capability and structural checks guarding each move. It does
// no I/O; persistence of an accepted transition belongs to the caller.
package lifecycle

import (
	"errors"

	"bimflow/internal/model"
)

// Event names a trigger that may advance an order.
type Event string

const (
	// EventPaymentConfirmed is raised by the payment webhook.
	EventPaymentConfirmed Event = "payment_confirmed"
	// EventInputConfirmed is raised when the client confirms a source
	// model upload.
	EventInputConfirmed Event = "input_confirmed"
	// EventOutputConfirmed is raised when an administrator confirms a
	// deliverable upload.
	EventOutputConfirmed Event = "output_confirmed"
	// EventMarkedComplete is raised when an administrator closes the
	// order.
	EventMarkedComplete Event = "marked_complete"
)

var (
	// ErrInvalidTransition means the event does not apply to the order's
	// current status. Confirm paths treat it as "already done".
	ErrInvalidTransition = errors.New("transition does not apply to current status")
	// ErrForbidden means the actor lacks ownership or admin capability.
	ErrForbidden = errors.New("actor is not allowed to perform this transition")
	// ErrPreconditionUnmet means a structural requirement failed, e.g.
	// completing an order with no deliverable on record.
	ErrPreconditionUnmet = errors.New("transition precondition unmet")
)

// Actor is the acting principal as the engine sees it. System marks
// trusted out-of-band callers (the payment webhook), which carry no user
// identity.
type Actor struct {
	UserID  string
	IsAdmin bool
	System  bool
}

// Next returns the status an order in cur moves to on event. The table is
// strictly linear except that confirming additional deliverables while
// already processing stays in processing.
func Next(cur model.Status, event Event) (model.Status, error) {
	switch event {
	case EventPaymentConfirmed:
		if cur == model.StatusPending {
			return model.StatusPaid, nil
		}
	case EventInputConfirmed:
		if cur == model.StatusPaid {
			return model.StatusUploaded, nil
		}
	case EventOutputConfirmed:
		if cur == model.StatusUploaded || cur == model.StatusProcessing {
			return model.StatusProcessing, nil
		}
	case EventMarkedComplete:
		if cur == model.StatusProcessing {
			return model.StatusComplete, nil
		}
	}
	return "", ErrInvalidTransition
}

// Authorize checks the actor's capability for an event against the
// order's owner. Owners may confirm their own input uploads; admins may
// do anything owners can plus the admin-only moves; payment confirmation
// is reserved for the system principal.
func Authorize(event Event, actor Actor, ownerID string) error {
	switch event {
	case EventPaymentConfirmed:
		if actor.System {
			return nil
		}
	case EventInputConfirmed:
		if actor.IsAdmin || actor.UserID == ownerID {
			return nil
		}
	case EventOutputConfirmed, EventMarkedComplete:
		if actor.IsAdmin {
			return nil
		}
	}
	return ErrForbidden
}

// Check validates structural preconditions that are not a function of
// status alone. outputFiles is the number of deliverables recorded for
// the order.
func Check(event Event, outputFiles int) error {
	if event == EventMarkedComplete && outputFiles < 1 {
		return ErrPreconditionUnmet
	}
	return nil
}

// Milestone returns the timestamp column first set when an order reaches
// status, or "" when the status has none. Milestones are written once and
// never cleared.
func Milestone(status model.Status) string {
	switch status {
	case model.StatusPaid:
		return "paid_at"
	case model.StatusUploaded:
		return "uploaded_at"
	case model.StatusComplete:
		return "completed_at"
	}
	return ""
}

// UploadStatusOK reports whether an upload of the given role may be
// initiated against an order in cur: source models only between payment
// and upload, deliverables only once the input is in.
func UploadStatusOK(role model.FileRole, cur model.Status) bool {
	switch role {
	case model.RoleInput:
		return cur == model.StatusPaid
	case model.RoleOutput:
		return cur == model.StatusUploaded || cur == model.StatusProcessing
	}
	return false
}

// ConfirmEvent maps an upload role to the transition its confirmation
// drives.
func ConfirmEvent(role model.FileRole) Event {
	if role == model.RoleOutput {
		return EventOutputConfirmed
	}
	return EventInputConfirmed
}
