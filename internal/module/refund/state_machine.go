package refund

import "fmt"

// StateMachine validates refund lifecycle transitions. The transition table
// is pure data; NextState never mutates anything, callers persist the result.
type StateMachine struct {
	transitions map[RefundStatus]map[RefundEvent]RefundStatus
}

// NewStateMachine creates the refund state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[RefundStatus]map[RefundEvent]RefundStatus{
			StatusSentForApproval: {
				EventReject:   StatusRejected,
				EventSendBack: StatusNeedMoreInfo,
				EventApprove:  StatusApproved,
				EventCancel:   StatusCancelled,
			},
			StatusNeedMoreInfo: {
				EventSubmit: StatusSentForApproval,
				EventCancel: StatusCancelled,
			},
			StatusApproved: {
				EventReject: StatusRejected,
				EventAccept: StatusAccepted,
			},
			StatusAccepted: {
				// The provider can reverse an acceptance, e.g. a card
				// refund that bounced and must be re-approved.
				EventReject: StatusApproved,
				EventExpire: StatusExpired,
			},
			StatusExpired: {
				EventReissue: StatusClosed,
			},
			// Terminal states
			StatusRejected:  {},
			StatusCancelled: {},
			StatusClosed:    {},
		},
	}
}

// NextState returns the successor state for (current, event), or
// ErrInvalidTransition if the pair is not in the table.
func (sm *StateMachine) NextState(current RefundStatus, event RefundEvent) (RefundStatus, error) {
	allowed, ok := sm.transitions[current]
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, current)
	}
	next, ok := allowed[event]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a refund in status %s", ErrInvalidTransition, event, current)
	}
	return next, nil
}

// CanTransition checks whether the event is legal from the current state.
func (sm *StateMachine) CanTransition(current RefundStatus, event RefundEvent) bool {
	_, err := sm.NextState(current, event)
	return err == nil
}

// ValidEvents enumerates the legal events from the current state, for
// driving the available-actions query. The order is fixed for stable output.
func (sm *StateMachine) ValidEvents(current RefundStatus) []RefundEvent {
	allowed, ok := sm.transitions[current]
	if !ok {
		return nil
	}
	events := make([]RefundEvent, 0, len(allowed))
	for _, e := range eventOrder {
		if _, ok := allowed[e]; ok {
			events = append(events, e)
		}
	}
	return events
}

// IsTerminal reports whether no events are legal from the given state.
func (sm *StateMachine) IsTerminal(current RefundStatus) bool {
	return len(sm.transitions[current]) == 0
}

var eventOrder = []RefundEvent{
	EventSubmit, EventApprove, EventSendBack, EventReject,
	EventAccept, EventCancel, EventExpire, EventReissue,
}

// EventLabel maps an event to its display label.
func EventLabel(event RefundEvent) string {
	switch event {
	case EventSubmit:
		return "Submit"
	case EventReject:
		return "Reject"
	case EventSendBack:
		return "Return to caseworker"
	case EventApprove:
		return "Approve"
	case EventAccept:
		return "Accept"
	case EventCancel:
		return "Cancel"
	case EventExpire:
		return "Expire"
	case EventReissue:
		return "Re-issue"
	default:
		return string(event)
	}
}

// StatusLabel maps a status to its display label.
func StatusLabel(status RefundStatus) string {
	switch status {
	case StatusSentForApproval:
		return "Sent for approval"
	case StatusNeedMoreInfo:
		return "Update required"
	case StatusApproved:
		return "Approved"
	case StatusAccepted:
		return "Accepted"
	case StatusRejected:
		return "Rejected"
	case StatusCancelled:
		return "Cancelled"
	case StatusExpired:
		return "Expired"
	case StatusClosed:
		return "Closed"
	default:
		return string(status)
	}
}
