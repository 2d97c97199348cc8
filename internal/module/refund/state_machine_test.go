package refund

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine_NextState(t *testing.T) {
	sm := NewStateMachine()

	tests := []struct {
		name    string
		current RefundStatus
		event   RefundEvent
		want    RefundStatus
		wantErr bool
	}{
		{"approve from sent for approval", StatusSentForApproval, EventApprove, StatusApproved, false},
		{"reject from sent for approval", StatusSentForApproval, EventReject, StatusRejected, false},
		{"sendback from sent for approval", StatusSentForApproval, EventSendBack, StatusNeedMoreInfo, false},
		{"cancel from sent for approval", StatusSentForApproval, EventCancel, StatusCancelled, false},
		{"resubmit from need more info", StatusNeedMoreInfo, EventSubmit, StatusSentForApproval, false},
		{"cancel from need more info", StatusNeedMoreInfo, EventCancel, StatusCancelled, false},
		{"accept from approved", StatusApproved, EventAccept, StatusAccepted, false},
		{"reject from approved", StatusApproved, EventReject, StatusRejected, false},
		{"provider reversal from accepted", StatusAccepted, EventReject, StatusApproved, false},
		{"expire from accepted", StatusAccepted, EventExpire, StatusExpired, false},
		{"reissue from expired", StatusExpired, EventReissue, StatusClosed, false},

		{"submit not legal from sent for approval", StatusSentForApproval, EventSubmit, "", true},
		{"accept not legal from sent for approval", StatusSentForApproval, EventAccept, "", true},
		{"expire not legal from approved", StatusApproved, EventExpire, "", true},
		{"cancel not legal from approved", StatusApproved, EventCancel, "", true},
		{"reissue not legal from accepted", StatusAccepted, EventReissue, "", true},
		{"reissue not legal from closed", StatusClosed, EventReissue, "", true},
		{"nothing legal from rejected", StatusRejected, EventApprove, "", true},
		{"nothing legal from cancelled", StatusCancelled, EventSubmit, "", true},
		{"unknown status", RefundStatus("bogus"), EventSubmit, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sm.NextState(tt.current, tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStateMachine_NextStateIsPure(t *testing.T) {
	sm := NewStateMachine()

	first, err1 := sm.NextState(StatusSentForApproval, EventApprove)
	second, err2 := sm.NextState(StatusSentForApproval, EventApprove)

	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, first, second)
}

func TestStateMachine_ValidEvents(t *testing.T) {
	sm := NewStateMachine()

	assert.ElementsMatch(t,
		[]RefundEvent{EventApprove, EventReject, EventSendBack, EventCancel},
		sm.ValidEvents(StatusSentForApproval))
	assert.ElementsMatch(t,
		[]RefundEvent{EventSubmit, EventCancel},
		sm.ValidEvents(StatusNeedMoreInfo))
	assert.ElementsMatch(t,
		[]RefundEvent{EventAccept, EventReject},
		sm.ValidEvents(StatusApproved))
	assert.ElementsMatch(t,
		[]RefundEvent{EventReject, EventExpire},
		sm.ValidEvents(StatusAccepted))
	assert.ElementsMatch(t,
		[]RefundEvent{EventReissue},
		sm.ValidEvents(StatusExpired))
	assert.Empty(t, sm.ValidEvents(StatusRejected))
	assert.Empty(t, sm.ValidEvents(StatusCancelled))
	assert.Empty(t, sm.ValidEvents(StatusClosed))
}

func TestStateMachine_IsTerminal(t *testing.T) {
	sm := NewStateMachine()

	for _, status := range []RefundStatus{StatusRejected, StatusCancelled, StatusClosed} {
		assert.True(t, sm.IsTerminal(status), "expected %s to be terminal", status)
	}
	for _, status := range []RefundStatus{StatusSentForApproval, StatusNeedMoreInfo, StatusApproved, StatusAccepted, StatusExpired} {
		assert.False(t, sm.IsTerminal(status), "expected %s not to be terminal", status)
	}
}

func TestReissueNote(t *testing.T) {
	assert.Equal(t, "1st re-issue of original refund RF-0001-0002-0003-0004", ReissueNote(1, "RF-0001-0002-0003-0004"))
	assert.Equal(t, "2nd re-issue of original refund RF-0001-0002-0003-0004", ReissueNote(2, "RF-0001-0002-0003-0004"))
	assert.Equal(t, "3rd re-issue of original refund X", ReissueNote(3, "X"))
	assert.Equal(t, "4th re-issue of original refund X", ReissueNote(4, "X"))
	assert.Equal(t, "11th re-issue of original refund X", ReissueNote(11, "X"))
	assert.Equal(t, "21st re-issue of original refund X", ReissueNote(21, "X"))
}
