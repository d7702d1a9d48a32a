package sftp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerStartEmitsOperationStart(t *testing.T) {
	tr := NewTracker(0)
	sub := tr.Subscribe()

	rec := tr.Start(OpGet, "/remote/a", "", 42)
	require.NotNil(t, rec)
	assert.Equal(t, 1, tr.ActiveCount())

	ev := <-sub
	assert.Equal(t, EventOperationStart, ev.Kind)
	assert.Equal(t, "/remote/a", ev.Path)
	assert.Equal(t, int64(42), ev.Total)
}

func TestTrackerCompleteRemovesFromActiveAndEmitsOnce(t *testing.T) {
	tr := NewTracker(0)
	sub := tr.Subscribe()

	rec := tr.Start(OpPut, "/remote/b", "", 10)
	<-sub // operation-start

	tr.Progress(rec, 5)
	<-sub // operation-progress

	tr.Complete(rec)
	ev := <-sub
	assert.Equal(t, EventOperationComplete, ev.Kind)
	assert.Equal(t, 0, tr.ActiveCount())

	// a second terminal call is a no-op: no further event, record stays
	// terminal.
	tr.Complete(rec)
	select {
	case ev := <-sub:
		t.Fatalf("unexpected second terminal event: %+v", ev)
	default:
	}
}

func TestTrackerFailIsTerminalAndClassifiesTheError(t *testing.T) {
	tr := NewTracker(0)
	sub := tr.Subscribe()

	rec := tr.Start(OpGet, "/remote/c", "", 0)
	<-sub // operation-start

	tr.Fail(rec, &timeoutError_{op: "sftp read", dur: "1s"})
	ev := <-sub
	assert.Equal(t, EventOperationError, ev.Kind)
	require.NotNil(t, ev.Classified)
	assert.Equal(t, CategoryTimeout, ev.Classified.Category)
	assert.True(t, ev.Classified.Retryable)
	assert.Equal(t, 0, tr.ActiveCount())
}

func TestTrackerProgressSuppressedAfterTerminal(t *testing.T) {
	tr := NewTracker(0)
	tr.minInterval = 0 // disable throttling so only the terminal state can suppress progress
	sub := tr.Subscribe()

	rec := tr.Start(OpGet, "/remote/d", "", 100)
	<-sub // operation-start

	tr.Progress(rec, 10)
	<-sub // operation-progress

	tr.Complete(rec)
	<-sub // operation-complete

	// progress after termination must never emit.
	tr.Progress(rec, 50)
	select {
	case ev := <-sub:
		t.Fatalf("unexpected progress event after terminal: %+v", ev)
	default:
	}
}

func TestTrackerHistoryCapped(t *testing.T) {
	tr := NewTracker(3)
	for i := 0; i < 10; i++ {
		tr.emit(Event{Kind: EventKeepalive})
	}
	assert.Len(t, tr.history, 3)
}

func TestTrackerNilRecordIsNoOp(t *testing.T) {
	tr := NewTracker(0)
	assert.NotPanics(t, func() {
		tr.Progress(nil, 1)
		tr.Complete(nil)
		tr.Fail(nil, errors.New("boom"))
		tr.Retry(nil, "because")
	})
}

func TestEventKindStringIsTheClosedSetOfNames(t *testing.T) {
	cases := map[EventKind]string{
		EventConnectionStart:     "connection-start",
		EventOperationComplete:   "operation-complete",
		EventAdaptiveChange:      "adaptive-change",
		EventServerLimitDetected: "server-limit-detected",
		EventAutoReconnect:       "auto-reconnect",
		EventReconnectFailed:     "reconnect-failed",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
	assert.Equal(t, "unknown", EventKind(9999).String())
}

func TestClassifyNilIsNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassifyStatusErrorPermissionDeniedIsNotRetryable(t *testing.T) {
	c := Classify(&StatusError{Code: sshFxPermissionDenied})
	require.NotNil(t, c)
	assert.Equal(t, CategoryPermission, c.Category)
	assert.False(t, c.Retryable)
	assert.Equal(t, ActionCheckPermissions, c.Suggested)
}

func TestClassifyStatusErrorConnectionLostIsRetryable(t *testing.T) {
	c := Classify(&StatusError{Code: sshFxConnectionLost})
	require.NotNil(t, c)
	assert.Equal(t, CategoryNetwork, c.Category)
	assert.True(t, c.Retryable)
	assert.Equal(t, ActionReconnect, c.Suggested)
}

func TestClassifyAuthErrorIsNeverRetryable(t *testing.T) {
	c := Classify(&authError_{cause: errors.New("bad signature")})
	require.NotNil(t, c)
	assert.Equal(t, CategoryAuthentication, c.Category)
	assert.False(t, c.Retryable)
}

func TestClassifyTimeoutErrorIsRetryable(t *testing.T) {
	c := Classify(&timeoutError_{op: "sftp write", dur: "5s"})
	require.NotNil(t, c)
	assert.Equal(t, CategoryTimeout, c.Category)
	assert.True(t, c.Retryable)
}

func TestClassifyUnexpectedPacketIsProtocol(t *testing.T) {
	c := Classify(&unexpectedPacketErr{want: sshFxpStatus, got: sshFxpData})
	require.NotNil(t, c)
	assert.Equal(t, CategoryProtocol, c.Category)
	assert.False(t, c.IsUserActionable)
}
