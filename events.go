package sftp

import (
	"sync"
	"time"
)

// EventKind names the lifecycle and diagnostic events the client emits.
//
// This is a closed set of typed variants rather than the dynamically named
// strings the original event-emitter source used; callers switch on Kind.
type EventKind int

const (
	EventConnectionStart EventKind = iota
	EventConnectionAuthenticating
	EventConnectionReady
	EventConnectionError
	EventOperationStart
	EventOperationProgress
	EventOperationComplete
	EventOperationError
	EventOperationRetry
	EventAdaptiveChange
	EventPerformanceMetrics
	EventServerLimitDetected
	EventAutoReconnect
	EventKeepalive
	EventHealthCheck
	EventReconnectAttempt
	EventReconnectSuccess
	EventReconnectError
	EventReconnectFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionStart:
		return "connection-start"
	case EventConnectionAuthenticating:
		return "connection-authenticating"
	case EventConnectionReady:
		return "connection-ready"
	case EventConnectionError:
		return "connection-error"
	case EventOperationStart:
		return "operation-start"
	case EventOperationProgress:
		return "operation-progress"
	case EventOperationComplete:
		return "operation-complete"
	case EventOperationError:
		return "operation-error"
	case EventOperationRetry:
		return "operation-retry"
	case EventAdaptiveChange:
		return "adaptive-change"
	case EventPerformanceMetrics:
		return "performance-metrics"
	case EventServerLimitDetected:
		return "server-limit-detected"
	case EventAutoReconnect:
		return "auto-reconnect"
	case EventKeepalive:
		return "keepalive"
	case EventHealthCheck:
		return "health-check"
	case EventReconnectAttempt:
		return "reconnect-attempt"
	case EventReconnectSuccess:
		return "reconnect-success"
	case EventReconnectError:
		return "reconnect-error"
	case EventReconnectFailed:
		return "reconnect-failed"
	default:
		return "unknown"
	}
}

// Event is a single occurrence delivered on the Tracker's broadcast channel.
type Event struct {
	Kind       EventKind
	OpID       uint64
	Path       string
	Bytes      int64
	Total      int64
	Err        error
	Classified *ClassifiedError
	At         time.Time
}

// OperationKind names the caller-visible operation an OperationRecord tracks.
type OperationKind int

const (
	OpGet OperationKind = iota
	OpPut
	OpList
	OpStat
	OpMkdir
	OpRmdir
	OpRename
	OpDelete
	OpUploadDir
	OpDownloadDir
)

// OperationRecord is the lifecycle record for a single caller-visible
// operation: created on entry, mutated on progress, terminated exactly once.
type OperationRecord struct {
	ID                uint64
	Kind              OperationKind
	RemotePath        string
	LocalPath         string
	StartTime         time.Time
	TotalBytes        int64
	BytesTransferred  int64
	terminal          bool
	lastProgressEmit  time.Time
}

// Tracker owns the active-operation map and the broadcast event stream
// (Component H).  Progress events are throttled per operation id; no
// progress event is ever emitted after the terminal event for that id.
type Tracker struct {
	mu          sync.Mutex
	nextID      uint64
	active      map[uint64]*OperationRecord
	history     []Event // capped ring of recent events
	historyCap  int
	subs        []chan Event
	minInterval time.Duration
}

const defaultEventHistoryCap = 1000
const defaultProgressInterval = 100 * time.Millisecond

// NewTracker builds a Tracker.  historyCap <= 0 selects the default cap
// of ~1000 entries.
func NewTracker(historyCap int) *Tracker {
	if historyCap <= 0 {
		historyCap = defaultEventHistoryCap
	}
	return &Tracker{
		active:      make(map[uint64]*OperationRecord),
		historyCap:  historyCap,
		minInterval: defaultProgressInterval,
	}
}

// Subscribe returns a channel that receives every emitted event.  The
// channel is buffered; a slow subscriber drops events rather than blocking
// the tracker.
func (t *Tracker) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

func (t *Tracker) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	t.mu.Lock()
	t.history = append(t.history, ev)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}
	subs := t.subs
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start creates an OperationRecord for a caller entry and emits
// operation-start.
func (t *Tracker) Start(kind OperationKind, remotePath, localPath string, totalBytes int64) *OperationRecord {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	rec := &OperationRecord{
		ID:         id,
		Kind:       kind,
		RemotePath: remotePath,
		LocalPath:  localPath,
		StartTime:  time.Now(),
		TotalBytes: totalBytes,
	}
	t.active[id] = rec
	t.mu.Unlock()

	t.emit(Event{Kind: EventOperationStart, OpID: id, Path: remotePath, Total: totalBytes})
	return rec
}

// Progress reports bytes transferred so far, throttled to minInterval per
// operation.  A call after the operation has terminated is a no-op.
func (t *Tracker) Progress(rec *OperationRecord, bytesTransferred int64) {
	if nil == rec {
		return
	}
	t.mu.Lock()
	if rec.terminal {
		t.mu.Unlock()
		return
	}
	rec.BytesTransferred = bytesTransferred
	now := time.Now()
	if !rec.lastProgressEmit.IsZero() && now.Sub(rec.lastProgressEmit) < t.minInterval {
		t.mu.Unlock()
		return
	}
	rec.lastProgressEmit = now
	t.mu.Unlock()

	t.emit(Event{Kind: EventOperationProgress, OpID: rec.ID, Path: rec.RemotePath,
		Bytes: bytesTransferred, Total: rec.TotalBytes})
}

// Complete terminates the operation successfully.  Exactly one of
// Complete/Fail is ever called per operation record.
func (t *Tracker) Complete(rec *OperationRecord) {
	if nil == rec {
		return
	}
	t.mu.Lock()
	if rec.terminal {
		t.mu.Unlock()
		return
	}
	rec.terminal = true
	rec.lastProgressEmit = time.Time{}
	delete(t.active, rec.ID)
	t.mu.Unlock()

	t.emit(Event{Kind: EventOperationComplete, OpID: rec.ID, Path: rec.RemotePath,
		Bytes: rec.BytesTransferred, Total: rec.TotalBytes})
}

// Fail terminates the operation with an error.
func (t *Tracker) Fail(rec *OperationRecord, err error) {
	if nil == rec {
		return
	}
	t.mu.Lock()
	if rec.terminal {
		t.mu.Unlock()
		return
	}
	rec.terminal = true
	rec.lastProgressEmit = time.Time{}
	delete(t.active, rec.ID)
	t.mu.Unlock()

	t.emit(Event{Kind: EventOperationError, OpID: rec.ID, Path: rec.RemotePath,
		Err: err, Classified: Classify(err), Bytes: rec.BytesTransferred, Total: rec.TotalBytes})
}

// Retry reports a retry-with-smaller-chunk or reconnect-and-retry decision.
func (t *Tracker) Retry(rec *OperationRecord, reason string) {
	if nil == rec {
		return
	}
	t.emit(Event{Kind: EventOperationRetry, OpID: rec.ID, Path: rec.RemotePath})
}

// ActiveCount returns the number of in-flight operations.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ErrorCategory classifies a user-visible error for remediation purposes.
type ErrorCategory int

const (
	CategoryNetwork ErrorCategory = iota
	CategoryAuthentication
	CategoryPermission
	CategoryServer
	CategoryTimeout
	CategoryFilesystem
	CategoryProtocol
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryAuthentication:
		return "authentication"
	case CategoryPermission:
		return "permission"
	case CategoryServer:
		return "server"
	case CategoryTimeout:
		return "timeout"
	case CategoryFilesystem:
		return "filesystem"
	case CategoryProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// SuggestedAction is the remediation a caller can reasonably take.
type SuggestedAction int

const (
	ActionRetry SuggestedAction = iota
	ActionCheckPermissions
	ActionReconnect
	ActionCheckNetwork
	ActionContactAdmin
)

// ClassifiedError carries the category/remediation metadata layered on top
// of any error this client can surface to a caller.
type ClassifiedError struct {
	Category         ErrorCategory
	IsUserActionable bool
	Suggested        SuggestedAction
	Retryable        bool
}

// Classify derives a ClassifiedError from an error's origin and content.
// Timeouts are retryable; authentication failures are not.
func Classify(err error) *ClassifiedError {
	if nil == err {
		return nil
	}
	switch e := err.(type) {
	case *StatusError:
		switch e.Code {
		case sshFxPermissionDenied:
			return &ClassifiedError{Category: CategoryPermission, IsUserActionable: true,
				Suggested: ActionCheckPermissions, Retryable: false}
		case sshFxNoConnection, sshFxConnectionLost:
			return &ClassifiedError{Category: CategoryNetwork, IsUserActionable: false,
				Suggested: ActionReconnect, Retryable: true}
		case sshFxOPUnsupported:
			return &ClassifiedError{Category: CategoryServer, IsUserActionable: false,
				Suggested: ActionContactAdmin, Retryable: false}
		case sshFxBadMessage:
			return &ClassifiedError{Category: CategoryProtocol, IsUserActionable: false,
				Suggested: ActionContactAdmin, Retryable: false}
		default:
			return &ClassifiedError{Category: CategoryServer, IsUserActionable: false,
				Suggested: ActionRetry, Retryable: true}
		}
	case *unexpectedPacketErr, *unexpectedVersionErr:
		return &ClassifiedError{Category: CategoryProtocol, IsUserActionable: false,
			Suggested: ActionContactAdmin, Retryable: false}
	case *timeoutError_:
		return &ClassifiedError{Category: CategoryTimeout, IsUserActionable: true,
			Suggested: ActionRetry, Retryable: true}
	case *authError_:
		return &ClassifiedError{Category: CategoryAuthentication, IsUserActionable: true,
			Suggested: ActionCheckPermissions, Retryable: false}
	case *connectionLostError_:
		return &ClassifiedError{Category: CategoryNetwork, IsUserActionable: false,
			Suggested: ActionReconnect, Retryable: true}
	}
	return &ClassifiedError{Category: CategoryFilesystem, IsUserActionable: true,
		Suggested: ActionRetry, Retryable: false}
}
