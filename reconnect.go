package sftp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tredeske/gosftp/ulog"
	"github.com/tredeske/gosftp/usync"
)

// reconnector_ implements Component G: the keepalive ticker, the
// independent health-check ticker, and the two reconnect strategies the
// transfer engine and the transport-close path call into.
//
// A reconnector_ is only installed on a Client built through Connect; one
// built via NewClient/NewClientPipe directly has no configuration to
// reconnect with and leaves c.reconnect nil.
type reconnector_ struct {
	client *Client
	cfg    *ClientConfig
	signer Signer

	missedKeepalives atomic.Int32
	unhealthy        atomic.Bool
	reconnecting     atomic.Bool
	attempt          atomic.Int32

	death usync.DeathChan

	mu sync.Mutex
}

func newReconnector(client *Client, cfg *ClientConfig, signer Signer) *reconnector_ {
	return &reconnector_{
		client: client,
		cfg:    cfg,
		signer: signer,
	}
}

// Start launches the keepalive and health-check loops named by cfg. Both
// loops exit when death is closed (on Client.Close).
func (rc *reconnector_) Start() {
	rc.death = make(usync.DeathChan)
	if rc.cfg.Keepalive.Enabled {
		go rc.keepaliveLoop()
	}
	if rc.cfg.HealthCheck.Enabled {
		go rc.healthCheckLoop()
	}
}

// Stop terminates the keepalive/health-check loops.
func (rc *reconnector_) Stop() {
	rc.death.Close()
}

func (rc *reconnector_) keepaliveLoop() {
	ticker := time.NewTicker(rc.cfg.Keepalive.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-rc.death:
			return
		case <-ticker.C:
			rc.client.events.emit(Event{Kind: EventKeepalive})
			if err := rc.client.transport.Ping(); err != nil {
				missed := rc.missedKeepalives.Add(1)
				if int(missed) >= rc.cfg.Keepalive.MaxMissed {
					rc.missedKeepalives.Store(0)
					rc.onTransportClosed(&connectionLostError_{cause: err})
				}
			} else {
				rc.missedKeepalives.Store(0)
			}
		}
	}
}

func (rc *reconnector_) healthCheckLoop() {
	ticker := time.NewTicker(rc.cfg.HealthCheck.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-rc.death:
			return
		case <-ticker.C:
			rc.client.events.emit(Event{Kind: EventHealthCheck})
			var err error
			switch rc.cfg.HealthCheck.Method {
			case HealthCheckRealPath:
				_, err = rc.client.RealPath(".")
			default:
				err = rc.client.transport.Ping()
			}
			if err != nil {
				rc.unhealthy.Store(true)
				if rc.cfg.AutoReconnect.Enabled {
					rc.onTransportClosed(&connectionLostError_{cause: err})
				}
			} else {
				rc.unhealthy.Store(false)
			}
		}
	}
}

// Unhealthy reports the last health-check outcome.
func (rc *reconnector_) Unhealthy() bool { return rc.unhealthy.Load() }

// LimitTriggeredReconnect implements the mid-transfer recovery path (4.G):
// tear down the old transport, dial a fresh one, redo the SFTP handshake,
// and reopen path with flags, returning the new *File (the transfer engine
// keeps its own offset). The old handle is not closed with a CLOSE request;
// it is dropped together with the old transport.
func (rc *reconnector_) LimitTriggeredReconnect(
	path string, flags int,
) (
	newFile *File, err error,
) {
	rc.client.events.emit(Event{Kind: EventAutoReconnect, Path: path})

	rc.client.transport.Disconnect()

	if err = rc.client.reconnectTransport(rc.cfg, rc.signer); err != nil {
		return nil, err
	}

	newFile, err = rc.client.Open(path, flags)
	if err != nil {
		return nil, err
	}

	// The detected server limit is deliberately kept: it is what lets the
	// transfer engine reconnect proactively at 90% of the ceiling on the
	// fresh connection instead of timing out into the same wall again.
	// Per-connection op/byte counters are the transfer engine's own locals
	// and reset when it adopts the new handle.
	rc.missedKeepalives.Store(0)
	rc.unhealthy.Store(false)
	return newFile, nil
}

// onTransportClosed is invoked by Client.reportError when the conn
// reader/writer goroutines die with requests pending, and by the keepalive
// and health-check loops on repeated failure. It runs the exponential
// backoff sequence unless one is already in flight.
func (rc *reconnector_) onTransportClosed(cause error) {
	if !rc.cfg.AutoReconnect.Enabled {
		return
	}
	if !rc.reconnecting.CompareAndSwap(false, true) {
		return // a reconnect attempt is already running
	}
	go rc.backoffReconnect(cause)
}

func (rc *reconnector_) backoffReconnect(cause error) {
	defer func() {
		rc.attempt.Store(0)
		rc.reconnecting.Store(false)
	}()

	delay := rc.cfg.AutoReconnect.InitialDelay
	for n := int32(1); n <= int32(rc.cfg.AutoReconnect.MaxAttempts); n++ {
		rc.attempt.Store(n)
		rc.client.events.emit(Event{Kind: EventReconnectAttempt, Err: cause})

		select {
		case <-rc.death:
			return
		case <-time.After(delay):
		}

		rc.client.transport.Disconnect()
		if err := rc.client.reconnectTransport(rc.cfg, rc.signer); err != nil {
			rc.client.events.emit(Event{Kind: EventReconnectError, Err: err})
			delay = time.Duration(float64(delay) * rc.cfg.AutoReconnect.BackoffMultiplier)
			continue
		}

		rc.attempt.Store(0)
		rc.unhealthy.Store(false)
		// an unplanned close means a brand-new session whose ceiling the old
		// inference may no longer describe; start the limit memory over
		rc.client.adaptive.ResetLimits()
		rc.client.events.emit(Event{Kind: EventReconnectSuccess})
		return
	}

	rc.client.events.emit(Event{Kind: EventReconnectFailed, Err: cause})
	ulog.Warnf("sftp: reconnect exhausted after %d attempts: %v",
		rc.cfg.AutoReconnect.MaxAttempts, cause)
}

// Attempt returns the current (1-based) reconnect attempt number, or 0 when
// not reconnecting.
func (rc *reconnector_) Attempt() int { return int(rc.attempt.Load()) }
