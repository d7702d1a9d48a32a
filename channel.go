package sftp

import (
	"sync"

	"github.com/tredeske/gosftp/ulog"
)

// channelManager_ tracks the single SSH channel carrying the SFTP
// subsystem: the peer's declared max_packet_size and the send-window
// accounting used to decide when a write may proceed (Component B).
//
// The actual CHANNEL_OPEN/WINDOW_ADJUST wire exchange lives below Transport
// (out of scope); this type owns only the channel-layer bookkeeping, fed by
// values Transport/ssh.Session report and by observed window-adjust events.
type channelManager_ struct {
	mu sync.Mutex

	remoteID          uint32
	sendWindow        int64
	peerInitialWindow int64
	maxPacketSize     uint32
}

// minSafeChunkSize is the floor below which max_safe_chunk_size triggers a
// warning-level debug event: a server-negotiated max_packet_size this tight
// makes every transfer crawl.
const minSafeChunkSize = 8 << 10

func newChannelManager(maxPacketSize uint32, initialWindow int64) *channelManager_ {
	return &channelManager_{
		maxPacketSize:     maxPacketSize,
		sendWindow:        initialWindow,
		peerInitialWindow: initialWindow,
	}
}

// MaxSafeChunkSize exposes the largest payload upper layers may build for a
// single CHANNEL_DATA frame: the peer's max_packet_size minus a
// conservative fixed reservation for SSH/SFTP headers and a typical opaque
// handle. Never exceeding this keeps invariant (i) of §3 (payload.len <=
// max_packet_size) regardless of how exact the reservation turns out to
// be.
func (cm *channelManager_) MaxSafeChunkSize() int {
	cm.mu.Lock()
	size := int(cm.maxPacketSize) - requestOverheadBytes
	cm.mu.Unlock()

	if size < 1 {
		size = 1
	}
	if size < minSafeChunkSize {
		ulog.Warnf("sftp: channel max_safe_chunk_size %d is below %d; "+
			"transfers will be slow", size, minSafeChunkSize)
	}
	return size
}

// OnWindowAdjust increases send_window on a WINDOW_ADJUST event.
func (cm *channelManager_) OnWindowAdjust(delta int64) {
	cm.mu.Lock()
	cm.sendWindow += delta
	cm.mu.Unlock()
}

// ReserveSend decrements send_window by n bytes about to be written. The
// window may go temporarily negative in accounting, but callers never send
// when the window is already <= 0; Reserve exists
// for upper layers that want to self-throttle against reported window
// size rather than relying on the transport to block.
func (cm *channelManager_) ReserveSend(n int64) (ok bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.sendWindow <= 0 {
		return false
	}
	cm.sendWindow -= n
	return true
}

// SendWindow returns the current accounting value, for the adaptive
// controller's concurrency policy (target 80% of window as in-flight
// bytes).
func (cm *channelManager_) SendWindow() int64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.sendWindow
}

// MaxPacketSize returns the peer's declared CHANNEL_DATA payload ceiling.
func (cm *channelManager_) MaxPacketSize() uint32 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.maxPacketSize
}
