package sftp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdaptiveChunkSizeUploadProgression(t *testing.T) {
	a := newAdaptiveController()
	assert.Equal(t, initialUpChunk, a.ChunkSize(true, 1<<20))

	a.RecordBatch(4, 4) // 100% success, below growSuccessThreshold? no, >= 0.95
	assert.Equal(t, midUpChunk, a.ChunkSize(true, 1<<20))

	a.RecordBatch(4, 4)
	assert.Equal(t, maxUpChunk, a.ChunkSize(true, 1<<20))

	// a further success does not exceed the cap
	a.RecordBatch(4, 4)
	assert.Equal(t, maxUpChunk, a.ChunkSize(true, 1<<20))
}

func TestAdaptiveChunkSizeUnaffectedByRecordBatchAlone(t *testing.T) {
	a := newAdaptiveController()
	a.RecordBatch(4, 4)
	a.RecordBatch(4, 4)
	assert.Equal(t, maxUpChunk, a.ChunkSize(true, 1<<20))

	// a low success-rate batch tightens concurrency but leaves upChunk
	// alone - reverting chunk size on a retryable failure is ShrinkChunk's
	// job alone (see TestAdaptiveShrinkChunkRevertsToStableSize), so that
	// its stable-size bookkeeping isn't stomped by this coarser signal.
	a.RecordBatch(4, 1)
	assert.Equal(t, maxUpChunk, a.ChunkSize(true, 1<<20))
}

func TestAdaptiveShrinkChunkRevertsToStableSize(t *testing.T) {
	a := newAdaptiveController()
	a.RecordBatch(4, 4) // grows 8KiB -> 16KiB, stableUpChunk becomes 8KiB
	a.RecordBatch(4, 4) // grows 16KiB -> 32KiB, stableUpChunk becomes 16KiB
	assert.Equal(t, maxUpChunk, a.upChunk)

	got := a.ShrinkChunk()
	assert.Equal(t, midUpChunk, got, "reverts to the size stable before the last growth step, not a blind halving")

	// a second consecutive failure at the now-stable size falls back to
	// halving, since there is no earlier stable size left to revert to.
	got = a.ShrinkChunk()
	assert.Equal(t, midUpChunk/2, got)
}

func TestAdaptiveShrinkChunkNeverBelowFloor(t *testing.T) {
	a := newAdaptiveController()
	a.upChunk = minChunkSize
	a.stableUpChunk = minChunkSize
	got := a.ShrinkChunk()
	assert.Equal(t, minChunkSize, got, "never shrinks below the floor")
}

func TestAdaptiveChunkSizeNeverExceedsMaxSafeChunk(t *testing.T) {
	a := newAdaptiveController()
	a.maxPacket = 2048 // artificially small negotiated max packet
	size := a.ChunkSize(true, 1<<20)
	// the wire ceiling always wins, even when it falls below the usual
	// 8KiB floor - a chunk must never exceed max_packet_size (§5 invariant).
	assert.Equal(t, a.maxPacket-requestOverheadBytes, size)
}

func TestAdaptiveConcurrencyGrowsAndShrinksWithinBounds(t *testing.T) {
	a := newAdaptiveController()
	assert.Equal(t, initialConcurrency, a.Concurrency(0))

	for i := 0; i < 5; i++ {
		a.RecordBatch(10, 10)
	}
	assert.Equal(t, maxConcurrency, a.Concurrency(0), "never grows past the cap")

	for i := 0; i < 10; i++ {
		a.RecordBatch(10, 1)
	}
	assert.Equal(t, minConcurrency, a.Concurrency(0), "never shrinks past the floor")
}

func TestAdaptiveConcurrencyClampedByDetectedOpLimit(t *testing.T) {
	a := newAdaptiveController()
	a.RecordBatch(10, 10) // grow past 3
	a.NoteServerLimit(3, 0)
	assert.Equal(t, 3, a.Concurrency(0))
}

func TestAdaptiveNoteServerLimitOnlyTightens(t *testing.T) {
	a := newAdaptiveController()
	a.NoteServerLimit(50, 1<<20)
	a.NoteServerLimit(80, 2<<20) // looser: ignored
	assert.Equal(t, 50, a.detectedOpLimit)
	assert.Equal(t, 1<<20, a.detectedByteLimit)

	a.NoteServerLimit(20, 0) // tighter: adopted
	assert.Equal(t, 20, a.detectedOpLimit)
}

func TestAdaptiveResetLimitsClearsBothFields(t *testing.T) {
	a := newAdaptiveController()
	a.NoteServerLimit(10, 1024)
	a.ResetLimits()
	assert.Equal(t, 0, a.detectedOpLimit)
	assert.Equal(t, 0, a.detectedByteLimit)
	assert.False(t, a.ApproachingLimit(9, 1023))
}

func TestAdaptiveApproachingLimitAt90Percent(t *testing.T) {
	a := newAdaptiveController()
	a.NoteServerLimit(100, 0)

	assert.False(t, a.ApproachingLimit(89, 0))
	assert.True(t, a.ApproachingLimit(90, 0))

	a.ResetLimits()
	a.NoteServerLimit(0, 1000)
	assert.False(t, a.ApproachingLimit(0, 899))
	assert.True(t, a.ApproachingLimit(0, 900))
}

func TestAdaptiveApproachingLimitFalseWhenNoLimitDetected(t *testing.T) {
	a := newAdaptiveController()
	assert.False(t, a.ApproachingLimit(1<<30, 1<<30))
}

func TestAdaptiveThrottleParamsBySizeClass(t *testing.T) {
	a := newAdaptiveController()

	everyN, delay := a.ThrottleParams(512 << 10) // small, <1MiB
	assert.Equal(t, 0, everyN)
	assert.Equal(t, time.Duration(0), delay)

	everyN, delay = a.ThrottleParams(4 << 20) // medium
	assert.Equal(t, 8, everyN)
	assert.Equal(t, 30*time.Millisecond, delay)

	everyN, delay = a.ThrottleParams(100 << 20) // large
	assert.Equal(t, 6, everyN)
	assert.Equal(t, 60*time.Millisecond, delay)
}

func TestAdaptiveThrottleParamsTightensOnSlowServer(t *testing.T) {
	a := newAdaptiveController()
	a.avgResponseMs = 200 // sustained slow responses

	everyN, _ := a.ThrottleParams(100 << 20)
	assert.LessOrEqual(t, everyN, 10)
}

func TestAdaptiveObserveLatencyIsDecayingAverage(t *testing.T) {
	a := newAdaptiveController()
	a.ObserveLatency(100 * time.Millisecond)
	assert.Equal(t, float64(100), a.avgResponseMs)

	a.ObserveLatency(200 * time.Millisecond)
	assert.InDelta(t, 0.8*100+0.2*200, a.avgResponseMs, 0.001)
}

func TestAdaptiveTimeoutControlHasFloor(t *testing.T) {
	a := newAdaptiveController()
	d := a.Timeout(timeoutControl)
	assert.Equal(t, 5*time.Second, d, "avgResponseMs is 0 at startup, so the floor applies")

	a.avgResponseMs = 1000
	d = a.Timeout(timeoutControl)
	assert.Equal(t, 20*time.Second, d)
}

func TestAdaptiveTimeoutDataDoublesOnSlowServer(t *testing.T) {
	a := newAdaptiveController()
	fast := a.Timeout(timeoutData)

	a.avgResponseMs = 2000
	slow := a.Timeout(timeoutData)
	assert.Equal(t, fast*2, slow)
}

func TestAdaptiveConcurrencyClampedByBoundChannelSendWindow(t *testing.T) {
	a := newAdaptiveController()
	for i := 0; i < 5; i++ {
		a.RecordBatch(10, 10) // grow concurrency to maxConcurrency
	}
	assert.Equal(t, maxConcurrency, a.Concurrency(0), "unbound: only the op-limit/cap clamp applies")

	chunkSize := 4096
	cm := newChannelManager(defaultMaxPacket, int64(chunkSize)*2) // window room for ~2 chunks at 80%
	a.bindChannel(cm)

	got := a.Concurrency(chunkSize)
	want := int(float64(cm.SendWindow())*0.8) / chunkSize
	assert.Equal(t, want, got)
	assert.Less(t, got, maxConcurrency, "a tight send window must win over the op-count cap")
}

func TestAdaptiveConcurrencyIgnoresWindowWhenChunkSizeZero(t *testing.T) {
	a := newAdaptiveController()
	cm := newChannelManager(defaultMaxPacket, 1) // would clamp to 0 in-flight chunks if consulted
	a.bindChannel(cm)

	assert.Equal(t, initialConcurrency, a.Concurrency(0),
		"chunkSize 0 means no channel-relative clamp, not a clamp to zero")
}

func TestAdaptiveChunkSizeDefersCeilingToBoundChannel(t *testing.T) {
	a := newAdaptiveController()
	a.maxPacket = 1 << 20 // large standalone ceiling

	cm := newChannelManager(2048, 1<<20) // channel reports a much smaller max_packet_size
	a.bindChannel(cm)

	size := a.ChunkSize(true, 1<<20)
	assert.Equal(t, cm.MaxSafeChunkSize(), size, "bound channel's accounting wins over the standalone maxPacket field")
}

func TestClassifyTransferSizeBoundaries(t *testing.T) {
	assert.Equal(t, classSmall, classifyTransferSize(0))
	assert.Equal(t, classSmall, classifyTransferSize((1<<20)-1))
	assert.Equal(t, classMedium, classifyTransferSize(1<<20))
	assert.Equal(t, classMedium, classifyTransferSize((64<<20)-1))
	assert.Equal(t, classLarge, classifyTransferSize(64<<20))
}
