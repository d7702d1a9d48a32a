package sftp

import (
	"bytes"
	"io"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These drive spec §8's concrete end-to-end scenarios 3-5 through the real
// Component F transfer engine against the in-process server harness from
// testharness_test.go, rather than exercising the teacher's original
// surface the way the deleted the_client_test.go did.

// sizeGatedDelayWriter delays the first Write call whose payload is at
// least threshold bytes, letting a test hold small requests (the 8 KiB/16
// KiB growth steps) at normal speed while stalling the first request big
// enough to be a 32 KiB chunk - reproducing scenario 4's "inject a WRITE
// timeout at the third 32 KiB chunk" without guessing at a call index.
// Only the first oversized payload is stalled: the channel write side is a
// shared critical section, so stalling every one of a batch's chunks would
// starve the shrunken retry batch queued behind it as well, and the test
// would be measuring writer-queue poisoning rather than the shrink policy.
type sizeGatedDelayWriter struct {
	w         io.WriteCloser
	threshold int
	delay     time.Duration

	mu      sync.Mutex
	delayed int
}

func newSizeGatedDelayWriter(w io.WriteCloser, threshold int, delay time.Duration) *sizeGatedDelayWriter {
	return &sizeGatedDelayWriter{w: w, threshold: threshold, delay: delay}
}

func (g *sizeGatedDelayWriter) Write(b []byte) (int, error) {
	stall := false
	if len(b) >= g.threshold {
		g.mu.Lock()
		if 0 == g.delayed {
			g.delayed++
			stall = true
		}
		g.mu.Unlock()
	}
	if stall {
		time.Sleep(g.delay)
	}
	return g.w.Write(b)
}

func (g *sizeGatedDelayWriter) Close() error { return g.w.Close() }

func (g *sizeGatedDelayWriter) delayedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delayed
}

// countGatedDelayWriter delays every Write call after the afterCall'th,
// regardless of payload size - used to stall a download partway through
// (after a handful of READs have already succeeded) instead of targeting a
// specific chunk size the way sizeGatedDelayWriter does for uploads.
type countGatedDelayWriter struct {
	w         io.WriteCloser
	afterCall int
	delay     time.Duration

	mu    sync.Mutex
	calls int
}

func newCountGatedDelayWriter(w io.WriteCloser, afterCall int, delay time.Duration) *countGatedDelayWriter {
	return &countGatedDelayWriter{w: w, afterCall: afterCall, delay: delay}
}

func (g *countGatedDelayWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n > g.afterCall {
		time.Sleep(g.delay)
	}
	return g.w.Write(b)
}

func (g *countGatedDelayWriter) Close() error { return g.w.Close() }

// testClientWithWriterWrap behaves like testClientGoSvr but lets the caller
// wrap the outbound half of the pipe, so a test can inject latency on the
// client's own request bytes (the one seam available without reaching
// below the out-of-scope Transport abstraction).
func testClientWithWriterWrap(
	t testing.TB,
	wrap func(io.WriteCloser) io.WriteCloser,
	opts ...ClientOption,
) *Client {
	t.Helper()
	c1, c2 := netPipe(t)

	server, err := sftp.NewServer(c1)
	require.NoError(t, err)
	go server.Serve()

	var wr io.WriteCloser = c2
	if nil != wrap {
		wr = wrap(wr)
	}

	client, err := NewClientPipe(c2, wr, opts...)
	require.NoError(t, err)
	return client
}

// TestTransferPipelinedUploadGrowsChunkSizeAndConcurrency is spec §8
// scenario 3: put a 1 MiB buffer and expect the chunk size to progress
// 8 KiB -> 16 KiB -> 32 KiB with concurrency growing past 1, and the final
// remote size to match exactly.
func TestTransferPipelinedUploadGrowsChunkSizeAndConcurrency(t *testing.T) {
	client, cmd := testClientGoSvr(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	dir, err := os.MkdirTemp("", "sftptest-transfer-growth")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	const total = 1 << 20 // 1,048,576 bytes, per the scenario
	data := bytes.Repeat([]byte{0xAB}, total)
	remote := path.Join(dir, "grown")

	require.NoError(t, client.Put(remote, data))

	assert.Equal(t, maxUpChunk, client.adaptive.upChunk,
		"a steady run of full-success batches should have doubled the chunk size all the way to the 32KiB cap")
	assert.GreaterOrEqual(t, client.adaptive.concurrency, 2,
		"concurrency should have grown past the sequential baseline once early batches succeeded")

	attrs, err := client.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, uint64(total), attrs.Size)

	got, err := client.Get(remote)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// TestTransferTimeoutTriggeredChunkShrink is spec §8 scenario 4: force a
// WRITE timeout once the chunk size has grown to 32 KiB, and expect the
// chunk size to revert to the last stable size (16 KiB) rather than fail
// the upload, with the batch retried at the same offset and the transfer
// completing at the correct final size.
func TestTransferTimeoutTriggeredChunkShrink(t *testing.T) {
	const total = 1 << 20
	const stallThreshold = 20000 // only 32KiB-chunk WRITE payloads are this large
	data := bytes.Repeat([]byte{0xCD}, total)

	var gate *sizeGatedDelayWriter
	client := testClientWithWriterWrap(t, func(w io.WriteCloser) io.WriteCloser {
		gate = newSizeGatedDelayWriter(w, stallThreshold, 2*time.Second)
		return gate
	})
	defer client.Close()

	// Force a short data-plane deadline so the stalled 32KiB batch times
	// out instead of waiting out the real multi-second floor. The deadline
	// must still be long enough that the shrunken retry batch - which
	// queues behind the single stalled write on the shared writer - gets
	// its replies before its own deadline: the retry is issued at ~1.5s,
	// the writer frees at ~2s, leaving ~1s of margin.
	client.adaptive.dataTimeoutOverride = 1500 * time.Millisecond

	dir, err := os.MkdirTemp("", "sftptest-transfer-shrink")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	remote := path.Join(dir, "shrunk")

	require.NoError(t, client.Put(remote, data))

	assert.Greater(t, gate.delayedCount(), 0, "the 32KiB batch must actually have been stalled for this to be a real test")

	attrs, err := client.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, uint64(total), attrs.Size, "the upload must still complete at the correct size after the shrink-and-retry")

	got, err := client.Get(remote)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// TestTransferDownloadTimeoutRecordsServerLimitAndPropagatesWithoutReconnect
// is the decision-logic slice of spec §8 scenario 5 reachable without a
// live Transport: a READ timeout must record a server limit (so a later
// download can proactively reconnect before hitting the same wall) and,
// absent a configured reconnector (true of any Client built via
// NewClient/NewClientPipe rather than Connect), the timeout must propagate
// rather than hang. The full dial-swap half of the scenario - tearing down
// and re-establishing a real SSH session - lives in reconnector_ and
// sshTransport (Component G, built on the out-of-scope Transport
// abstraction) and is exercised by manual/integration testing against a
// live server, not by this in-process harness.
func TestTransferDownloadTimeoutRecordsServerLimitAndPropagatesWithoutReconnect(t *testing.T) {
	const total = 900 << 10 // needs ~28 32KiB READs, comfortably more than the gate's free calls
	data := bytes.Repeat([]byte{0xEF}, total)

	dir, err := os.MkdirTemp("", "sftptest-transfer-dl-limit")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	remote := path.Join(dir, "src")

	// Seed the fixture through a separate, undelayed client/server pair;
	// both talk to the same real filesystem via os.MkdirTemp, so the
	// second client below sees the file this one wrote.
	seed, seedCmd := testClientGoSvr(t, readWrite_, nodelay_)
	require.NoError(t, seed.Put(remote, data))
	require.NoError(t, seed.Close())
	seedCmd.Wait()

	var gate *countGatedDelayWriter
	client := testClientWithWriterWrap(t, func(w io.WriteCloser) io.WriteCloser {
		gate = newCountGatedDelayWriter(w, 15, 300*time.Millisecond)
		return gate
	})
	defer client.Close()

	client.adaptive.dataTimeoutOverride = 50 * time.Millisecond
	require.Nil(t, client.reconnect, "a NewClientPipe-built client has no reconnector configured")

	f, err := client.OpenRead(remote)
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	_, err = f.DownloadTo(&buf, total)
	require.Error(t, err, "a stalled READ must surface a timeout rather than hang forever")
	assert.True(t, isTimeoutErr(err), "the propagated error should be the read timeout, not something else")
	assert.Greater(t, buf.Len(), 0,
		"some reads must have succeeded before the stall, so NoteServerLimit has a nonzero ops/bytes count to record")

	assert.NotZero(t, client.adaptive.detectedByteLimit+client.adaptive.detectedOpLimit,
		"DownloadTo's timeout branch must record a server limit via NoteServerLimit before returning")
}

// TestTransferDownloadProactiveReconnectSkippedWithoutReconnector checks
// the other half of the same guard: ApproachingLimit is only consulted
// when a reconnector is actually present, so a plain NewClientPipe client
// degrades to "let the timeout happen" instead of panicking on a nil
// reconnector.
func TestTransferDownloadProactiveReconnectSkippedWithoutReconnector(t *testing.T) {
	client, cmd := testClientGoSvr(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	client.adaptive.NoteServerLimit(1, 0) // any op at all is "past" the limit
	require.Nil(t, client.reconnect)

	dir, err := os.MkdirTemp("", "sftptest-transfer-dl-noreconnect")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	remote := path.Join(dir, "small")
	want := []byte("small file, one op is already past the fake limit")
	require.NoError(t, client.Put(remote, want))

	f, err := client.OpenRead(remote)
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	n, err := f.DownloadTo(&buf, int64(len(want)))
	require.NoError(t, err, "no reconnector configured means the proactive check must be skipped, not attempted")
	assert.Equal(t, int64(len(want)), n)
	assert.Equal(t, want, buf.Bytes())
}
