package sftp

import (
	"io"
	"os"
	"time"

	"github.com/tredeske/gosftp/uerr"
	"github.com/tredeske/gosftp/uthrottle"
)

// ReadFrom implements io.ReaderFrom: it is the upload half of Component F,
// the pipelined transfer engine. Data is read from r in batches sized and
// parallelized by the adaptive controller (Component E), written via
// batches of WRITE requests at ascending offsets, and confirmed
// all-or-nothing per batch. A failed batch is retried up to twice, each
// time at the controller's shrunk chunk size (ShrinkChunk), before falling
// back to strictly sequential single-chunk writes for the remainder of the
// transfer.
//
// After the last byte is written, fsync is attempted (a server that does
// not support it is tolerated) and a final stat of the still-open handle
// verifies the remote size; a mismatch is reported as an event rather than
// an error. ReadFrom never closes f; the caller does.
func (f *File) ReadFrom(r io.Reader) (ncopied int64, err error) {
	if 0 == len(f.handle) {
		return 0, errNotOpenForWrite
	}

	adaptive := f.c.adaptive
	offset := f.offset
	sequential := false
	retriesAtCurrentSize := 0
	atEOF := false
	var pending []byte // bytes read from r but not yet confirmed written

	for {
		chunkSize := adaptive.ChunkSize(true, offset)
		concurrency := 1
		if !sequential {
			concurrency = adaptive.Concurrency(chunkSize)
		}

		// a failed batch leaves its bytes in pending so a retry (or the
		// sequential fallback) rewrites them at the same offset rather than
		// reading past them
		if 0 == len(pending) {
			raw := make([]byte, chunkSize*concurrency)
			nread, rerr := io.ReadFull(r, raw)
			switch rerr {
			case io.ErrUnexpectedEOF:
				atEOF = true // short final read, still usable
			case io.EOF:
				return f.finishUpload(ncopied) // nothing left to write, still verify
			case nil:
			default:
				return ncopied, rerr
			}
			pending = raw[:nread]
		}

		attempted, succeeded, werr := f.writeBatch(pending, offset, chunkSize)
		if werr == nil {
			nwrote := len(pending)
			pending = nil
			offset += int64(nwrote)
			ncopied += int64(nwrote)
			f.offset = offset
			adaptive.RecordBatch(attempted, succeeded)
			retriesAtCurrentSize = 0
			if nil != f.c.events {
				f.c.events.Progress(f.op, ncopied)
			}
			if atEOF {
				return f.finishUpload(ncopied)
			}
			continue
		}

		adaptive.RecordBatch(attempted, succeeded)

		if sequential {
			return ncopied, werr
		}

		retriesAtCurrentSize++
		if retriesAtCurrentSize > 2 {
			sequential = true
			continue
		}
		adaptive.ShrinkChunk()
		if nil != f.c.events {
			f.c.events.Retry(f.op, "retry batch at stable chunk size")
		}
		// retry the same batch of bytes at the same offset, smaller chunks
	}
}

// writeBatch pipelines buf as a sequence of chunkSize WRITE requests at
// ascending offsets starting at offset, all carried on one clientReq_ so
// the conn writer/reader goroutines treat them as a single multi-packet
// request (mirrors WriteAt's nextPkt protocol, generalized to a
// caller-supplied chunk size instead of the connection's raw max packet).
// Returns the number of chunks attempted and the number that the server
// acknowledged with an OK status (a failed chunk does not stop the count;
// on a timeout, only the replies seen so far are counted).
func (f *File) writeBatch(buf []byte, offset int64, chunkSize int) (attempted, succeeded int, err error) {
	if 0 == len(buf) {
		return 0, 0, nil
	}

	expectPkts := len(buf) / chunkSize
	if len(buf) != expectPkts*chunkSize {
		expectPkts++
	}
	attempted = expectPkts

	channel := f.c.channel
	if nil != channel {
		channel.ReserveSend(int64(len(buf)))
		// The batch is confirmed all-or-nothing by the STATUS replies
		// awaited below, at which point the peer has consumed the bytes
		// out of its receive buffer; replenish the accounting window here
		// rather than waiting on a real WINDOW_ADJUST, since Transport
		// (out of scope) hides the raw SSH channel from this layer.
		defer channel.OnWindowAdjust(int64(len(buf)))
	}

	responder := f.c.responder()
	remaining := buf
	pkt := sshFxpWritePacket{Handle: f.handle}

	req := &clientReq_{
		expectType: sshFxpStatus,
		autoResp:   manualRespond_,
		onError:    responder.onError,
		expectPkts: uint32(expectPkts),
	}

	req.nextPkt = func(id uint32) idAwarePkt_ {
		pkt.ID = id
		amount := len(remaining)
		if amount > chunkSize {
			amount = chunkSize
		}
		pkt.Offset = uint64(offset)
		offset += int64(amount)
		pkt.Length = uint32(amount)
		pkt.Data = remaining[:amount]
		remaining = remaining[amount:]
		return &pkt
	}

	conn := &f.c.conn
	left := expectPkts

	var firstErr error
	req.onResp = func(id, length uint32, typ uint8) (respErr error) {
		left--
		switch typ {
		case sshFxpStatus:
			respErr = maybeError(conn.buff) // may be nil
		default:
			respErr = unexpectedPacketErr2(sshFxpStatus, typ)
		}
		if nil == respErr {
			succeeded++
		} else if nil == firstErr {
			firstErr = respErr
		}
		// the responder is signalled exactly once, after every status in the
		// batch has been seen - a mid-batch failure still waits out the rest
		// so the success count is accurate and no late send can land in a
		// recycled responder
		if 0 == left {
			responder.onError(firstErr)
		}
		return respErr
	}

	start := time.Now()
	err = conn.Request(req)
	if err != nil {
		return attempted, succeeded, err
	}
	err = responder.awaitTimeout(f.c.adaptive.Timeout(timeoutData))
	f.c.adaptive.ObserveLatency(time.Since(start))
	return attempted, succeeded, err
}

// finishUpload runs the post-write sequence: best-effort fsync, then a stat
// to verify the final remote size. Size mismatch is a warning event, never
// a hard failure, since SFTP has no transactional write semantics to roll
// back to.
func (f *File) finishUpload(ncopied int64) (int64, error) {
	if err := f.fsync(); err != nil {
		statusErr, ok := err.(*StatusError)
		if !ok || statusErr.Code != sshFxOPUnsupported {
			return ncopied, err
		}
		// server can't fsync; give it a beat to settle before the verify stat
		time.Sleep(50 * time.Millisecond)
	}

	attrs, err := f.c.fstat(f.handle)
	if err != nil {
		return ncopied, err
	}
	f.attrs = *attrs

	if int64(attrs.Size) != ncopied {
		if nil != f.c.events {
			f.c.events.emit(Event{
				Kind:  EventOperationError,
				Path:  f.pathN,
				Bytes: int64(attrs.Size),
				Total: ncopied,
				Err:   errUploadSizeMismatch,
			})
		}
	}
	return ncopied, nil
}

// fsync issues the fsync@openssh.com extended request against the open
// handle. Servers that don't implement it reply OP_UNSUPPORTED, which
// finishUpload treats as success (best-effort).
func (f *File) fsync() error {
	return f.c.invokeExpectStatus(&sshFxpFsyncPacket{Handle: f.handle})
}

const errNotOpenForWrite = uerr.Const("sftp: file not open for write")
const errUploadSizeMismatch = uerr.Const("sftp: uploaded size does not match source size")

func unexpectedPacketErr2(want, got uint8) error {
	return &unexpectedPacketErr{want: want, got: got}
}

// DownloadTo implements the download half of Component F: sequential,
// adaptive reads from the current offset into w. Chunk size is conservative
// (§4.E's download policy) and grows only after cumulative bytes cross the
// 256KiB/1MiB thresholds; a throttle paces every Nth chunk on large
// transfers. When the client has a reconnector, a read timeout triggers the
// limit-triggered reconnect path and a retry at the same offset rather than
// failing the transfer outright; without one, the timeout is returned.
//
// With a reconnector, DownloadTo also checks before each read whether
// ops/bytes transferred on the current handle have crossed 90% of a
// previously detected server limit (§4.E) and proactively reconnects if so,
// rather than waiting for the next read to time out.
//
// total is the expected remote size (from Stat), used only to pick the
// throttle class; chunk sizing follows bytes actually transferred so far.
// DownloadTo still terminates correctly on an early EOF or an empty read
// regardless of what total claimed.
func (f *File) DownloadTo(w io.Writer, total int64) (ncopied int64, err error) {
	if 0 == len(f.handle) {
		return 0, errNotOpenForRead
	}

	adaptive := f.c.adaptive
	everyN, delay := adaptive.ThrottleParams(total)
	var throttle uthrottle.SThrottle
	if everyN > 0 && delay > 0 {
		// SThrottle rates are per second; dole out everyN chunks per
		// delay-sized interval so every Nth chunk waits out the delay
		throttle.Start(int64(everyN)*int64(time.Second/delay), delay)
	}

	offset := f.offset
	ops := 0             // reads issued on the current connection
	var bytesSince int64 // bytes transferred on the current connection

	for {
		if nil != f.c.reconnect && adaptive.ApproachingLimit(ops, int(bytesSince)) {
			newFile, rcErr := f.c.reconnect.LimitTriggeredReconnect(f.pathN, os.O_RDONLY)
			if rcErr != nil {
				return ncopied, rcErr
			}
			f.handle = newFile.handle
			ops, bytesSince = 0, 0
		}

		size := adaptive.ChunkSize(false, ncopied)
		buf := make([]byte, size)

		start := time.Now()
		nread, rerr := readAtTimeout(f, buf, offset, adaptive.Timeout(timeoutData))
		adaptive.ObserveLatency(time.Since(start))

		if nread > 0 {
			if _, werr := w.Write(buf[:nread]); werr != nil {
				return ncopied, werr
			}
			ncopied += int64(nread)
			bytesSince += int64(nread)
			offset += int64(nread)
			f.offset = offset
			ops++
			if nil != f.c.events {
				f.c.events.Progress(f.op, ncopied)
			}
			if everyN > 0 && delay > 0 {
				throttle.Await(1)
			}
		}

		switch {
		case rerr == io.EOF, nread == 0 && rerr == nil:
			return ncopied, nil

		case isTimeoutErr(rerr):
			adaptive.NoteServerLimit(ops, int(bytesSince))
			if nil == f.c.reconnect {
				return ncopied, rerr
			}
			newFile, rcErr := f.c.reconnect.LimitTriggeredReconnect(f.pathN, os.O_RDONLY)
			if rcErr != nil {
				return ncopied, rcErr
			}
			f.handle = newFile.handle
			ops, bytesSince = 0, 0
			if nil != f.c.events {
				f.c.events.Retry(f.op, "retry read after reconnect")
			}
			// retry at the same offset on the fresh handle

		case rerr != nil:
			return ncopied, rerr
		}
	}
}

// readAtTimeout wraps File.ReadAt with the request multiplexer's
// per-request deadline: ReadAt itself has no notion of a timeout, so the
// call is run on its own goroutine and raced against a timer. A timeout
// abandons the wait; the goroutine's eventual result is simply discarded.
func readAtTimeout(f *File, buf []byte, offset int64, d time.Duration) (n int, err error) {
	if d <= 0 {
		return f.ReadAt(buf, offset)
	}
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := f.ReadAt(buf, offset)
		ch <- result{n, err}
	}()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-time.After(d):
		return 0, &timeoutError_{op: "sftp read", dur: d}
	}
}

func isTimeoutErr(err error) bool {
	_, ok := err.(*timeoutError_)
	return ok
}

const errNotOpenForRead = uerr.Const("sftp: file not open for read")
