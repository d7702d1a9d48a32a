package sftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"
)

// Connect implements Component I's lifecycle entry point: dial cfg's
// host/port, authenticate with cfg.Password or signer, perform the SFTP
// subsystem handshake, and start the keepalive/health-check loops named by
// cfg. The returned Client is ready for use; call End to shut it down.
func Connect(cfg *ClientConfig, signer Signer) (client *Client, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	client = &Client{
		maxPacket:             cfg.maxPacket(),
		maxConcurrentRequests: 64,
		cfg:                   cfg,
	}
	client.respPool.New = client.newResponder
	client.adaptive = newAdaptiveController()
	client.adaptive.maxPacket = client.maxPacket
	client.events = NewTracker(0)
	client.adaptive.bindEvents(client.events)
	client.opSem = make(chan struct{}, cfg.maxConcurrentOps())

	client.events.emit(Event{Kind: EventConnectionStart, Path: cfg.Host})

	if err = client.reconnectTransport(cfg, signer); err != nil {
		return nil, err
	}

	if cfg.AutoReconnect.Enabled || cfg.Keepalive.Enabled || cfg.HealthCheck.Enabled {
		client.reconnect = newReconnector(client, cfg, signer)
		client.reconnect.Start()
	}

	client.events.emit(Event{Kind: EventConnectionReady, Path: cfg.Host})
	return client, nil
}

// reconnectTransport dials a fresh Transport, runs the SFTP handshake over
// it, and swaps it into place on client. Used by Connect for the initial
// connection and by the reconnector for both the limit-triggered and
// exponential-backoff paths.
func (c *Client) reconnectTransport(cfg *ClientConfig, signer Signer) error {
	c.events.emit(Event{Kind: EventConnectionAuthenticating, Path: cfg.Host})

	t := &sshTransport{}
	if err := t.Connect(cfg, signer); err != nil {
		c.events.emit(Event{Kind: EventConnectionError, Err: err, Classified: Classify(err)})
		return err
	}

	rd, wr, err := t.OpenSubsystem()
	if err != nil {
		t.Disconnect()
		return err
	}

	c.conn.Construct(rd, wr, c)
	ext, err := c.conn.Start()
	if err != nil {
		t.Disconnect()
		return err
	}

	c.transport = t
	c.ext = ext
	c.channel = newChannelManager(uint32(c.maxPacket), int64(cfg.maxConcurrentOps())*int64(c.maxPacket))
	c.adaptive.bindChannel(c.channel)
	return nil
}

// End implements the graceful shutdown half of Component I's lifecycle:
// stop the reconnector, wait up to gracefulTimeout for the active-operation
// count to reach zero, then close the transport. Queued or still-active
// operations past the deadline are abandoned; Close still runs so pending
// requests fail fast with connection-lost rather than hanging.
func (c *Client) End(gracefulTimeout time.Duration) error {
	if nil != c.reconnect {
		c.reconnect.Stop()
	}

	deadline := time.Now().Add(gracefulTimeout)
	for gracefulTimeout > 0 && time.Now().Before(deadline) {
		if 0 == c.events.ActiveCount() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return c.Close()
}

// acquire takes a concurrency permit from the Component I semaphore,
// blocking (if cfg.QueueWhenBusy) or failing fast when max_concurrent_ops
// is already in use.
func (c *Client) acquire() error {
	if nil == c.opSem {
		return nil
	}
	if nil != c.cfg && c.cfg.QueueWhenBusy {
		c.opSem <- struct{}{}
		return nil
	}
	select {
	case c.opSem <- struct{}{}:
		return nil
	default:
		return errors.New("sftp: max_concurrent_ops reached")
	}
}

func (c *Client) release() {
	if nil != c.opSem {
		<-c.opSem
	}
}

// Exists reports whether pathN names an existing file or directory.
func (c *Client) Exists(pathN string) (bool, error) {
	_, err := c.Stat(pathN)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get downloads remote into an in-memory byte slice, the whole-file
// caller-facing helper named in §6. Large transfers should use OpenRead +
// File.DownloadTo directly instead.
func (c *Client) Get(remote string) (data []byte, err error) {
	if err = c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	rec := c.events.Start(OpGet, remote, "", 0)

	f, err := c.OpenRead(remote)
	if err != nil {
		c.events.Fail(rec, err)
		return nil, err
	}
	defer f.Close()
	f.op = rec

	attrs, err := f.Stat()
	if err != nil {
		c.events.Fail(rec, err)
		return nil, err
	}

	var buf bytes.Buffer
	_, err = f.DownloadTo(&buf, int64(attrs.Size))
	if err != nil && err != io.EOF {
		c.events.Fail(rec, err)
		return nil, err
	}
	c.events.Complete(rec)
	return buf.Bytes(), nil
}

// Put uploads data to remote, creating or truncating it, the whole-file
// counterpart to Get. Uses File.ReadFrom (Component F) for the actual
// transfer so the adaptive/pipelined policy applies uniformly regardless
// of caller.
func (c *Client) Put(remote string, data []byte) (err error) {
	if err = c.acquire(); err != nil {
		return err
	}
	defer c.release()

	rec := c.events.Start(OpPut, remote, "", int64(len(data)))

	f, err := c.Create(remote)
	if err != nil {
		c.events.Fail(rec, err)
		return err
	}
	defer f.Close()
	f.op = rec

	_, err = f.ReadFrom(bytes.NewReader(data))
	if err != nil {
		c.events.Fail(rec, err)
		return err
	}
	c.events.Complete(rec)
	return nil
}

// Append implements §4.D's append(bytes, path): stat the path to learn the
// current size (0 if absent), open with WRITE|CREAT, write at the learned
// offset, and close.
func (c *Client) Append(remote string, data []byte) (err error) {
	if err = c.acquire(); err != nil {
		return err
	}
	defer c.release()

	rec := c.events.Start(OpPut, remote, "", int64(len(data)))
	defer func() {
		if err != nil {
			c.events.Fail(rec, err)
		} else {
			c.events.Complete(rec)
		}
	}()

	var size int64
	if attrs, statErr := c.Stat(remote); statErr == nil {
		size = int64(attrs.Size)
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return statErr
	}

	f, err := c.Open(remote, os.O_WRONLY|os.O_CREATE)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteAt(data, size)
	return err
}

// Delete removes remote, the §6 caller-facing name for Remove.
func (c *Client) Delete(pathN string) error { return c.Remove(pathN) }

// UploadDir recursively uploads every regular file under localDir to
// remoteDir, creating remoteDir (and its parents) first, applying filter (if
// non-nil) to decide whether to descend into or upload each entry, and
// propagating the first error with the failing path as context.
func (c *Client) UploadDir(localDir, remoteDir string, filter ReadDirFilter) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("sftp: upload_dir %s: %w", localDir, err)
	}

	if err = c.Mkdir(remoteDir, true); err != nil {
		return fmt.Errorf("sftp: upload_dir mkdir %s: %w", remoteDir, err)
	}

	for _, entry := range entries {
		localPath := path.Join(localDir, entry.Name())
		remotePath := path.Join(remoteDir, entry.Name())

		if nil != filter {
			info, statErr := entry.Info()
			if statErr != nil {
				return fmt.Errorf("sftp: upload_dir stat %s: %w", localPath, statErr)
			}
			allow, stop := filter(entry.Name(), localFileStat(info))
			if stop {
				break
			}
			if !allow {
				continue
			}
		}

		if entry.IsDir() {
			if err = c.UploadDir(localPath, remotePath, filter); err != nil {
				return err
			}
			continue
		}

		data, readErr := os.ReadFile(localPath)
		if readErr != nil {
			return fmt.Errorf("sftp: upload_dir read %s: %w", localPath, readErr)
		}
		if err = c.Put(remotePath, data); err != nil {
			return fmt.Errorf("sftp: upload_dir put %s: %w", remotePath, err)
		}
	}
	return nil
}

// DownloadDir recursively downloads remoteDir into localDir, mirroring
// UploadDir's mkdir-first and filter semantics.
func (c *Client) DownloadDir(remoteDir, localDir string, filter ReadDirFilter) error {
	entries, err := c.ReadDirTimeout(remoteDir, 0, filter)
	if err != nil {
		return fmt.Errorf("sftp: download_dir list %s: %w", remoteDir, err)
	}

	if err = os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("sftp: download_dir mkdir %s: %w", localDir, err)
	}

	for _, entry := range entries {
		name := entry.BaseName()
		if "." == name || ".." == name {
			continue
		}
		remotePath := path.Join(remoteDir, name)
		localPath := path.Join(localDir, name)

		if entry.IsDir() {
			if err = c.DownloadDir(remotePath, localPath, filter); err != nil {
				return err
			}
			continue
		}

		data, getErr := c.Get(remotePath)
		if getErr != nil {
			return fmt.Errorf("sftp: download_dir get %s: %w", remotePath, getErr)
		}
		if err = os.WriteFile(localPath, data, 0o644); err != nil {
			return fmt.Errorf("sftp: download_dir write %s: %w", localPath, err)
		}
	}
	return nil
}

func localFileStat(info os.FileInfo) *FileStat {
	fs := &FileStat{Size: uint64(info.Size()), Mtime: uint32(info.ModTime().Unix())}
	if info.IsDir() {
		fs.Mode = 1 << 14 // S_IFDIR high nibble, enough for the allow/stop predicate callers use
	} else {
		fs.Mode = 1 << 15 // S_IFREG
	}
	return fs
}

