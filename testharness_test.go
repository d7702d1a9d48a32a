package sftp

import (
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
)

// Shared test scaffolding: spins up an in-process SFTP server (via
// github.com/pkg/sftp's server half, the same dependency the rest of the
// example pack reaches for when it needs an SFTP peer to test against) or,
// if a real sftp-server binary is available and -use-go-server=false is
// passed, an OS subprocess. The server-backed tests in this package use
// testClient/testClientGoSvr, or transfer_test.go's testClientWithWriterWrap,
// which wraps the same in-process server; adaptive_test.go and
// events_test.go need no server.

const (
	readOnly_                = true
	readWrite_               = false
	nodelay_   time.Duration = 0

	debuglevel = "ERROR" // set to "DEBUG" for debugging
)

func skipIfWindows(t testing.TB) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on windows")
	}
}

var (
	testGoServer_   bool // if true, test using Go sftp server, not OS one
	testSftpServer_ string
)

func TestMain(m *testing.M) {
	flag.BoolVar(&testGoServer_, "use-go-server", true,
		"test against Go sftp server instead of OS sftp server")

	lookSftpServer := []string{
		"/usr/libexec/openssh/sftp-server",
		"/usr/libexec/sftp-server",
		"/usr/lib/openssh/sftp-server",
		"/usr/lib/ssh/sftp-server",
		`C:\Program Files\Git\usr\lib\ssh\sftp-server.exe`,
	}
	sftpServer, _ := exec.LookPath("sftp-server")
	if 0 == len(sftpServer) {
		for _, location := range lookSftpServer {
			if _, err := os.Stat(location); err == nil {
				sftpServer = location
				break
			}
		}
	}
	flag.StringVar(&testSftpServer_, "sftp", sftpServer,
		"location of the OS sftp server binary")

	flag.Parse()

	os.Exit(m.Run())
}

type delayedWrite struct {
	t time.Time
	b []byte
}

// delayedWriter wraps a writer and artificially delays the write, to
// simulate the latency that drives §4.E's adaptive throttle and timeout
// policy. Writer errors panic, so only use this over reliable connections.
type delayedWriter struct {
	closed chan struct{}

	mu      sync.Mutex
	ch      chan delayedWrite
	closing chan struct{}
}

func newDelayedWriter(w io.WriteCloser, delay time.Duration) io.WriteCloser {
	dw := &delayedWriter{
		ch:      make(chan delayedWrite, 128),
		closed:  make(chan struct{}),
		closing: make(chan struct{}),
	}

	go func() {
		defer close(dw.closed)
		defer w.Close()

		for writeMsg := range dw.ch {
			time.Sleep(time.Until(writeMsg.t.Add(delay)))

			n, err := w.Write(writeMsg.b)
			if err != nil {
				panic("write error")
			}
			if n < len(writeMsg.b) {
				panic("short write")
			}
		}
	}()

	return dw
}

func (dw *delayedWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	write := delayedWrite{
		t: time.Now(),
		b: append([]byte(nil), b...),
	}

	select {
	case <-dw.closing:
		return 0, errors.New("delayedWriter is closing")
	case dw.ch <- write:
	}

	return len(b), nil
}

func (dw *delayedWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	select {
	case <-dw.closing:
	default:
		close(dw.ch)
		close(dw.closing)
	}

	<-dw.closed
	return nil
}

// netPipe provides a pair of io.ReadWriteClosers connected to each other, so
// the delayed-writer wrapper above can sit on a real net.Conn instead of an
// in-memory io.Pipe (whose Read/Close semantics differ in ways that matter
// for the deadlock-regression tests).
func netPipe(t testing.TB) (io.ReadWriteCloser, io.ReadWriteCloser) {
	type result struct {
		net.Conn
		error
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	closeListener := make(chan struct{}, 1)
	closeListener <- struct{}{}

	ch := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		ch <- result{conn, err}

		if _, ok := <-closeListener; ok {
			if err := l.Close(); err != nil {
				t.Error(err)
			}
			close(closeListener)
		}
	}()

	c1, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		if _, ok := <-closeListener; ok {
			l.Close()
			close(closeListener)
		}
		t.Fatal(err)
	}

	r := <-ch
	if r.error != nil {
		t.Fatal(err)
	}

	return c1, r.Conn
}

func testClientGoSvr(
	t testing.TB,
	readonly bool,
	delay time.Duration,
	opts ...ClientOption,
) (*Client, *exec.Cmd) {
	c1, c2 := netPipe(t)

	options := []sftp.ServerOption{sftp.WithDebug(os.Stderr)}
	if readonly {
		options = append(options, sftp.ReadOnly())
	}

	server, err := sftp.NewServer(c1, options...)
	if err != nil {
		t.Fatal(err)
	}
	go server.Serve()

	var wr io.WriteCloser = c2
	if delay > nodelay_ {
		wr = newDelayedWriter(wr, delay)
	}

	client, err := NewClientPipe(c2, wr, opts...)
	if err != nil {
		t.Fatal(err)
	}

	// dummy command: the Go-server path never execs a real process, but
	// callers defer cmd.Wait() uniformly across both paths.
	return client, exec.Command("true")
}

// testClient returns a *Client connected either to the in-process Go sftp
// server or, when -use-go-server=false and an sftp-server binary was found,
// a real OS subprocess. The *exec.Cmd returned must be defer Wait'd.
func testClient(
	t testing.TB,
	readonly bool,
	delay time.Duration,
	opts ...ClientOption,
) (*Client, *exec.Cmd) {
	if testGoServer_ {
		return testClientGoSvr(t, readonly, delay, opts...)
	}

	cmd := exec.Command(testSftpServer_, "-e", "-R", "-l", debuglevel)
	if !readonly {
		cmd = exec.Command(testSftpServer_, "-e", "-l", debuglevel)
	}
	cmd.Stderr = os.Stdout

	pw, err := cmd.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	if delay > nodelay_ {
		pw = newDelayedWriter(pw, delay)
	}

	pr, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}

	if err := cmd.Start(); err != nil {
		t.Skipf("could not start sftp-server process: %v", err)
	}

	client, err := NewClientPipe(pr, pw, opts...)
	if err != nil {
		t.Fatal(err)
	}

	return client, cmd
}
