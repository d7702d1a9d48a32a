package sftp

import (
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/tredeske/gosftp/uerr"
	"golang.org/x/crypto/ssh"
)

// Signer is the abstract private-key collaborator the client consumes for
// authentication. Key parsing, passphrase handling, and the actual
// signature math (RSA/Ed25519/ECDSA; PKCS#1, PKCS#8, OpenSSH) are entirely
// the caller's concern; the client only ever asks for the public key blob
// and a signature over challenge bytes.
//
// golang.org/x/crypto/ssh.Signer already has exactly this shape, so any
// ssh.Signer (ssh.NewSignerFromKey, ssh.ParsePrivateKey, an agent-backed
// signer, ...) satisfies Signer without an adapter.
type Signer interface {
	// PublicKey returns the wire-format SSH public key blob.
	PublicKey() ssh.PublicKey

	// Sign signs data, returning an SSH signature under one of
	// ssh-rsa, rsa-sha2-256, rsa-sha2-512, ssh-ed25519,
	// ecdsa-sha2-nistp{256,384,521}. Implementations must prefer a
	// SHA-2 variant when the server negotiates one; defaulting RSA to
	// SHA-1 is not acceptable.
	Sign(rand io.Reader, data []byte) (*ssh.Signature, error)
}

// Transport is the abstract SSH collaborator below the SFTP channel layer:
// connection lifecycle, the session channel carrying the "sftp" subsystem,
// and liveness probing. Version exchange, key exchange, cipher selection,
// and user authentication happen inside Connect and are not otherwise
// exposed.
type Transport interface {
	// Connect dials host:port and completes the SSH handshake and
	// authentication for username, using password (if non-empty) or
	// signer.
	Connect(cfg *ClientConfig, signer Signer) error

	// OpenSubsystem opens a session channel and requests the "sftp"
	// subsystem with want-reply=true, returning the channel's data
	// stream endpoints.
	OpenSubsystem() (rd io.Reader, wr io.WriteCloser, err error)

	// Ping validates socket liveness. At minimum this should detect a
	// half-closed connection; a full implementation may send an
	// SSH_MSG_GLOBAL_REQUEST with want-reply.
	Ping() error

	// Disconnect tears down the underlying SSH connection. Safe to call
	// more than once.
	Disconnect() error
}

// sshTransport adapts golang.org/x/crypto/ssh to the Transport interface,
// grounding Component out-of-scope's one required concrete implementation
// in the same library NewClient already depends on.
type sshTransport struct {
	client *ssh.Client
}

// newSSHTransport wraps an already-established *ssh.Client, e.g. one
// produced by a caller that needs algorithm or host-key-callback control
// beyond what ClientConfig exposes.
func newSSHTransport(client *ssh.Client) *sshTransport {
	return &sshTransport{client: client}
}

func (t *sshTransport) Connect(cfg *ClientConfig, signer Signer) error {
	auth := make([]ssh.AuthMethod, 0, 1)
	if 0 != len(cfg.Password) {
		auth = append(auth, ssh.Password(cfg.Password))
	} else if nil != signer {
		auth = append(auth, ssh.PublicKeys(signer.(ssh.Signer)))
	}

	config := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // host-key trust policy delegated to caller
		Timeout:         cfg.ConnectTimeout,
	}
	if 0 != len(cfg.Algorithms.KeyExchanges) {
		config.KeyExchanges = cfg.Algorithms.KeyExchanges
	}
	if 0 != len(cfg.Algorithms.Ciphers) {
		config.Ciphers = cfg.Algorithms.Ciphers
	}
	if 0 != len(cfg.Algorithms.MACs) {
		config.MACs = cfg.Algorithms.MACs
	}
	if 0 != len(cfg.Algorithms.HostKeys) {
		config.HostKeyAlgorithms = cfg.Algorithms.HostKeys
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.port()))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return &connectionLostError_{cause: err}
		}
		return &authError_{cause: err}
	}
	t.client = client
	return nil
}

func (t *sshTransport) OpenSubsystem() (rd io.Reader, wr io.WriteCloser, err error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, nil, err
	}
	if err = session.RequestSubsystem("sftp"); err != nil {
		session.Close()
		return nil, nil, err
	}
	wr, err = session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	rd, err = session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return rd, wr, nil
}

func (t *sshTransport) Ping() error {
	if nil == t.client {
		return &connectionLostError_{cause: errNotConnected}
	}
	_, _, err := t.client.SendRequest("keepalive@gosftp", true, nil)
	if err != nil {
		return &connectionLostError_{cause: err}
	}
	return nil
}

func (t *sshTransport) Disconnect() error {
	if nil == t.client {
		return nil
	}
	return t.client.Close()
}

const errNotConnected = uerr.Const("sftp: transport not connected")
