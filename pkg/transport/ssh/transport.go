// Package ssh implements core.Transport over golang.org/x/crypto/ssh.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/modoterra/a12rta/pkg/core"
)

// Transport dials hosts with public key authentication from the configured
// key file and, when available, the local ssh-agent.
type Transport struct {
	logger    *slog.Logger
	agentSock string
	hostKey   gossh.HostKeyCallback
	home      string
	warned    sync.Map
}

// Option configures a Transport.
type Option func(*Transport)

// WithAgentSocket overrides $SSH_AUTH_SOCK. An empty path disables the agent.
func WithAgentSocket(path string) Option {
	return func(t *Transport) { t.agentSock = path }
}

// WithHostKeyCallback replaces host key verification for every host.
func WithHostKeyCallback(cb gossh.HostKeyCallback) Option {
	return func(t *Transport) { t.hostKey = cb }
}

// New creates an SSH transport.
func New(logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	home, _ := os.UserHomeDir()
	t := &Transport{
		logger:    logger,
		agentSock: os.Getenv("SSH_AUTH_SOCK"),
		home:      home,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Dial connects and authenticates. ctx bounds the TCP connect and the SSH
// handshake; the returned session is not tied to it.
func (t *Transport) Dial(ctx context.Context, spec core.HostSpec) (core.Session, error) {
	auth, closeAgent, err := t.authMethods(spec)
	if err != nil {
		return nil, core.AuthenticationFailure(spec.Host, err)
	}
	defer closeAgent()

	hostKey, err := t.hostKeyCallback(spec)
	if err != nil {
		return nil, core.TransportFailure(spec.Host, "known_hosts", err)
	}

	cfg := &gossh.ClientConfig{
		User:            spec.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         spec.LoginTimeout,
	}

	addr := spec.Address()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, core.TransportFailure(spec.Host, "dial", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if !stop() {
		if err == nil {
			c.Close()
		}
		conn.Close()
		return nil, core.TransportFailure(spec.Host, "handshake", ctx.Err())
	}
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return nil, core.AuthenticationFailure(spec.Host, err)
		}
		return nil, core.TransportFailure(spec.Host, "handshake", err)
	}
	conn.SetDeadline(time.Time{})

	t.logger.Debug("ssh connected", "host", spec.Host, "addr", addr, "user", spec.User)
	return &session{client: gossh.NewClient(c, chans, reqs), host: spec.Host}, nil
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// authMethods collects the key file signer and the agent signers. The returned
// func closes the agent connection once the handshake is done.
func (t *Transport) authMethods(spec core.HostSpec) ([]gossh.AuthMethod, func(), error) {
	var methods []gossh.AuthMethod
	closer := func() {}

	if spec.KeyFile != "" {
		signer, err := loadKey(spec.KeyFile)
		if err != nil {
			return nil, closer, err
		}
		methods = append(methods, gossh.PublicKeys(signer))
	}

	if t.agentSock != "" {
		conn, err := net.Dial("unix", t.agentSock)
		if err != nil {
			t.logger.Debug("ssh-agent unavailable", "socket", t.agentSock, "err", err)
		} else {
			closer = func() { conn.Close() }
			methods = append(methods, gossh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, closer, errors.New("no key_filename configured and no ssh-agent available")
	}
	return methods, closer, nil
}

func loadKey(path string) (gossh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := gossh.ParsePrivateKey(pem)
	var missing *gossh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("key %s is passphrase protected; load it into ssh-agent instead", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	return signer, nil
}

// hostKeyCallback verifies against known_hosts. An explicit known_hosts file
// is strict. Otherwise ~/.ssh/known_hosts rejects changed keys but accepts
// hosts it has never seen, and without any file keys are not checked. Both
// relaxed cases are logged once per host.
func (t *Transport) hostKeyCallback(spec core.HostSpec) (gossh.HostKeyCallback, error) {
	if t.hostKey != nil {
		return t.hostKey, nil
	}
	if spec.KnownHosts != "" {
		return knownhosts.New(spec.KnownHosts)
	}

	cb, err := knownhosts.New(filepath.Join(t.home, ".ssh", "known_hosts"))
	if err != nil {
		t.warnOnce(spec.Host, "host key not verified", "reason", err)
		return gossh.InsecureIgnoreHostKey(), nil
	}
	return func(hostname string, remote net.Addr, key gossh.PublicKey) error {
		err := cb(hostname, remote, key)
		var ke *knownhosts.KeyError
		if errors.As(err, &ke) && len(ke.Want) == 0 {
			t.warnOnce(spec.Host, "unknown host key accepted", "fingerprint", gossh.FingerprintSHA256(key))
			return nil
		}
		return err
	}, nil
}

func (t *Transport) warnOnce(host, msg string, args ...any) {
	if _, loaded := t.warned.LoadOrStore(host, struct{}{}); loaded {
		return
	}
	t.logger.Warn(msg, append([]any{"host", host}, args...)...)
}
