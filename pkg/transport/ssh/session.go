package ssh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	gossh "golang.org/x/crypto/ssh"

	"github.com/modoterra/a12rta/pkg/core"
)

// maxStderr caps what a stream keeps of its stderr for error reports.
const maxStderr = 64 * 1024

type session struct {
	client *gossh.Client
	host   string
	once   sync.Once
	err    error
}

func (s *session) Run(ctx context.Context, cmd string) (core.CommandResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return core.CommandResult{Command: cmd}, core.TransportFailure(s.host, "session", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	stop := context.AfterFunc(ctx, func() { kill(sess) })
	defer stop()

	err = sess.Run(cmd)
	res := core.CommandResult{Command: cmd, Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, s.classify(err, &res)
}

func (s *session) Stream(ctx context.Context, cmd string) (core.Stream, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, core.TransportFailure(s.host, "session", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, core.TransportFailure(s.host, "stream", err)
	}
	st := &stream{sess: sess, stdout: stdout, owner: s, cmd: cmd}
	sess.Stderr = &st.stderr
	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return nil, core.TransportFailure(s.host, "stream", err)
	}
	st.stop = context.AfterFunc(ctx, st.terminate)
	return st, nil
}

func (s *session) Close() error {
	s.once.Do(func() { s.err = s.client.Close() })
	return s.err
}

// classify maps the result of a finished remote command.
func (s *session) classify(err error, res *core.CommandResult) error {
	if err == nil {
		return nil
	}
	var exit *gossh.ExitError
	if errors.As(err, &exit) {
		res.ExitCode = exit.ExitStatus()
		return core.CommandFailure(s.host, *res)
	}
	return core.TransportFailure(s.host, "run", err)
}

func kill(sess *gossh.Session) {
	sess.Signal(gossh.SIGKILL)
	sess.Close()
}

type stream struct {
	sess   *gossh.Session
	stdout io.Reader
	stderr limitedBuffer
	owner  *session
	cmd    string
	stop   func() bool
	once   sync.Once
}

func (st *stream) Read(p []byte) (int, error) { return st.stdout.Read(p) }

func (st *stream) Wait() error {
	err := st.sess.Wait()
	res := core.CommandResult{Command: st.cmd, Stderr: st.stderr.String()}
	return st.owner.classify(err, &res)
}

func (st *stream) Close() error {
	st.stop()
	st.terminate()
	return nil
}

// terminate kills the remote command once. It runs from the context
// callback, so it must not touch stop.
func (st *stream) terminate() {
	st.once.Do(func() { kill(st.sess) })
}

// limitedBuffer keeps the first maxStderr bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := maxStderr - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
