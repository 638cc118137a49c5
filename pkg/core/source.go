package core

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Status represents the current state of a line source.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusVerifying  Status = "verifying"
	StatusPolling    Status = "polling"
	StatusRestarting Status = "restarting"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
	StatusUnknown    Status = "unknown"
)

// RestartPolicy defines whether a failed line source is started again.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
)

// TailMode selects how a line source observes the remote file.
type TailMode string

const (
	// ModeSnapshot runs a one-shot tail every poll interval and diffs batches.
	ModeSnapshot TailMode = "snapshot"
	// ModeStream keeps one `tail -F` session open and reads it line by line.
	ModeStream TailMode = "stream"
)

// HostSpec is the resolved, immutable configuration of one monitored target.
type HostSpec struct {
	Name              string
	Host              string
	Port              int
	User              string
	KeyFile           string
	KnownHosts        string
	LogFile           string
	Delay             time.Duration
	BufferLines       int
	LoginTimeout      time.Duration
	CommandTimeout    time.Duration
	Elevate           string
	Mode              TailMode
	ReconnectInterval time.Duration
	Restart           RestartPolicy
}

// ID returns the source identifier for this host/file pair.
func (h HostSpec) ID() string {
	return SourceID(h.Name, h.LogFile)
}

// Address returns host:port suitable for dialing.
func (h HostSpec) Address() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

// TailCommand returns the one-shot command printing the last BufferLines lines.
func (h HostSpec) TailCommand() string {
	return h.elevated(fmt.Sprintf("tail -n %d %s", h.BufferLines, ShellQuote(h.LogFile)))
}

// FollowCommand returns the long-running command used in stream mode.
func (h HostSpec) FollowCommand() string {
	return h.elevated(fmt.Sprintf("tail -n %d -F %s", h.BufferLines, ShellQuote(h.LogFile)))
}

func (h HostSpec) elevated(cmd string) string {
	prefix := strings.TrimSpace(h.Elevate)
	if prefix == "" {
		return cmd
	}
	return prefix + " " + cmd
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("/._-+,:@%=", r):
		return false
	}
	return true
}

// SourceID constructs a source ID from its components.
// Format: host:file
func SourceID(host, file string) string {
	return host + ":" + file
}

// ParseSourceID splits a source ID into host and file. The file part must be an
// absolute path, so the first ":/" is the separator.
func ParseSourceID(id string) (host, file string, err error) {
	i := strings.Index(id, ":/")
	if i <= 0 {
		return "", "", fmt.Errorf("invalid source ID %q: expected host:/absolute/path", id)
	}
	return id[:i], id[i+1:], nil
}

// SourceInfo is a point-in-time view of one line source, as reported over the
// control socket.
type SourceInfo struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	File      string    `json:"file"`
	Mode      TailMode  `json:"mode"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Lines     uint64    `json:"lines"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
}
