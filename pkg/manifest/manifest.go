package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modoterra/a12rta/pkg/core"
)

// DefaultPath is the host file read when none is given.
const DefaultPath = "hosts.yml"

// Defaults for absent host fields.
const (
	DefaultPort              = 22
	DefaultDelay             = 1.0
	DefaultBufferLines       = 10
	DefaultLoginTimeout      = 10.0
	DefaultCommandTimeout    = 30.0
	DefaultReconnectInterval = 300.0
)

// Manifest is a parsed hosts.yml. The file is either a bare list of hosts or a
// mapping with a defaults block and a hosts list.
type Manifest struct {
	Defaults Host   `yaml:"defaults,omitempty"`
	Hosts    []Host `yaml:"hosts"`
	FilePath string `yaml:"-"`
}

// Host is one monitored target as written in hosts.yml. Numeric durations are
// seconds. Pointer fields distinguish "absent" from zero.
type Host struct {
	Name              string   `yaml:"name,omitempty"`
	Host              string   `yaml:"host,omitempty"`
	Port              int      `yaml:"port,omitempty"`
	User              string   `yaml:"user,omitempty"`
	KeyFilename       string   `yaml:"key_filename,omitempty"`
	KnownHosts        string   `yaml:"known_hosts,omitempty"`
	LogFile           string   `yaml:"log_file,omitempty"`
	Delay             *float64 `yaml:"delay,omitempty"`
	BufferLines       *int     `yaml:"buffer_lines,omitempty"`
	LoginTimeout      *float64 `yaml:"login_timeout,omitempty"`
	CommandTimeout    *float64 `yaml:"command_timeout,omitempty"`
	RootAccessType    *string  `yaml:"root_access_type,omitempty"`
	Mode              string   `yaml:"mode,omitempty"`
	ReconnectInterval *float64 `yaml:"reconnect_interval,omitempty"`
	Restart           string   `yaml:"restart,omitempty"`
}

// withDefaults fills absent fields of h from d, then from the built-in defaults.
func (h Host) withDefaults(d Host) Host {
	if h.Port == 0 {
		h.Port = d.Port
	}
	if h.User == "" {
		h.User = d.User
	}
	if h.KeyFilename == "" {
		h.KeyFilename = d.KeyFilename
	}
	if h.KnownHosts == "" {
		h.KnownHosts = d.KnownHosts
	}
	if h.LogFile == "" {
		h.LogFile = d.LogFile
	}
	if h.Delay == nil {
		h.Delay = d.Delay
	}
	if h.BufferLines == nil {
		h.BufferLines = d.BufferLines
	}
	if h.LoginTimeout == nil {
		h.LoginTimeout = d.LoginTimeout
	}
	if h.CommandTimeout == nil {
		h.CommandTimeout = d.CommandTimeout
	}
	if h.RootAccessType == nil {
		h.RootAccessType = d.RootAccessType
	}
	if h.Mode == "" {
		h.Mode = d.Mode
	}
	if h.ReconnectInterval == nil {
		h.ReconnectInterval = d.ReconnectInterval
	}
	if h.Restart == "" {
		h.Restart = d.Restart
	}

	if h.Port == 0 {
		h.Port = DefaultPort
	}
	if h.User == "" {
		h.User = os.Getenv("USER")
	}
	if h.Delay == nil {
		h.Delay = ptr(DefaultDelay)
	}
	if h.BufferLines == nil {
		h.BufferLines = ptr(DefaultBufferLines)
	}
	if h.LoginTimeout == nil {
		h.LoginTimeout = ptr(DefaultLoginTimeout)
	}
	if h.CommandTimeout == nil {
		h.CommandTimeout = ptr(DefaultCommandTimeout)
	}
	if h.RootAccessType == nil {
		h.RootAccessType = ptr("")
	}
	if h.Mode == "" {
		h.Mode = string(core.ModeSnapshot)
	}
	if h.ReconnectInterval == nil {
		h.ReconnectInterval = ptr(DefaultReconnectInterval)
	}
	if h.Restart == "" {
		h.Restart = string(core.RestartNever)
	}
	h.KeyFilename = expandPath(h.KeyFilename)
	h.KnownHosts = expandPath(h.KnownHosts)
	return h
}

// Spec converts a defaulted host record into the immutable core.HostSpec.
func (h Host) Spec() core.HostSpec {
	name := h.Name
	if name == "" {
		name = h.Host
	}
	return core.HostSpec{
		Name:              name,
		Host:              h.Host,
		Port:              h.Port,
		User:              h.User,
		KeyFile:           h.KeyFilename,
		KnownHosts:        h.KnownHosts,
		LogFile:           h.LogFile,
		Delay:             seconds(h.Delay),
		BufferLines:       deref(h.BufferLines),
		LoginTimeout:      seconds(h.LoginTimeout),
		CommandTimeout:    seconds(h.CommandTimeout),
		Elevate:           deref(h.RootAccessType),
		Mode:              core.TailMode(h.Mode),
		ReconnectInterval: seconds(h.ReconnectInterval),
		Restart:           core.RestartPolicy(h.Restart),
	}
}

// Specs returns the resolved HostSpec of every host in file order.
func (m *Manifest) Specs() []core.HostSpec {
	specs := make([]core.HostSpec, 0, len(m.Hosts))
	for _, h := range m.Hosts {
		specs = append(specs, h.Spec())
	}
	return specs
}

// expandPath resolves a leading ~ and ${VAR} references.
func expandPath(p string) string {
	if p == "" {
		return ""
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func seconds(v *float64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v * float64(time.Second))
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
