package manifest

import (
	"fmt"
	"path"

	"github.com/modoterra/a12rta/pkg/core"
)

// Validate checks the manifest for structural correctness. It expects defaults
// to have been applied, as Parse does.
func Validate(m *Manifest) []error {
	var errs []error

	if len(m.Hosts) == 0 {
		errs = append(errs, fmt.Errorf("host file must define at least one host"))
	}

	seen := make(map[string]int)
	for i, h := range m.Hosts {
		label := fmt.Sprintf("host #%d", i+1)
		if h.Host != "" {
			label = fmt.Sprintf("host #%d (%s)", i+1, h.Host)
		}

		if h.Host == "" {
			errs = append(errs, fmt.Errorf("%s: host is required", label))
		}
		if h.LogFile == "" {
			errs = append(errs, fmt.Errorf("%s: log_file is required", label))
		} else if !path.IsAbs(h.LogFile) {
			errs = append(errs, fmt.Errorf("%s: log_file must be an absolute path, got %q", label, h.LogFile))
		}
		if h.Port < 1 || h.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s: port must be between 1 and 65535, got %d", label, h.Port))
		}
		if h.Delay != nil && *h.Delay <= 0 {
			errs = append(errs, fmt.Errorf("%s: delay must be positive, got %v", label, *h.Delay))
		}
		if h.BufferLines != nil && *h.BufferLines <= 0 {
			errs = append(errs, fmt.Errorf("%s: buffer_lines must be positive, got %d", label, *h.BufferLines))
		}
		if h.LoginTimeout != nil && *h.LoginTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%s: login_timeout must be positive, got %v", label, *h.LoginTimeout))
		}
		if h.CommandTimeout != nil && *h.CommandTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%s: command_timeout must be positive, got %v", label, *h.CommandTimeout))
		}
		if h.ReconnectInterval != nil && *h.ReconnectInterval <= 0 {
			errs = append(errs, fmt.Errorf("%s: reconnect_interval must be positive, got %v", label, *h.ReconnectInterval))
		}
		switch core.TailMode(h.Mode) {
		case core.ModeSnapshot, core.ModeStream:
		default:
			errs = append(errs, fmt.Errorf("%s: mode must be snapshot or stream; got %q", label, h.Mode))
		}
		switch core.RestartPolicy(h.Restart) {
		case core.RestartNever, core.RestartOnFailure:
		default:
			errs = append(errs, fmt.Errorf("%s: restart must be never or on-failure; got %q", label, h.Restart))
		}

		if h.Host != "" && h.LogFile != "" {
			id := h.Spec().ID()
			if first, dup := seen[id]; dup {
				errs = append(errs, fmt.Errorf("%s: %s is already monitored by host #%d", label, id, first))
			} else {
				seen[id] = i + 1
			}
		}
	}

	return errs
}
