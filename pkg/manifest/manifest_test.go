package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/a12rta/pkg/core"
)

func TestParseHostList(t *testing.T) {
	yaml := `
- host: web1.example.com
  user: deploy
  key_filename: /keys/id_ed25519
  log_file: /var/log/syslog
  delay: 2
  buffer_lines: 20
  login_timeout: 5
  root_access_type: sudo
- host: 10.0.0.5
  log_file: /var/log/app.log
`
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(m.Hosts) != 2 {
		t.Fatalf("hosts count: got %d, want 2", len(m.Hosts))
	}

	specs := m.Specs()
	web := specs[0]
	if web.Name != "web1.example.com" {
		t.Errorf("name should default to host, got %q", web.Name)
	}
	if web.User != "deploy" || web.KeyFile != "/keys/id_ed25519" {
		t.Errorf("user/key: got %q %q", web.User, web.KeyFile)
	}
	if web.Delay != 2*time.Second {
		t.Errorf("delay: got %v", web.Delay)
	}
	if web.BufferLines != 20 {
		t.Errorf("buffer_lines: got %d", web.BufferLines)
	}
	if web.LoginTimeout != 5*time.Second {
		t.Errorf("login_timeout: got %v", web.LoginTimeout)
	}
	if web.Elevate != "sudo" {
		t.Errorf("root_access_type: got %q", web.Elevate)
	}

	app := specs[1]
	if app.Port != DefaultPort {
		t.Errorf("port default: got %d", app.Port)
	}
	if app.Delay != time.Second {
		t.Errorf("delay default: got %v", app.Delay)
	}
	if app.BufferLines != DefaultBufferLines {
		t.Errorf("buffer_lines default: got %d", app.BufferLines)
	}
	if app.LoginTimeout != 10*time.Second || app.CommandTimeout != 30*time.Second {
		t.Errorf("timeouts default: got %v %v", app.LoginTimeout, app.CommandTimeout)
	}
	if app.Elevate != "" {
		t.Errorf("root_access_type default: got %q", app.Elevate)
	}
	if app.Mode != core.ModeSnapshot || app.Restart != core.RestartNever {
		t.Errorf("mode/restart default: got %q %q", app.Mode, app.Restart)
	}

	if errs := Validate(m); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestParseMappingWithDefaults(t *testing.T) {
	t.Setenv("KEYS", "/etc/keys")
	yaml := `
defaults:
  user: ops
  key_filename: ${KEYS}/ops
  delay: 0.5
  buffer_lines: 50
  mode: stream
hosts:
  - host: a.internal
    log_file: /var/log/a.log
  - name: bee
    host: b.internal
    user: root
    log_file: /var/log/b.log
    buffer_lines: 5
    restart: on-failure
`
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	specs := m.Specs()
	if specs[0].User != "ops" || specs[1].User != "root" {
		t.Errorf("user: got %q %q", specs[0].User, specs[1].User)
	}
	if specs[0].KeyFile != "/etc/keys/ops" {
		t.Errorf("key expansion: got %q", specs[0].KeyFile)
	}
	if specs[0].Delay != 500*time.Millisecond {
		t.Errorf("fractional delay: got %v", specs[0].Delay)
	}
	if specs[0].BufferLines != 50 || specs[1].BufferLines != 5 {
		t.Errorf("buffer_lines: got %d %d", specs[0].BufferLines, specs[1].BufferLines)
	}
	if specs[1].Mode != core.ModeStream {
		t.Errorf("mode from defaults: got %q", specs[1].Mode)
	}
	if specs[1].Name != "bee" || specs[1].ID() != "bee:/var/log/b.log" {
		t.Errorf("name: got %q id %q", specs[1].Name, specs[1].ID())
	}
	if specs[1].Restart != core.RestartOnFailure {
		t.Errorf("restart: got %q", specs[1].Restart)
	}
}

func TestParseTildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	m, err := Parse([]byte("- host: h\n  log_file: /x\n  key_filename: ~/.ssh/id_rsa\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, ".ssh/id_rsa")
	if got := m.Hosts[0].KeyFilename; got != want {
		t.Errorf("key_filename: got %q, want %q", got, want)
	}
}

func TestParseExplicitZeroIsKept(t *testing.T) {
	m, err := Parse([]byte("- host: h\n  log_file: /x\n  buffer_lines: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	assertHasError(t, Validate(m), "buffer_lines must be positive")
}

func TestParseRejectsScalar(t *testing.T) {
	if _, err := Parse([]byte("just a string")); err == nil {
		t.Error("expected error for scalar document")
	}
	if _, err := Parse([]byte("")); err == nil {
		t.Error("expected error for empty document")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yml")
	if err := Save(Example(), path); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.FilePath != path {
		t.Errorf("file path: got %q", m.FilePath)
	}
	if len(m.Hosts) != 2 {
		t.Fatalf("hosts: got %d", len(m.Hosts))
	}
	if errs := Validate(m); len(errs) != 0 {
		t.Errorf("example should validate: %v", errs)
	}
	if m.Specs()[1].Elevate != "sudo" {
		t.Errorf("elevate: got %q", m.Specs()[1].Elevate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil || !strings.Contains(err.Error(), "read host file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestValidateEmptyHosts(t *testing.T) {
	errs := Validate(&Manifest{})
	assertHasError(t, errs, "at least one host")
}

func TestValidateHostRequired(t *testing.T) {
	m := mustParse(t, "- log_file: /var/log/x\n")
	assertHasError(t, Validate(m), "host is required")
}

func TestValidateLogFileRequired(t *testing.T) {
	m := mustParse(t, "- host: h\n")
	assertHasError(t, Validate(m), "log_file is required")
}

func TestValidateLogFileAbsolute(t *testing.T) {
	m := mustParse(t, "- host: h\n  log_file: var/log/x\n")
	assertHasError(t, Validate(m), "absolute path")
}

func TestValidateBadMode(t *testing.T) {
	m := mustParse(t, "- host: h\n  log_file: /x\n  mode: telepathy\n")
	assertHasError(t, Validate(m), "mode must be")
}

func TestValidateBadRestart(t *testing.T) {
	m := mustParse(t, "- host: h\n  log_file: /x\n  restart: always\n")
	assertHasError(t, Validate(m), "restart must be")
}

func TestValidateNegativeDelay(t *testing.T) {
	m := mustParse(t, "- host: h\n  log_file: /x\n  delay: -1\n")
	assertHasError(t, Validate(m), "delay must be positive")
}

func TestValidateDuplicateSource(t *testing.T) {
	m := mustParse(t, "- host: h\n  log_file: /x\n- host: h\n  log_file: /x\n")
	assertHasError(t, Validate(m), "already monitored by host #1")
}

func TestValidateSameHostDifferentFiles(t *testing.T) {
	m := mustParse(t, "- host: h\n  log_file: /x\n- host: h\n  log_file: /y\n")
	if errs := Validate(m); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func mustParse(t *testing.T, yaml string) *Manifest {
	t.Helper()
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got %v", substr, errs)
}
