package report

import (
	"log/slog"
	"strconv"

	"github.com/coreos/go-systemd/v22/journal"
)

// JournalReporter sends records to the systemd journal.
type JournalReporter struct {
	logger *slog.Logger
	send   func(msg string, pri journal.Priority, vars map[string]string) error
}

// NewJournalReporter returns a reporter bound to the local journal, and false
// when journald is not reachable.
func NewJournalReporter(logger *slog.Logger) (*JournalReporter, bool) {
	if !journal.Enabled() {
		return nil, false
	}
	return &JournalReporter{logger: logger, send: journal.Send}, true
}

func (j *JournalReporter) Report(r Record) {
	if err := j.send(r.Summary, journal.PriErr, journalFields(r)); err != nil {
		j.logger.Warn("journal send", "host", r.Host, "err", err)
	}
}

func journalFields(r Record) map[string]string {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": "a12rta",
		"A12RTA_RUN_ID":     r.RunID,
		"A12RTA_HOST":       r.Host,
		"A12RTA_FILE":       r.File,
		"A12RTA_KIND":       string(r.Kind),
		"A12RTA_ERROR":      r.Err,
	}
	if r.Command != "" {
		vars["A12RTA_COMMAND"] = r.Command
		vars["A12RTA_EXIT_CODE"] = strconv.Itoa(r.ExitCode)
		vars["A12RTA_STDOUT"] = r.Stdout
		vars["A12RTA_STDERR"] = r.Stderr
	}
	return vars
}
