package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/modoterra/a12rta/internal/buildinfo"
	"github.com/modoterra/a12rta/pkg/daemon"
	"github.com/modoterra/a12rta/pkg/daemon/service"
	"github.com/modoterra/a12rta/pkg/manifest"
	"github.com/modoterra/a12rta/pkg/queue"
	"github.com/modoterra/a12rta/pkg/report"
	"github.com/modoterra/a12rta/pkg/sink"
	"github.com/modoterra/a12rta/pkg/transport/ssh"
	"github.com/modoterra/a12rta/pkg/transport/uds"
	tuimodel "github.com/modoterra/a12rta/pkg/tui/model"
)

const defaultSocket = "/tmp/a12rta.sock"

var (
	filename   string
	socketPath string
	noControl  bool
	logFile    string
	logLevel   string
	journalOut bool
	queueSize  int
	grace      time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "a12rta",
	Short:        "Tail one log file on each of several hosts over SSH",
	Long:         "a12rta follows a log file on every host listed in hosts.yml and prints new lines from all of them as one deduplicated stream.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runTailer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&filename, "filename", "f", manifest.DefaultPath, "host file")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "control socket path")

	rootCmd.Flags().BoolVar(&noControl, "no-control", false, "do not open the control socket")
	rootCmd.Flags().StringVar(&logFile, "log-file", "a12rta.log", "operator log file; empty logs to stderr")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.Flags().BoolVar(&journalOut, "journal", false, "also report host failures to the systemd journal")
	rootCmd.Flags().IntVar(&queueSize, "queue-size", queue.DefaultCapacity, "aggregation queue capacity")
	rootCmd.Flags().DurationVar(&grace, "grace", sink.DefaultGrace, "time allowed to drain queued lines on shutdown")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serviceCmd)
}

// --- Root: tailer ---

func runTailer(cmd *cobra.Command, _ []string) error {
	logger, closeLog, err := newLogger(logFile, logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	m, err := manifest.Load(filename)
	if err != nil {
		return err
	}
	if errs := manifest.Validate(m); len(errs) > 0 {
		printValidation(cmd.ErrOrStderr(), filename, errs)
		return fmt.Errorf("%s: invalid host file", filename)
	}
	specs := m.Specs()
	logger.Info("host file loaded", "path", filename, "hosts", len(specs))

	reporters := report.Multi{report.NewLogReporter(logger, cmd.ErrOrStderr())}
	if journalOut {
		if jr, ok := report.NewJournalReporter(logger); ok {
			reporters = append(reporters, jr)
		} else {
			logger.Warn("journald not available, --journal ignored")
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	printer := sink.NewPrinter(cmd.OutOrStdout())
	opts := []daemon.Option{
		daemon.WithLogger(logger),
		daemon.WithReporter(reporters),
		daemon.WithQueueSize(queueSize),
		daemon.WithGrace(grace),
	}

	var control *daemon.Control
	if noControl {
		opts = append(opts, daemon.WithSink(printer))
	} else {
		control = daemon.NewControl(socketPath, logger)
		opts = append(opts,
			daemon.WithSink(sink.Multi{printer, control}),
			daemon.WithStatusListener(control.SourceChanged),
		)
	}

	supervisor := daemon.NewSupervisor(specs, ssh.New(logger), opts...)

	if control != nil {
		control.SetSupervisor(supervisor)
		defer control.Shutdown()
		go func() {
			if err := control.Run(ctx); err != nil {
				logger.Warn("control socket unavailable", "socket", socketPath, "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go watchSignals(ctx, sigCh, cmd.ErrOrStderr(), logger, supervisor.Shutdown, os.Exit)

	logger.Info("starting a12rta", "version", buildinfo.Version, "run_id", supervisor.RunID())
	sddaemon.SdNotify(false, sddaemon.SdNotifyReady)

	if err := supervisor.Run(ctx); err != nil {
		logger.Error("tailer stopped with error", "err", err)
		return err
	}
	return nil
}

// watchSignals triggers shutdown on the first signal and exits on the second,
// so a drain that hangs can still be interrupted.
func watchSignals(ctx context.Context, sigCh <-chan os.Signal, w io.Writer, logger *slog.Logger, shutdown func(), exit func(int)) {
	select {
	case sig := <-sigCh:
		fmt.Fprintf(w, "%s received. Shutting down.\n", signalName(sig))
		logger.Info("shutting down", "signal", sig.String())
		sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
		shutdown()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		fmt.Fprintf(w, "%s received again. Exiting.\n", signalName(sig))
		logger.Warn("forced exit", "signal", sig.String())
		exit(1)
	case <-ctx.Done():
	}
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "Ctrl+C"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return sig.String()
}

// newLogger builds the operator logger. A non-empty path is rotated through
// lumberjack.
func newLogger(path, level string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("--log-level: %w", err)
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w = lj
		closeFn = func() { lj.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closeFn, nil
}

func dialTailer() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to a12rta at %s: %w", socketPath, err)
	}
	return client, nil
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "a12rta %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a host file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filename
		if len(args) > 0 {
			path = args[0]
		}

		m, err := manifest.Load(path)
		if err != nil {
			return err
		}

		errs := manifest.Validate(m)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d hosts)\n", path, len(m.Hosts))
			return nil
		}
		printValidation(cmd.ErrOrStderr(), path, errs)
		return fmt.Errorf("%s: invalid host file", path)
	},
}

func printValidation(w io.Writer, path string, errs []error) {
	fmt.Fprintf(w, "%s: %d error(s)\n", path, len(errs))
	for _, e := range errs {
		fmt.Fprintf(w, "  • %s\n", e)
	}
}

// --- Init ---

var (
	initOutput string
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example host file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(initOutput); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", initOutput)
		}
		m := manifest.Example()
		if err := manifest.Save(m, initOutput); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s with %d hosts\n", initOutput, len(m.Hosts))
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initOutput, "output", manifest.DefaultPath, "output file path")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

// --- Status ---

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every source of the running tailer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialTailer()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var resp uds.ListSourcesResponse
		if err := client.Call(ctx, uds.MethodListSources, nil, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		printSources(out, resp)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func printSources(w io.Writer, resp uds.ListSourcesResponse) {
	fmt.Fprintf(w, "run %s, %d lines consumed\n", resp.RunID, resp.Consumed)
	if len(resp.Sources) == 0 {
		fmt.Fprintln(w, "no sources")
		return
	}
	fmt.Fprintf(w, "%-20s %-30s %-9s %-11s %-8s %-8s %s\n", "HOST", "FILE", "MODE", "STATUS", "LINES", "RESTART", "LAST ERROR")
	for _, s := range resp.Sources {
		fmt.Fprintf(w, "%-20s %-30s %-9s %-11s %-8d %-8d %s\n",
			s.Host, s.File, s.Mode, s.Status, s.Lines, s.Restarts, s.LastError)
	}
}

// --- Watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live TUI for a running tailer",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if _, err := os.Stat(socketPath); err != nil {
			return fmt.Errorf("no tailer is running at %s", socketPath)
		}
		p := tea.NewProgram(tuimodel.New(socketPath), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

// --- Service ---

var (
	serviceLogFile string
	serviceJournal bool
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start a12rta as a systemd user service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logPath := serviceLogFile
		if logPath != "" && !filepath.IsAbs(logPath) {
			abs, err := filepath.Abs(logPath)
			if err != nil {
				return err
			}
			logPath = abs
		}
		u := service.Unit{
			Manifest: filename,
			Socket:   socketPath,
			LogFile:  logPath,
			Journal:  serviceJournal,
		}
		if err := service.Install(u); err != nil {
			return err
		}
		path, _ := service.UnitPath()
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", path)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the systemd user service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "uninstalled")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service and control socket status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(socketPath))
	},
}

func init() {
	serviceInstallCmd.Flags().StringVar(&serviceLogFile, "log-file", "", "log file for the service (default: a12rta.log next to the host file)")
	serviceInstallCmd.Flags().BoolVar(&serviceJournal, "journal", true, "report host failures to the journal")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
