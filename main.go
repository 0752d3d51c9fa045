package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/constants"
	"github.com/leslieo2/devreload/internal/filewatch"
	"github.com/leslieo2/devreload/internal/hotreload"
	"github.com/leslieo2/devreload/internal/observability"
	"github.com/leslieo2/devreload/internal/restart"
)

var (
	// Set by the release build
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliOptions holds every flag value of one command tree.
type cliOptions struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string

	watchPaths     []string
	pollInterval   time.Duration
	quietPeriod    time.Duration
	triggerFile    string
	exclude        []string
	liveReloadPort int
	noLiveReload   bool
	metricsPort    string

	contentHash bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "devreload",
		Short: "Restart your application and refresh your browser while you develop",
		Long: `devreload watches your build output. Compiled code changes restart the
application under development; static resource changes are pushed to
connected browsers over the LiveReload protocol.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before reading the environment (default .env)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")

	runCmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run a command and restart it when compiled code changes",
		Long: `Run starts the command, watches the configured paths and restarts the
command whenever a code file changes. Other changes reload connected
browsers. Without arguments the command is taken from restart.command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, args, true)
		},
	}
	runCmd.Flags().SetInterspersed(false)
	addWatchFlags(runCmd.Flags(), opts)

	liveReloadCmd := &cobra.Command{
		Use:   "livereload",
		Short: "Watch files and refresh connected browsers, without restarts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, nil, false)
		},
	}
	addWatchFlags(liveReloadCmd.Flags(), opts)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot <dir>",
		Short: "Print the snapshot of a directory as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSnapshot(cmd, opts, args[0])
		},
	}
	snapshotCmd.Flags().BoolVar(&opts.contentHash, "content-hash", false, "include a content hash for every file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "devreload %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(runCmd, liveReloadCmd, snapshotCmd, versionCmd)
	return rootCmd
}

func addWatchFlags(flags *pflag.FlagSet, opts *cliOptions) {
	flags.StringSliceVarP(&opts.watchPaths, "watch", "w", nil, "path to watch (repeatable)")
	flags.DurationVar(&opts.pollInterval, "poll-interval", constants.DefaultPollInterval, "interval between scans")
	flags.DurationVar(&opts.quietPeriod, "quiet-period", constants.DefaultQuietPeriod, "time without changes before a batch is dispatched")
	flags.StringVar(&opts.triggerFile, "trigger-file", "", "only restart after this file changes")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "additional restart exclude pattern (repeatable)")
	flags.IntVar(&opts.liveReloadPort, "livereload-port", constants.LiveReloadDefaultPort, "LiveReload server port")
	flags.BoolVar(&opts.noLiveReload, "no-livereload", false, "disable the LiveReload server")
	flags.StringVar(&opts.metricsPort, "metrics-port", "", "serve prometheus metrics on this port")
}

// loadConfig merges defaults, the config file, the environment and the
// flags the user actually set.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (*config.Config, error) {
	flags := &config.CLIFlags{
		FlagSet:        cmd.Flags(),
		EnvFile:        &opts.envFile,
		WatchPaths:     &opts.watchPaths,
		PollInterval:   &opts.pollInterval,
		QuietPeriod:    &opts.quietPeriod,
		TriggerFile:    &opts.triggerFile,
		Exclude:        &opts.exclude,
		LiveReloadPort: &opts.liveReloadPort,
		NoLiveReload:   &opts.noLiveReload,
		MetricsPort:    &opts.metricsPort,
		LogLevel:       &opts.logLevel,
		LogFormat:      &opts.logFormat,
	}
	return config.LoadConfig(opts.configFile, flags)
}

func runPipeline(cmd *cobra.Command, opts *cliOptions, args []string, withRestart bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if !withRestart {
		cfg.Restart.Enabled = false
	}

	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tracer, err := observability.NewTracer(cfg.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	managerOpts := hotreload.ManagerOptions{
		Logger: logger.Logger,
		Tracer: tracer,
		Fs:     afero.NewOsFs(),
	}
	if cfg.Restart.Enabled {
		entryPoint, err := commandEntryPoint(cfg, args)
		if err != nil {
			return err
		}
		managerOpts.EntryPoint = entryPoint
	}

	manager, err := hotreload.NewManager(cfg, managerOpts)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	if addr := manager.LiveReloadAddr(); addr != "" {
		logger.Info("Browsers can connect", zap.String("livereload", "ws://"+addr+constants.LiveReloadPath))
	}
	if addr := manager.RemoteAddr(); addr != "" {
		logger.Info("Accepting remote updates", zap.String("endpoint", "http://"+addr+constants.PathRestart))
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(cfg))
	defer cancel()
	return manager.Shutdown(shutdownCtx)
}

// commandEntryPoint resolves the application command from the arguments,
// falling back to the configured one.
func commandEntryPoint(cfg *config.Config, args []string) (restart.EntryPoint, error) {
	command := args
	if len(command) == 0 {
		command = cfg.Restart.Command
	}
	if len(command) == 0 {
		return nil, errors.New("no command to run: pass it after -- or set restart.command")
	}

	return restart.Command(command[0], command[1:], restart.CommandOptions{
		KillDelay: cfg.Restart.KillDelay,
	})
}

// shutdownBudget leaves room for the application to stop and for the
// servers to close afterwards.
func shutdownBudget(cfg *config.Config) time.Duration {
	budget := cfg.Restart.ShutdownTimeout
	if budget <= 0 {
		budget = constants.DefaultShutdownTimeout
	}
	return budget + 5*time.Second
}

func printSnapshot(cmd *cobra.Command, opts *cliOptions, dir string) error {
	var snapOpts []filewatch.SnapshotOption
	if opts.contentHash {
		snapOpts = append(snapOpts, filewatch.WithContentHash())
	}

	snap, err := filewatch.TakeSnapshot(afero.NewOsFs(), dir, snapOpts...)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
