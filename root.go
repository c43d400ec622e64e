package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudsync-oss/cloudsync/internal/config"
	"github.com/cloudsync-oss/cloudsync/internal/graph"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in setupRootCmd().
var (
	flagConfigPath string
	flagAccount    string
	flagDrive      string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading themselves.
// Commands annotated with this key skip the automatic four-layer config
// resolution in PersistentPreRunE. This replaces the fragile string map
// (skipConfigCommands) which required manual maintenance when adding commands.
const skipConfigAnnotation = "skipConfig"

// CLIFlags snapshots the persistent flag values at PersistentPreRunE time.
// Commands read from this instead of the package-level flag globals so that
// behavior is pinned to the values Cobra parsed for this invocation.
type CLIFlags struct {
	ConfigPath string
	Account    string
	Drive      string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// SingleDrive returns the selector to use when a command needs exactly one
// drive and accepts either --drive or --account to pick it. --drive wins
// when both are set.
func (f CLIFlags) SingleDrive() string {
	if f.Drive != "" {
		return f.Drive
	}

	return f.Account
}

// CLIContext bundles resolved config, logger, and flags for the current
// invocation. Created once in PersistentPreRunE; eliminates redundant
// buildLogger calls and global-flag reads in RunE handlers.
type CLIContext struct {
	Cfg     *config.ResolvedDrive // nil for commands with skipConfigAnnotation
	RawCfg  *config.Config        // nil for commands with skipConfigAnnotation
	Logger  *slog.Logger
	CfgPath string
	Env     config.EnvOverrides
	Flags   CLIFlags
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
// Returns nil if no CLIContext was attached.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable message.
// Use in RunE handlers for commands that require config (no skipConfigAnnotation).
// Panics are always programmer errors — the command tree should guarantee the
// context is populated by PersistentPreRunE before RunE executes.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation) or " +
			"explicitly loads config in its RunE")
	}

	return cc
}

// httpClientTimeout is the default timeout for HTTP requests.
// Prevents hung connections from blocking CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// transferHTTPClient returns an HTTP client with no timeout for
// upload/download operations. Large file transfers on slow connections
// can exceed the 30-second default (e.g., 10MB chunks at 100KB/s = 100s).
// Transfers are bounded by context cancellation instead.
func transferHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}

// newGraphClient creates a graph.Client with the standard HTTP client,
// user-agent, and base URL. Eliminates boilerplate repeated across commands.
func newGraphClient(ts graph.TokenSource, logger *slog.Logger) *graph.Client {
	return graph.NewClient(graph.DefaultBaseURL, defaultHTTPClient(), ts, logger, "cloudsync/"+version)
}

// newTransferGraphClient creates a graph.Client without a timeout for
// upload/download operations. Metadata operations (ls, rm, mkdir, stat,
// Drives(), Me()) should use newGraphClient with the 30-second timeout.
func newTransferGraphClient(ts graph.TokenSource, logger *slog.Logger) *graph.Client {
	return graph.NewClient(graph.DefaultBaseURL, transferHTTPClient(), ts, logger, "cloudsync/"+version)
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cloudsync",
		Short:   "Cloud file synchronization CLI",
		Long:    "A fast, safe multi-provider file sync client for Linux and macOS.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE always builds the CLIContext (Phase 1: flags, logger,
		// config path, env). Commands annotated with skipConfigAnnotation handle
		// drive resolution themselves and skip Phase 2 (full config load/resolve).
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return runPersistentPreRun(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAccount, "account", "", "account for auth commands (e.g., user@example.com)")
	cmd.PersistentFlags().StringVar(&flagDrive, "drive", "", "drive selector (canonical ID, alias, or partial match)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (HTTP requests, config resolution)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newDriveCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// runPersistentPreRun implements the two-phase config setup. Phase 1 always
// populates Logger/CfgPath/Env/Flags, even for commands that skip full
// resolution. Phase 2 additionally resolves and attaches Cfg/RawCfg, and is
// skipped for commands annotated with skipConfigAnnotation (auth commands,
// drive management, status/pause/resume, and sync, which resolves its own
// set of drives for multi-drive operation).
func runPersistentPreRun(cmd *cobra.Command) error {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		Account:    flagAccount,
		Drive:      flagDrive,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
	}

	// Phase 1: bootstrap logger (no config-file log level yet) and env overrides.
	logger := buildLogger(nil, flags)
	env := config.ReadEnvOverrides(logger)

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	if cmd.Flags().Changed("drive") {
		cli.Drive = flags.Drive
	}

	cfgPath := config.ResolveConfigPath(env, cli, logger)

	cc := &CLIContext{
		Logger:  logger,
		CfgPath: cfgPath,
		Env:     env,
		Flags:   flags,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}

	// Phase 2: full four-layer resolution for commands operating on one drive.
	resolved, rawCfg, err := loadAndResolve(cmd, flags, env, logger)
	if err != nil {
		return err
	}

	finalLogger := buildLogger(resolved, flags)
	cc.Cfg = resolved
	cc.RawCfg = rawCfg
	cc.Logger = finalLogger

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	config.WarnUnimplemented(resolved, finalLogger)

	return nil
}

// loadAndResolve resolves a single drive's configuration using the four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// Errors are wrapped to always surface a "loading config" prefix, so callers
// can distinguish config problems from downstream command errors.
func loadAndResolve(
	cmd *cobra.Command, flags CLIFlags, env config.EnvOverrides, logger *slog.Logger,
) (*config.ResolvedDrive, *config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	if cmd.Flags().Changed("drive") {
		cli.Drive = flags.Drive
	}

	resolved, rawCfg, err := config.ResolveDrive(env, cli, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger.Debug("config resolved",
		slog.String("canonical_id", resolved.CanonicalID.String()),
		slog.String("sync_dir", resolved.SyncDir),
		slog.String("drive_id", resolved.DriveID.String()),
	)

	return resolved, rawCfg, nil
}

// resolveLoginConfigPath determines the config file path for commands that
// skip full drive resolution (status, pause, resume) but still need to read
// or write the config file directly, honoring the same CLI > env > default
// precedence as the rest of the application.
func resolveLoginConfigPath(flagPath string) string {
	logger := buildLogger(nil, CLIFlags{})
	env := config.ReadEnvOverrides(logger)
	cli := config.CLIOverrides{ConfigPath: flagPath}

	return config.ResolveConfigPath(env, cli, logger)
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Pass nil for pre-config bootstrap (no config-file log level).
// Config-file log level provides the baseline; --verbose, --debug, and --quiet
// override it because CLI flags always win. The flags are mutually exclusive
// (enforced by Cobra).
func buildLogger(cfg *config.ResolvedDrive, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	// Config-based log level (lower priority than CLI flags).
	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config (highest priority).
	if flags.Verbose {
		level = slog.LevelInfo
	}

	if flags.Debug {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
