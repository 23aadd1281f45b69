package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/moolen/kubeaudit/internal/config"
	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var (
	logLevelFlags []string // Supports multiple --log-level flags
	logJSON       bool
	configPath    string

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kubeaudit",
	Short: "kubeaudit - deterministic Kubernetes cluster audits",
	Long: `kubeaudit audits a point-in-time snapshot of a Kubernetes cluster and
reports ranked reliability, security, cost and architecture findings
together with a monthly cost projection and a risk score.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded

		flags := logLevelFlags
		if !cmd.Flags().Changed("log-level") {
			flags = []string{cfg.LogLevel}
		}
		return setupLog(flags, cfg.LogFile)
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	_ = logging.Sync()
	return err
}

func init() {
	// Global flags available to all subcommands
	// Supports per-package log levels: --log-level debug --log-level rules=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level snapshot.collector=debug --log-level rules=warn")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write log lines as JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML configuration file (KUBEAUDIT_* environment variables override it)")

	// Add subcommands
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLog initializes the logging system with parsed log level flags
// Supports per-package log levels and environment variables
// Priority: CLI flags > Environment variables > config file > Initialize default
func setupLog(flags []string, logFile string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}

	var opts []logging.Option
	if logJSON {
		opts = append(opts, logging.WithJSON())
	}
	if logFile != "" {
		opts = append(opts, logging.WithFile(logging.FileOptions{
			Path:       logFile,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		}))
	}
	logging.Configure(opts...)

	// Initialize logging with default level and package-specific overrides
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags parses CLI flags and environment variables
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "rules=debug"], or ["info"]
// Env vars: LOG_LEVEL_SNAPSHOT_COLLECTOR=debug (package name uppercased, dots to underscores)
//
// Returns: (defaultLevel, packageLevels map, error)
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	// Step 1: environment variables (lower priority)
	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		result[convertEnvKeyToPackageName(parts[0])] = parts[1]
	}

	// Step 2: CLI flags override env vars
	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	// Step 3: extract the default level (special key "default")
	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if err := logging.ValidateLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := logging.ValidateLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}

	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_SNAPSHOT_COLLECTOR -> snapshot.collector
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}
