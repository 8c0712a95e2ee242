// Package cmd provides the command-line interface for QueTadoru.
// It handles command parsing, configuration loading, and crawl execution.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/quetadoru/internal/config"
	"github.com/masahif/quetadoru/internal/crawler"
	"github.com/masahif/quetadoru/internal/logging"
	"github.com/masahif/quetadoru/internal/queue"
	"github.com/masahif/quetadoru/internal/storage"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quetadoru [URLs...]",
	Short: "A persistent, deduplicated request queue with a built-in crawler",
	Long: `QueTadoru maintains a persistent crawl queue that deduplicates URLs,
survives restarts, and can be shared safely by concurrent workers.

Seed URLs given on the command line are added to the queue; without
arguments an existing queue is resumed.`,
	Args: cobra.ArbitraryArgs,
	RunE: runCrawl,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./quetadoru.yml)")

	// Configuration management flags
	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Queue storage flags
	rootCmd.Flags().StringP("storage", "s", config.StorageSQLite, "Queue storage backend: memory, filesystem, sqlite or remote")
	rootCmd.Flags().StringP("queue-name", "q", "default", "Name of the queue to open")
	rootCmd.Flags().String("data-dir", "./storage", "Root directory for filesystem storage")
	rootCmd.Flags().StringP("database", "d", "./queue.db", "Path to SQLite database file")
	rootCmd.Flags().String("api-base-url", "", "Base URL of the remote queue API")
	rootCmd.Flags().String("api-token", "", "Bearer token for the remote queue API")

	// Crawling flags
	rootCmd.Flags().IntP("concurrency", "c", 2, "Number of concurrent workers")
	rootCmd.Flags().DurationP("delay", "r", 100*time.Millisecond, "Minimum delay between requests per host")
	rootCmd.Flags().DurationP("timeout", "t", 30*time.Second, "HTTP request timeout")
	rootCmd.Flags().StringP("user-agent", "u", "QueTadoru/1.0", "HTTP User-Agent header")
	rootCmd.Flags().Int("max-retries", 3, "Retries before a failing request is given up")
	rootCmd.Flags().IntP("limit", "l", 0, "Stop after N handled requests (0=unlimited)")

	// URL filtering flags
	rootCmd.Flags().StringSlice("include-patterns", []string{}, "Regex patterns for URLs to include")
	rootCmd.Flags().StringSlice("exclude-patterns", []string{}, "Regex patterns for URLs to exclude")

	// Logging flags
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().String("log-file", "", "Log file path (default stderr only)")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"storage", "storage"},
		{"queue_name", "queue-name"},
		{"data_dir", "data-dir"},
		{"database_path", "database"},
		{"api_base_url", "api-base-url"},
		{"api_token", "api-token"},
		{"concurrency", "concurrency"},
		{"request_delay", "delay"},
		{"request_timeout", "timeout"},
		{"user_agent", "user-agent"},
		{"max_retries", "max-retries"},
		{"limit", "limit"},
		{"include_patterns", "include-patterns"},
		{"exclude_patterns", "exclude-patterns"},
		{"log_level", "log-level"},
		{"log_file", "log-file"},
	}

	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.Flags().Lookup(bind.flagName)); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("quetadoru")
	}

	viper.AutomaticEnv() // read in environment variables that match
	viper.SetEnvPrefix("QT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("QueTadoru/%s", version)
	}
	return "QueTadoru/dev"
}

func showCurrentConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Validate configuration before showing it
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Printf("# Current QueTadoru Configuration\n")
	fmt.Printf("# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("# Configuration file search paths: ./quetadoru.yml\n")
	fmt.Printf("# Environment variables prefix: QT_\n\n")

	fmt.Print(string(yamlData))

	fmt.Printf("\n# Configuration source priority:\n")
	fmt.Printf("# 1. Command-line arguments (highest priority)\n")
	fmt.Printf("# 2. Environment variables (QT_ prefix)\n")
	fmt.Printf("# 3. Configuration file (quetadoru.yml)\n")
	fmt.Printf("# 4. Default values (lowest priority)\n")

	return nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	// Handle --show-config flag first
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg := config.DefaultConfig()

	// Set seed URLs from command line arguments
	cfg.SeedURLs = args

	// Override with viper values
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Update User-Agent with dynamic version if not explicitly set
	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == "QueTadoru/1.0" {
		cfg.UserAgent = generateUserAgent()
	}

	// Handle --show-config: display current configuration and exit
	if showConfig {
		return showCurrentConfig(cfg)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:      logging.ParseLevel(cfg.LogLevel),
		FilePath:   cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		Console:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to open queue storage: %w", err)
	}
	defer func() { _ = backend.Close() }()

	rq := queue.Open(backend, queue.Options{Logger: logger})

	// Without seeds a run only makes sense when the queue holds work.
	if len(cfg.SeedURLs) == 0 {
		finished, err := rq.IsFinished(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to check queue state: %w", err)
		}
		if finished {
			fmt.Printf("No URLs provided and queue %q is empty. Nothing to crawl.\n", cfg.QueueName)
			return nil
		}
		fmt.Printf("Resuming crawl from existing queue %q\n", cfg.QueueName)
	}

	logger.Info("starting crawl",
		"queue", cfg.QueueName,
		"storage", cfg.Storage,
		"seed_urls", len(cfg.SeedURLs),
		"concurrency", cfg.Concurrency,
		"limit", cfg.Limit)

	c, err := crawler.NewCrawler(cfg, rq, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize crawler: %w", err)
	}
	defer func() { _ = c.Stop() }()

	return c.Run(cmd.Context(), cfg.SeedURLs)
}

// buildBackend opens the persistence backend named in the configuration.
func buildBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemoryBackend(), nil

	case config.StorageFilesystem:
		return storage.NewFilesystemBackend(filepath.Join(cfg.DataDir, "request_queues", cfg.QueueName))

	case config.StorageSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return storage.NewSQLiteBackend(cfg.DatabasePath)

	case config.StorageRemote:
		return storage.NewRemoteBackend(cfg.APIBaseURL, cfg.QueueName, cfg.APIToken, storage.RemoteOptions{
			Timeout: cfg.RequestTimeout,
		})

	default:
		return nil, config.ErrInvalidStorage
	}
}
