package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/sdd-inspector/internal/config"
	"github.com/psantana5/sdd-inspector/pkg/logging"
)

var (
	cfgFile      string
	envFile      string
	outputFormat string
	logLevel     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sddctl",
	Short: "Steel beam surface defect inspector",
	Long: `sddctl runs the surface defect inspection pipeline: it listens for line
signals, reconstructs every camera image with the group's autoencoder, scores
the difference and classifies each image as normal or defect.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sdd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before SDD_* overrides (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := config.BindEnv(v, envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading env file: %v\n", err)
		os.Exit(1)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".sdd"))
		}
		v.AddConfigPath("/etc/sdd")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
	if logLevel != "" {
		v.Set("log.level", logLevel)
	}
}

// loadConfig decodes the effective configuration
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// newLogger builds the console logger for a command. With log.file set it
// also writes /var/log/sdd/server/<component>.log.
func newLogger(cfg *config.Config, component string) *logging.Logger {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.File {
		logger, err := logging.NewFileLoggerWithConsole("server", component, level, cfg.Log.JSON, os.Stdout)
		if err == nil {
			return logger
		}
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %v\n", err)
	}
	return logging.NewLogger(level, cfg.Log.JSON).WithField("component", component)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
