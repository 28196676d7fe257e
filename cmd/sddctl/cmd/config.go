package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/sdd-inspector/internal/hardware"
	"github.com/psantana5/sdd-inspector/pkg/resources"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and check the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (defaults, file, env)",
	Long: `Print the configuration after defaults, the config file, the .env file
and SDD_* environment overrides are applied. YAML unless --output json.
Secrets are omitted.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the group table, model files and GPU indices",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cfg)
	}

	shown := *cfg
	shown.API.APIKey = ""
	shown.API.APIKeyHash = ""
	shown.Store.DSN = ""
	out, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to format config: %w", err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("# config file: %s\n", used)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("Camera groups: %d (%d cameras)\n", len(cfg.CameraGroups), len(cfg.CameraGroups.Cameras()))

	problems := 0
	if err := cfg.CheckModels(); err != nil {
		fmt.Printf("✗ %v\n", err)
		problems++
	} else {
		fmt.Println("✓ Model files present")
	}

	gpus := resources.NewManager()
	if n, err := hardware.NewDetector().Register(context.Background(), gpus); err != nil {
		fmt.Printf("- GPU indices not checked: %v\n", err)
	} else if err := gpus.Validate(cfg.CameraGroups); err != nil {
		fmt.Printf("✗ %v\n", err)
		problems++
	} else {
		fmt.Printf("✓ GPU indices valid (%d devices)\n", n)
	}

	if problems > 0 {
		return fmt.Errorf("%d configuration problem(s)", problems)
	}
	return nil
}
