package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/runtrail/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect runtrail configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long:  `Prints the configuration after merging the config file, RUNTRAIL_* environment variables and flags.`,
	RunE:  runConfigShow,
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an annotated example config file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(config.ExampleConfig)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a config file without running anything",
	Long: `Loads a config file on its own, without environment variables or flags,
and reports the first problem found. With no argument it checks --config, or
the file runtrail would pick up by default.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configExampleCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		return fmt.Errorf("no config file given and none found")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	out, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("# from %s\n", used)
	}
	fmt.Print(string(out))
	return nil
}
