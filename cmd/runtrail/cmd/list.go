package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/runtrail/internal/catalog"
	"github.com/psantana5/runtrail/pkg/command"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in commands",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

type commandListing struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
	Stage   string `json:"stage"`
	Example string `json:"example"`
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	// Nothing is invoked, so the commands only need their names.
	cat := catalog.New(func(name, purpose string) command.Config {
		return command.Config{Name: name, Purpose: purpose}
	})

	var listings []commandListing
	for _, e := range cat.Entries() {
		listings = append(listings, commandListing{
			Name:    e.Name,
			Purpose: e.Purpose,
			Stage:   cfg.StageFor(e.Name),
			Example: e.Example,
		})
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(listings, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Purpose", "Stage", "Example input")
	for _, l := range listings {
		table.Append(l.Name, l.Purpose, l.Stage, l.Example)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("\nTotal commands: %d\n", len(listings))
	return nil
}
