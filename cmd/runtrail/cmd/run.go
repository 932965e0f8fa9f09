package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/runtrail/pkg/runid"
)

var (
	runInput       string
	runInputFile   string
	runDumpMetrics bool
)

var runCmd = &cobra.Command{
	Use:   "run <command>",
	Short: "Run a catalog command and record its trail",
	Long: `Run a built-in command. Input is JSON given with --input, or a JSON or YAML
file given with --input-file. The run log and output files land under
<base_dir>/__tmp__/<stage>/<command>.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "command input as JSON")
	runCmd.Flags().StringVarP(&runInputFile, "input-file", "f", "", "read input from a JSON or YAML file")
	runCmd.Flags().BoolVar(&runDumpMetrics, "metrics", false, "print run metrics in Prometheus text format afterwards")
}

type runSummary struct {
	Command  string      `json:"command"`
	Stage    string      `json:"stage"`
	Dir      string      `json:"dir"`
	Outcome  string      `json:"outcome"`
	Duration string      `json:"duration"`
	Output   interface{} `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
	State    string      `json:"final_state,omitempty"`
	Trail    string      `json:"trail,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	name := args[0]

	raw, err := readRunInput(runInput, runInputFile)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(ctx)
	}()

	if _, ok := a.catalog.Get(name); !ok {
		return fmt.Errorf("unknown command %q (see 'runtrail list')", name)
	}

	stage := a.cfg.StageFor(name)
	summary := runSummary{
		Command: name,
		Stage:   stage,
		Dir:     runid.Directory(a.cfg.BaseDir, stage, name),
		Outcome: "succeeded",
	}

	start := time.Now()
	output, runErr := a.catalog.Invoke(cmd.Context(), name, raw)
	summary.Duration = time.Since(start).Round(time.Millisecond).String()
	if runErr != nil {
		summary.Outcome = "failed"
		summary.Error = runErr.Error()
	} else {
		summary.Output = output
	}
	if res := a.lastResult(); res != nil {
		summary.State = res.FinalState
		summary.Trail = res.Summary()
	}

	if err := printRunSummary(summary); err != nil {
		return err
	}

	if runDumpMetrics {
		fmt.Println()
		if err := a.metrics.WriteText(os.Stdout); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	return runErr
}

// readRunInput returns the command input as JSON bytes.
func readRunInput(inline, file string) ([]byte, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
	}
	if inline != "" {
		if !json.Valid([]byte(inline)) {
			return nil, fmt.Errorf("--input is not valid JSON")
		}
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to parse YAML input: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("YAML input cannot be represented as JSON: %w", err)
		}
		return out, nil
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("input file %s is not valid JSON", file)
		}
		return data, nil
	}
}

func printRunSummary(s runSummary) error {
	if IsJSONOutput() {
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Command", s.Command)
	table.Append("Stage", s.Stage)
	table.Append("Directory", s.Dir)
	table.Append("Outcome", s.Outcome)
	table.Append("Duration", s.Duration)
	if s.State != "" {
		table.Append("Final state", s.State)
	}
	if s.Error != "" {
		table.Append("Error", s.Error)
	} else {
		table.Append("Output", compactJSON(s.Output))
	}
	if err := table.Render(); err != nil {
		return err
	}
	if s.Trail != "" {
		fmt.Println(s.Trail)
	}
	return nil
}

func compactJSON(v interface{}) string {
	if str, ok := v.(string); ok {
		return str
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
