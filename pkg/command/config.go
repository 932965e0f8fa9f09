package command

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/runtrail/internal/report"
	"github.com/psantana5/runtrail/pkg/logqueue"
	"github.com/psantana5/runtrail/pkg/runid"
)

const tracerName = "github.com/psantana5/runtrail/pkg/command"

// LogMethods is the leveled sink a command forwards every record to.
// *logging.Logger satisfies it.
type LogMethods interface {
	Debug(message string, fields ...map[string]interface{})
	Info(message string, fields ...map[string]interface{})
	Warn(message string, fields ...map[string]interface{})
	Error(message string, fields ...map[string]interface{})
}

// Config is fixed when a command is defined and never mutated afterwards.
type Config struct {
	Name    string     // path segment
	Purpose string     // descriptive only
	Stage   string     // path segment, e.g. an environment name
	Log     LogMethods // console/telemetry sink
	Dir     string     // base directory; runs land in <Dir>/__tmp__/<Stage>/<Name>

	Digest       runid.Digest // default sha256
	UniqueSuffix bool         // disambiguate same-second identical-input runs

	Queue    *logqueue.Queue    // default logqueue.Default()
	Tracer   trace.Tracer       // default the global otel tracer
	Metrics  *report.Metrics    // default report.Global()
	Failures *report.FailureLog // default report.GlobalFailures()
	Clock    func() time.Time   // default time.Now

	// OnResult, when set, receives every finished run's result.
	OnResult func(*report.Result)
}

func (c Config) validate() error {
	var problems []string
	if c.Name == "" {
		problems = append(problems, "name is required")
	} else if !isSegment(c.Name) {
		problems = append(problems, fmt.Sprintf("name %q is not a single path segment", c.Name))
	}
	if c.Stage == "" {
		problems = append(problems, "stage is required")
	} else if !isSegment(c.Stage) {
		problems = append(problems, fmt.Sprintf("stage %q is not a single path segment", c.Stage))
	}
	if c.Dir == "" {
		problems = append(problems, "dir is required")
	}
	if c.Log == nil {
		problems = append(problems, "log sink is required")
	}
	if len(problems) == 0 {
		return nil
	}
	return &Error{
		Kind: KindPrecondition,
		Op:   "validate config",
		Err:  fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; ")),
	}
}

func isSegment(s string) bool {
	return s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (c Config) runidOptions() runid.Options {
	return runid.Options{
		BaseDir:      c.Dir,
		Stage:        c.Stage,
		Name:         c.Name,
		Digest:       c.Digest,
		UniqueSuffix: c.UniqueSuffix,
	}
}

func (c Config) queue() *logqueue.Queue {
	if c.Queue != nil {
		return c.Queue
	}
	return logqueue.Default()
}

func (c Config) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer(tracerName)
}

func (c Config) metrics() *report.Metrics {
	if c.Metrics != nil {
		return c.Metrics
	}
	return report.Global()
}

func (c Config) failures() *report.FailureLog {
	if c.Failures != nil {
		return c.Failures
	}
	return report.GlobalFailures()
}

func (c Config) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}
