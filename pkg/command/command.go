// Package command turns a unit of work into an observable, reproducible run.
//
// Wrap returns a Command that, on every call:
//   - resolves a run identity (<timestamp>.<inputHash>) and run directory,
//   - opens a JSON-framed log file and records the input,
//   - invokes the logic with a Control surface (logger + output writer),
//   - records and persists the result, or records the failure,
//   - always closes the log framing before handing the original result or
//     error back to the caller.
//
// On-disk layout:
//
//	<dir>/__tmp__/<stage>/<name>/<prefix>.log.json
//	<dir>/__tmp__/<stage>/<name>/<prefix>.out.json
//	<dir>/__tmp__/<stage>/<name>/<prefix>.out.<customName>
//
// The log file is "[\n" followed by pretty records each ending in ",\n",
// then "]\n". The trailing comma makes it an observability trace rather than
// a strictly parseable JSON document.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/runtrail/internal/observe"
	"github.com/psantana5/runtrail/internal/report"
	"github.com/psantana5/runtrail/pkg/runid"
	"github.com/psantana5/runtrail/pkg/tracing"
)

// Logic is the caller-supplied work.
type Logic[I, O any] func(ctx context.Context, input I, control Control) (O, error)

// Command is a wrapped Logic. It returns exactly what the logic returned,
// or the original error (or panic value) the logic raised.
type Command[I, O any] func(ctx context.Context, input I) (O, error)

// Wrap converts logic into a Command configured by cfg.
func Wrap[I, O any](cfg Config, logic Logic[I, O]) Command[I, O] {
	return func(ctx context.Context, input I) (output O, err error) {
		metrics := cfg.metrics()

		if err := cfg.validate(); err != nil {
			return output, err
		}

		clock := cfg.clock()
		id, err := runid.Resolve(cfg.runidOptions(), input, clock())
		if err != nil {
			metrics.RunsCompleted.WithLabelValues(cfg.Name, report.OutcomeRejected).Inc()
			return output, &Error{Kind: KindPrecondition, Op: "resolve run identity", Err: err}
		}

		ctx, span := cfg.tracer().Start(ctx, "command."+cfg.Name, trace.WithAttributes(
			attribute.String("runtrail.command", cfg.Name),
			attribute.String("runtrail.stage", cfg.Stage),
			attribute.String("runtrail.run_prefix", id.FilePrefix),
			attribute.String("runtrail.input_hash", id.InputHash),
		))

		r := &run{
			cfg:     cfg,
			id:      id,
			life:    observe.NewLifecycle(clock),
			metrics: metrics,
		}
		r.log = &runLogger{
			// Log appends are never abandoned by a cancelled caller.
			ctx:     context.WithoutCancel(ctx),
			sink:    cfg.Log,
			queue:   cfg.queue(),
			path:    id.LogPath(),
			clock:   clock,
			metrics: metrics,
		}
		r.out = &outWriter{id: id, command: cfg.Name, metrics: metrics}

		metrics.IncrStarted(cfg.Name)
		panicked := true
		defer func() {
			outcome := report.OutcomeSucceeded
			switch {
			case panicked:
				outcome = report.OutcomePanicked
			case err != nil:
				outcome = report.OutcomeFailed
			}
			reported := err
			if err != nil && !wellFormed(err) {
				reported = fmt.Errorf("logic returned a nil %T as its error", err)
			}

			res := report.NewResult(cfg.Name, cfg.Stage, id.FilePrefix, r.life.StartedAt, clock(), outcome, reported)
			res.FinalState = string(r.life.State())
			res.States = r.states()
			metrics.RecordResult(res)
			cfg.failures().Record(res)
			if cfg.OnResult != nil {
				cfg.OnResult(res)
			}

			span.SetAttributes(
				attribute.String("runtrail.final_state", res.FinalState),
				attribute.StringSlice("runtrail.states", res.States),
			)
			if r.lifeErr != nil {
				span.SetAttributes(attribute.String("runtrail.lifecycle_error", r.lifeErr.Error()))
			}
			if reported != nil {
				tracing.SetError(ctx, reported)
			}
			span.End()
		}()

		output, err = execute(ctx, r, input, logic)
		panicked = false
		return output, err
	}
}

type run struct {
	cfg     Config
	id      runid.Identity
	life    *observe.Lifecycle
	lifeErr error // first rejected transition, reported on the span
	log     *runLogger
	out     *outWriter
	metrics *report.Metrics
}

// advance moves the run lifecycle. A rejected move is kept for the span and
// the result; it never changes what the caller gets back.
func (r *run) advance(s observe.RunState) {
	if err := r.life.Advance(s); err != nil && r.lifeErr == nil {
		r.lifeErr = err
	}
}

// states lists every state the run entered, in order.
func (r *run) states() []string {
	history := r.life.History()
	out := make([]string, 0, len(history))
	for _, t := range history {
		out = append(out, string(t.To))
	}
	return out
}

func (r *run) control() Control {
	return Control{Log: r.log, Out: r.out, Run: r.id}
}

func execute[I, O any](ctx context.Context, r *run, input I, logic Logic[I, O]) (output O, err error) {
	var zero O
	logPath := r.id.LogPath()

	if err := os.MkdirAll(r.id.Directory, 0755); err != nil {
		r.advance(observe.StateRethrown)
		return zero, &Error{Kind: KindIO, Op: "create run directory", Path: r.id.Directory, Err: err}
	}
	r.advance(observe.StateDirectoryEnsured)

	// Framing is a direct append, not a log record.
	if err := appendFile(logPath, []byte("[\n")); err != nil {
		r.advance(observe.StateRethrown)
		return zero, &Error{Kind: KindIO, Op: "open log", Path: logPath, Err: err}
	}
	r.advance(observe.StateLogOpened)

	finished := false
	defer func() {
		closeErr := appendFile(logPath, []byte("]\n"))
		r.advance(observe.StateLogClosed)
		if finished && err == nil && closeErr != nil {
			output = zero
			err = &Error{Kind: KindIO, Op: "close log", Path: logPath, Err: closeErr}
		}
		if finished && err == nil {
			r.advance(observe.StateReturned)
		} else {
			r.advance(observe.StateRethrown)
		}
	}()

	// Runs before the framing defer above, so the failure record lands
	// inside the brackets. Only error-shaped panic values are recorded.
	defer func() {
		if rec := recover(); rec != nil {
			r.advance(observe.StateLogicFailed)
			if e, ok := rec.(error); ok && wellFormed(e) {
				r.recordFailure(ctx, e)
				tracing.SetError(ctx, e)
			}
			panic(rec)
		}
	}()

	if err := r.log.Info("input", map[string]interface{}{"input": input}); err != nil {
		r.advance(observe.StateLogicFailed)
		finished = true
		return zero, err
	}

	r.advance(observe.StateLogicRunning)
	output, err = logic(ctx, input, r.control())
	if err != nil {
		r.advance(observe.StateLogicFailed)
		if wellFormed(err) {
			r.recordFailure(ctx, err)
		}
		finished = true
		return output, err
	}
	r.advance(observe.StateLogicSucceeded)

	if err := r.persist(ctx, output); err != nil {
		r.advance(observe.StateLogicFailed)
		r.recordFailure(ctx, err)
		finished = true
		return zero, err
	}

	finished = true
	return output, nil
}

// persist records the result, writes the primary output file and points the
// operator at both files.
func (r *run) persist(ctx context.Context, output interface{}) error {
	if err := r.log.Info("output.result", map[string]interface{}{"output": output}); err != nil {
		return err
	}
	tracing.AddEvent(ctx, "output.result")

	data, err := renderOutput(output)
	if err != nil {
		return &Error{Kind: KindSerialization, Op: "encode output", Path: r.id.OutPath(), Err: err}
	}
	if err := os.WriteFile(r.id.OutPath(), data, 0644); err != nil {
		return &Error{Kind: KindIO, Op: "write output", Path: r.id.OutPath(), Err: err}
	}

	return r.log.Info("output.files", map[string]interface{}{
		"log": r.id.LogPath(),
		"out": r.id.OutPath(),
	})
}

// recordFailure logs err under "output.error". A failure to log is dropped:
// the caller must see the original error, not ours.
func (r *run) recordFailure(ctx context.Context, err error) {
	tracing.AddEvent(ctx, "output.error", attribute.String("error.message", err.Error()))
	_ = r.log.Error("output.error", map[string]interface{}{"error": errorFields(err)})
}

// wellFormed reports whether err can describe itself. A typed nil behind a
// non-nil error interface cannot: its Error method may dereference nil.
func wellFormed(err error) bool {
	if err == nil {
		return false
	}
	v := reflect.ValueOf(err)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return !v.IsNil()
	}
	return true
}

// errorFields returns the exported JSON fields of err plus its message.
func errorFields(err error) map[string]interface{} {
	fields := map[string]interface{}{}
	if data, mErr := json.Marshal(err); mErr == nil {
		var decoded map[string]interface{}
		if json.Unmarshal(data, &decoded) == nil && decoded != nil {
			fields = decoded
		}
	}
	fields["message"] = err.Error()
	return fields
}

// renderOutput writes strings verbatim and everything else as pretty JSON.
// A nil result, or one that encodes to nothing, becomes "undefined".
func renderOutput(output interface{}) ([]byte, error) {
	if output == nil {
		return []byte("undefined"), nil
	}
	if v := reflect.ValueOf(output); v.Kind() == reflect.String {
		return []byte(v.String()), nil
	}

	data, err := marshalPretty(output)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []byte("undefined"), nil
	}
	return data, nil
}
