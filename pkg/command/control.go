package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/runtrail/internal/report"
	"github.com/psantana5/runtrail/pkg/logqueue"
	"github.com/psantana5/runtrail/pkg/runid"
)

// Record levels as they appear in the run log.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// recordTimeLayout is ISO-8601 in UTC with milliseconds.
const recordTimeLayout = "2006-01-02T15:04:05.000Z"

// RunLogger is the logger handed to logic. Each call forwards to the sink
// and appends one record to the run log, serialized process-wide. The
// returned error is the append failure, if any.
type RunLogger interface {
	Debug(message string, metadata ...map[string]interface{}) error
	Info(message string, metadata ...map[string]interface{}) error
	Warn(message string, metadata ...map[string]interface{}) error
	Error(message string, metadata ...map[string]interface{}) error
}

// File is an auxiliary output. Name is relative and may contain "/".
type File struct {
	Name string
	Data []byte
}

// Written tells the caller where a File ended up.
type Written struct {
	Path string `json:"path"`
}

// OutWriter writes auxiliary files next to the run log. Writing the same
// name twice overwrites the first write.
type OutWriter interface {
	Write(ctx context.Context, f File) (Written, error)
}

// Control is the surface injected into logic.
type Control struct {
	Log RunLogger
	Out OutWriter
	Run runid.Identity
}

type record struct {
	Level     string      `json:"level"`
	Timestamp string      `json:"timestamp"`
	Message   string      `json:"message"`
	Metadata  interface{} `json:"metadata,omitempty"`
}

type runLogger struct {
	ctx     context.Context
	sink    LogMethods
	queue   *logqueue.Queue
	path    string
	clock   func() time.Time
	metrics *report.Metrics
}

func (l *runLogger) Debug(message string, metadata ...map[string]interface{}) error {
	return l.log(LevelDebug, message, firstMeta(metadata))
}

func (l *runLogger) Info(message string, metadata ...map[string]interface{}) error {
	return l.log(LevelInfo, message, firstMeta(metadata))
}

func (l *runLogger) Warn(message string, metadata ...map[string]interface{}) error {
	return l.log(LevelWarn, message, firstMeta(metadata))
}

func (l *runLogger) Error(message string, metadata ...map[string]interface{}) error {
	return l.log(LevelError, message, firstMeta(metadata))
}

func firstMeta(metadata []map[string]interface{}) map[string]interface{} {
	if len(metadata) > 0 {
		return metadata[0]
	}
	return nil
}

func (l *runLogger) log(level, message string, metadata map[string]interface{}) error {
	err := l.queue.Submit(l.ctx, func() error {
		l.emit(level, message, metadata)

		data, err := encodeRecord(level, l.clock(), message, metadata)
		if err != nil {
			return &Error{Kind: KindSerialization, Op: "encode log record", Path: l.path, Err: err}
		}
		return appendFile(l.path, data)
	})
	if err != nil {
		l.metrics.LogAppendFailures.Inc()
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		return &Error{Kind: KindIO, Op: "append log record", Path: l.path, Err: err}
	}
	l.metrics.LogAppends.WithLabelValues(level).Inc()
	return nil
}

// emit forwards to the sink. A panicking sink is counted and otherwise
// ignored so the record still reaches the run log.
func (l *runLogger) emit(level, message string, metadata map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.SinkFailures.Inc()
		}
	}()

	var fields []map[string]interface{}
	if metadata != nil {
		fields = append(fields, metadata)
	}
	switch level {
	case LevelDebug:
		l.sink.Debug(message, fields...)
	case LevelWarn:
		l.sink.Warn(message, fields...)
	case LevelError:
		l.sink.Error(message, fields...)
	default:
		l.sink.Info(message, fields...)
	}
}

// encodeRecord renders one pretty-printed record followed by ",\n".
func encodeRecord(level string, at time.Time, message string, metadata map[string]interface{}) ([]byte, error) {
	rec := record{
		Level:     level,
		Timestamp: at.UTC().Format(recordTimeLayout),
		Message:   message,
	}
	if metadata != nil {
		rec.Metadata = metadata
	}

	data, err := marshalPretty(rec)
	if err != nil {
		return nil, err
	}
	return append(data, ",\n"...), nil
}

// marshalPretty is json.MarshalIndent with two spaces and no HTML escaping.
func marshalPretty(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type outWriter struct {
	id      runid.Identity
	command string
	metrics *report.Metrics
}

// Write creates missing parent directories and writes f under the run prefix.
func (w *outWriter) Write(ctx context.Context, f File) (Written, error) {
	if err := ctx.Err(); err != nil {
		return Written{}, err
	}

	path, err := w.resolve(f.Name)
	if err != nil {
		return Written{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Written{}, &Error{Kind: KindIO, Op: "create output directory", Path: filepath.Dir(path), Err: err}
	}
	if err := os.WriteFile(path, f.Data, 0644); err != nil {
		return Written{}, &Error{Kind: KindIO, Op: "write output", Path: path, Err: err}
	}

	w.metrics.OutFiles.WithLabelValues(w.command).Inc()
	return Written{Path: path}, nil
}

// resolve maps a relative name onto a path inside the run directory.
func (w *outWriter) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" || filepath.IsAbs(name) {
		return "", &Error{Kind: KindPrecondition, Op: "write output", Err: fmt.Errorf("%w: %q", ErrInvalidOutName, name)}
	}

	// Every artifact stays in this run's "<prefix>.out." namespace, so no name
	// can reach the run log or another run's files.
	path := w.id.ArtifactPath(name)
	namespace := filepath.Join(w.id.Directory, w.id.FilePrefix+".out.")
	if !strings.HasPrefix(path, namespace) {
		return "", &Error{Kind: KindPrecondition, Op: "write output", Path: path, Err: fmt.Errorf("%w: %q leaves the run's output namespace", ErrInvalidOutName, name)}
	}
	return path, nil
}
