package report

import "sync"

// FailureSample is a trimmed view of a failed run, enough to find its directory.
type FailureSample struct {
	Command   string  `json:"command"`
	Stage     string  `json:"stage"`
	RunPrefix string  `json:"run_prefix"`
	Outcome   string  `json:"outcome"`
	Error     string  `json:"error"`
	Duration  float64 `json:"duration_seconds"`
}

// FailureLog keeps the last N failed runs of this process (ring buffer).
type FailureLog struct {
	samples []FailureSample
	maxSize int
	mu      sync.RWMutex
}

var globalFailureLog = NewFailureLog(50)

// NewFailureLog creates a failure log with fixed size
func NewFailureLog(maxSize int) *FailureLog {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &FailureLog{
		samples: make([]FailureSample, 0, maxSize),
		maxSize: maxSize,
	}
}

// GlobalFailures returns the process-wide failure log
func GlobalFailures() *FailureLog {
	return globalFailureLog
}

// Record adds a failed result. Successful results are ignored.
func (f *FailureLog) Record(r *Result) {
	if !r.Failed() {
		return
	}

	sample := FailureSample{
		Command:   r.Command,
		Stage:     r.Stage,
		RunPrefix: r.RunPrefix,
		Outcome:   r.Outcome,
		Error:     r.Error,
		Duration:  r.Duration.Seconds(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.samples) >= f.maxSize {
		f.samples = f.samples[1:]
	}
	f.samples = append(f.samples, sample)
}

// GetRecent returns up to n recent failures, newest first
func (f *FailureLog) GetRecent(n int) []FailureSample {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || n > len(f.samples) {
		n = len(f.samples)
	}

	out := make([]FailureSample, n)
	for i := 0; i < n; i++ {
		out[i] = f.samples[len(f.samples)-1-i]
	}
	return out
}

// Count returns the number of failures currently held
func (f *FailureLog) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.samples)
}
