package report

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordResult(t *testing.T) {
	m := NewMetrics()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m.IncrStarted("double")
	m.IncrStarted("double")
	m.RecordResult(NewResult("double", "test", "p1", start, start.Add(time.Second), OutcomeSucceeded, nil))
	m.RecordResult(NewResult("double", "test", "p2", start, start.Add(time.Second), OutcomeFailed, errors.New("boom")))

	if got := testutil.ToFloat64(m.RunsStarted.WithLabelValues("double")); got != 2 {
		t.Errorf("runs started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RunsCompleted.WithLabelValues("double", OutcomeSucceeded)); got != 1 {
		t.Errorf("succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsCompleted.WithLabelValues("double", OutcomeFailed)); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestResultSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewResult("greet", "prod", "20260102.030405.abc", start, start.Add(1500*time.Millisecond), OutcomeFailed, errors.New("nope"))

	s := r.Summary()
	for _, want := range []string{"prod/greet", "20260102.030405.abc", "outcome=failed", "runtime=1.5s", `error="nope"`} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary() = %q, missing %q", s, want)
		}
	}
	if !r.Failed() {
		t.Error("failed result should report Failed()")
	}
}

func TestResultSummaryState(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewResult("greet", "prod", "p", start, start, OutcomeSucceeded, nil)
	if strings.Contains(r.Summary(), "state=") {
		t.Errorf("Summary() = %q, want no state before one is recorded", r.Summary())
	}

	r.FinalState = "returned"
	if want := "outcome=succeeded | runtime=0s | state=returned"; !strings.HasSuffix(r.Summary(), want) {
		t.Errorf("Summary() = %q, want suffix %q", r.Summary(), want)
	}
}

func TestFailureLogRing(t *testing.T) {
	f := NewFailureLog(2)
	start := time.Now()

	f.Record(NewResult("a", "s", "ok", start, start, OutcomeSucceeded, nil))
	if f.Count() != 0 {
		t.Fatalf("successful runs must not be recorded, count = %d", f.Count())
	}

	for _, p := range []string{"p1", "p2", "p3"} {
		f.Record(NewResult("a", "s", p, start, start, OutcomeFailed, errors.New(p)))
	}

	recent := f.GetRecent(10)
	if len(recent) != 2 {
		t.Fatalf("GetRecent len = %d, want 2", len(recent))
	}
	if recent[0].RunPrefix != "p3" || recent[1].RunPrefix != "p2" {
		t.Errorf("GetRecent order = %s,%s, want p3,p2", recent[0].RunPrefix, recent[1].RunPrefix)
	}
}

func TestExport(t *testing.T) {
	m := NewMetrics()
	m.IncrStarted("echo")

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.Contains(buf.String(), `runtrail_runs_started_total{command="echo"} 1`) {
		t.Errorf("text export missing started counter:\n%s", buf.String())
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("handler status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "runtrail_runs_started_total") {
		t.Error("handler output missing started counter")
	}
}
