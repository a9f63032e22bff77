package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/pipelined/internal/scheduler"
)

// RunRecord is the stored form of a run snapshot. Errors are kept as text.
type RunRecord struct {
	ID         string         `json:"id"`
	Pipeline   string         `json:"pipeline"`
	Status     string         `json:"status"`
	Progress   float64        `json:"progress"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Modules    []ModuleRecord `json:"modules,omitempty"`
}

// Duration is the wall time of the run, or zero while unfinished.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ModuleRecord is the stored outcome of one module.
type ModuleRecord struct {
	Module                string            `json:"module"`
	Phase                 string            `json:"phase"`
	Critical              bool              `json:"critical,omitempty"`
	State                 string            `json:"state"`
	Source                string            `json:"source"`
	UsedFallback          string            `json:"used_fallback,omitempty"`
	AttemptsBeforeSuccess int               `json:"attempts_before_success,omitempty"`
	FallbackFailures      []CandidateRecord `json:"fallback_failures,omitempty"`
	Result                json.RawMessage   `json:"result,omitempty"`
	Error                 string            `json:"error,omitempty"`
	StartedAt             time.Time         `json:"started_at"`
	FinishedAt            time.Time         `json:"finished_at"`
	Attempts              []AttemptRecord   `json:"attempts,omitempty"`
}

// CandidateRecord is a failed fallback candidate.
type CandidateRecord struct {
	Candidate string `json:"candidate"`
	Error     string `json:"error"`
}

// AttemptRecord is one primary executor attempt.
type AttemptRecord struct {
	Number    int           `json:"number"`
	Outcome   string        `json:"outcome"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// FromSnapshot flattens a run snapshot into a record.
func FromSnapshot(snap scheduler.RunSnapshot) RunRecord {
	rec := RunRecord{
		ID:         snap.ID,
		Pipeline:   snap.Pipeline,
		Status:     string(snap.Status),
		Progress:   snap.Progress,
		Error:      errText(snap.Err),
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}

	for _, o := range snap.Outcomes() {
		m := ModuleRecord{
			Module:                o.Module,
			Phase:                 o.Phase,
			Critical:              o.Critical,
			State:                 string(o.State),
			Source:                string(o.Source),
			UsedFallback:          o.UsedFallback,
			AttemptsBeforeSuccess: o.AttemptsBeforeSuccess,
			Result:                encodeResult(o.Result),
			Error:                 errText(o.Err),
			StartedAt:             o.StartedAt,
			FinishedAt:            o.FinishedAt,
		}
		for _, f := range o.FallbackFailures {
			m.FallbackFailures = append(m.FallbackFailures, CandidateRecord{
				Candidate: f.CandidateID,
				Error:     errText(f.Err),
			})
		}
		for _, a := range o.Attempts {
			m.Attempts = append(m.Attempts, AttemptRecord{
				Number:    a.Number,
				Outcome:   string(a.Outcome),
				StartedAt: a.StartedAt,
				Duration:  a.Duration,
				Error:     errText(a.Err),
			})
		}
		rec.Modules = append(rec.Modules, m)
	}
	return rec
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// encodeResult stores results as JSON, falling back to their printed form
// for values JSON cannot represent.
func encodeResult(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return data
}
