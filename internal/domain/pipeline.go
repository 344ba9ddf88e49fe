package domain

import "time"

type Phase string

const (
	PhasePending       Phase = "pending"
	PhaseIntegrating   Phase = "integrating"
	PhaseTagging       Phase = "tagging"
	PhaseFiltering     Phase = "filtering"
	PhaseRecommending  Phase = "recommending"
	PhaseMaterializing Phase = "materializing"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

var phaseOrder = map[Phase]int{
	PhasePending:       0,
	PhaseIntegrating:   1,
	PhaseTagging:       2,
	PhaseFiltering:     3,
	PhaseRecommending:  4,
	PhaseMaterializing: 5,
	PhaseDone:          6,
}

func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// CanAdvanceTo reports whether next is a legal transition from p: forward to
// the immediately following phase, staying in place for progress updates, or
// failing from any non-terminal phase.
func (p Phase) CanAdvanceTo(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed || next == p {
		return true
	}
	from, ok1 := phaseOrder[p]
	to, ok2 := phaseOrder[next]
	return ok1 && ok2 && to == from+1
}

// RunResult summarizes a finished run.
type RunResult struct {
	MatchCount int     `json:"match_count"`
	MatchIDs   []int64 `json:"match_ids"`
}

// PipelineRun is the observable state of one matching run. Values are
// treated as immutable snapshots: every transition produces a new copy.
type PipelineRun struct {
	RequestID   int64      `json:"request_id"`
	RunID       string     `json:"run_id"`
	Phase       Phase      `json:"phase"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Result      *RunResult `json:"result,omitempty"`
	Version     int64      `json:"version"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func NewPipelineRun(requestID int64, runID string, now time.Time) PipelineRun {
	return PipelineRun{
		RequestID: requestID,
		RunID:     runID,
		Phase:     PhasePending,
		Message:   "matching queued",
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Advance returns the next snapshot. Illegal transitions return the receiver
// unchanged and false.
func (r PipelineRun) Advance(next Phase, progress int, message string, now time.Time) (PipelineRun, bool) {
	if !r.Phase.CanAdvanceTo(next) {
		return r, false
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	r.Phase = next
	r.Progress = progress
	r.Message = message
	r.Version++
	r.UpdatedAt = now
	return r, true
}

// Fail moves the run to the failed terminal state, recording the stage.
func (r PipelineRun) Fail(stage string, progress int, message string, now time.Time) PipelineRun {
	next, ok := r.Advance(PhaseFailed, progress, message, now)
	if !ok {
		return r
	}
	next.FailedStage = stage
	return next
}

// Complete moves the run to done with its result.
func (r PipelineRun) Complete(result RunResult, message string, now time.Time) PipelineRun {
	next, ok := r.Advance(PhaseDone, 100, message, now)
	if !ok {
		return r
	}
	next.Result = &result
	return next
}
