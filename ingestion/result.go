package ingestion

import (
	"sync"
	"time"

	"github.com/poiesic/convoy/core"
)

// Result summarizes one pipeline run.
type Result struct {
	RunID     string
	StartedAt time.Time
	Completed int
	Failed    int
	Skipped   int // unchanged conversations skipped by NewOnly
	Messages  int
	Chunks    int
	// Errors holds every recorded failure in arrival order, including
	// per-attachment media failures and embedding anomalies that did not
	// fail their conversation.
	Errors   []core.StageError
	Canceled bool
	Duration time.Duration
}

// PullRecord converts the result into a catalog history entry.
func (r *Result) PullRecord() *core.PullRecord {
	return &core.PullRecord{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.StartedAt.Add(r.Duration),
		Completed:  r.Completed,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Chunks:     r.Chunks,
		Canceled:   r.Canceled,
	}
}

// errorLog is the unbounded relay every stage records failures into.
// Appends never block, so a stage reporting an error is never throttled.
type errorLog struct {
	mu     sync.Mutex
	errors []core.StageError
}

func (l *errorLog) record(e Error) {
	l.mu.Lock()
	l.errors = append(l.errors, e.stageError())
	l.mu.Unlock()
}

func (l *errorLog) snapshot() []core.StageError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.StageError, len(l.errors))
	copy(out, l.errors)
	return out
}
