package export

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusPreparing Status = "preparing"
	StatusRendering Status = "rendering"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Active reports whether an export in this state blocks edits and new exports.
func (s Status) Active() bool {
	return s == StatusPreparing || s == StatusRendering
}

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Artifact is the single rendered output of a successful export.
type Artifact struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	EDLPath     string `json:"edl_path,omitempty"`
	PlanPath    string `json:"plan_path,omitempty"`
}

// Update is one event on a task's progress stream.
type Update struct {
	ExportID string    `json:"export_id"`
	Status   Status    `json:"status"`
	Progress float64   `json:"progress"`
	Error    string    `json:"error,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
}

const subscriberBuffer = 16

// Task is one export run. Progress never decreases; the task settles exactly
// once, after which Done is closed and every subscriber channel is closed.
type Task struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	status   Status
	progress float64
	artifact Artifact
	err      error
	plan     *Plan
	subs     map[int]chan Update
	nextSub  int
	done     chan struct{}
}

func newTask(id string) *Task {
	return &Task{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		status:    StatusPreparing,
		subs:      make(map[int]chan Update),
		done:      make(chan struct{}),
	}
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the completion percentage in [0, 100].
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Err returns the failure cause once the task has failed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Plan returns the compiled plan, or nil while preparing.
func (t *Task) Plan() *Plan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plan
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task settles or ctx ends.
func (t *Task) Wait(ctx context.Context) (Artifact, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.artifact, t.err
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	}
}

// Snapshot returns the current state as an Update.
func (t *Task) Snapshot() Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLocked()
}

// Subscribe returns a stream of updates starting with the current state.
// The channel is closed after the terminal update or when cancel is called.
func (t *Task) Subscribe() (<-chan Update, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	ch <- t.updateLocked()

	if t.status.Terminal() {
		close(ch)
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (t *Task) updateLocked() Update {
	u := Update{ExportID: t.ID, Status: t.status, Progress: t.progress}
	if t.err != nil {
		u.Error = t.err.Error()
	}
	if t.status == StatusSucceeded {
		a := t.artifact
		u.Artifact = &a
	}
	return u
}

func (t *Task) setPlan(p *Plan) {
	t.mu.Lock()
	t.plan = p
	t.mu.Unlock()
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = s
	t.broadcastLocked()
}

// setProgress records p and reports whether the stored value moved.
func (t *Task) setProgress(p float64) bool {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() || p <= t.progress {
		return false
	}
	t.progress = p
	t.broadcastLocked()
	return true
}

func (t *Task) succeed(a Artifact) {
	t.settle(StatusSucceeded, a, nil)
}

func (t *Task) fail(err error) {
	t.settle(StatusFailed, Artifact{}, err)
}

func (t *Task) settle(s Status, a Artifact, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}

	t.status = s
	t.artifact = a
	t.err = err
	if s == StatusSucceeded {
		t.progress = 100
	}

	t.broadcastLocked()
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	close(t.done)
}

func (t *Task) broadcastLocked() {
	u := t.updateLocked()
	for _, ch := range t.subs {
		deliver(ch, u)
	}
}

// deliver never blocks. A slow subscriber loses its oldest pending update so
// the newest one, and in particular the terminal one, always gets through.
func deliver(ch chan Update, u Update) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}
