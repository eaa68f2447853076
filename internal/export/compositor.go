package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/kelasi/composer/internal/logging"
	"github.com/kelasi/composer/internal/timeline"
)

var (
	ErrExportInProgress = errors.New("an export is already in progress")
	ErrEngineNotReady   = errors.New("media engine not ready")
	ErrExportFailed     = errors.New("export failed")
	ErrExportNotFound   = errors.New("export not found")
)

// Engine renders a Plan into a single output file.
type Engine interface {
	Ready(ctx context.Context) bool
	Render(ctx context.Context, plan *Plan, outPath string, onProgress func(fraction float64)) error
}

// Record is the persisted view of a task.
type Record struct {
	ID         string
	Status     Status
	Progress   float64
	Error      string
	OutputPath string
	PlanJSON   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobStore persists export lifecycle transitions. Failures are logged and
// never affect the export itself.
type JobStore interface {
	CreateExport(ctx context.Context, rec Record) error
	UpdateExport(ctx context.Context, rec Record) error
}

type Config struct {
	Engine    Engine
	OutputDir string
	Spec      OutputSpec
	Title     string
	FrameRate float64

	// Resolve maps timeline references (asset ids, paths) to files the
	// engine can open. Nil leaves references unchanged.
	Resolve func(ref string) (string, error)
	Store   JobStore
	Logger  *slog.Logger
}

// Compositor runs at most one export at a time.
type Compositor struct {
	cfg Config

	mu      sync.Mutex
	current *Task
	tasks   map[string]*Task
}

func NewCompositor(cfg Config) *Compositor {
	if cfg.Spec.Container == "" {
		cfg.Spec = DefaultOutputSpec()
	}
	if cfg.Title == "" {
		cfg.Title = "composition"
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Compositor{cfg: cfg, tasks: make(map[string]*Task)}
}

// Status returns the state of the latest export, or idle when none ran.
func (c *Compositor) Status() Status {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return StatusIdle
	}
	return cur.Status()
}

// Busy reports whether an export is preparing or rendering.
func (c *Compositor) Busy() bool {
	return c.Status().Active()
}

func (c *Compositor) Current() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Compositor) Task(id string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	return t, ok
}

// EngineReady reports the engine's readiness without starting anything.
func (c *Compositor) EngineReady(ctx context.Context) bool {
	return c.cfg.Engine != nil && c.cfg.Engine.Ready(ctx)
}

// Start begins exporting snap. The render continues after ctx ends.
func (c *Compositor) Start(ctx context.Context, snap timeline.Snapshot) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Status().Active() {
		return nil, ErrExportInProgress
	}
	if !c.EngineReady(ctx) {
		return nil, ErrEngineNotReady
	}
	if snap.Empty() {
		return nil, ErrEmptyProject
	}

	task := newTask(uuid.New().String())
	c.current = task
	c.tasks[task.ID] = task

	c.persist(ctx, task, "", true)
	c.cfg.Logger.Info("export started", "export_id", task.ID, "clips", len(snap.Video))

	go c.run(context.WithoutCancel(ctx), task, snap)
	return task, nil
}

func (c *Compositor) run(ctx context.Context, task *Task, snap timeline.Snapshot) {
	logger := logging.WithExportID(c.cfg.Logger, task.ID)
	started := time.Now()

	artifact, err := c.prepare(ctx, task, snap)
	if err != nil {
		c.finish(ctx, task, Artifact{}, fmt.Errorf("%w: %v", ErrExportFailed, err), logger)
		return
	}

	task.setStatus(StatusRendering)
	c.persist(ctx, task, artifact.Path, false)

	lastSaved := -1
	err = c.cfg.Engine.Render(ctx, task.Plan(), artifact.Path, func(fraction float64) {
		// The final percent belongs to the finished artifact.
		p := math.Min(fraction*100, 99)
		if !task.setProgress(p) {
			return
		}
		if whole := int(p); whole != lastSaved {
			lastSaved = whole
			c.persist(ctx, task, artifact.Path, false)
		}
	})
	if err != nil {
		c.finish(ctx, task, artifact, fmt.Errorf("%w: %v", ErrExportFailed, err), logger)
		return
	}

	info, err := os.Stat(artifact.Path)
	if err != nil {
		c.finish(ctx, task, artifact, fmt.Errorf("%w: output missing: %v", ErrExportFailed, err), logger)
		return
	}
	artifact.Size = info.Size()

	logger.Info("export finished",
		"duration_ms", time.Since(started).Milliseconds(),
		"size", humanize.Bytes(uint64(artifact.Size)),
	)
	c.finish(ctx, task, artifact, nil, logger)
}

// prepare compiles the plan and lays out the artifact files.
func (c *Compositor) prepare(ctx context.Context, task *Task, snap timeline.Snapshot) (Artifact, error) {
	plan, err := Compile(snap, c.cfg.Spec)
	if err != nil {
		return Artifact{}, err
	}
	if c.cfg.Resolve != nil {
		if err := plan.Resolve(c.cfg.Resolve); err != nil {
			return Artifact{}, err
		}
	}
	if err := plan.Validate(); err != nil {
		return Artifact{}, err
	}
	task.setPlan(plan)

	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return Artifact{}, fmt.Errorf("cannot create output dir: %w", err)
	}
	dir := filepath.Clean(c.cfg.OutputDir)
	if err := ValidateOutputDir(dir); err != nil {
		return Artifact{}, err
	}

	base := ArtifactName(c.cfg.Title, task.ID)
	a := Artifact{
		Path:        filepath.Join(dir, base+"."+plan.Output().Container),
		ContentType: plan.Output().ContentType,
		EDLPath:     filepath.Join(dir, base+".edl"),
		PlanPath:    filepath.Join(dir, base+".plan.json"),
	}

	encoded, err := plan.Encode()
	if err != nil {
		return Artifact{}, err
	}
	if err := os.WriteFile(a.PlanPath, encoded, 0644); err != nil {
		return Artifact{}, fmt.Errorf("cannot write plan: %w", err)
	}
	edl := GenerateEDL(plan.Trims(), c.cfg.Title, c.cfg.FrameRate)
	if err := os.WriteFile(a.EDLPath, []byte(edl), 0644); err != nil {
		return Artifact{}, fmt.Errorf("cannot write edl: %w", err)
	}

	c.persistPlan(ctx, task, a.Path, string(encoded))
	return a, nil
}

// finish stores the terminal record before settling the task, so the record
// is durable once Wait returns.
func (c *Compositor) finish(ctx context.Context, task *Task, a Artifact, err error, logger *slog.Logger) {
	rec := record(task, a.Path)
	if err != nil {
		logger.Error("export failed", "error", err)
		rec.Status = StatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = StatusSucceeded
		rec.Progress = 100
	}
	if c.cfg.Store != nil {
		if serr := c.cfg.Store.UpdateExport(ctx, rec); serr != nil {
			logger.Warn("cannot persist export", "error", serr)
		}
	}

	if err != nil {
		task.fail(err)
	} else {
		task.succeed(a)
	}
}

func (c *Compositor) persist(ctx context.Context, task *Task, outPath string, create bool) {
	if c.cfg.Store == nil {
		return
	}
	rec := record(task, outPath)
	var err error
	if create {
		err = c.cfg.Store.CreateExport(ctx, rec)
	} else {
		err = c.cfg.Store.UpdateExport(ctx, rec)
	}
	if err != nil {
		c.cfg.Logger.Warn("cannot persist export", "export_id", task.ID, "error", err)
	}
}

func (c *Compositor) persistPlan(ctx context.Context, task *Task, outPath, planJSON string) {
	if c.cfg.Store == nil {
		return
	}
	rec := record(task, outPath)
	rec.PlanJSON = planJSON
	if err := c.cfg.Store.UpdateExport(ctx, rec); err != nil {
		c.cfg.Logger.Warn("cannot persist export plan", "export_id", task.ID, "error", err)
	}
}

func record(task *Task, outPath string) Record {
	u := task.Snapshot()
	return Record{
		ID:         task.ID,
		Status:     u.Status,
		Progress:   u.Progress,
		Error:      u.Error,
		OutputPath: outPath,
		CreatedAt:  task.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}
}
