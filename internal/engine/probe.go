package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Capabilities is the readiness report of the local ffmpeg install.
type Capabilities struct {
	Available   bool      `json:"available"`
	FFmpegPath  string    `json:"ffmpeg_path,omitempty"`
	FFprobePath string    `json:"ffprobe_path,omitempty"`
	Version     string    `json:"version,omitempty"`
	HasDrawtext bool      `json:"has_drawtext"`
	Error       string    `json:"error,omitempty"`
	ProbedAt    time.Time `json:"probed_at"`
}

// Prober produces a fresh readiness report.
type Prober interface {
	ProbeCapabilities(ctx context.Context) (*Capabilities, error)
}

// CachedProbe caches readiness reports with a TTL so export starts do not
// spawn a subprocess each time.
type CachedProbe struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedProbe(prober Prober, ttl time.Duration, logger *slog.Logger) *CachedProbe {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedProbe{prober: prober, ttl: ttl, logger: logger}
}

// Get returns the cached report if fresh, otherwise re-probes.
func (p *CachedProbe) Get(ctx context.Context) (*Capabilities, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

func (p *CachedProbe) Peek() *Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh probes regardless of cache freshness. A failed probe falls back to
// the previous report when there is one.
func (p *CachedProbe) Refresh(ctx context.Context) (*Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps, err := p.prober.ProbeCapabilities(ctx)
	if err != nil {
		p.logger.Warn("engine probe failed", "error", err)
		if p.cached != nil {
			p.logger.Info("returning stale engine capabilities")
			return p.cached, nil
		}
		return nil, err
	}

	p.cached = caps
	return caps, nil
}

func (p *CachedProbe) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}
