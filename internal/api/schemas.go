package api

import (
	"time"

	"github.com/kelasi/composer/internal/engine"
	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/store"
	"github.com/kelasi/composer/internal/studio"
	"github.com/kelasi/composer/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	studio.Status
	Engine *EngineStatusResponse `json:"engine,omitempty"`
}

type EngineStatusResponse struct {
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	HasDrawtext bool   `json:"has_drawtext"`
	Error       string `json:"error,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type ImportRequest struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration,omitempty"`
}

type ImportResponse struct {
	ClipID   timeline.ClipID `json:"clip_id"`
	AssetID  string          `json:"asset_id"`
	Duration float64         `json:"duration"`
}

type SplitRequest struct {
	ClipID *timeline.ClipID `json:"clip_id,omitempty"`
	At     *float64         `json:"at,omitempty"`
}

type SplitResponse struct {
	First  timeline.ClipID `json:"first"`
	Second timeline.ClipID `json:"second"`
}

type SelectRequest struct {
	ClipID *timeline.ClipID `json:"clip_id,omitempty"`
	At     *float64         `json:"at,omitempty"`
}

type SeekRequest struct {
	Time float64 `json:"t"`
}

type SeekResponse struct {
	Playhead float64 `json:"playhead"`
}

type TextRequest struct {
	Text     string            `json:"text"`
	At       *float64          `json:"at,omitempty"`
	Span     float64           `json:"span,omitempty"`
	Position timeline.Position `json:"position,omitempty"`
}

type ImageRequest struct {
	AssetID  string            `json:"asset_id"`
	At       *float64          `json:"at,omitempty"`
	Span     float64           `json:"span,omitempty"`
	Position timeline.Position `json:"position,omitempty"`
}

type AudioRequest struct {
	AssetID string  `json:"asset_id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

type ClipResponse struct {
	ClipID timeline.ClipID `json:"clip_id"`
}

type RecordingStartResponse struct {
	Start float64 `json:"start"`
}

type MediaRequest struct {
	Media string `json:"media"`
}

type MediaResponse struct {
	Media string `json:"media"`
}

type GenerateRequest struct {
	Text string   `json:"text"`
	At   *float64 `json:"at,omitempty"`
}

type GenerateResponse struct {
	Clip  timeline.AudioClip `json:"clip"`
	Asset AssetResponse      `json:"asset"`
}

type ImageImportRequest struct {
	Source string `json:"source"`
}

type AssetResponse struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	MIME      string  `json:"mime"`
	Size      int64   `json:"size"`
	Duration  float64 `json:"duration,omitempty"`
	URL       string  `json:"url"`
	CreatedAt string  `json:"created_at"`
}

type ExportResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
	EDLURL      string  `json:"edl_url,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

type ExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func AssetToResponse(a *store.Asset) AssetResponse {
	return AssetResponse{
		ID:        a.ID,
		Kind:      a.Kind,
		MIME:      a.MIME,
		Size:      a.Size,
		Duration:  a.Duration,
		URL:       "/assets/" + a.ID,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

func ExportToResponse(e *store.Export) ExportResponse {
	resp := ExportResponse{
		ID:        e.ID,
		Status:    e.Status,
		Progress:  e.Progress,
		Error:     e.Error,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	}
	if export.Status(e.Status) == export.StatusSucceeded {
		resp.DownloadURL = "/exports/" + e.ID + "/download"
		resp.EDLURL = "/exports/" + e.ID + "/edl"
	}
	return resp
}

// TaskToResponse describes a live export from its latest update.
func TaskToResponse(t *export.Task) ExportResponse {
	u := t.Snapshot()
	resp := ExportResponse{
		ID:        t.ID,
		Status:    string(u.Status),
		Progress:  u.Progress,
		Error:     u.Error,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
	if u.Status == export.StatusSucceeded {
		resp.DownloadURL = "/exports/" + t.ID + "/download"
		resp.EDLURL = "/exports/" + t.ID + "/edl"
	}
	return resp
}

func EngineToResponse(c *engine.Capabilities) *EngineStatusResponse {
	if c == nil {
		return nil
	}
	resp := &EngineStatusResponse{
		Available:   c.Available,
		Version:     c.Version,
		HasDrawtext: c.HasDrawtext,
		Error:       c.Error,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
