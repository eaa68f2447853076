package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kelasi/composer/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())
	r.Use(middleware.GetHead)

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Post("/project/import", importHandler(cfg))
		r.Get("/timeline", timelineHandler(cfg))
		r.Post("/timeline/split", splitHandler(cfg))
		r.Post("/timeline/select", selectHandler(cfg))
		r.Post("/timeline/seek", seekHandler(cfg))
		r.Post("/timeline/text", textHandler(cfg))
		r.Post("/timeline/image", imageHandler(cfg))
		r.Post("/timeline/audio", audioHandler(cfg))
		r.Get("/preview", previewHandler(cfg))

		r.Post("/recording/start", recordingStartHandler(cfg))
		r.Post("/recording/stop", recordingStopHandler(cfg))
		r.Post("/audio/normalize", normalizeHandler(cfg))
		r.Post("/audio/generate", generateHandler(cfg))

		r.Post("/assets/images", imageImportHandler(cfg))
		r.Post("/assets/audio", audioImportHandler(cfg))

		r.Post("/exports", startExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Get("/exports/{id}/progress", progressHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/assets/{id}", assetHandler(cfg))
			r.Get("/exports/{id}/download", downloadHandler(cfg))
			r.Get("/exports/{id}/edl", edlHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := StatusResponse{Status: cfg.Session.Status(ctx)}

		if cfg.Engine != nil {
			caps, err := cfg.Engine.Capabilities(ctx)
			if err == nil {
				resp.Engine = EngineToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

func importHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		id, asset, err := cfg.Session.Import(r.Context(), req.Path, req.Duration)
		if err != nil {
			WriteDomainError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, ImportResponse{ClipID: id, AssetID: asset.ID, Duration: asset.Duration})
	}
}

func timelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func splitHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SplitRequest
		if !decode(w, r, &req) {
			return
		}

		var id timeline.ClipID
		if req.ClipID != nil {
			id = *req.ClipID
		}
		at := cfg.Session.Snapshot().Playhead
		if req.At != nil {
			at = *req.At
		}

		first, second, err := cfg.Session.Split(id, at)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SplitResponse{First: first, Second: second})
	}
}

func selectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if !decode(w, r, &req) {
			return
		}

		switch {
		case req.ClipID != nil:
			if err := cfg.Session.Select(*req.ClipID); err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, ClipResponse{ClipID: *req.ClipID})
		case req.At != nil:
			clip, err := cfg.Session.SelectAt(*req.At)
			if err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, ClipResponse{ClipID: clip.ID})
		default:
			WriteError(w, http.StatusBadRequest, "clip_id or at is required", "BAD_REQUEST")
		}
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if !decode(w, r, &req) {
			return
		}
		WriteJSON(w, http.StatusOK, SeekResponse{Playhead: cfg.Session.Seek(req.Time)})
	}
}

func textHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TextRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Position != "" && !req.Position.Valid() {
			WriteError(w, http.StatusBadRequest, "unknown position "+string(req.Position), "INVALID_POSITION")
			return
		}

		at := cfg.Session.Snapshot().Playhead
		if req.At != nil {
			at = *req.At
		}
		id, err := cfg.Session.AddText(req.Text, at, req.Span, req.Position)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipResponse{ClipID: id})
	}
}

func imageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImageRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Position != "" && !req.Position.Valid() {
			WriteError(w, http.StatusBadRequest, "unknown position "+string(req.Position), "INVALID_POSITION")
			return
		}

		at := cfg.Session.Snapshot().Playhead
		if req.At != nil {
			at = *req.At
		}
		id, err := cfg.Session.AddImage(r.Context(), req.AssetID, at, req.Span, req.Position)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipResponse{ClipID: id})
	}
}

func audioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AudioRequest
		if !decode(w, r, &req) {
			return
		}
		id, err := cfg.Session.AddAudio(r.Context(), req.AssetID, req.Start, req.End)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipResponse{ClipID: id})
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		t := cfg.Session.Snapshot().Playhead
		if v := q.Get("t"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "t must be a number", "BAD_REQUEST")
				return
			}
			t = parsed
		}

		playing := false
		if v := q.Get("playing"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "playing must be a boolean", "BAD_REQUEST")
				return
			}
			playing = parsed
		}

		WriteJSON(w, http.StatusOK, cfg.Session.Tick(t, playing))
	}
}
