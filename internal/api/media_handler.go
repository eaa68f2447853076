package api

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/kelasi/composer/internal/playback"
	"github.com/kelasi/composer/internal/wav"
)

func recordingStartHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := cfg.Session.StartRecording(r.Context())
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, RecordingStartResponse{Start: start})
	}
}

func recordingStopHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, err := cfg.Session.StopRecording(r.Context())
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, clip)
	}
}

// normalizeHandler wraps raw PCM data URLs into WAV and passes every other
// audio data URL through.
func normalizeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MediaRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Media == "" {
			WriteError(w, http.StatusBadRequest, "media is required", "BAD_REQUEST")
			return
		}

		media, err := wav.NormalizeAudio(req.Media)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MediaResponse{Media: media})
	}
}

func generateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if !decode(w, r, &req) {
			return
		}

		at := cfg.Session.Snapshot().Playhead
		if req.At != nil {
			at = *req.At
		}
		clip, asset, err := cfg.Session.GenerateVoiceOver(r.Context(), req.Text, at)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, GenerateResponse{Clip: clip, Asset: AssetToResponse(asset)})
	}
}

func imageImportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImageImportRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Source == "" {
			WriteError(w, http.StatusBadRequest, "source is required", "BAD_REQUEST")
			return
		}

		asset, err := cfg.Session.ImportImage(r.Context(), req.Source)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, AssetToResponse(asset))
	}
}

func audioImportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MediaRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Media == "" {
			WriteError(w, http.StatusBadRequest, "media is required", "BAD_REQUEST")
			return
		}

		asset, err := cfg.Session.ImportAudio(r.Context(), req.Media)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, AssetToResponse(asset))
	}
}

func assetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		asset, err := cfg.Session.Asset(r.Context(), id)
		if err != nil {
			WriteDomainError(w, err)
			return
		}

		opts := playback.Options{ContentType: asset.MIME}
		if r.URL.Query().Get("download") != "" {
			opts.DownloadName = filepath.Base(asset.Path)
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, asset.Path, opts); err != nil {
			cfg.Logger.Error("playback error", "error", err, "asset_id", id)
		}
	}
}
