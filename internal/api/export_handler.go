package api

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/playback"
	"github.com/kelasi/composer/internal/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := cfg.Session.Export(r.Context())
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, TaskToResponse(task))
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exports, err := cfg.Repository.ListExports(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := ExportsResponse{Exports: make([]ExportResponse, len(exports))}
		for i, e := range exports {
			resp.Exports[i] = ExportToResponse(e)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// getExportHandler prefers the live task, which carries progress more recent
// than the last persisted percent.
func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if task, ok := cfg.Session.Compositor().Task(id); ok {
			WriteJSON(w, http.StatusOK, TaskToResponse(task))
			return
		}

		rec, ok := lookupExport(w, r, cfg, id)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(rec))
	}
}

func lookupExport(w http.ResponseWriter, r *http.Request, cfg ServerConfig, id string) (*store.Export, bool) {
	rec, err := cfg.Repository.GetExport(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if rec == nil {
		WriteDomainError(w, export.ErrExportNotFound)
		return nil, false
	}
	return rec, true
}

// artifactPath returns the rendered file of a succeeded export.
func artifactPath(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (string, bool) {
	id := chi.URLParam(r, "id")
	rec, ok := lookupExport(w, r, cfg, id)
	if !ok {
		return "", false
	}
	if export.Status(rec.Status) != export.StatusSucceeded || rec.OutputPath == "" {
		WriteError(w, http.StatusConflict, "export has no artifact (status "+rec.Status+")", "ARTIFACT_UNAVAILABLE")
		return "", false
	}
	return rec.OutputPath, true
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := artifactPath(w, r, cfg)
		if !ok {
			return
		}
		opts := playback.Options{
			ContentType:  store.MIMEForPath(path),
			DownloadName: filepath.Base(path),
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, path, opts); err != nil {
			cfg.Logger.Error("artifact download error", "error", err, "path", path)
		}
	}
}

func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := artifactPath(w, r, cfg)
		if !ok {
			return
		}
		edl := strings.TrimSuffix(path, filepath.Ext(path)) + ".edl"
		opts := playback.Options{
			ContentType:  "text/plain; charset=utf-8",
			DownloadName: filepath.Base(edl),
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, edl, opts); err != nil {
			cfg.Logger.Error("edl download error", "error", err, "path", edl)
		}
	}
}

// progressHandler streams export.Update messages over a WebSocket until the
// export settles. Exports that are no longer live get one final message.
func progressHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		task, live := cfg.Session.Compositor().Task(id)
		var final export.Update
		if !live {
			rec, ok := lookupExport(w, r, cfg, id)
			if !ok {
				return
			}
			final = export.Update{ExportID: rec.ID, Status: export.Status(rec.Status), Progress: rec.Progress, Error: rec.Error}
		}

		conn, err := progressUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already answered the client.
			cfg.Logger.Warn("websocket upgrade failed", "error", err, "export_id", id)
			return
		}
		defer conn.Close()

		if !live {
			writeUpdate(conn, final)
			closeNormal(conn)
			return
		}

		updates, cancel := task.Subscribe()
		defer cancel()

		gone := make(chan struct{})
		go readUntilClosed(conn, gone)

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case u, ok := <-updates:
				if !ok {
					closeNormal(conn)
					return
				}
				if err := writeUpdate(conn, u); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}
}

func writeUpdate(conn *websocket.Conn, u export.Update) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(u)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "export settled")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

// readUntilClosed drains client frames so pongs and close frames are handled.
func readUntilClosed(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
