// Package playback streams stored media (sources, images, voice-over takes and
// export artifacts) over HTTP with byte-range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Options controls how a file is presented to the client.
type Options struct {
	// ContentType overrides the type guessed from the extension.
	ContentType string
	// DownloadName, when set, marks the response as an attachment.
	DownloadName string
}

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, path string, opts Options) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes path honouring Range and HEAD. A missing file answers 404
// and is not reported as an error.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string, opts Options) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := stat.Size()

	contentType := opts.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	if opts.DownloadName != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": opts.DownloadName}))
	}

	rng, partial, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// malformed ranges are ignored and the whole file is sent
		partial = false
	}

	length := size
	status := http.StatusOK
	if partial {
		length = rng.ContentLength()
		status = http.StatusPartialContent
		h.Set("Content-Range", rng.ContentRange(size))
		if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}

	n, err := io.CopyN(w, file, length)
	if err != nil && s.logger != nil {
		s.logger.Debug("playback interrupted", "sent", humanize.Bytes(uint64(n)), "error", err)
	}
	return nil
}
