package playback

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeMedia(t *testing.T, name string, size int) string {
	t.Helper()
	body := make([]byte, size)
	for i := range body {
		body[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func serve(t *testing.T, method, path, rangeHeader string, opts Options) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(method, "/assets/x", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rr := httptest.NewRecorder()
	if err := s.ServeFile(rr, req, path, opts); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}
	return rr
}

func TestServeFile_Full(t *testing.T) {
	path := writeMedia(t, "take.wav", 1000)
	rr := serve(t, http.MethodGet, path, "", Options{})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.Len() != 1000 {
		t.Errorf("body = %d bytes, want 1000", rr.Body.Len())
	}
	if got := rr.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != "" {
		t.Errorf("unexpected Content-Disposition %q", got)
	}
}

func TestServeFile_Partial(t *testing.T) {
	path := writeMedia(t, "clip.mp4", 1000)
	rr := serve(t, http.MethodGet, path, "bytes=100-199", Options{})

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rr.Header().Get("Content-Length"); got != "100" {
		t.Errorf("Content-Length = %q", got)
	}
	if b := rr.Body.Bytes(); len(b) != 100 || b[0] != byte(100%251) {
		t.Errorf("body starts at wrong offset")
	}
}

func TestServeFile_Unsatisfiable(t *testing.T) {
	path := writeMedia(t, "clip.mp4", 10)
	rr := serve(t, http.MethodGet, path, "bytes=50-", Options{})

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_MalformedRangeSendsWholeFile(t *testing.T) {
	path := writeMedia(t, "clip.mp4", 10)
	rr := serve(t, http.MethodGet, path, "chars=0-4", Options{})
	if rr.Code != http.StatusOK || rr.Body.Len() != 10 {
		t.Errorf("status = %d, body = %d", rr.Code, rr.Body.Len())
	}
}

func TestServeFile_AttachmentAndType(t *testing.T) {
	path := writeMedia(t, "Holiday-Cut-1a2b3c4d.mp4", 20)
	rr := serve(t, http.MethodGet, path, "", Options{ContentType: "video/mp4", DownloadName: "Holiday Cut.mp4"})

	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="Holiday Cut.mp4"` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestServeFile_Head(t *testing.T) {
	path := writeMedia(t, "clip.mp4", 64)
	rr := serve(t, http.MethodHead, path, "", Options{})
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("status = %d, body = %d", rr.Code, rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "64" {
		t.Errorf("Content-Length = %q", got)
	}
}

func TestServeFile_Missing(t *testing.T) {
	rr := serve(t, http.MethodGet, filepath.Join(t.TempDir(), "gone.wav"), "", Options{})
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
