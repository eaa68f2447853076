package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kelasi/composer/internal/export"
)

func startExport(t *testing.T, env *testEnv) ExportResponse {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/exports", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start export status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp ExportResponse
	decodeInto(t, rr, &resp)
	if resp.ID == "" {
		t.Fatal("export id should be set")
	}
	return resp
}

func waitExport(t *testing.T, env *testEnv, id string) {
	t.Helper()
	task, ok := env.session.Compositor().Task(id)
	if !ok {
		t.Fatalf("task %s not registered", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := task.Wait(ctx); err != nil {
		t.Fatalf("export failed: %v", err)
	}
}

func TestExport_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.importSource(t, 10)
	env.do(t, http.MethodPost, "/timeline/split", SplitRequest{At: f64(4)})

	started := startExport(t, env)
	waitExport(t, env, started.ID)

	rr := env.do(t, http.MethodGet, "/exports/"+started.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get export status = %d", rr.Code)
	}
	var got ExportResponse
	decodeInto(t, rr, &got)
	if got.Status != string(export.StatusSucceeded) || got.Progress != 100 {
		t.Fatalf("export = %+v", got)
	}
	if got.DownloadURL != "/exports/"+started.ID+"/download" || got.EDLURL != "/exports/"+started.ID+"/edl" {
		t.Errorf("urls = %q, %q", got.DownloadURL, got.EDLURL)
	}

	rr = env.do(t, http.MethodGet, "/exports", nil)
	var list ExportsResponse
	decodeInto(t, rr, &list)
	if len(list.Exports) != 1 || list.Exports[0].ID != started.ID {
		t.Fatalf("exports = %+v", list.Exports)
	}
	if list.Exports[0].Status != string(export.StatusSucceeded) {
		t.Errorf("stored status = %q", list.Exports[0].Status)
	}

	rr = env.do(t, http.MethodGet, got.DownloadURL, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("download status = %d, body %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "rendered" {
		t.Errorf("download body = %q", rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, ".mp4") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}

	rr = env.do(t, http.MethodGet, got.EDLURL, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("edl status = %d, body %s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(rr.Body.String(), "TITLE: demo") {
		t.Errorf("edl = %q", rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, ".edl") {
		t.Errorf("edl Content-Disposition = %q", cd)
	}
}

func TestExport_DownloadRange(t *testing.T) {
	env := newTestEnv(t)
	env.importSource(t, 10)
	started := startExport(t, env)
	waitExport(t, env, started.ID)

	req := httptest.NewRequest(http.MethodGet, "/exports/"+started.ID+"/download", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Range", "bytes=0-3")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusPartialContent)
	}
	if rr.Body.String() != "rend" {
		t.Errorf("body = %q, want %q", rr.Body.String(), "rend")
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 0-3/8" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestExport_EmptyProject(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/exports", nil)
	expectError(t, rr, http.StatusConflict, "EMPTY_PROJECT")
}

func TestExport_InProgressBlocksEdits(t *testing.T) {
	eng := &fakeEngine{release: make(chan struct{})}
	env := newTestEnvWithEngine(t, eng)
	env.importSource(t, 10)

	started := startExport(t, env)

	rr := env.do(t, http.MethodPost, "/exports", nil)
	expectError(t, rr, http.StatusConflict, "EXPORT_IN_PROGRESS")

	rr = env.do(t, http.MethodPost, "/timeline/text", TextRequest{Text: "late", At: f64(1)})
	expectError(t, rr, http.StatusConflict, "EXPORT_IN_PROGRESS")

	rr = env.do(t, http.MethodGet, "/exports/"+started.ID+"/download", nil)
	expectError(t, rr, http.StatusConflict, "ARTIFACT_UNAVAILABLE")

	close(eng.release)
	waitExport(t, env, started.ID)

	rr = env.do(t, http.MethodPost, "/timeline/text", TextRequest{Text: "after", At: f64(1)})
	if rr.Code != http.StatusCreated {
		t.Fatalf("text after export status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestExport_NotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/exports/missing", "/exports/missing/download", "/exports/missing/edl"} {
		rr := env.do(t, http.MethodGet, target, nil)
		expectError(t, rr, http.StatusNotFound, "EXPORT_NOT_FOUND")
	}
}

func TestExport_FailedRecordHasNoArtifact(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	err := env.repo.CreateExport(context.Background(), export.Record{
		ID:        "old-export",
		Status:    export.StatusFailed,
		Error:     "interrupted",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}

	rr := env.do(t, http.MethodGet, "/exports/old-export", nil)
	var got ExportResponse
	decodeInto(t, rr, &got)
	if got.Status != string(export.StatusFailed) || got.Error != "interrupted" || got.DownloadURL != "" {
		t.Errorf("export = %+v", got)
	}

	rr = env.do(t, http.MethodGet, "/exports/old-export/download", nil)
	expectError(t, rr, http.StatusConflict, "ARTIFACT_UNAVAILABLE")
}

func dialProgress(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/exports/" + id + "/progress?token=" + testToken
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial error: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUpdates collects updates until the server closes the stream.
func readUpdates(t *testing.T, conn *websocket.Conn) []export.Update {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var updates []export.Update
	for {
		var u export.Update
		if err := conn.ReadJSON(&u); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read error: %v", err)
			}
			return updates
		}
		updates = append(updates, u)
	}
}

func TestExportProgress_WebSocket(t *testing.T) {
	eng := &fakeEngine{release: make(chan struct{})}
	env := newTestEnvWithEngine(t, eng)
	env.importSource(t, 10)

	server := httptest.NewServer(env.router)
	defer server.Close()

	started := startExport(t, env)
	conn := dialProgress(t, server, started.ID)

	close(eng.release)
	updates := readUpdates(t, conn)

	if len(updates) == 0 {
		t.Fatal("no updates received")
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Progress < updates[i-1].Progress {
			t.Errorf("progress went backwards: %v then %v", updates[i-1].Progress, updates[i].Progress)
		}
	}
	last := updates[len(updates)-1]
	if last.ExportID != started.ID || last.Status != export.StatusSucceeded || last.Progress != 100 {
		t.Errorf("final update = %+v", last)
	}
}

func TestExportProgress_SettledRecord(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	if err := env.repo.CreateExport(context.Background(), export.Record{
		ID:        "old-export",
		Status:    export.StatusFailed,
		Error:     "interrupted",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}

	server := httptest.NewServer(env.router)
	defer server.Close()

	conn := dialProgress(t, server, "old-export")
	updates := readUpdates(t, conn)

	if len(updates) != 1 {
		t.Fatalf("updates = %+v, want exactly one", updates)
	}
	if updates[0].Status != export.StatusFailed || updates[0].Error != "interrupted" {
		t.Errorf("update = %+v", updates[0])
	}
}

func TestExportProgress_Rejections(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/exports/missing/progress?token=" + testToken)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("plain request with query token status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/exports/missing/progress?token=" + testToken
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial should fail for an unknown export")
	}
	if wsResp == nil || wsResp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown export handshake response = %v", wsResp)
	}

	header := http.Header{"Origin": []string{"https://evil.com"}}
	_, wsResp, err = websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial should fail for a foreign origin")
	}
	if wsResp == nil || wsResp.StatusCode == http.StatusSwitchingProtocols {
		t.Errorf("foreign origin handshake response = %v", wsResp)
	}
}
