package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kelasi/composer/internal/db"
	"github.com/kelasi/composer/internal/export"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

func TestRepository_Assets(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := &Asset{ID: NewID(), Kind: AssetKindVoiceOver, Path: "/data/assets/a.wav", MIME: "audio/wav", Size: 4410, Duration: 2.5, CreatedAt: created}
	b := &Asset{ID: NewID(), Kind: AssetKindImage, Path: "/data/assets/b.png", MIME: "image/png", Size: 99, CreatedAt: created.Add(time.Minute)}

	for _, asset := range []*Asset{a, b} {
		if err := repo.CreateAsset(ctx, asset); err != nil {
			t.Fatalf("CreateAsset() error = %v", err)
		}
	}

	got, err := repo.GetAsset(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetAsset() returned nil")
	}
	if got.Path != a.Path || got.Duration != 2.5 || got.Size != 4410 || !got.CreatedAt.Equal(created) {
		t.Errorf("GetAsset() = %+v", got)
	}

	missing, err := repo.GetAsset(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetAsset(missing) = %v, %v; want nil, nil", missing, err)
	}

	all, err := repo.ListAssets(ctx, "")
	if err != nil {
		t.Fatalf("ListAssets() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != b.ID {
		t.Errorf("ListAssets() = %d assets, newest first expected", len(all))
	}

	images, err := repo.ListAssets(ctx, AssetKindImage)
	if err != nil {
		t.Fatalf("ListAssets(image) error = %v", err)
	}
	if len(images) != 1 || images[0].ID != b.ID {
		t.Errorf("ListAssets(image) = %+v", images)
	}
}

func TestRepository_ExportLifecycle(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := export.Record{ID: "exp-1", Status: export.StatusPreparing, CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateExport(ctx, rec); err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}

	rec.Status = export.StatusRendering
	rec.OutputPath = "/out/a.mp4"
	rec.PlanJSON = `{"version":1}`
	if err := repo.UpdateExport(ctx, rec); err != nil {
		t.Fatalf("UpdateExport() error = %v", err)
	}

	rec.PlanJSON = ""
	rec.OutputPath = ""
	rec.Progress = 55.5
	if err := repo.UpdateExport(ctx, rec); err != nil {
		t.Fatalf("UpdateExport() error = %v", err)
	}

	got, err := repo.GetExport(ctx, "exp-1")
	if err != nil {
		t.Fatalf("GetExport() error = %v", err)
	}
	if got.Status != "rendering" || got.Progress != 55.5 {
		t.Errorf("status/progress = %s/%v", got.Status, got.Progress)
	}
	if got.OutputPath != "/out/a.mp4" {
		t.Errorf("output path lost on update: %q", got.OutputPath)
	}
	if got.PlanJSON != `{"version":1}` {
		t.Errorf("plan lost on update: %q", got.PlanJSON)
	}

	rec.Status = export.StatusFailed
	rec.Error = "export failed: boom"
	if err := repo.UpdateExport(ctx, rec); err != nil {
		t.Fatalf("UpdateExport() error = %v", err)
	}

	list, err := repo.ListExports(ctx, 10)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(list) != 1 || list[0].Status != "failed" || list[0].Error != "export failed: boom" {
		t.Errorf("ListExports() = %+v", list)
	}

	missing, err := repo.GetExport(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetExport(missing) = %v, %v", missing, err)
	}
}

func TestRepository_Config(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	v, err := repo.GetConfig(ctx, "auth_token")
	if err != nil || v != "" {
		t.Fatalf("GetConfig(unset) = %q, %v", v, err)
	}

	if err := repo.SetConfig(ctx, "auth_token", "a"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "auth_token", "b"); err != nil {
		t.Fatalf("SetConfig() overwrite error = %v", err)
	}
	v, _ = repo.GetConfig(ctx, "auth_token")
	if v != "b" {
		t.Errorf("GetConfig() = %q, want b", v)
	}
}

func TestMIMEForPath(t *testing.T) {
	tests := map[string]string{
		"a.MP4":     "video/mp4",
		"b.wav":     "audio/wav",
		"c.jpeg":    "image/jpeg",
		"d.unknown": "application/octet-stream",
	}
	for path, want := range tests {
		if got := MIMEForPath(path); got != want {
			t.Errorf("MIMEForPath(%q) = %q, want %q", path, got, want)
		}
	}
	if ExtensionForMIME("audio/wav") != ".wav" || ExtensionForMIME("x/y") != ".bin" {
		t.Error("ExtensionForMIME mismatch")
	}
}
