package studio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kelasi/composer/internal/store"
	"github.com/kelasi/composer/internal/wav"
)

// ImportImage registers an overlay image given either a file path or a data
// URL. Data URLs are written into the assets directory.
func (s *Session) ImportImage(ctx context.Context, src string) (*store.Asset, error) {
	if strings.HasPrefix(src, "data:") {
		d, err := wav.ParseDataURL(src)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(d.MIME, "image/") {
			return nil, fmt.Errorf("%w: %s is not an image", ErrWrongAssetKind, d.MIME)
		}
		b, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		return s.storeBytes(ctx, b, d.MIME, store.AssetKindImage, 0)
	}

	if !strings.HasPrefix(store.MIMEForPath(src), "image/") {
		return nil, fmt.Errorf("%w: %s is not an image", ErrWrongAssetKind, filepath.Base(src))
	}
	return s.registerFile(ctx, src, store.AssetKindImage, 0)
}

// ImportAudio stores an audio data URL (raw PCM is wrapped into WAV first) as
// a voice-over asset without placing it on the timeline.
func (s *Session) ImportAudio(ctx context.Context, dataURL string) (*store.Asset, error) {
	normalized, err := wav.NormalizeAudio(dataURL)
	if err != nil {
		return nil, err
	}
	d, err := wav.ParseDataURL(normalized)
	if err != nil {
		return nil, err
	}
	b, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	length, err := s.audioLength(ctx, b, d.MIME)
	if err != nil {
		return nil, err
	}
	return s.storeBytes(ctx, b, d.MIME, store.AssetKindVoiceOver, length)
}

// Asset looks up a stored asset by id.
func (s *Session) Asset(ctx context.Context, id string) (*store.Asset, error) {
	return s.asset(ctx, id)
}

func (s *Session) asset(ctx context.Context, id string, kinds ...string) (*store.Asset, error) {
	if s.cfg.Assets == nil {
		return nil, ErrAssetNotFound
	}
	a, err := s.cfg.Assets.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if len(kinds) > 0 && !slices.Contains(kinds, a.Kind) {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongAssetKind, id, a.Kind)
	}
	return a, nil
}

// resolve maps a timeline reference to a file the engine can open.
func (s *Session) resolve(ref string) (string, error) {
	a, err := s.asset(context.Background(), ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(a.Path); err != nil {
		return "", fmt.Errorf("asset %s unavailable: %w", ref, err)
	}
	return a.Path, nil
}

// registerFile records an existing file without copying it.
func (s *Session) registerFile(ctx context.Context, path, kind string, duration float64) (*store.Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, abs)
	}

	a := &store.Asset{
		ID:        store.NewID(),
		Kind:      kind,
		Path:      abs,
		MIME:      store.MIMEForPath(abs),
		Size:      info.Size(),
		Duration:  duration,
		CreatedAt: time.Now(),
	}
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// storeBytes writes b into the assets directory and records it.
func (s *Session) storeBytes(ctx context.Context, b []byte, mime, kind string, duration float64) (*store.Asset, error) {
	if s.cfg.AssetsDir == "" {
		return nil, fmt.Errorf("assets dir not configured")
	}
	if err := os.MkdirAll(s.cfg.AssetsDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create assets dir: %w", err)
	}

	id := store.NewID()
	path := filepath.Join(s.cfg.AssetsDir, kind+"-"+id+store.ExtensionForMIME(mime))
	if err := os.WriteFile(path, b, 0644); err != nil {
		return nil, fmt.Errorf("cannot write asset: %w", err)
	}

	a := &store.Asset{
		ID:        id,
		Kind:      kind,
		Path:      path,
		MIME:      mime,
		Size:      int64(len(b)),
		Duration:  duration,
		CreatedAt: time.Now(),
	}
	if err := s.save(ctx, a); err != nil {
		removeQuietly(path)
		return nil, err
	}
	s.logger.Info("asset stored", "asset_id", id, "kind", kind, "size", humanize.Bytes(uint64(len(b))))
	return a, nil
}

func (s *Session) save(ctx context.Context, a *store.Asset) error {
	if s.cfg.Assets == nil {
		return fmt.Errorf("asset store not configured")
	}
	return s.cfg.Assets.CreateAsset(ctx, a)
}

func (s *Session) writeTemp(b []byte, ext string) (string, error) {
	f, err := os.CreateTemp(s.cfg.AssetsDir, "probe-*"+ext)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		removeQuietly(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
