package store

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AssetKindSource    = "source"
	AssetKindImage     = "image"
	AssetKindRecording = "recording"
	AssetKindVoiceOver = "voiceover"
)

// Asset is a media file owned by the service: an imported source, an
// uploaded overlay image or a voice-over take.
type Asset struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	MIME      string    `json:"mime"`
	Size      int64     `json:"size"`
	Duration  float64   `json:"duration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Export is the persisted record of one export run.
type Export struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	PlanJSON   string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var mimeByExt = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func NewID() string {
	return uuid.New().String()
}

// MIMEForPath guesses a content type from the file extension.
func MIMEForPath(path string) string {
	if m, ok := mimeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "application/octet-stream"
}

// ExtensionForMIME is the inverse of MIMEForPath for the types the service writes.
func ExtensionForMIME(mime string) string {
	switch mime {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ".bin"
}
