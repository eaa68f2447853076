package api

import (
	"errors"
	"net/http"

	"github.com/kelasi/composer/internal/aigen"
	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/recording"
	"github.com/kelasi/composer/internal/studio"
	"github.com/kelasi/composer/internal/timeline"
	"github.com/kelasi/composer/internal/wav"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{timeline.ErrInvalidSplitPoint, http.StatusBadRequest, "INVALID_SPLIT_POINT"},
	{timeline.ErrEmptyText, http.StatusBadRequest, "EMPTY_TEXT"},
	{timeline.ErrEmptyImageRef, http.StatusBadRequest, "EMPTY_IMAGE_REF"},
	{timeline.ErrNonPositiveDuration, http.StatusBadRequest, "NON_POSITIVE_DURATION"},
	{timeline.ErrOutOfRange, http.StatusBadRequest, "OUT_OF_RANGE"},
	{timeline.ErrClipNotFound, http.StatusNotFound, "CLIP_NOT_FOUND"},
	{timeline.ErrAlreadyImported, http.StatusConflict, "ALREADY_IMPORTED"},
	{timeline.ErrNotImported, http.StatusConflict, "NOT_IMPORTED"},
	{timeline.ErrBrokenPartition, http.StatusInternalServerError, "BROKEN_PARTITION"},

	{export.ErrExportInProgress, http.StatusConflict, "EXPORT_IN_PROGRESS"},
	{export.ErrEngineNotReady, http.StatusServiceUnavailable, "ENGINE_NOT_READY"},
	{export.ErrEmptyProject, http.StatusConflict, "EMPTY_PROJECT"},
	{export.ErrExportNotFound, http.StatusNotFound, "EXPORT_NOT_FOUND"},
	{export.ErrExportFailed, http.StatusInternalServerError, "EXPORT_FAILED"},

	{studio.ErrRecordingActive, http.StatusConflict, "RECORDING_ACTIVE"},
	{studio.ErrAssetNotFound, http.StatusNotFound, "ASSET_NOT_FOUND"},
	{studio.ErrWrongAssetKind, http.StatusBadRequest, "WRONG_ASSET_KIND"},
	{studio.ErrUnknownDuration, http.StatusUnprocessableEntity, "UNKNOWN_DURATION"},
	{studio.ErrSpeechDisabled, http.StatusServiceUnavailable, "SPEECH_DISABLED"},
	{studio.ErrInvalidPath, http.StatusBadRequest, "INVALID_PATH"},

	{recording.ErrAlreadyRecording, http.StatusConflict, "ALREADY_RECORDING"},
	{recording.ErrNotRecording, http.StatusConflict, "NOT_RECORDING"},
	{recording.ErrDeviceUnavailable, http.StatusServiceUnavailable, "DEVICE_UNAVAILABLE"},
	{recording.ErrDegenerateRecording, http.StatusBadRequest, "DEGENERATE_RECORDING"},

	{wav.ErrInvalidDataURL, http.StatusBadRequest, "INVALID_DATA_URL"},
	{wav.ErrInvalidHeader, http.StatusBadRequest, "INVALID_WAV"},

	{aigen.ErrEmptyText, http.StatusBadRequest, "EMPTY_TEXT"},
	{aigen.ErrNoMedia, http.StatusBadGateway, "NO_MEDIA"},
	{aigen.ErrNotConfigured, http.StatusServiceUnavailable, "SPEECH_DISABLED"},
}

// errorStatus maps a domain error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	var genErr *aigen.GenerationError
	if errors.As(err, &genErr) {
		return http.StatusBadGateway, "GENERATION_FAILED"
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// WriteDomainError answers with the mapped status. Internal errors hide their
// message from the client.
func WriteDomainError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError && code == "INTERNAL_ERROR" {
		msg = "internal server error"
	}
	WriteError(w, status, msg, code)
}
