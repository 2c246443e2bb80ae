package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hapticdef/hapticdef/internal/database"
	"github.com/hapticdef/hapticdef/internal/gateway"
	"github.com/hapticdef/hapticdef/internal/httputil"
	"github.com/hapticdef/hapticdef/internal/schedule"
	"github.com/hapticdef/hapticdef/internal/validate"
)

const (
	multipartMemory = 32 << 20
	videoURLExpiry  = time.Hour
)

// ObjectStorage holds uploaded videos between upload, re-analysis and purge.
type ObjectStorage interface {
	PutVideo(ctx context.Context, key, path string) error
	FetchVideo(ctx context.Context, key, path string) error
	Remove(ctx context.Context, key string) error
	PlaybackURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Handler struct {
	repo           *Repository
	storage        ObjectStorage
	detector       CueDetector
	extractFrames  FrameExtractor
	maxUploadBytes int64
	maxFrames      int
}

func NewHandler(db database.DBTX, s ObjectStorage, detector CueDetector, maxUploadBytes int64, maxFrames int) *Handler {
	return &Handler{
		repo:           NewRepository(db),
		storage:        s,
		detector:       detector,
		extractFrames:  ExtractFrames,
		maxUploadBytes: maxUploadBytes,
		maxFrames:      maxFrames,
	}
}

// SetFrameExtractor replaces the ffmpeg-backed extractor.
func (h *Handler) SetFrameExtractor(fn FrameExtractor) {
	h.extractFrames = fn
}

// Repository exposes stored analyses to other packages (the player session arms from it).
func (h *Handler) Repository() *Repository {
	return h.repo
}

func videoKey(id string) string {
	return fmt.Sprintf("uploads/%s.mp4", id)
}

func isMP4(header *multipart.FileHeader) bool {
	if strings.EqualFold(header.Header.Get("Content-Type"), "video/mp4") {
		return true
	}
	return strings.EqualFold(filepath.Ext(header.Filename), ".mp4")
}

// Upload stores the video, runs the analysis synchronously and responds with the raw cue array.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		if r.ContentLength > h.maxUploadBytes {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "video is too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "video is too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(gateway.FormField)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, gateway.FormField+" is required")
		return
	}
	defer func() { _ = file.Close() }()

	if msg := validate.FileName(header.Filename); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if !isMP4(header) {
		httputil.WriteError(w, http.StatusUnsupportedMediaType, "only mp4 videos are supported")
		return
	}

	tmpPath, size, err := spool(file)
	if err != nil {
		slog.Error("upload: failed to spool video", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read video")
		return
	}
	defer func() { _ = os.Remove(tmpPath) }()

	ctx := r.Context()
	a := Analysis{
		ID:       uuid.NewString(),
		FileName: header.Filename,
		FileSize: size,
	}
	a.FileKey = videoKey(a.ID)

	if err := h.storage.PutVideo(ctx, a.FileKey, tmpPath); err != nil {
		slog.Error("upload: failed to store video", "analysis_id", a.ID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to store video")
		return
	}
	if err := h.repo.Create(ctx, a); err != nil {
		slog.Error("upload: failed to record analysis", "analysis_id", a.ID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to record analysis")
		return
	}

	slog.Info("upload: analysing video", "analysis_id", a.ID, "file_name", a.FileName, "bytes", size)
	records, err := h.analyze(ctx, a.ID, tmpPath)
	if err != nil {
		writeAnalyzeError(w, err)
		return
	}

	w.Header().Set(gateway.AnalysisIDHeader, a.ID)
	httputil.WriteJSON(w, http.StatusOK, records)
}

func writeAnalyzeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errStoreRecords) {
		httputil.WriteError(w, http.StatusInternalServerError, errStoreRecords.Error())
		return
	}
	httputil.WriteError(w, http.StatusBadGateway, "video analysis failed")
}

func spool(src io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp("", "hapticdef-upload-*.mp4")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}
	return tmp.Name(), n, nil
}

var errStoreRecords = errors.New("failed to store analysis")

// analyze samples frames, asks the detector for cues and records the outcome.
func (h *Handler) analyze(ctx context.Context, id, videoPath string) ([]schedule.RawRecord, error) {
	records, frameCount, err := h.detect(ctx, videoPath)
	if err != nil {
		slog.Error("analysis: failed", "analysis_id", id, "error", err)
		if markErr := h.repo.MarkFailed(context.WithoutCancel(ctx), id, err.Error()); markErr != nil {
			slog.Error("analysis: failed to mark failure", "analysis_id", id, "error", markErr)
		}
		return nil, err
	}
	if records == nil {
		records = []schedule.RawRecord{}
	}

	// The caller may have gone away; the row must still leave "processing".
	detached := context.WithoutCancel(ctx)
	if err := h.repo.MarkReady(detached, id, records, frameCount); err != nil {
		slog.Error("analysis: failed to store records", "analysis_id", id, "error", err)
		if markErr := h.repo.MarkFailed(detached, id, "store records: "+err.Error()); markErr != nil {
			slog.Error("analysis: failed to mark failure", "analysis_id", id, "error", markErr)
		}
		return nil, fmt.Errorf("%w: %w", errStoreRecords, err)
	}
	slog.Info("analysis: complete", "analysis_id", id, "frames", frameCount, "cues", len(records))
	return records, nil
}

func (h *Handler) detect(ctx context.Context, videoPath string) ([]schedule.RawRecord, int, error) {
	frameDir, err := os.MkdirTemp("", "hapticdef-frames-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create frame dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(frameDir) }()

	frames, err := h.extractFrames(ctx, videoPath, frameDir, h.maxFrames)
	if err != nil {
		return nil, 0, fmt.Errorf("extract frames: %w", err)
	}
	if h.detector == nil {
		return nil, len(frames), errors.New("no cue detector configured")
	}
	records, err := h.detector.DetectCues(ctx, frames)
	if err != nil {
		return nil, len(frames), fmt.Errorf("detect cues: %w", err)
	}
	return records, len(frames), nil
}

type analysisResponse struct {
	ID         string                  `json:"id"`
	Status     string                  `json:"status"`
	FileName   string                  `json:"fileName"`
	FrameCount int                     `json:"frameCount"`
	Records    []schedule.RawRecord    `json:"records"`
	Warnings   []schedule.ParseWarning `json:"warnings"`
	EventCount int                     `json:"eventCount"`
	Error      string                  `json:"error,omitempty"`
	VideoURL   string                  `json:"videoUrl,omitempty"`
	CreatedAt  string                  `json:"createdAt"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}

	s, warnings, _ := schedule.Parse(a.Records)
	if a.Records == nil {
		a.Records = []schedule.RawRecord{}
	}
	if warnings == nil {
		warnings = []schedule.ParseWarning{}
	}
	resp := analysisResponse{
		ID:         a.ID,
		Status:     a.Status,
		FileName:   a.FileName,
		FrameCount: a.FrameCount,
		Records:    a.Records,
		Warnings:   warnings,
		EventCount: s.Len(),
		Error:      a.Error,
		CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.FilePurgedAt == nil {
		url, err := h.storage.PlaybackURL(r.Context(), a.FileKey, videoURLExpiry)
		if err != nil {
			slog.Error("analysis: failed to presign video", "analysis_id", a.ID, "error", err)
		} else {
			resp.VideoURL = url
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Reanalyze reruns detection on the stored copy of the video.
func (h *Handler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}
	if a.FilePurgedAt != nil {
		httputil.WriteError(w, http.StatusGone, "video has been purged")
		return
	}
	if a.Status == StatusProcessing {
		httputil.WriteError(w, http.StatusConflict, "analysis already in progress")
		return
	}

	ctx := r.Context()
	tmp, err := os.CreateTemp("", "hapticdef-reanalyze-*.mp4")
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to prepare video")
		return
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := h.storage.FetchVideo(ctx, a.FileKey, tmpPath); err != nil {
		slog.Error("reanalyze: failed to download video", "analysis_id", a.ID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load video")
		return
	}
	if err := h.repo.MarkProcessing(ctx, a.ID); err != nil {
		slog.Error("reanalyze: failed to mark processing", "analysis_id", a.ID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update analysis")
		return
	}

	records, err := h.analyze(ctx, a.ID, tmpPath)
	if err != nil {
		writeAnalyzeError(w, err)
		return
	}
	w.Header().Set(gateway.AnalysisIDHeader, a.ID)
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*Analysis, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httputil.WriteError(w, http.StatusNotFound, "analysis not found")
		return nil, false
	}
	a, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "analysis not found")
		return nil, false
	}
	if err != nil {
		slog.Error("analysis: failed to load", "analysis_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load analysis")
		return nil, false
	}
	return a, true
}
