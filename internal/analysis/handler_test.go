package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/hapticdef/hapticdef/internal/gateway"
	"github.com/hapticdef/hapticdef/internal/httputil"
	"github.com/hapticdef/hapticdef/internal/schedule"
)

type mockStorage struct {
	uploaded          []string
	uploadFileErr     error
	downloadToFileErr error
	downloadURL       string
	downloadErr       error
	deleted           []string
	deleteErr         error
	deleteFailUntil   int
}

func (m *mockStorage) PutVideo(_ context.Context, key, _ string) error {
	m.uploaded = append(m.uploaded, key)
	return m.uploadFileErr
}

func (m *mockStorage) FetchVideo(_ context.Context, _, _ string) error {
	return m.downloadToFileErr
}

func (m *mockStorage) Remove(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	if m.deleteFailUntil > 0 && len(m.deleted) > m.deleteFailUntil {
		return nil
	}
	return m.deleteErr
}

func (m *mockStorage) PlaybackURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return m.downloadURL, m.downloadErr
}

type stubDetector struct {
	records []schedule.RawRecord
	err     error
	frames  int
}

func (d *stubDetector) DetectCues(_ context.Context, frames []Frame) ([]schedule.RawRecord, error) {
	d.frames = len(frames)
	return d.records, d.err
}

func fakeExtractor(n int) FrameExtractor {
	return func(_ context.Context, _, outDir string, _ int) ([]Frame, error) {
		frames := make([]Frame, n)
		for i := range frames {
			frames[i] = Frame{Second: i, Path: outDir}
		}
		return frames, nil
	}
}

func newTestHandler(mock pgxmock.PgxPoolIface, storage *mockStorage, detector CueDetector) *Handler {
	h := NewHandler(mock, storage, detector, 1<<20, 60)
	h.SetFrameExtractor(fakeExtractor(3))
	return h
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload_ReturnsCueArray(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	storage := &mockStorage{}
	detector := &stubDetector{records: []schedule.RawRecord{
		{Timestamp: "00:01", Action: "hot", BodyPart: "left_hand"},
		{Timestamp: "00:02", Action: "impact", BodyPart: "chest"},
	}}
	handler := newTestHandler(mock, storage, detector)

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "clip.mp4", int64(9)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE analyses SET status = 'ready'`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	handler.Upload(rec, uploadRequest(t, gateway.FormField, "clip.mp4", []byte("fake mp4!")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var records []schedule.RawRecord
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(records) != 2 || records[1].BodyPart != "chest" {
		t.Errorf("unexpected records %+v", records)
	}

	id := rec.Header().Get(gateway.AnalysisIDHeader)
	if id == "" {
		t.Fatal("expected analysis ID header")
	}
	if len(storage.uploaded) != 1 || storage.uploaded[0] != "uploads/"+id+".mp4" {
		t.Errorf("uploaded = %v", storage.uploaded)
	}
	if detector.frames != 3 {
		t.Errorf("detector saw %d frames, want 3", detector.frames)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpload_EmptyDetectionReturnsEmptyArray(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := newTestHandler(mock, &mockStorage{}, &stubDetector{})

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE analyses SET status = 'ready'`).
		WithArgs(pgxmock.AnyArg(), []byte("[]"), 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	handler.Upload(rec, uploadRequest(t, gateway.FormField, "clip.mp4", []byte("x")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestUpload_DetectorFailureMarksFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := newTestHandler(mock, &mockStorage{}, &stubDetector{err: errors.New("model overloaded")})

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE analyses SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), "detect cues: model overloaded").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	handler.Upload(rec, uploadRequest(t, gateway.FormField, "clip.mp4", []byte("x")))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	var body httputil.ErrorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != "video analysis failed" {
		t.Errorf("error = %q", body.Error)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpload_StoreRecordsFailureMarksFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	detector := &stubDetector{records: []schedule.RawRecord{{Timestamp: "00:01", Action: "hot", BodyPart: "chest"}}}
	handler := newTestHandler(mock, &mockStorage{}, detector)

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE analyses SET status = 'ready'`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 3).
		WillReturnError(context.Canceled)
	mock.ExpectExec(`UPDATE analyses SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), "store records: context canceled").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	handler.Upload(rec, uploadRequest(t, gateway.FormField, "clip.mp4", []byte("x")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(gateway.AnalysisIDHeader) != "" {
		t.Error("did not expect an analysis ID for an unstored result")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpload_StoresRecordsAfterClientCancels(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	detector := &cancellingDetector{cancel: cancel}
	handler := newTestHandler(mock, &mockStorage{}, detector)

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE analyses SET status = 'ready'`).
		WithArgs(pgxmock.AnyArg(), []byte("[]"), 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	handler.Upload(rec, uploadRequest(t, gateway.FormField, "clip.mp4", []byte("x")).WithContext(ctx))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected the ready update despite cancellation: %v", err)
	}
}

// cancellingDetector cancels the request context once detection finishes.
type cancellingDetector struct {
	cancel context.CancelFunc
}

func (d *cancellingDetector) DetectCues(context.Context, []Frame) ([]schedule.RawRecord, error) {
	d.cancel()
	return nil, nil
}

func TestUpload_RejectsBeforeStoring(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		filename   string
		content    []byte
		wantStatus int
	}{
		{"MissingField", "video", "clip.mp4", []byte("x"), http.StatusBadRequest},
		{"NotMP4", gateway.FormField, "clip.avi", []byte("x"), http.StatusUnsupportedMediaType},
		{"LongFileName", gateway.FormField, strings.Repeat("a", 256) + ".mp4", []byte("x"), http.StatusBadRequest},
		{"TooLarge", gateway.FormField, "clip.mp4", bytes.Repeat([]byte("a"), 2<<20), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatal(err)
			}
			defer mock.Close()

			storage := &mockStorage{}
			handler := newTestHandler(mock, storage, &stubDetector{})

			rec := httptest.NewRecorder()
			handler.Upload(rec, uploadRequest(t, tt.field, tt.filename, tt.content))

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if len(storage.uploaded) != 0 {
				t.Errorf("expected nothing stored, got %v", storage.uploaded)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestUpload_StorageFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := newTestHandler(mock, &mockStorage{uploadFileErr: errors.New("bucket gone")}, &stubDetector{})

	rec := httptest.NewRecorder()
	handler.Upload(rec, uploadRequest(t, gateway.FormField, "clip.mp4", []byte("x")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func serveAnalysis(handler *Handler, method, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/analyses/{id}", handler.Get)
	r.Post("/api/analyses/{id}/reanalyze", handler.Reanalyze)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestGet_ReturnsAnalysisWithVideoURL(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	storage := &mockStorage{downloadURL: "https://videos.example.com/signed"}
	handler := newTestHandler(mock, storage, nil)

	mock.ExpectQuery(`SELECT id::text, file_key, file_name`).
		WithArgs(testAnalysisID).
		WillReturnRows(pgxmock.NewRows(getColumns).AddRow(
			testAnalysisID, videoKey(testAnalysisID), "clip.mp4", int64(10), StatusReady,
			[]byte(`[{"timestamp":"00:01","action":"hot","body_part":"chest"},{"timestamp":"1:00","action":"cold","body_part":"chest"}]`),
			(*string)(nil), 5, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), (*time.Time)(nil),
		))

	rec := serveAnalysis(handler, http.MethodGet, "/api/analyses/"+testAnalysisID)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp analysisResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.EventCount != 1 || len(resp.Records) != 2 || len(resp.Warnings) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.VideoURL != storage.downloadURL {
		t.Errorf("videoUrl = %q, want %q", resp.VideoURL, storage.downloadURL)
	}
	if resp.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("createdAt = %q", resp.CreatedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	handler := newTestHandler(mock, &mockStorage{}, nil)

	if rec := serveAnalysis(handler, http.MethodGet, "/api/analyses/not-a-uuid"); rec.Code != http.StatusNotFound {
		t.Errorf("invalid id: expected 404, got %d", rec.Code)
	}

	mock.ExpectQuery(`SELECT id::text, file_key, file_name`).
		WithArgs(testAnalysisID).
		WillReturnError(pgx.ErrNoRows)
	if rec := serveAnalysis(handler, http.MethodGet, "/api/analyses/"+testAnalysisID); rec.Code != http.StatusNotFound {
		t.Errorf("missing row: expected 404, got %d", rec.Code)
	}
}

func TestReanalyze_Purged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	purged := time.Now()
	mock.ExpectQuery(`SELECT id::text, file_key, file_name`).
		WithArgs(testAnalysisID).
		WillReturnRows(pgxmock.NewRows(getColumns).AddRow(
			testAnalysisID, videoKey(testAnalysisID), "clip.mp4", int64(10), StatusReady,
			[]byte(`[]`), (*string)(nil), 5, time.Now(), &purged,
		))

	rec := serveAnalysis(newTestHandler(mock, &mockStorage{}, &stubDetector{}), http.MethodPost, "/api/analyses/"+testAnalysisID+"/reanalyze")
	if rec.Code != http.StatusGone {
		t.Fatalf("expected status 410, got %d", rec.Code)
	}
}

func TestReanalyze_InProgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id::text, file_key, file_name`).
		WithArgs(testAnalysisID).
		WillReturnRows(pgxmock.NewRows(getColumns).AddRow(
			testAnalysisID, videoKey(testAnalysisID), "clip.mp4", int64(10), StatusProcessing,
			[]byte(nil), (*string)(nil), 0, time.Now(), (*time.Time)(nil),
		))

	rec := serveAnalysis(newTestHandler(mock, &mockStorage{}, &stubDetector{}), http.MethodPost, "/api/analyses/"+testAnalysisID+"/reanalyze")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestReanalyze_RerunsDetection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	reason := "detect cues: timeout"
	mock.ExpectQuery(`SELECT id::text, file_key, file_name`).
		WithArgs(testAnalysisID).
		WillReturnRows(pgxmock.NewRows(getColumns).AddRow(
			testAnalysisID, videoKey(testAnalysisID), "clip.mp4", int64(10), StatusFailed,
			[]byte(nil), &reason, 0, time.Now(), (*time.Time)(nil),
		))
	mock.ExpectExec(`UPDATE analyses SET status = 'processing'`).
		WithArgs(testAnalysisID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE analyses SET status = 'ready'`).
		WithArgs(testAnalysisID, pgxmock.AnyArg(), 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	detector := &stubDetector{records: []schedule.RawRecord{{Timestamp: "00:00", Action: "impact", BodyPart: "chest"}}}
	rec := serveAnalysis(newTestHandler(mock, &mockStorage{}, detector), http.MethodPost, "/api/analyses/"+testAnalysisID+"/reanalyze")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(gateway.AnalysisIDHeader); got != testAnalysisID {
		t.Errorf("analysis header = %q, want %q", got, testAnalysisID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
