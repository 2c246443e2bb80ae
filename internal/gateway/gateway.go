package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hapticdef/hapticdef/internal/schedule"
)

// FormField is the multipart field the upload endpoint reads.
const FormField = "file_sent"

// AnalysisIDHeader carries the stored analysis ID on upload responses.
const AnalysisIDHeader = "X-Analysis-ID"

type ErrorKind int

const (
	NetworkFailure ErrorKind = iota
	ServerRejected
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case ServerRejected:
		return "server rejected"
	case Timeout:
		return "timeout"
	default:
		return "network failure"
	}
}

// UploadError is returned for every failed upload. Status is set for ServerRejected.
type UploadError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *UploadError) Error() string {
	if e.Kind == ServerRejected {
		return fmt.Sprintf("upload %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Result is the raw schedule payload returned for an uploaded video.
type Result struct {
	AnalysisID string
	Records    []schedule.RawRecord
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an upload client. Analysis runs synchronously on the
// server, so timeout should cover frame extraction plus the model call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload sends the video at path and returns the raw cue records. It never retries.
func (c *Client) Upload(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, localFailure("open video", err)
	}
	defer func() { _ = f.Close() }()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormField, filepath.Base(path)))
	header.Set("Content-Type", "video/mp4")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, localFailure("create form part", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, localFailure("read video", err)
	}
	if err := mw.Close(); err != nil {
		return nil, localFailure("close form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return nil, localFailure("create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UploadError{Kind: ServerRejected, Status: resp.StatusCode, Err: errors.New(serverMessage(respBody))}
	}

	var records []schedule.RawRecord
	if err := json.Unmarshal(respBody, &records); err != nil {
		return nil, &UploadError{Kind: ServerRejected, Status: resp.StatusCode, Err: fmt.Errorf("decode schedule: %w", err)}
	}

	return &Result{AnalysisID: resp.Header.Get(AnalysisIDHeader), Records: records}, nil
}

// localFailure reports a problem preparing the request. It never reached the
// server, so it is a NetworkFailure for callers matching on Kind.
func localFailure(step string, err error) error {
	return &UploadError{Kind: NetworkFailure, Err: fmt.Errorf("%s: %w", step, err)}
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &UploadError{Kind: Timeout, Err: err}
	}
	return &UploadError{Kind: NetworkFailure, Err: err}
}

func serverMessage(body []byte) string {
	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errBody); err == nil && errBody.Error != "" {
		return errBody.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
