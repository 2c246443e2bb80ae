package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hapticdef/hapticdef/internal/schedule"
)

// CueDetector turns sampled frames into raw haptic cues.
type CueDetector interface {
	DetectCues(ctx context.Context, frames []Frame) ([]schedule.RawRecord, error)
}

// VisionClient talks to an OpenAI-compatible chat completions API with image input.
type VisionClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewVisionClient(baseURL, apiKey, model string, timeout time.Duration) *VisionClient {
	return &VisionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

const cuePrompt = `You will receive the frames of a video, each preceded by its mm:ss timestamp.
Identify the main character. For every frame decide whether that character feels heat, cold or a
physical impact on their chest, left hand or right hand.
Answer with a JSON array only, one object per frame where something happens:
[{"timestamp": "mm:ss", "action": "hot" | "cold" | "impact", "body_part": "chest" | "left_hand" | "right_hand"}]
Use the timestamps exactly as given. Return [] when nothing happens. No markdown formatting.`

type imageURL struct {
	URL string `json:"url"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type replyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Message replyMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

func (c *VisionClient) DetectCues(ctx context.Context, frames []Frame) ([]schedule.RawRecord, error) {
	parts := make([]contentPart, 0, 2*len(frames))
	for _, f := range frames {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", f.Path, err)
		}
		parts = append(parts,
			contentPart{Type: "text", Text: f.Timestamp()},
			contentPart{Type: "image_url", ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)}},
		)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: cuePrompt},
			{Role: "user", Content: parts},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("vision API returned empty choices")
	}

	return parseCueJSON(chatResp.Choices[0].Message.Content)
}

// parseCueJSON accepts a bare array, a fenced array or a single object.
func parseCueJSON(content string) ([]schedule.RawRecord, error) {
	stripped := stripMarkdownFences(content)

	var records []schedule.RawRecord
	if err := json.Unmarshal([]byte(stripped), &records); err == nil {
		return records, nil
	}

	var single schedule.RawRecord
	if err := json.Unmarshal([]byte(stripped), &single); err != nil {
		return nil, fmt.Errorf("parse cue JSON: %w", err)
	}
	return []schedule.RawRecord{single}, nil
}

func stripMarkdownFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	firstNewline := strings.Index(trimmed, "\n")
	if firstNewline == -1 {
		return trimmed
	}
	trimmed = trimmed[firstNewline+1:]
	if idx := strings.LastIndex(trimmed, "```"); idx != -1 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
