// Package api talks to the web frontend that keeps match history: health
// checks, final score submission and match file upload.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tankclash/matchcore/pkg/core"
)

const requestTimeout = 30 * time.Second

// ScoreBatch is the body of a score submission.
type ScoreBatch struct {
	MatchID string            `json:"matchId"`
	Scores  []core.FinalScore `json:"scores"`
	Kills   []core.KillRecord `json:"kills,omitempty"`
}

// UploadMetadata describes an exported match file.
type UploadMetadata struct {
	MatchID         string
	DurationSeconds float64
	Players         int
}

func (m UploadMetadata) fields() [][2]string {
	return [][2]string{
		{"matchId", m.MatchID},
		{"duration", strconv.FormatFloat(m.DurationSeconds, 'f', 1, 64)},
		{"players", strconv.Itoa(m.Players)},
	}
}

// StatusError is returned when the frontend answers with an unexpected status.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Op, e.Code)
}

// Client is an HTTP client for the frontend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for baseURL. apiKey may be empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Healthcheck reports whether the frontend is reachable.
func (c *Client) Healthcheck() error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.send("healthcheck", req, http.StatusOK)
}

// SubmitScores posts the final scores of a match.
func (c *Client) SubmitScores(batch ScoreBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode scores: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/scores", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.send("score submission", req, http.StatusOK, http.StatusCreated)
}

// Upload streams an exported match file as a multipart form. The api key
// travels in the "secret" field.
func (c *Client) Upload(filePath string, meta UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	name := filepath.Base(filePath)
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(form, file, name, append([][2]string{
			{"secret", c.apiKey},
			{"filename", name},
		}, meta.fields()...)))
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/matches/upload", pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.send("upload", req, http.StatusOK)
}

func writeForm(form *multipart.Writer, src io.Reader, name string, fields [][2]string) error {
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return form.Close()
}

func (c *Client) send(op string, req *http.Request, ok ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	return &StatusError{Op: op, Code: resp.StatusCode}
}
