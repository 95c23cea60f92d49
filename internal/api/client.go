// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/storyweave/karta/internal/chapter"
	"github.com/storyweave/karta/pkg/core"
)

// Client talks to a running karta server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Status  int
	Code    chapter.Code
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, "", nil)
}

// GetChapters returns the chapter overview of a project.
func (c *Client) GetChapters(ctx context.Context, projectID string) (*core.ChapterOverview, error) {
	var overview core.ChapterOverview
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "chapters"), nil, "", &overview); err != nil {
		return nil, err
	}
	return &overview, nil
}

// SaveChapters saves the chapter overview of a project.
func (c *Client) SaveChapters(ctx context.Context, projectID string, req SaveChaptersRequest) (*core.ChapterOverview, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var overview core.ChapterOverview
	err = c.do(ctx, http.MethodPut, projectPath(projectID, "chapters"), bytes.NewReader(body), "application/json", &overview)
	if err != nil {
		return nil, err
	}
	return &overview, nil
}

// Repair runs a repair sweep for a deleted chapter number.
func (c *Client) Repair(ctx context.Context, projectID string, deleted int) (chapter.SweepResult, error) {
	var result chapter.SweepResult
	path := projectPath(projectID, fmt.Sprintf("chapters/%d/repair", deleted))
	err := c.do(ctx, http.MethodPost, path, nil, "", &result)
	return result, err
}

// UploadSnapshot sends a snapshot file (plain or gzip JSON) for import.
func (c *Client) UploadSnapshot(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write the form in a goroutine so the file is streamed
	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer writer.Close()

		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			errCh <- fmt.Errorf("failed to copy file: %w", err)
			return
		}
		errCh <- nil
	}()

	err = c.do(ctx, http.MethodPost, "/api/snapshots", pr, writer.FormDataContentType(), nil)
	// unblock the writer if the request ended early
	pr.Close()
	if writeErr := <-errCh; writeErr != nil && err == nil {
		return writeErr
	}
	return err
}

func projectPath(projectID, rest string) string {
	return "/api/projects/" + url.PathEscape(projectID) + "/" + rest
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
