package segmentation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 120 * time.Second

// HTTPClient talks to the segmentation service over plain HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

func NewHTTPClient(serverURL string, log *logrus.Logger) *HTTPClient {
	if serverURL == "" {
		serverURL = "http://localhost:8001"
	}
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{},
		log:        log,
	}
}

func (c *HTTPClient) StartSession(ctx context.Context, cfg ModelConfig) (string, error) {
	body, err := c.sendRequest(ctx, http.MethodPost, "/sessions", cfg)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	var resp startResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse session response: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("start session: empty session id")
	}
	return resp.SessionID, nil
}

func (c *HTTPClient) Segment(ctx context.Context, sessionID string, req Request) ([]Result, error) {
	body, err := c.sendRequest(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/segment", req)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", req.Kind, err)
	}

	var resp segmentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse segment response: %w", err)
	}
	return resp.Suggestions, nil
}

func (c *HTTPClient) EndSession(ctx context.Context, sessionID string) error {
	if _, err := c.sendRequest(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (c *HTTPClient) sendRequest(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"elapsed":  time.Since(start).String(),
	}).Debug("[segmentation.sendRequest] request finished")

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(endpoint, "/sessions/") {
		return nil, ErrNoSession
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
