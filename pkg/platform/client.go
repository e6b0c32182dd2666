// Package platform is an HTTP client for the annotation platform REST API.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 30 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

// HasStatus reports whether err is a StatusError with one of the given codes.
func HasStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.StatusCode == c {
			return true
		}
	}
	return false
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logrus.Logger
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListAnnotations returns every annotation stored for an image.
func (c *Client) ListAnnotations(ctx context.Context, projectID, imageID string) ([]Annotation, error) {
	body, err := c.do(ctx, http.MethodGet, path("projects", projectID, "images", imageID, "annotations"), nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse annotations: %w", err)
	}
	return resp.Annotations, nil
}

// CreateAnnotation stores one annotation and returns the server copy.
func (c *Client) CreateAnnotation(ctx context.Context, projectID, imageID string, a Annotation) (*Annotation, error) {
	a.ImageID = imageID
	body, err := c.do(ctx, http.MethodPost, path("projects", projectID, "images", imageID, "annotations"), a)
	if err != nil {
		return nil, err
	}

	var created Annotation
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &created); err != nil {
			return nil, fmt.Errorf("failed to parse created annotation: %w", err)
		}
	}
	if created.UID == "" {
		created.UID = a.UID
	}
	return &created, nil
}

// CreateAnnotations stores several annotations in one request. Servers that
// lack the batch endpoint answer 404, 405 or 501.
func (c *Client) CreateAnnotations(ctx context.Context, projectID, imageID string, list []Annotation) ([]Annotation, error) {
	for i := range list {
		list[i].ImageID = imageID
	}
	body, err := c.do(ctx, http.MethodPost, path("projects", projectID, "annotations", "batch"),
		batchRequest{ImageID: imageID, Annotations: list})
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	return resp.Annotations, nil
}

// UpdateAnnotation patches an annotation's geometry and attributes.
func (c *Client) UpdateAnnotation(ctx context.Context, projectID string, a Annotation) error {
	_, err := c.do(ctx, http.MethodPatch, path("projects", projectID, "annotations", a.Key()), a)
	return err
}

// DeleteAnnotation removes an annotation. A soft delete keeps it recoverable server-side.
func (c *Client) DeleteAnnotation(ctx context.Context, projectID, annotationID string, hardDelete bool) error {
	p := path("projects", projectID, "annotations", annotationID)
	p += "?hard_delete=" + fmt.Sprint(hardDelete)
	_, err := c.do(ctx, http.MethodDelete, p, nil)
	return err
}

// JobImages returns the ordered image list of a job.
func (c *Client) JobImages(ctx context.Context, projectID, jobID string) ([]JobImage, error) {
	body, err := c.do(ctx, http.MethodGet, path("projects", projectID, "jobs", jobID, "images"), nil)
	if err != nil {
		return nil, err
	}

	var resp jobImagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse job images: %w", err)
	}
	return resp.Images, nil
}

// ImageFile downloads the raw bytes of an image and its content type.
func (c *Client) ImageFile(ctx context.Context, projectID, imageID string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path("projects", projectID, "images", imageID, "file"), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data))}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) newRequest(ctx context.Context, method, p string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, p string, payload interface{}) ([]byte, error) {
	req, err := c.newRequest(ctx, method, p, payload)
	if err != nil {
		return nil, err
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
		"method":  method,
		"path":    p,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("[platform.do] request finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}
	return body, nil
}

func path(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func truncate(s string) string {
	const max = 512
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
