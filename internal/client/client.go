// Package client talks to the access-log HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/accesslog/internal/domain"
)

// DefaultServer is the API address used when none is given.
const DefaultServer = "localhost:3080"

const (
	// DefaultRequestTimeout bounds a single-record post. Uploads and fetches
	// have no overall limit and run as long as their context allows.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultResponseHeaderTimeout bounds the wait for the status line once a
	// request body has been sent in full.
	DefaultResponseHeaderTimeout = 5 * time.Minute
)

// Format selects the serialization of a range query.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts csv or json in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q: must be csv or json", s)
	}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// File is one CSV attachment of an upload.
type File struct {
	Name string
	Body io.Reader
}

// APIClient is a small HTTP client for the ingestion and query endpoints.
type APIClient struct {
	baseURL        string
	http           *http.Client
	requestTimeout time.Duration
}

// New returns a client for server. The scheme is optional and defaults to http.
// A nil httpClient gets a client without an overall timeout, so long uploads
// and exports are bounded only by their context and the transport timeouts.
func New(server string, httpClient *http.Client) *APIClient {
	if server == "" {
		server = DefaultServer
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &APIClient{
		baseURL:        strings.TrimRight(server, "/"),
		http:           httpClient,
		requestTimeout: DefaultRequestTimeout,
	}
}

func defaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	return &http.Client{Transport: transport}
}

// BaseURL returns the normalized server URL.
func (c *APIClient) BaseURL() string { return c.baseURL }

// PostLog submits one record to POST /logs.
func (c *APIClient) PostLog(ctx context.Context, rec domain.LogRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logs", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Upload streams files as one multipart request to POST /csv and returns the
// number of records the server inserted.
func (c *APIClient) Upload(ctx context.Context, files ...File) (int, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/csv", pr)
	if err != nil {
		pr.Close()
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, fmt.Errorf("unexpected response %q: %w", body, err)
	}
	return n, nil
}

func writeParts(mw *multipart.Writer, files []File) error {
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
		h.Set("Content-Type", "text/csv")
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Body); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	return mw.Close()
}

// Fetch copies the records in tr, serialized as format, to w.
func (c *APIClient) Fetch(ctx context.Context, format Format, tr domain.TimeRange, w io.Writer) error {
	path := "/logs"
	if format == FormatCSV {
		path = "/csv"
	}
	q := url.Values{}
	if !tr.From.IsZero() {
		q.Set("from", tr.From.UTC().Format(time.RFC3339Nano))
	}
	if !tr.Until.IsZero() {
		q.Set("until", tr.Until.UTC().Format(time.RFC3339Nano))
	}
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
