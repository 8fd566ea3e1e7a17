// Package crm talks to the external CRM-style system that is authoritative
// for all business records. Data calls are JSON over HTTPS carrying
// {corpId, token, currentUserId}; pagination is {limit, offset}; records are
// identified by the stable string id under FieldDataID.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/trestle/internal/types"
)

// FieldDataID is the external system's stable record identifier field. It is
// the only cross-representation join key.
const FieldDataID = "dataId"

// Credentials are the tenant credentials for the credential exchange
// endpoint.
type Credentials struct {
	CorpID    string
	AppKey    string
	AppSecret string
	UserID    string
}

// Session is a short-lived token obtained once per sync run.
type Session struct {
	CorpID    string
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Client is the HTTP client for the external system.
type Client struct {
	baseURL    string
	creds      Credentials
	http       *http.Client
	maxRetries uint64
}

// NewClient creates a client. maxRetries bounds the exponential backoff on
// transient page-fetch failures before a run is declared failed.
func NewClient(baseURL string, creds Credentials, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: uint64(maxRetries),
	}
}

// resourceFor maps an entity type to its path segment in the external API.
func resourceFor(entity types.EntityType) (string, error) {
	switch entity {
	case types.EntityOpportunity:
		return "opportunity", nil
	case types.EntitySite:
		return "site", nil
	case types.EntitySalesRecord:
		return "salesRecord", nil
	case types.EntityMaintenanceOrder:
		return "maintenanceOrder", nil
	}
	return "", fmt.Errorf("no external resource for entity type %q", entity)
}

type envelope struct {
	ErrCode int             `json:"errcode"`
	ErrMsg  string          `json:"errmsg"`
	Token   string          `json:"token,omitempty"`
	Expires int64           `json:"expiresIn,omitempty"`
	List    json.RawMessage `json:"dataList,omitempty"`
	Path    string          `json:"path,omitempty"`
}

// Authenticate performs the credential exchange and returns a session for
// one run. Any failure is an AuthError.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	body := map[string]any{
		"corpId":    c.creds.CorpID,
		"appKey":    c.creds.AppKey,
		"appSecret": c.creds.AppSecret,
	}
	env, err := c.postJSON(ctx, "/api/auth/token", body)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	if env.Token == "" {
		return nil, &AuthError{Err: errors.New("empty token in response")}
	}

	expires := env.Expires
	if expires <= 0 {
		expires = 7200
	}
	return &Session{
		CorpID:    c.creds.CorpID,
		UserID:    c.creds.UserID,
		Token:     env.Token,
		ExpiresAt: time.Now().Add(time.Duration(expires) * time.Second),
	}, nil
}

// FetchPage fetches the raw external records in [offset, offset+limit).
// Transient network and 5xx failures are retried with exponential backoff;
// exhaustion surfaces as a TransportError.
func (c *Client) FetchPage(ctx context.Context, sess *Session, entity types.EntityType, offset, limit int) ([]map[string]any, error) {
	resource, err := resourceFor(entity)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"corpId":        sess.CorpID,
		"token":         sess.Token,
		"currentUserId": sess.UserID,
		"limit":         limit,
		"offset":        offset,
	}

	var page []map[string]any
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		env, err := c.postJSON(ctx, "/api/data/"+resource+"/list", body)
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		page = nil
		if len(env.List) > 0 {
			if err := json.Unmarshal(env.List, &page); err != nil {
				return fmt.Errorf("decode dataList: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &TransportError{Op: "fetch " + resource + " page", Err: err}
	}
	return page, nil
}

// UpdateRecord pushes a partial external-representation update for one
// record. The external system is authoritative; the local mirror picks the
// change up on the next sync run.
func (c *Client) UpdateRecord(ctx context.Context, sess *Session, entity types.EntityType, dataID string, fields map[string]any) error {
	resource, err := resourceFor(entity)
	if err != nil {
		return err
	}

	body := map[string]any{
		"corpId":        sess.CorpID,
		"token":         sess.Token,
		"currentUserId": sess.UserID,
		FieldDataID:     dataID,
		"data":          fields,
	}
	if _, err := c.postJSON(ctx, "/api/data/"+resource+"/update", body); err != nil {
		return &TransportError{Op: "update " + resource, Err: err}
	}
	return nil
}

// UploadFile submits a binary to the external media endpoint and returns the
// opaque path-like identifier the endpoint assigns.
func (c *Client) UploadFile(ctx context.Context, sess *Session, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("corpId", sess.CorpID); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := w.WriteField("token", sess.Token); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/media/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	env, err := c.doJSON(req)
	if err != nil {
		return "", err
	}
	if env.Path == "" {
		return "", errors.New("upload response missing path")
	}
	return env.Path, nil
}

// DownloadFile fetches the original binary for an identifier. The declared
// media type is forwarded so the endpoint can set the response content type.
func (c *Client) DownloadFile(ctx context.Context, sess *Session, identifier, mediaType string) ([]byte, string, error) {
	body := map[string]any{
		"corpId":     sess.CorpID,
		"token":      sess.Token,
		"identifier": identifier,
		"mediaType":  mediaType,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/media/download", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &TransportError{Op: "download media", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &TransportError{Op: "download media", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &TransportError{Op: "download media", Err: err}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mediaType
	}
	return data, contentType, nil
}

// DeleteFile removes a binary from the external media store. Records still
// referencing the identifier resolve to ErrNotFound on their next download.
func (c *Client) DeleteFile(ctx context.Context, sess *Session, identifier string) error {
	body := map[string]any{
		"corpId":     sess.CorpID,
		"token":      sess.Token,
		"identifier": identifier,
	}
	if _, err := c.postJSON(ctx, "/api/media/delete", body); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// postJSON posts a JSON body and decodes the standard envelope. A non-zero
// errcode is surfaced as an apiError.
func (c *Client) postJSON(ctx context.Context, path string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req)
}

func (c *Client) doJSON(req *http.Request) (*envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &httpError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.ErrCode != 0 {
		return nil, &apiError{Code: env.ErrCode, Message: env.ErrMsg}
	}
	return &env, nil
}

// httpError wraps a network-level failure; always retryable.
type httpError struct {
	err error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

// statusError is a non-200 HTTP status; 5xx is retryable.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func retryable(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return false
}
