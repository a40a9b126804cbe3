package board

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

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const idempotencyHeader = "Idempotency-Key"

// InitialData is the server tier's /initial-data payload.
type InitialData struct {
	ClientData *domain.Assignee `json:"clientData"`
	AppConfig  struct {
		Controls           domain.Controls `json:"controls"`
		DefaultChannelType string          `json:"defaultChannelType,omitempty"`
	} `json:"appConfig"`
	DBType domain.Backend `json:"dbType"`
}

// HTTPError is a non-2xx answer from the server tier.
type HTTPError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *HTTPError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server tier: status %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server tier: status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == status
}

// Client talks to the server tier for a single app.
type Client struct {
	http    *http.Client
	baseURL string
	appID   string
}

// NewClient returns a client for appID. A nil httpClient gets a 30 second
// timeout.
func NewClient(baseURL, appID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), appID: appID}
}

// AppID returns the app this client is bound to.
func (c *Client) AppID() string { return c.appID }

// InitialData loads the assignee and the public app settings.
func (c *Client) InitialData(ctx context.Context, clientID, companyID string) (InitialData, error) {
	q := url.Values{"appId": {c.appID}}
	if clientID != "" {
		q.Set("clientId", clientID)
	}
	if companyID != "" {
		q.Set("companyId", companyID)
	}
	var out InitialData
	err := c.do(ctx, http.MethodGet, "/initial-data", q, "", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, key string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		he := &HTTPError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if sonic.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			he.Message, he.Kind = payload.Error, payload.Kind
		} else {
			he.Message = strings.TrimSpace(string(raw))
		}
		return he
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// HTTPRepository implements Repository over the server tier's /data route.
type HTTPRepository struct {
	client *Client
}

func NewHTTPRepository(c *Client) *HTTPRepository {
	return &HTTPRepository{client: c}
}

func (r *HTTPRepository) FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error) {
	var recs []domain.RawRecord
	q := url.Values{"appId": {r.client.appID}, "assigneeId": {assigneeID}}
	if err := r.client.do(ctx, http.MethodGet, "/data", q, "", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// CreateTask forwards the idempotency key attached to ctx.
func (r *HTTPRepository) CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error) {
	var rec domain.RawRecord
	q := url.Values{"appId": {r.client.appID}}
	err := r.client.do(ctx, http.MethodPost, "/data", q, IdempotencyKeyFrom(ctx), fields, &rec)
	return rec, err
}

func (r *HTTPRepository) PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error) {
	var rec domain.RawRecord
	q := url.Values{"appId": {r.client.appID}, "recordId": {id}}
	err := r.client.do(ctx, http.MethodPatch, "/data", q, "", fields, &rec)
	return rec, err
}
