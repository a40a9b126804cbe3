// Package identity resolves the client or company a board belongs to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// DefaultBaseURL is the portal API used when no override is configured.
const DefaultBaseURL = "https://api-beta.copilot.com"

var (
	// ErrNoAssigneeID is returned when neither a client nor a company id is given.
	ErrNoAssigneeID = errors.New("identity: client or company id required")
	// ErrAssigneeNotFound is returned when both lookups come back empty.
	ErrAssigneeNotFound = errors.New("identity: assignee not found")
)

// Client calls the portal's client and company endpoints.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *log.Logger
}

// NewClient returns a Client. Empty baseURL selects DefaultBaseURL and a nil
// httpClient gets a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// GetClientOrCompany looks the id up as a client first when clientID is set,
// and as a company first otherwise, falling back to the other kind when the
// first answer is empty.
func (c *Client) GetClientOrCompany(ctx context.Context, apiKey, clientID, companyID string) (*domain.Assignee, error) {
	id, order := clientID, []string{"client", "company"}
	if id == "" {
		id, order = companyID, []string{"company", "client"}
	}
	if id == "" {
		return nil, ErrNoAssigneeID
	}
	for _, kind := range order {
		a, err := c.lookup(ctx, apiKey, kind, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			return a, nil
		}
		c.logger.WithFields(log.Fields{"kind": kind, "id": id}).Debug("assignee lookup empty")
	}
	return nil, ErrAssigneeNotFound
}

func (c *Client) lookup(ctx context.Context, apiKey, kind, id string) (*domain.Assignee, error) {
	target := fmt.Sprintf("%s/v1/%s/%s", c.baseURL, kind, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity %s lookup: %w", kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("identity %s lookup: %w", kind, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity %s lookup: status %d", kind, resp.StatusCode)
	}
	return decodeAssignee(body)
}

type assigneePayload struct {
	ID         string `json:"id"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
	Name       string `json:"name"`
}

// decodeAssignee returns nil for the empty shapes the API uses: {}, an
// empty data object or a not_found code.
func decodeAssignee(body []byte) (*domain.Assignee, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode assignee: %w", err)
	}
	if code, _ := raw["code"].(string); code == "not_found" {
		return nil, nil
	}
	payload := body
	if data, ok := raw["data"]; ok {
		m, _ := data.(map[string]any)
		if len(m) == 0 {
			return nil, nil
		}
		var err error
		if payload, err = sonic.Marshal(m); err != nil {
			return nil, err
		}
	} else if len(raw) == 0 {
		return nil, nil
	}
	var p assigneePayload
	if err := sonic.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode assignee: %w", err)
	}
	if p.ID == "" {
		return nil, nil
	}
	return &domain.Assignee{ID: p.ID, GivenName: p.GivenName, FamilyName: p.FamilyName, Name: p.Name}, nil
}
