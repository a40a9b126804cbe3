package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const defaultAirtableBaseURL = "https://api.airtable.com/v0"

// AirtableRepository talks to one Airtable table through the REST API.
type AirtableRepository struct {
	client  *http.Client
	baseURL string
	apiKey  string
	baseID  string
	tableID string
	viewID  string
}

// NewAirtableRepository builds a repository for cfg's base and table.
func NewAirtableRepository(cfg domain.AppConfig, opts Options) *AirtableRepository {
	baseURL := strings.TrimRight(opts.AirtableBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAirtableBaseURL
	}
	return &AirtableRepository{
		client:  opts.httpClient(),
		baseURL: baseURL,
		apiKey:  cfg.AirtableAPIKey,
		baseID:  cfg.BaseID,
		tableID: cfg.TableID,
		viewID:  cfg.ViewID,
	}
}

type airtableList struct {
	Records []domain.RawRecord `json:"records"`
	Offset  string             `json:"offset"`
}

// FetchTasks pages through the records linked to assigneeID.
func (r *AirtableRepository) FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error) {
	records := []domain.RawRecord{}
	offset := ""
	for {
		q := url.Values{}
		q.Set("filterByFormula", clientFormula(assigneeID))
		q.Set("maxRecords", strconv.Itoa(MaxRecords))
		if r.viewID != "" {
			q.Set("view", r.viewID)
		}
		if offset != "" {
			q.Set("offset", offset)
		}
		var page airtableList
		if err := r.do(ctx, "fetch", http.MethodGet, r.tableURL()+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if page.Offset == "" || len(records) >= MaxRecords {
			break
		}
		offset = page.Offset
	}
	if len(records) > MaxRecords {
		records = records[:MaxRecords]
	}
	return records, nil
}

// CreateTask inserts a record. The lookup column is computed by Airtable and
// cannot be written.
func (r *AirtableRepository) CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error) {
	body := struct {
		Fields   domain.Fields `json:"fields"`
		Typecast bool          `json:"typecast"`
	}{Fields: writableFields(fields), Typecast: true}
	var rec domain.RawRecord
	if err := r.do(ctx, "create", http.MethodPost, r.tableURL(), body, &rec); err != nil {
		return domain.RawRecord{}, err
	}
	return rec, nil
}

// PatchTask updates only the fields present in the fixed field table.
func (r *AirtableRepository) PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error) {
	body := struct {
		Fields   domain.Fields `json:"fields"`
		Typecast bool          `json:"typecast"`
	}{Fields: writableFields(fields), Typecast: true}
	var rec domain.RawRecord
	if err := r.do(ctx, "patch", http.MethodPatch, r.tableURL()+"/"+url.PathEscape(id), body, &rec); err != nil {
		return domain.RawRecord{}, err
	}
	return rec, nil
}

func (r *AirtableRepository) tableURL() string {
	return r.baseURL + "/" + url.PathEscape(r.baseID) + "/" + url.PathEscape(r.tableID)
}

func (r *AirtableRepository) do(ctx context.Context, op, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return &RepositoryError{Backend: domain.BackendAirtable, Op: op, Kind: KindBackend, Err: err}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return networkError(domain.BackendAirtable, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return networkError(domain.BackendAirtable, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(domain.BackendAirtable, op, resp.StatusCode, data)
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RepositoryError{Backend: domain.BackendAirtable, Op: op, Kind: KindBackend, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func clientFormula(assigneeID string) string {
	escaped := strings.ReplaceAll(assigneeID, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `{Client ID} = "` + escaped + `"`
}

func writableFields(fields domain.Fields) domain.Fields {
	out := make(domain.Fields, len(fields))
	for k, v := range fields {
		if domain.IsTaskField(k) {
			out[k] = v
		}
	}
	return out
}
