package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"taskboard/domain"
)

const (
	defaultSheetsBaseURL = "https://sheets.googleapis.com"
	defaultTokenURL      = "https://oauth2.googleapis.com/token"
	sheetsScope          = "https://www.googleapis.com/auth/spreadsheets"

	// DefaultTaskSheet is the worksheet holding one task per row.
	DefaultTaskSheet = "Task List"
	// AssigneeSheet maps assignee ids to the reference written on new rows.
	AssigneeSheet = "Assignee List"

	assigneeReferenceColumn = "Reference"
)

var errNoSheetsCredentials = errors.New("google sheets credentials are not configured")

// SheetsRepository stores tasks as rows of a Google Sheets worksheet. The
// first row is the header and a record id is the 1-based row number.
type SheetsRepository struct {
	client  *http.Client
	baseURL string
	sheetID string
	sheet   string
}

// NewSheetsRepository authenticates with a service account unless
// opts.SheetsTokenSource is set.
func NewSheetsRepository(cfg domain.AppConfig, opts Options) (*SheetsRepository, error) {
	ts := opts.SheetsTokenSource
	if ts == nil {
		if opts.SheetsClientEmail == "" || opts.SheetsPrivateKey == "" {
			return nil, errNoSheetsCredentials
		}
		tokenURL := opts.SheetsTokenURL
		if tokenURL == "" {
			tokenURL = defaultTokenURL
		}
		conf := &jwt.Config{
			Email:      opts.SheetsClientEmail,
			PrivateKey: []byte(strings.ReplaceAll(opts.SheetsPrivateKey, `\n`, "\n")),
			Scopes:     []string{sheetsScope},
			TokenURL:   tokenURL,
		}
		ts = conf.TokenSource(context.Background())
	}
	base := opts.httpClient()
	client := &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, ts),
			Base:   base.Transport,
		},
	}
	baseURL := strings.TrimRight(opts.SheetsBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSheetsBaseURL
	}
	sheet := strings.TrimSpace(cfg.SheetTitle)
	if sheet == "" {
		sheet = DefaultTaskSheet
	}
	return &SheetsRepository{client: client, baseURL: baseURL, sheetID: cfg.GoogleSheetID, sheet: sheet}, nil
}

type valueRange struct {
	Range  string     `json:"range,omitempty"`
	Values [][]string `json:"values"`
}

// FetchTasks reads the whole worksheet and keeps the assignee's rows.
func (r *SheetsRepository) FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error) {
	rows, err := r.readSheet(ctx, "fetch", r.sheet)
	if err != nil {
		return nil, err
	}
	records := []domain.RawRecord{}
	if len(rows) == 0 {
		return records, nil
	}
	header := rows[0]
	for i := 1; i < len(rows) && len(records) < MaxRecords; i++ {
		rec := rowRecord(header, rows[i], i+1)
		if rec.Fields[domain.FieldAssigneeID] != assigneeID {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// CreateTask appends a row. A missing reference is looked up from the
// assignee worksheet.
func (r *SheetsRepository) CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error) {
	rows, err := r.readSheet(ctx, "create", quoteSheet(r.sheet)+"!1:1")
	if err != nil {
		return domain.RawRecord{}, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return domain.RawRecord{}, &RepositoryError{Backend: domain.BackendGoogleSheet, Op: "create", Kind: KindBackend, Err: errors.New("worksheet has no header row")}
	}
	header := rows[0]

	fields = fields.Clone()
	if cellValue(fields[domain.FieldClientIDRef]) == "" {
		if id := cellValue(fields[domain.FieldAssigneeID]); id != "" {
			ref, err := r.lookupReference(ctx, id)
			if err != nil {
				return domain.RawRecord{}, err
			}
			if ref != "" {
				fields[domain.FieldClientIDRef] = ref
			}
		}
	}

	row := make([]string, len(header))
	for i, col := range header {
		row[i] = cellValue(fields[col])
	}
	q := url.Values{}
	q.Set("valueInputOption", "USER_ENTERED")
	q.Set("insertDataOption", "INSERT_ROWS")
	target := r.valuesURL(quoteSheet(r.sheet)) + ":append?" + q.Encode()
	var resp struct {
		Updates struct {
			UpdatedRange string `json:"updatedRange"`
		} `json:"updates"`
	}
	if err := r.do(ctx, "create", http.MethodPost, target, valueRange{Values: [][]string{row}}, &resp); err != nil {
		return domain.RawRecord{}, err
	}
	rowNum, err := rowFromRange(resp.Updates.UpdatedRange)
	if err != nil {
		return domain.RawRecord{}, &RepositoryError{Backend: domain.BackendGoogleSheet, Op: "create", Kind: KindBackend, Err: err}
	}
	return rowRecord(header, row, rowNum), nil
}

// PatchTask overwrites the cells of columns present in the header.
func (r *SheetsRepository) PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error) {
	rowNum, err := strconv.Atoi(id)
	if err != nil || rowNum < 2 {
		return domain.RawRecord{}, &RepositoryError{Backend: domain.BackendGoogleSheet, Op: "patch", Kind: KindNotFound, Err: ErrRecordNotFound}
	}
	rows, err := r.readSheet(ctx, "patch", r.sheet)
	if err != nil {
		return domain.RawRecord{}, err
	}
	if len(rows) < rowNum {
		return domain.RawRecord{}, &RepositoryError{Backend: domain.BackendGoogleSheet, Op: "patch", Kind: KindNotFound, Err: ErrRecordNotFound}
	}
	header := rows[0]
	current := make([]string, len(header))
	copy(current, rows[rowNum-1])

	var data []valueRange
	for i, col := range header {
		v, ok := fields[col]
		if !ok || !domain.IsTaskField(col) {
			continue
		}
		current[i] = cellValue(v)
		data = append(data, valueRange{
			Range:  fmt.Sprintf("%s!%s%d", quoteSheet(r.sheet), columnName(i), rowNum),
			Values: [][]string{{current[i]}},
		})
	}
	if len(data) > 0 {
		body := struct {
			ValueInputOption string       `json:"valueInputOption"`
			Data             []valueRange `json:"data"`
		}{ValueInputOption: "USER_ENTERED", Data: data}
		target := r.baseURL + "/v4/spreadsheets/" + url.PathEscape(r.sheetID) + "/values:batchUpdate"
		if err := r.do(ctx, "patch", http.MethodPost, target, body, nil); err != nil {
			return domain.RawRecord{}, err
		}
	}
	return rowRecord(header, current, rowNum), nil
}

func (r *SheetsRepository) lookupReference(ctx context.Context, assigneeID string) (string, error) {
	rows, err := r.readSheet(ctx, "create", AssigneeSheet)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return "", nil
		}
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	for i := 1; i < len(rows); i++ {
		rec := rowRecord(rows[0], rows[i], i+1)
		if rec.Fields[domain.FieldAssigneeID] == assigneeID {
			ref, _ := rec.Fields[assigneeReferenceColumn].(string)
			return ref, nil
		}
	}
	return "", nil
}

func (r *SheetsRepository) readSheet(ctx context.Context, op, rng string) ([][]string, error) {
	var vr valueRange
	if err := r.do(ctx, op, http.MethodGet, r.valuesURL(rng), nil, &vr); err != nil {
		return nil, err
	}
	return vr.Values, nil
}

func (r *SheetsRepository) valuesURL(rng string) string {
	return r.baseURL + "/v4/spreadsheets/" + url.PathEscape(r.sheetID) + "/values/" + url.PathEscape(rng)
}

func (r *SheetsRepository) do(ctx context.Context, op, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return &RepositoryError{Backend: domain.BackendGoogleSheet, Op: op, Kind: KindBackend, Err: err}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return networkError(domain.BackendGoogleSheet, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return &RepositoryError{Backend: domain.BackendGoogleSheet, Op: op, Kind: KindAuth, Err: err}
		}
		return networkError(domain.BackendGoogleSheet, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		repoErr := statusError(domain.BackendGoogleSheet, op, resp.StatusCode, data)
		// an unknown worksheet is reported as a bad range
		if resp.StatusCode == http.StatusBadRequest && bytes.Contains(data, []byte("Unable to parse range")) {
			repoErr.Kind = KindNotFound
			repoErr.Err = ErrRecordNotFound
		}
		return repoErr
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RepositoryError{Backend: domain.BackendGoogleSheet, Op: op, Kind: KindBackend, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func rowRecord(header, row []string, rowNum int) domain.RawRecord {
	fields := make(domain.Fields, len(header))
	for i, col := range header {
		if col == "" {
			continue
		}
		v := ""
		if i < len(row) {
			v = row[i]
		}
		fields[col] = v
	}
	return domain.RawRecord{ID: strconv.Itoa(rowNum), Fields: fields}
}

func cellValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, cellValue(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		if u, ok := val["url"].(string); ok {
			return u
		}
	}
	return fmt.Sprint(v)
}

func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// columnName converts a 0-based index to A1 notation (0 -> A, 26 -> AA).
func columnName(i int) string {
	name := ""
	for i >= 0 {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
	}
	return name
}

// rowFromRange extracts the first row number of an A1 range such as
// "'Task List'!A7:G7".
func rowFromRange(rng string) (int, error) {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[i+1:]
	}
	if i := strings.Index(rng, ":"); i >= 0 {
		rng = rng[:i]
	}
	digits := strings.TrimLeft(rng, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("parse updated range %q: %w", rng, err)
	}
	return n, nil
}
