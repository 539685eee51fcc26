package rowstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"letterdesk/internal/apperr"
	"letterdesk/pkg/config"
)

const (
	valueInput       = "USER_ENTERED"
	defaultGridRows  = 1000
	dimensionColumns = "COLUMNS"
)

// SheetsBackend stores each table as a worksheet of one spreadsheet.
type SheetsBackend struct {
	srv           *sheets.Service
	spreadsheetID string
}

// NewSheetsBackend authenticates with service-account credentials from cfg:
// inline base64 JSON first, then a credentials file.
func NewSheetsBackend(ctx context.Context, cfg config.SheetsConfig) (*SheetsBackend, error) {
	if cfg.SpreadsheetID == "" {
		return nil, &apperr.ConfigurationError{Component: "rowstore", Setting: "sheets.spreadsheet_id"}
	}

	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	switch {
	case cfg.CredentialsB64 != "":
		raw, err := base64.StdEncoding.DecodeString(cfg.CredentialsB64)
		if err != nil {
			return nil, &apperr.ConfigurationError{Component: "rowstore", Setting: "sheets.credentials_b64", Err: err}
		}
		opts = append(opts, option.WithCredentialsJSON(raw))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, &apperr.ConfigurationError{Component: "rowstore", Setting: "sheets.credentials_file"}
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, &apperr.ConfigurationError{Component: "rowstore", Setting: "sheets credentials", Err: err}
	}
	return &SheetsBackend{srv: srv, spreadsheetID: cfg.SpreadsheetID}, nil
}

func (b *SheetsBackend) TableExists(ctx context.Context, table string) (bool, error) {
	props, err := b.sheet(ctx, table)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return props != nil, nil
}

func (b *SheetsBackend) CreateTable(ctx context.Context, table string, header []string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: table,
					GridProperties: &sheets.GridProperties{
						RowCount:    defaultGridRows,
						ColumnCount: int64(max(len(header), 1)),
					},
				},
			},
		}},
	}
	if _, err := b.srv.Spreadsheets.BatchUpdate(b.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return tag(err)
	}
	return b.WriteRow(ctx, table, 1, header)
}

func (b *SheetsBackend) ReadAll(ctx context.Context, table string) ([][]string, error) {
	resp, err := b.srv.Spreadsheets.Values.Get(b.spreadsheetID, quoteTitle(table)).Context(ctx).Do()
	if err != nil {
		return nil, tag(err)
	}
	return toStrings(resp.Values), nil
}

func (b *SheetsBackend) ReadRow(ctx context.Context, table string, row int) ([]string, error) {
	rng := fmt.Sprintf("%s!%d:%d", quoteTitle(table), row, row)
	resp, err := b.srv.Spreadsheets.Values.Get(b.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, tag(err)
	}
	rows := toStrings(resp.Values)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (b *SheetsBackend) ReadColumn(ctx context.Context, table string, col int) ([]string, error) {
	letter := ColumnLetter(col)
	rng := fmt.Sprintf("%s!%s:%s", quoteTitle(table), letter, letter)
	resp, err := b.srv.Spreadsheets.Values.Get(b.spreadsheetID, rng).
		MajorDimension(dimensionColumns).Context(ctx).Do()
	if err != nil {
		return nil, tag(err)
	}
	cols := toStrings(resp.Values)
	if len(cols) == 0 {
		return nil, nil
	}
	return cols[0], nil
}

func (b *SheetsBackend) WriteRow(ctx context.Context, table string, row int, values []string) error {
	rng := fmt.Sprintf("%s!A%d:%s%d", quoteTitle(table), row, ColumnLetter(max(len(values), 1)), row)
	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(values)}}
	_, err := b.srv.Spreadsheets.Values.Update(b.spreadsheetID, rng, vr).
		ValueInputOption(valueInput).Context(ctx).Do()
	return tag(err)
}

func (b *SheetsBackend) WriteCells(ctx context.Context, table string, cells []Cell) error {
	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, c := range cells {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", quoteTitle(table), ColumnLetter(c.Col), c.Row),
			Values: [][]interface{}{{c.Value}},
		})
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: valueInput, Data: data}
	_, err := b.srv.Spreadsheets.Values.BatchUpdate(b.spreadsheetID, req).Context(ctx).Do()
	return tag(err)
}

func (b *SheetsBackend) AppendRow(ctx context.Context, table string, values []string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(values)}}
	_, err := b.srv.Spreadsheets.Values.Append(b.spreadsheetID, quoteTitle(table)+"!A1", vr).
		ValueInputOption(valueInput).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return tag(err)
}

func (b *SheetsBackend) GrowColumns(ctx context.Context, table string, cols int) error {
	props, err := b.sheet(ctx, table)
	if err != nil {
		return err
	}
	var have int64
	if props.GridProperties != nil {
		have = props.GridProperties.ColumnCount
	}
	if int64(cols) <= have {
		return nil
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AppendDimension: &sheets.AppendDimensionRequest{
				SheetId:   props.SheetId,
				Dimension: dimensionColumns,
				Length:    int64(cols) - have,
			},
		}},
	}
	_, err = b.srv.Spreadsheets.BatchUpdate(b.spreadsheetID, req).Context(ctx).Do()
	return tag(err)
}

func (b *SheetsBackend) sheet(ctx context.Context, table string) (*sheets.SheetProperties, error) {
	ss, err := b.srv.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, tag(err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == table {
			return s.Properties, nil
		}
	}
	return nil, apperr.NotFound("table", table)
}

// tag marks Google API failures so the backoff classifier and callers can
// tell quota failures and missing tables apart from everything else.
func tag(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return apperr.RateLimited(err)
	case gerr.Code == http.StatusForbidden && hasRateLimitReason(gerr):
		return apperr.RateLimited(err)
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	return err
}

func hasRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

// ColumnLetter converts a 1-based column number to A1 letters.
func ColumnLetter(col int) string {
	var sb []byte
	for col > 0 {
		col--
		sb = append([]byte{byte('A' + col%26)}, sb...)
		col /= 26
	}
	return string(sb)
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
