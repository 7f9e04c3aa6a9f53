package customers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsConfig holds the service-account credentials and target spreadsheet.
type SheetsConfig struct {
	ClientEmail   string
	PrivateKey    string
	SpreadsheetID string
	SheetName     string
}

// SheetsStore keeps the customer book in a shared Google spreadsheet, row
// layout A:H = id, name, phone, email, company, position, registered, memo.
// The first row is a header.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	sheet         string
}

func NewSheetsStore(ctx context.Context, cfg SheetsConfig) (*SheetsStore, error) {
	conf := &jwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: []byte(cfg.PrivateKey),
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	sheet := cfg.SheetName
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &SheetsStore{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheet: sheet}, nil
}

func (s *SheetsStore) rng(cells string) string {
	return s.sheet + "!" + cells
}

// Status reports the spreadsheet title and tab names for the health endpoint.
func (s *SheetsStore) Status(ctx context.Context) (title string, tabs []string, err error) {
	resp, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return "", nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			tabs = append(tabs, sh.Properties.Title)
		}
	}
	if resp.Properties != nil {
		title = resp.Properties.Title
	}
	return title, tabs, nil
}

func (s *SheetsStore) List(ctx context.Context) ([]Customer, error) {
	rows, err := s.rows(ctx, s.rng("A:H"))
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	list := make([]Customer, 0, len(rows)-1)
	for i, row := range rows[1:] {
		c := rowToCustomer(row)
		if c.ID == "" {
			c.ID = fmt.Sprintf("%d", i+1)
		}
		if c.Name == "" {
			continue
		}
		list = append(list, c)
	}
	return list, nil
}

func (s *SheetsStore) Add(ctx context.Context, c Customer) (Customer, error) {
	if c.Name == "" || c.Phone == "" {
		return Customer{}, ErrInvalid
	}

	// The next id is the current row count, header included.
	idRows, err := s.rows(ctx, s.rng("A:A"))
	if err != nil {
		return Customer{}, err
	}
	c.ID = fmt.Sprintf("%d", len(idRows))
	if c.RegisteredDate == "" {
		c.RegisteredDate = time.Now().Format("2006-01-02")
	}

	_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.rng("A:H"), &sheets.ValueRange{
		Values: [][]any{customerToRow(c)},
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return Customer{}, fmt.Errorf("append customer row: %w", err)
	}
	return c, nil
}

func (s *SheetsStore) Update(ctx context.Context, id string, p Patch) (Customer, error) {
	rows, err := s.rows(ctx, s.rng("A:H"))
	if err != nil {
		return Customer{}, err
	}
	idx := findRow(rows, id)
	if idx < 0 {
		return Customer{}, ErrNotFound
	}

	updated := rowToCustomer(rows[idx]).apply(p)
	updated.ID = id

	rangeRef := s.rng(fmt.Sprintf("A%d:H%d", idx+1, idx+1))
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rangeRef, &sheets.ValueRange{
		Values: [][]any{customerToRow(updated)},
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return Customer{}, fmt.Errorf("update customer row: %w", err)
	}
	return updated, nil
}

func (s *SheetsStore) Delete(ctx context.Context, id string) error {
	rows, err := s.rows(ctx, s.rng("A:A"))
	if err != nil {
		return err
	}
	idx := findRow(rows, id)
	if idx < 0 {
		return ErrNotFound
	}

	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	sheetID := int64(-1)
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheet {
			sheetID = sh.Properties.SheetId
			break
		}
	}
	if sheetID < 0 {
		if len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil {
			return fmt.Errorf("spreadsheet has no sheets")
		}
		sheetID = meta.Sheets[0].Properties.SheetId
	}

	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(idx),
					EndIndex:   int64(idx + 1),
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete customer row: %w", err)
	}
	return nil
}

func (s *SheetsStore) rows(ctx context.Context, rangeRef string) ([][]any, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rangeRef).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rangeRef, err)
	}
	return resp.Values, nil
}

// findRow locates a customer row by id, skipping the header.
func findRow(rows [][]any, id string) int {
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if cell(row, 0) == id {
			return i
		}
	}
	return -1
}

func rowToCustomer(row []any) Customer {
	return Customer{
		ID:             cell(row, 0),
		Name:           cell(row, 1),
		Phone:          cell(row, 2),
		Email:          cell(row, 3),
		Company:        cell(row, 4),
		Position:       cell(row, 5),
		RegisteredDate: cell(row, 6),
		Memo:           cell(row, 7),
	}
}

func customerToRow(c Customer) []any {
	return []any{c.ID, c.Name, c.Phone, c.Email, c.Company, c.Position, c.RegisteredDate, c.Memo}
}

func cell(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}
