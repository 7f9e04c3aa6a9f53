package customers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
)

var (
	ErrNotFound = errors.New("customer not found")
	// ErrInvalid marks a record missing the required name or phone fields.
	ErrInvalid = errors.New("customer needs a name and phone number")
)

// Customer is one row of the customer book. RegisteredDate is kept as the
// sheet-format date string (YYYY-MM-DD), not a time.Time, so round-tripping
// through the spreadsheet never reformats it.
type Customer struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Company        string `json:"company"`
	Position       string `json:"position"`
	RegisteredDate string `json:"registeredDate"`
	Memo           string `json:"memo"`
}

// Patch updates selected fields. Name and phone fall back to the stored
// value when empty; the pointer fields distinguish "clear" from "keep".
type Patch struct {
	Name     string
	Phone    string
	Email    *string
	Company  *string
	Position *string
	Memo     *string
}

// Store is the customer book behind the management API.
type Store interface {
	List(ctx context.Context) ([]Customer, error)
	Add(ctx context.Context, c Customer) (Customer, error)
	Update(ctx context.Context, id string, p Patch) (Customer, error)
	Delete(ctx context.Context, id string) error
}

func (c Customer) apply(p Patch) Customer {
	if p.Name != "" {
		c.Name = p.Name
	}
	if p.Phone != "" {
		c.Phone = p.Phone
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Company != nil {
		c.Company = *p.Company
	}
	if p.Position != nil {
		c.Position = *p.Position
	}
	if p.Memo != nil {
		c.Memo = *p.Memo
	}
	return c
}

var csvHeader = []string{"고객ID", "이름", "전화번호", "이메일", "회사", "직책", "등록일", "메모"}

// ExportCSV renders the customer book as UTF-8 CSV with a BOM so Korean text
// opens cleanly in spreadsheet applications.
func ExportCSV(list []Customer) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("\uFEFF")

	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, c := range list {
		row := []string{c.ID, c.Name, c.Phone, c.Email, c.Company, c.Position, c.RegisteredDate, c.Memo}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
