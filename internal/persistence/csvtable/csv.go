package csvtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"collabdir/internal/core"
)

const bom = "\ufeff"

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

// readRows returns the header and the remaining rows. An empty input has no
// header and no rows.
func readRows(r io.Reader) ([]string, [][]string, error) {
	cr := newReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], bom)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// ReadCollaborators decodes a collaborators CSV in row order. Columns are
// matched by header name; unknown columns are ignored and missing columns
// decode to their defaults. Rows with no non-blank cell are skipped.
func ReadCollaborators(r io.Reader) ([]core.Collaborator, error) {
	header, rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	records := make([]core.Collaborator, 0, len(rows))
	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		flat := make(map[string]string, len(header))
		for i, col := range header {
			if col == "" || i >= len(row) {
				continue
			}
			flat[col] = row[i]
		}
		records = append(records, core.DecodeRow(flat))
	}
	return records, nil
}

// WriteCollaborators encodes records under the fixed column schema. An empty
// table is written as a header-only CSV.
func WriteCollaborators(w io.Writer, records []core.Collaborator) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(core.Columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(core.EncodeRecord(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAdmins returns the trimmed, non-blank values of the "email" column,
// or of the first column when no header is named email.
func ReadAdmins(r io.Reader) ([]string, error) {
	header, rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	col := 0
	for i, name := range header {
		if strings.EqualFold(name, "email") {
			col = i
			break
		}
	}
	var out []string
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		if email := strings.TrimSpace(row[col]); email != "" {
			out = append(out, email)
		}
	}
	return out, nil
}

// WriteAdmins writes a single-column admin table.
func WriteAdmins(w io.Writer, emails []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"email"}); err != nil {
		return err
	}
	for _, email := range emails {
		if err := cw.Write([]string{email}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
