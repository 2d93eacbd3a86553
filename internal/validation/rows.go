package validation

import (
	"errors"

	"github.com/Additional-Code/allot/internal/batch"
)

// ValidatedRow pairs a parsed row with its validated recipient.
type ValidatedRow struct {
	Index     int
	Line      int
	Recipient Recipient
}

// ValidateRows validates every row and fails on the first invalid one. The
// returned fault carries the row's line number.
func ValidateRows(rows []batch.Row) ([]ValidatedRow, error) {
	out := make([]ValidatedRow, 0, len(rows))
	for i, row := range rows {
		rec, err := ValidateRow(row.Fields)
		if err != nil {
			var fault *Fault
			if errors.As(err, &fault) {
				fault.Line = row.Line
			}
			return nil, err
		}
		out = append(out, ValidatedRow{Index: i, Line: row.Line, Recipient: rec})
	}
	return out, nil
}
