// Package validation checks and normalizes recipient rows of an order batch.
// Both ingestion and materialization validate through this package so the two
// passes cannot drift apart.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Additional-Code/allot/internal/entity"
)

// FieldCount is the number of columns in a recipient row.
const FieldCount = 5

// MaxFieldLength bounds name, government id and employee id.
const MaxFieldLength = 40

// Code classifies why a row was rejected.
type Code string

const (
	CodeFieldCount    Code = "field_count"
	CodeEmptyName     Code = "empty_name"
	CodeNameTooLong   Code = "name_too_long"
	CodeInvalidMobile Code = "invalid_mobile"
	CodeUnknownIDType Code = "unknown_id_type"
	CodeGovtIDTooLong Code = "govt_id_too_long"
	CodeEmpIDTooLong  Code = "emp_id_too_long"
)

// Fault is a row-level validation failure.
type Fault struct {
	Line  int
	Field string
	Code  Code
	Value string
}

func (f *Fault) Error() string {
	if f.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", f.Line, f.Field, f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Code)
}

// Recipient is a validated, normalized row.
type Recipient struct {
	Name   string
	Mobile string
	IDType entity.IDType
	GovtID string
	EmpID  string
}

// ValidateRow validates one row of name, mobile number, id type, government
// id number and employee id. Rules apply in that order and the first failure
// wins.
func ValidateRow(fields []string) (Recipient, error) {
	if len(fields) != FieldCount {
		return Recipient{}, &Fault{Field: "row", Code: CodeFieldCount, Value: fmt.Sprintf("%d fields", len(fields))}
	}

	name := CleanName(fields[0])
	if name == "" {
		return Recipient{}, &Fault{Field: "name", Code: CodeEmptyName, Value: fields[0]}
	}
	if runeLen(name) > MaxFieldLength {
		return Recipient{}, &Fault{Field: "name", Code: CodeNameTooLong, Value: name}
	}

	mobile, ok := NormalizeMobile(fields[1])
	if !ok {
		return Recipient{}, &Fault{Field: "mobileNumber", Code: CodeInvalidMobile, Value: fields[1]}
	}

	idType, ok := entity.ParseIDType(fields[2])
	if !ok {
		return Recipient{}, &Fault{Field: "idType", Code: CodeUnknownIDType, Value: fields[2]}
	}

	govtID := strings.TrimSpace(fields[3])
	if runeLen(govtID) > MaxFieldLength {
		return Recipient{}, &Fault{Field: "govtIdNumber", Code: CodeGovtIDTooLong, Value: govtID}
	}

	empID := strings.TrimSpace(fields[4])
	if runeLen(empID) > MaxFieldLength {
		return Recipient{}, &Fault{Field: "empId", Code: CodeEmpIDTooLong, Value: empID}
	}

	return Recipient{
		Name:   name,
		Mobile: mobile,
		IDType: idType,
		GovtID: govtID,
		EmpID:  empID,
	}, nil
}

// CleanName trims the name, drops control characters and collapses runs of
// whitespace into a single space.
func CleanName(raw string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeMobile reduces raw to a 10 digit mobile number. Spaces, dashes,
// dots and parentheses are ignored, and a +91, 91 or 0 trunk prefix is
// stripped. Valid numbers start with 6, 7, 8 or 9.
func NormalizeMobile(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	plus := strings.HasPrefix(s, "+")
	if plus {
		s = s[1:]
	}

	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case c == ' ' || c == '-' || c == '.' || c == '(' || c == ')':
		default:
			return "", false
		}
	}

	if plus && len(digits) != 12 {
		return "", false
	}
	switch {
	case len(digits) == 12 && digits[0] == '9' && digits[1] == '1':
		digits = digits[2:]
	case len(digits) == 11 && digits[0] == '0' && !plus:
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", false
	}
	if digits[0] < '6' {
		return "", false
	}
	return string(digits), true
}

func runeLen(s string) int {
	return len([]rune(s))
}
