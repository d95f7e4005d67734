// Package money represents monetary amounts as integer cents so that bill
// arithmetic is exact. Amounts marshal as plain two-decimal JSON numbers
// ("118.00") and unmarshal from numbers or numeric strings.
package money

import (
	"errors"
	"fmt"
	"strings"
)

type Cents int64

var ErrInvalidAmount = errors.New("invalid amount")

// Parse converts a decimal string like "100", "100.5" or "100.00" to cents.
// Negative amounts and more than two decimal places are rejected.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrInvalidAmount
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var total int64
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, ErrInvalidAmount
			}
			d := int64(r - '0')
			if total > (1<<62)/10 {
				return 0, ErrInvalidAmount
			}
			total = total*10 + d
		}
	}
	return Cents(total), nil
}

// String renders the amount with exactly two decimal places.
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
