package segment

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Accepted formats:
//
//	Total Spend      [₹|$|Rs|Rs.|INR] 1234 | 1,234 | 1234.50   (>= 0)
//	Total Visits     12 | 1,200 | 12.0                         (whole, >= 0)
//	Last Visit Date  2024-05-31 | 2024-05-31T10:00:00Z          (UTC date)
var (
	spendRe  = regexp.MustCompile(`^(?:(?:₹|\$|rs\.?|inr)\s*)?((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)$`)
	visitsRe = regexp.MustCompile(`^((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)$`)
)

var errEmptyValue = errors.New("value is required")

// Coerce converts a rule value to the Go type bound for its column:
// float64 for spend, int64 for visits and time.Time for the last visit date.
func Coerce(field Field, value string) (any, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errEmptyValue
	}
	switch field {
	case TotalSpend:
		m := spendRe.FindStringSubmatch(strings.ToLower(v))
		if m == nil {
			return nil, fmt.Errorf("%s value %q must be a non-negative amount", field, value)
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%s value %q is out of range", field, value)
		}
		return f, nil
	case TotalVisits:
		m := visitsRe.FindStringSubmatch(v)
		if m == nil {
			return nil, fmt.Errorf("%s value %q must be a non-negative whole number", field, value)
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil || f != math.Trunc(f) || f > math.MaxInt32 {
			return nil, fmt.Errorf("%s value %q must be a non-negative whole number", field, value)
		}
		return int64(f), nil
	case LastVisitDate:
		if d, err := time.Parse(DateLayout, v); err == nil {
			return d, nil
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			ts = ts.UTC()
			return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		return nil, fmt.Errorf("%s value %q must be a date (YYYY-MM-DD)", field, value)
	}
	return nil, fmt.Errorf("unknown field %q", field)
}
