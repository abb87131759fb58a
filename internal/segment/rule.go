// Package segment describes customer segments as ordered rule lists and
// compiles them into parameterized SQL filters over the customers table.
package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type Field string

const (
	TotalSpend    Field = "Total Spend"
	TotalVisits   Field = "Total Visits"
	LastVisitDate Field = "Last Visit Date"
)

var Fields = []Field{TotalSpend, TotalVisits, LastVisitDate}

type Operator string

const (
	GT Operator = ">"
	LT Operator = "<"
	EQ Operator = "="
)

var Operators = []Operator{GT, LT, EQ}

// Logic joins a rule to the one after it. The zero value means absent and
// is encoded as JSON null.
type Logic string

const (
	NoLogic Logic = ""
	And     Logic = "AND"
	Or      Logic = "OR"
)

func (l Logic) MarshalJSON() ([]byte, error) {
	if l == NoLogic {
		return []byte("null"), nil
	}
	return json.Marshal(string(l))
}

func (l *Logic) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*l = NoLogic
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("logic must be a string or null: %w", err)
	}
	*l = Logic(s)
	return nil
}

type Rule struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
	Logic    Logic    `json:"logic"`
}

// UnmarshalJSON accepts the value as a JSON string or a JSON number.
func (r *Rule) UnmarshalJSON(b []byte) error {
	var raw struct {
		Field    Field           `json:"field"`
		Operator Operator        `json:"operator"`
		Value    json.RawMessage `json:"value"`
		Logic    Logic           `json:"logic"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	value, err := rawValue(raw.Value)
	if err != nil {
		return err
	}
	*r = Rule{Field: raw.Field, Operator: raw.Operator, Value: value, Logic: raw.Logic}
	return nil
}

func rawValue(b json.RawMessage) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return "", err
		}
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return n.String(), nil
	}
	return "", fmt.Errorf("value must be a string or a number, got %s", b)
}

// RuleSet is evaluated left to right; each rule's Logic joins it to the next.
type RuleSet []Rule

// Normalize returns a copy with the terminal logic cleared and absent
// non-terminal logic set to AND, which is how Compile joins them anyway.
func (rs RuleSet) Normalize() RuleSet {
	out := make(RuleSet, len(rs))
	copy(out, rs)
	for i := range out {
		switch {
		case i == len(out)-1:
			out[i].Logic = NoLogic
		case out[i].Logic == NoLogic:
			out[i].Logic = And
		}
	}
	return out
}
