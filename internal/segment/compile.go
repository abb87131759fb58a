package segment

import (
	"strconv"
	"strings"

	"github.com/Mutter0815/SegmentMailer/internal/errs"
)

type Mode int

const (
	CountMode Mode = iota
	SelectMode
)

func (m Mode) String() string {
	if m == SelectMode {
		return "select"
	}
	return "count"
}

type Query struct {
	SQL  string
	Args []any
	Mode Mode
}

var columns = map[Field]string{
	TotalSpend:    "total_spend",
	TotalVisits:   "total_visits",
	LastVisitDate: "last_visit",
}

var sqlOperators = map[Operator]string{
	GT: ">",
	LT: "<",
	EQ: "=",
}

const (
	countPrefix  = `SELECT COUNT(*) FROM customers WHERE `
	selectPrefix = `SELECT id, email, name, total_spend, total_visits, last_visit FROM customers WHERE `
	selectSuffix = ` ORDER BY id`
)

// Compile emits one "column op $n" condition per rule, joined by the rules'
// logic tokens without grouping, so SQL precedence applies (AND binds
// tighter than OR). Rules are expected to have passed Validate.
func Compile(rules RuleSet, mode Mode) (Query, error) {
	if len(rules) == 0 {
		return Query{}, errs.Internalf("compile: empty rule set")
	}

	var b strings.Builder
	if mode == SelectMode {
		b.WriteString(selectPrefix)
	} else {
		b.WriteString(countPrefix)
	}

	args := make([]any, 0, len(rules))
	for i, r := range rules {
		col, ok := columns[r.Field]
		if !ok {
			return Query{}, errs.Internalf("compile: unmapped field %q", r.Field)
		}
		op, ok := sqlOperators[r.Operator]
		if !ok {
			return Query{}, errs.Internalf("compile: unmapped operator %q", r.Operator)
		}
		v, err := Coerce(r.Field, r.Value)
		if err != nil {
			return Query{}, errs.Invalid(i+1, "%s", err.Error())
		}
		args = append(args, v)

		if i > 0 {
			logic := rules[i-1].Logic
			switch logic {
			case NoLogic:
				logic = And
			case And, Or:
			default:
				return Query{}, errs.Internalf("compile: unmapped logic %q", logic)
			}
			b.WriteByte(' ')
			b.WriteString(string(logic))
			b.WriteByte(' ')
		}
		b.WriteString(col)
		b.WriteByte(' ')
		b.WriteString(op)
		b.WriteString(" $")
		b.WriteString(strconv.Itoa(len(args)))
	}

	if mode == SelectMode {
		b.WriteString(selectSuffix)
	}
	return Query{SQL: b.String(), Args: args, Mode: mode}, nil
}
