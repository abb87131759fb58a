// Package audience resolves a segment against the customer store.
package audience

import (
	"context"
	"time"

	"github.com/Mutter0815/SegmentMailer/internal/errs"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
)

type Customer struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	TotalSpend  float64    `json:"total_spend"`
	TotalVisits int64      `json:"total_visits"`
	LastVisit   *time.Time `json:"last_visit,omitempty"`
}

// CustomerStore runs compiled segment queries. It is read-only.
type CustomerStore interface {
	CountCustomers(ctx context.Context, q segment.Query) (int, error)
	QueryCustomers(ctx context.Context, q segment.Query) ([]Customer, error)
}

type Resolver struct {
	Store CustomerStore
}

func NewResolver(st CustomerStore) *Resolver { return &Resolver{Store: st} }

func (r *Resolver) Count(ctx context.Context, rules segment.RuleSet) (int, error) {
	q, err := compile(rules, segment.CountMode)
	if err != nil {
		return 0, err
	}
	n, err := r.Store.CountCustomers(ctx, q)
	if err != nil {
		logx.L().Errorw("audience_count_error", "rules", len(rules), "error", err)
		return 0, errs.Internal(err)
	}
	return n, nil
}

func (r *Resolver) Select(ctx context.Context, rules segment.RuleSet) ([]Customer, error) {
	q, err := compile(rules, segment.SelectMode)
	if err != nil {
		return nil, err
	}
	customers, err := r.Store.QueryCustomers(ctx, q)
	if err != nil {
		logx.L().Errorw("audience_select_error", "rules", len(rules), "error", err)
		return nil, errs.Internal(err)
	}
	return customers, nil
}

func compile(rules segment.RuleSet, mode segment.Mode) (segment.Query, error) {
	if err := segment.Validate(rules); err != nil {
		return segment.Query{}, err
	}
	return segment.Compile(rules, mode)
}
