package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/Mutter0815/SegmentMailer/internal/audience"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
)

func (s *Store) CountCustomers(ctx context.Context, q segment.Query) (int, error) {
	if q.Mode != segment.CountMode {
		return 0, fmt.Errorf("count customers: query compiled in %s mode", q.Mode)
	}
	var n int
	if err := s.DB.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) QueryCustomers(ctx context.Context, q segment.Query) ([]audience.Customer, error) {
	if q.Mode != segment.SelectMode {
		return nil, fmt.Errorf("query customers: query compiled in %s mode", q.Mode)
	}
	rows, err := s.DB.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audience.Customer
	for rows.Next() {
		var (
			c    audience.Customer
			last sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.TotalSpend, &c.TotalVisits, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			c.LastVisit = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCustomers bulk-loads customers, skipping emails that already exist.
func (s *Store) InsertCustomers(ctx context.Context, customers []audience.Customer) (int64, error) {
	if len(customers) == 0 {
		return 0, nil
	}
	var (
		emails = make([]string, len(customers))
		names  = make([]string, len(customers))
		spends = make([]float64, len(customers))
		visits = make([]int64, len(customers))
		lasts  = make([]sql.NullString, len(customers))
	)
	for i, c := range customers {
		emails[i] = c.Email
		names[i] = c.Name
		spends[i] = c.TotalSpend
		visits[i] = c.TotalVisits
		if c.LastVisit != nil {
			lasts[i] = sql.NullString{String: c.LastVisit.Format(segment.DateLayout), Valid: true}
		}
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO customers (email, name, total_spend, total_visits, last_visit)
		SELECT * FROM unnest($1::text[], $2::text[], $3::numeric[], $4::int[], $5::date[])
		ON CONFLICT (email) DO NOTHING
	`, pq.Array(emails), pq.Array(names), pq.Array(spends), pq.Array(visits), pq.Array(lasts))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
