package store

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	DB *sql.DB
}

type CampaignRow struct {
	ID              int64
	Name            string
	MessageTemplate string
	RulesJSON       []byte
	TotalRecipients int
	EmailsSent      int
	EmailsFailed    int
	Status          string
	CreatedAt       time.Time
	CompletedAt     sql.NullTime
}

type CampaignStats struct {
	Total   int
	Pending int
	Sent    int
	Failed  int
}

// PendingLog is a delivery log still waiting to be sent, joined with its
// recipient.
type PendingLog struct {
	ID         int64
	CustomerID int64
	Email      string
	Name       string
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) InsertCampaign(ctx context.Context, tx *sql.Tx, name, template string, rulesJSON []byte, totalRecipients int) (int64, time.Time, error) {
	var (
		id        int64
		createdAt time.Time
	)
	err := tx.QueryRowContext(ctx, `
		INSERT INTO campaigns (name, message_template, rules_json, total_recipients, status)
		VALUES ($1,$2,$3,$4,'PENDING') RETURNING id, created_at
	`, name, template, rulesJSON, totalRecipients).Scan(&id, &createdAt)
	return id, createdAt, err
}

// InsertDeliveryLogs writes one PENDING log per customer in a single statement.
func (s *Store) InsertDeliveryLogs(ctx context.Context, tx *sql.Tx, campaignID int64, customerIDs []int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO delivery_logs (campaign_id, customer_id, status)
		SELECT $1, unnest($2::bigint[]), 'PENDING'
	`, campaignID, pq.Array(customerIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimCampaign moves a PENDING campaign to PROCESSING. It reports false
// when the campaign was already claimed or finished.
func (s *Store) ClaimCampaign(ctx context.Context, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status='PROCESSING'
		 WHERE id=$1 AND status='PENDING'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ListPendingLogs(ctx context.Context, campaignID int64) ([]PendingLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT l.id, l.customer_id, c.email, c.name
		FROM delivery_logs l
		JOIN customers c ON c.id = l.customer_id
		WHERE l.campaign_id = $1 AND l.status = 'PENDING'
		ORDER BY l.id
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingLog
	for rows.Next() {
		var p PendingLog
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.Email, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateLogStatus moves a PENDING log to SENT or FAILED. Logs that already
// left PENDING are not touched.
func (s *Store) UpdateLogStatus(ctx context.Context, logID int64, status, errMsg string) error {
	if status == "SENT" {
		_, err := s.DB.ExecContext(ctx, `
			UPDATE delivery_logs
			   SET status='SENT', sent_at=NOW(), error_message=NULL
			 WHERE id=$1 AND status='PENDING'
		`, logID)
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE delivery_logs
		   SET status=$2, error_message=$3
		 WHERE id=$1 AND status='PENDING'
	`, logID, status, errMsg)
	return err
}

func (s *Store) UpdateCampaignFinal(ctx context.Context, id int64, sent, failed int, status string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns
		   SET emails_sent=$2, emails_failed=$3, status=$4, completed_at=NOW()
		 WHERE id=$1
	`, id, sent, failed, status)
	return err
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id int64, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE campaigns SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (CampaignRow, error) {
	var c CampaignRow
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, message_template, rules_json, total_recipients,
		       emails_sent, emails_failed, status, created_at, completed_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.MessageTemplate, &c.RulesJSON, &c.TotalRecipients,
		&c.EmailsSent, &c.EmailsFailed, &c.Status, &c.CreatedAt, &c.CompletedAt)
	if err != nil {
		return CampaignRow{}, err
	}
	return c, nil
}

func (s *Store) GetCampaignStats(ctx context.Context, id int64) (CampaignStats, error) {
	var st CampaignStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  COUNT(*)                                         AS total,
		  COUNT(*) FILTER (WHERE status='PENDING')         AS pending,
		  COUNT(*) FILTER (WHERE status='SENT')            AS sent,
		  COUNT(*) FILTER (WHERE status='FAILED')          AS failed
		FROM delivery_logs
		WHERE campaign_id = $1
	`, id).Scan(&st.Total, &st.Pending, &st.Sent, &st.Failed)
	if err != nil {
		return CampaignStats{}, err
	}
	return st, nil
}

// ListCampaigns returns one page, newest first, plus the total campaign count.
func (s *Store) ListCampaigns(ctx context.Context, limit, offset int) ([]CampaignRow, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, message_template, rules_json, total_recipients,
		       emails_sent, emails_failed, status, created_at, completed_at
		FROM campaigns
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := make([]CampaignRow, 0, limit)
	for rows.Next() {
		var c CampaignRow
		if err := rows.Scan(&c.ID, &c.Name, &c.MessageTemplate, &c.RulesJSON, &c.TotalRecipients,
			&c.EmailsSent, &c.EmailsFailed, &c.Status, &c.CreatedAt, &c.CompletedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}
