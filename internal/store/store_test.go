package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/Mutter0815/SegmentMailer/internal/audience"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateCampaignWithLogs_WithTx(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	created := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)
	rules := []byte(`[{"field":"Total Spend","operator":">","value":"10","logic":null}]`)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO campaigns (name, message_template, rules_json, total_recipients, status)
		VALUES ($1,$2,$3,$4,'PENDING') RETURNING id, created_at
	`)).
		WithArgs("Diwali", "Hi {customer.name}, enjoy!", rules, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, created))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT $1, unnest($2::bigint[]), 'PENDING'`)).
		WithArgs(int64(7), pq.Array([]int64{11, 12, 13})).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	var (
		id int64
		n  int64
	)
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var e error
		id, _, e = s.InsertCampaign(ctx, tx, "Diwali", "Hi {customer.name}, enjoy!", rules, 3)
		if e != nil {
			return e
		}
		n, e = s.InsertDeliveryLogs(ctx, tx, id, []int64{11, 12, 13})
		return e
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 7 || n != 3 {
		t.Fatalf("want id=7 logs=3, got %d/%d", id, n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	want := errors.New("boom")
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("want %v, got %v", want, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimCampaign(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	claim := regexp.QuoteMeta(`UPDATE campaigns SET status='PROCESSING'`)

	mock.ExpectExec(claim).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ClaimCampaign(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.ClaimCampaign(ctx, 5)
	if err != nil || ok {
		t.Fatalf("second claim must be rejected: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListPendingLogs(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE l.campaign_id = $1 AND l.status = 'PENDING'`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "email", "name"}).
			AddRow(1, 100, "a@x.io", "Asha").
			AddRow(2, 101, "b@x.io", "Bilal"))

	logs, err := s.ListPendingLogs(context.Background(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || logs[1].Email != "b@x.io" || logs[0].CustomerID != 100 {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateLogStatus(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`SET status='SENT', sent_at=NOW(), error_message=NULL`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET status=$2, error_message=$3`)).
		WithArgs(int64(2), "FAILED", "mailbox full").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateLogStatus(ctx, 1, "SENT", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateLogStatus(ctx, 2, "FAILED", "mailbox full"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateCampaignFinal(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`SET emails_sent=$2, emails_failed=$3, status=$4, completed_at=NOW()`)).
		WithArgs(int64(3), 8, 2, "PARTIALLY_COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateCampaignFinal(context.Background(), 3, 8, 2, "PARTIALLY_COMPLETED"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCountAndQueryCustomers(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	rules := segment.RuleSet{{Field: segment.TotalSpend, Operator: segment.GT, Value: "5000"}}

	cq, err := segment.Compile(rules, segment.CountMode)
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(cq.SQL)).
		WithArgs(5000.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := s.CountCustomers(ctx, cq)
	if err != nil || n != 2 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}

	sq, err := segment.Compile(rules, segment.SelectMode)
	if err != nil {
		t.Fatal(err)
	}
	last := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(sq.SQL)).
		WithArgs(5000.0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "total_spend", "total_visits", "last_visit"}).
			AddRow(1, "a@x.io", "Asha", 7200.5, 4, last).
			AddRow(2, "b@x.io", "Bilal", 9100.0, 2, nil))

	got, err := s.QueryCustomers(ctx, sq)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].LastVisit == nil || !got[0].LastVisit.Equal(last) || got[1].LastVisit != nil {
		t.Fatalf("unexpected customers: %+v", got)
	}

	if _, err := s.CountCustomers(ctx, sq); err == nil {
		t.Fatal("expected mode mismatch error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListCampaigns(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "name", "message_template", "rules_json", "total_recipients",
		"emails_sent", "emails_failed", "status", "created_at", "completed_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM campaigns`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC`)).
		WithArgs(20, 20).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(5, "A", "Hello there!", []byte(`[]`), 10, 10, 0, "COMPLETED", created, created))

	rows, total, err := s.ListCampaigns(context.Background(), 500, 20)
	if err != nil {
		t.Fatal(err)
	}
	if total != 25 || len(rows) != 1 || rows[0].Status != "COMPLETED" || !rows[0].CompletedAt.Valid {
		t.Fatalf("unexpected page: total=%d rows=%+v", total, rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetCampaignStats(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM delivery_logs`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "sent", "failed"}).AddRow(3, 0, 2, 1))

	st, err := s.GetCampaignStats(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if st != (CampaignStats{Total: 3, Sent: 2, Failed: 1}) {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestInsertCustomers(t *testing.T) {
	s, mock := newMock(t)
	last := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (email) DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.InsertCustomers(context.Background(), []audience.Customer{
		{Email: "a@x.io", Name: "Asha", TotalSpend: 10, TotalVisits: 1, LastVisit: &last},
		{Email: "b@x.io", Name: "Bilal"},
	})
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMigrate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS delivery_logs`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
}
