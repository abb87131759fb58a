// Package campaign creates campaigns from segment rules and hands them to
// asynchronous delivery.
package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Mutter0815/SegmentMailer/internal/audience"
	"github.com/Mutter0815/SegmentMailer/internal/errs"
	"github.com/Mutter0815/SegmentMailer/internal/nlrules"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
	"github.com/Mutter0815/SegmentMailer/internal/store"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
	"github.com/Mutter0815/SegmentMailer/pkg/model"
)

const (
	DefaultMaxRecipients = 10000
	DefaultPageSize      = 20
	MaxPageSize          = 100

	minNameLength     = 3
	minTemplateLength = 10
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	InsertCampaign(ctx context.Context, tx *sql.Tx, name, template string, rulesJSON []byte, totalRecipients int) (int64, time.Time, error)
	InsertDeliveryLogs(ctx context.Context, tx *sql.Tx, campaignID int64, customerIDs []int64) (int64, error)
	UpdateCampaignStatus(ctx context.Context, id int64, status string) error
	GetCampaign(ctx context.Context, id int64) (store.CampaignRow, error)
	GetCampaignStats(ctx context.Context, id int64) (store.CampaignStats, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]store.CampaignRow, int, error)
}

type Audience interface {
	Count(ctx context.Context, rules segment.RuleSet) (int, error)
	Select(ctx context.Context, rules segment.RuleSet) ([]audience.Customer, error)
}

type RuleGenerator interface {
	Generate(ctx context.Context, prompt string) (nlrules.Result, error)
}

// Submitter schedules delivery of a persisted campaign and returns without
// waiting for it.
type Submitter interface {
	Submit(ctx context.Context, campaignID int64) (model.DeliveryJob, error)
}

type Service struct {
	Store         Store
	Audience      Audience
	Generator     RuleGenerator
	Queue         Submitter
	MaxRecipients int
}

func NewService(st Store, aud Audience, gen RuleGenerator, q Submitter, maxRecipients int) *Service {
	if maxRecipients <= 0 {
		maxRecipients = DefaultMaxRecipients
	}
	return &Service{Store: st, Audience: aud, Generator: gen, Queue: q, MaxRecipients: maxRecipients}
}

// Create validates the request, resolves the audience and persists the
// campaign with one PENDING log per recipient, then submits it for delivery.
func (s *Service) Create(ctx context.Context, req CreateCampaignReq) (CreateCampaignResp, error) {
	name := strings.TrimSpace(req.Name)
	template := strings.TrimSpace(req.MessageTemplate)
	if utf8.RuneCountInString(name) < minNameLength {
		return CreateCampaignResp{}, errs.Invalid(0, "campaign name must be at least %d characters", minNameLength)
	}
	if utf8.RuneCountInString(template) < minTemplateLength {
		return CreateCampaignResp{}, errs.Invalid(0, "message template must be at least %d characters", minTemplateLength)
	}
	if err := segment.Validate(req.Rules); err != nil {
		return CreateCampaignResp{}, err
	}

	customers, err := s.Audience.Select(ctx, req.Rules)
	if err != nil {
		return CreateCampaignResp{}, err
	}
	if len(customers) == 0 {
		return CreateCampaignResp{}, errs.NotFound("no customers match the specified criteria")
	}
	if s.MaxRecipients > 0 && len(customers) > s.MaxRecipients {
		return CreateCampaignResp{}, errs.Capacity(fmt.Sprintf(
			"audience of %d exceeds the limit of %d recipients", len(customers), s.MaxRecipients))
	}

	rules := req.Rules.Normalize()
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return CreateCampaignResp{}, errs.Internal(err)
	}
	ids := make([]int64, len(customers))
	for i, c := range customers {
		ids[i] = c.ID
	}

	var (
		campaignID int64
		createdAt  time.Time
	)
	err = s.Store.WithTx(ctx, func(tx *sql.Tx) error {
		id, at, err := s.Store.InsertCampaign(ctx, tx, name, template, rulesJSON, len(ids))
		if err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		campaignID, createdAt = id, at
		if _, err := s.Store.InsertDeliveryLogs(ctx, tx, id, ids); err != nil {
			return fmt.Errorf("insert delivery logs: %w", err)
		}
		return nil
	})
	if err != nil {
		logx.L().Errorw("campaign_persist_error", "name", name, "recipients", len(ids), "error", err)
		return CreateCampaignResp{}, errs.Internal(err)
	}

	job, err := s.Queue.Submit(ctx, campaignID)
	if err != nil {
		logx.L().Errorw("campaign_submit_error", "campaign_id", campaignID, "error", err)
		if uerr := s.Store.UpdateCampaignStatus(context.WithoutCancel(ctx), campaignID, string(StatusFailed)); uerr != nil {
			logx.L().Errorw("campaign_mark_failed_error", "campaign_id", campaignID, "error", uerr)
		}
		return CreateCampaignResp{}, errs.Internal(fmt.Errorf("submit delivery: %w", err))
	}

	metrics.CampaignsCreated.Inc()
	logx.L().Infow("campaign_created",
		"campaign_id", campaignID,
		"recipients", len(ids),
		"job_id", job.JobID,
	)

	return CreateCampaignResp{
		Message: "Campaign created and queued for delivery",
		JobID:   job.JobID,
		Campaign: Campaign{
			ID:              campaignID,
			Name:            name,
			MessageTemplate: template,
			Rules:           rules,
			TotalRecipients: len(ids),
			Pending:         len(ids),
			Status:          StatusPending,
			CreatedAt:       createdAt,
		},
	}, nil
}

func (s *Service) PreviewAudience(ctx context.Context, rules segment.RuleSet) (AudiencePreviewResp, error) {
	n, err := s.Audience.Count(ctx, rules)
	if err != nil {
		return AudiencePreviewResp{}, err
	}
	return AudiencePreviewResp{Count: n, Message: matchMessage(n)}, nil
}

func (s *Service) PreviewFromPrompt(ctx context.Context, prompt string) (PromptPreviewResp, error) {
	res, err := s.Generator.Generate(ctx, prompt)
	if err != nil {
		return PromptPreviewResp{}, err
	}
	n, err := s.Audience.Count(ctx, res.Rules)
	if err != nil {
		return PromptPreviewResp{}, err
	}
	return PromptPreviewResp{
		Rules:   res.Rules,
		Count:   n,
		Method:  res.Method,
		Message: matchMessage(n),
	}, nil
}

func (s *Service) ListCampaigns(ctx context.Context, page, limit int) (ListCampaignsResp, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit < 1:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	offset := (page - 1) * limit

	rows, total, err := s.Store.ListCampaigns(ctx, limit, offset)
	if err != nil {
		logx.L().Errorw("list_campaigns_error", "page", page, "limit", limit, "error", err)
		return ListCampaignsResp{}, errs.Internal(err)
	}

	out := make([]Campaign, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return ListCampaignsResp{
		Campaigns: out,
		Total:     total,
		Page:      page,
		Limit:     limit,
		HasMore:   offset+len(rows) < total,
	}, nil
}

func (s *Service) GetCampaign(ctx context.Context, id int64) (CampaignDetails, error) {
	row, err := s.Store.GetCampaign(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return CampaignDetails{}, errs.NotFound("campaign not found")
	}
	if err != nil {
		logx.L().Errorw("get_campaign_error", "id", id, "error", err)
		return CampaignDetails{}, errs.Internal(err)
	}
	st, err := s.Store.GetCampaignStats(ctx, id)
	if err != nil {
		logx.L().Errorw("get_campaign_stats_error", "id", id, "error", err)
		return CampaignDetails{}, errs.Internal(err)
	}
	return CampaignDetails{
		Campaign: fromRow(row),
		Stats:    Stats{Total: st.Total, Pending: st.Pending, Sent: st.Sent, Failed: st.Failed},
	}, nil
}

func fromRow(r store.CampaignRow) Campaign {
	c := Campaign{
		ID:              r.ID,
		Name:            r.Name,
		MessageTemplate: r.MessageTemplate,
		TotalRecipients: r.TotalRecipients,
		EmailsSent:      r.EmailsSent,
		EmailsFailed:    r.EmailsFailed,
		Pending:         max(r.TotalRecipients-r.EmailsSent-r.EmailsFailed, 0),
		Status:          Status(r.Status),
		CreatedAt:       r.CreatedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		c.CompletedAt = &t
	}
	if len(r.RulesJSON) > 0 {
		if err := json.Unmarshal(r.RulesJSON, &c.Rules); err != nil {
			logx.L().Warnw("campaign_rules_decode_error", "id", r.ID, "error", err)
		}
	}
	return c
}

func matchMessage(n int) string {
	if n == 1 {
		return "1 customer matches the criteria."
	}
	return fmt.Sprintf("%d customers match the criteria.", n)
}
