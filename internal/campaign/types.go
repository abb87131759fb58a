package campaign

import (
	"time"

	"github.com/Mutter0815/SegmentMailer/internal/nlrules"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
)

type Status string

const (
	StatusPending            Status = "PENDING"
	StatusProcessing         Status = "PROCESSING"
	StatusCompleted          Status = "COMPLETED"
	StatusPartiallyCompleted Status = "PARTIALLY_COMPLETED"
	StatusFailed             Status = "FAILED"
)

const (
	LogPending = "PENDING"
	LogSent    = "SENT"
	LogFailed  = "FAILED"
)

// FinalStatus derives the terminal campaign status from the delivery counts.
// A campaign with recipients that delivered nothing is FAILED, even when no
// log settled as failed.
func FinalStatus(recipients, sent, failed int) Status {
	switch {
	case sent == 0 && recipients > 0:
		return StatusFailed
	case failed == 0:
		return StatusCompleted
	case sent == 0:
		return StatusFailed
	}
	return StatusPartiallyCompleted
}

type Campaign struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	MessageTemplate string          `json:"message_template"`
	Rules           segment.RuleSet `json:"rules"`
	TotalRecipients int             `json:"total_recipients"`
	EmailsSent      int             `json:"emails_sent"`
	EmailsFailed    int             `json:"emails_failed"`
	Pending         int             `json:"pending"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type CampaignDetails struct {
	Campaign
	Stats Stats `json:"stats"`
}

type CreateCampaignReq struct {
	Name            string          `json:"name"             binding:"required"`
	MessageTemplate string          `json:"message_template" binding:"required"`
	Rules           segment.RuleSet `json:"rules"            binding:"required"`
}

type CreateCampaignResp struct {
	Message  string   `json:"message"`
	Campaign Campaign `json:"campaign"`
	JobID    string   `json:"job_id"`
}

type AudiencePreviewReq struct {
	Rules segment.RuleSet `json:"rules" binding:"required"`
}

type AudiencePreviewResp struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
}

type PromptPreviewReq struct {
	Prompt string `json:"prompt" binding:"required"`
}

type PromptPreviewResp struct {
	Rules   segment.RuleSet `json:"rules"`
	Count   int             `json:"count"`
	Method  nlrules.Method  `json:"method"`
	Message string          `json:"message"`
}

type ListCampaignsResp struct {
	Campaigns []Campaign `json:"campaigns"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
	HasMore   bool       `json:"hasMore"`
}
