package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/SegmentMailer/internal/campaign"
	"github.com/Mutter0815/SegmentMailer/internal/errs"
	"github.com/Mutter0815/SegmentMailer/internal/nlrules"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
)

type campaignAPI interface {
	Create(ctx context.Context, req campaign.CreateCampaignReq) (campaign.CreateCampaignResp, error)
	PreviewAudience(ctx context.Context, rules segment.RuleSet) (campaign.AudiencePreviewResp, error)
	PreviewFromPrompt(ctx context.Context, prompt string) (campaign.PromptPreviewResp, error)
	ListCampaigns(ctx context.Context, page, limit int) (campaign.ListCampaignsResp, error)
	GetCampaign(ctx context.Context, id int64) (campaign.CampaignDetails, error)
}

type Handlers struct {
	Svc campaignAPI
	// Ready reports dependency health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

func NewHandlers(svc *campaign.Service, ready func(ctx context.Context) error) *Handlers {
	return &Handlers{Svc: svc, Ready: ready}
}

func (h *Handlers) Healthz(c *gin.Context) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			logx.L().Warnw("healthz_not_ready", "error", err)
			c.String(http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) CreateCampaign(c *gin.Context) {
	var req campaign.CreateCampaignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	resp, err := h.Svc.Create(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handlers) PreviewAudience(c *gin.Context) {
	var req campaign.AudiencePreviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	resp, err := h.Svc.PreviewAudience(ctx, req.Rules)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) PreviewFromPrompt(c *gin.Context) {
	var req campaign.PromptPreviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Covers the model call with its retries.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	resp, err := h.Svc.PreviewFromPrompt(ctx, req.Prompt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) ListCampaigns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(campaign.DefaultPageSize)))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, err := h.Svc.ListCampaigns(ctx, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) GetCampaign(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, err := h.Svc.GetCampaign(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, err error) {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Error()}
		if verr.Index > 0 {
			body["rule_index"] = verr.Index
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, errs.ErrUserInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "examples": nlrules.ExamplePrompts})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrCapacity):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		logx.L().Errorw("request_failed", "path", c.FullPath(), "rid", c.GetString("request_id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
