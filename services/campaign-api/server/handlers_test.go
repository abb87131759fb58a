package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/SegmentMailer/internal/campaign"
	"github.com/Mutter0815/SegmentMailer/internal/errs"
	"github.com/Mutter0815/SegmentMailer/internal/nlrules"
	"github.com/Mutter0815/SegmentMailer/internal/segment"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeService struct {
	createErr  error
	createReq  campaign.CreateCampaignReq
	previewErr error
	promptErr  error
	gotPage    int
	gotLimit   int
	getErr     error
}

func (f *fakeService) Create(ctx context.Context, req campaign.CreateCampaignReq) (campaign.CreateCampaignResp, error) {
	f.createReq = req
	if f.createErr != nil {
		return campaign.CreateCampaignResp{}, f.createErr
	}
	return campaign.CreateCampaignResp{
		Message:  "Campaign created and queued for delivery",
		Campaign: campaign.Campaign{ID: 42, Name: req.Name, Status: campaign.StatusPending, TotalRecipients: 2},
		JobID:    "job-1",
	}, nil
}

func (f *fakeService) PreviewAudience(ctx context.Context, rules segment.RuleSet) (campaign.AudiencePreviewResp, error) {
	if f.previewErr != nil {
		return campaign.AudiencePreviewResp{}, f.previewErr
	}
	return campaign.AudiencePreviewResp{Count: len(rules) * 10, Message: "10 customers match the criteria."}, nil
}

func (f *fakeService) PreviewFromPrompt(ctx context.Context, prompt string) (campaign.PromptPreviewResp, error) {
	if f.promptErr != nil {
		return campaign.PromptPreviewResp{}, f.promptErr
	}
	return campaign.PromptPreviewResp{
		Rules:  segment.RuleSet{{Field: segment.TotalSpend, Operator: segment.GT, Value: "5000"}},
		Count:  3,
		Method: nlrules.MethodFallback,
	}, nil
}

func (f *fakeService) ListCampaigns(ctx context.Context, page, limit int) (campaign.ListCampaignsResp, error) {
	f.gotPage, f.gotLimit = page, limit
	return campaign.ListCampaignsResp{
		Campaigns: []campaign.Campaign{{ID: 2, Name: "B"}, {ID: 1, Name: "A"}},
		Total:     2,
		Page:      page,
		Limit:     limit,
	}, nil
}

func (f *fakeService) GetCampaign(ctx context.Context, id int64) (campaign.CampaignDetails, error) {
	if f.getErr != nil {
		return campaign.CampaignDetails{}, f.getErr
	}
	return campaign.CampaignDetails{
		Campaign: campaign.Campaign{ID: id, Name: "stub", Status: campaign.StatusPartiallyCompleted, EmailsSent: 2, EmailsFailed: 1},
		Stats:    campaign.Stats{Total: 3, Sent: 2, Failed: 1},
	}, nil
}

func do(t *testing.T, h *Handlers, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewHTTPServer(":0", h)
	rr := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

const createBody = `{
	"name":"Festive offer",
	"message_template":"Hi {customer.name}, 20% off!",
	"rules":[
		{"field":"Total Spend","operator":">","value":5000,"logic":"AND"},
		{"field":"Total Visits","operator":">","value":"3","logic":null}
	]
}`

func TestCreateCampaign_Accepted(t *testing.T) {
	fs := &fakeService{}
	rr := do(t, &Handlers{Svc: fs}, http.MethodPost, "/campaigns", createBody)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	var resp campaign.CreateCampaignResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Campaign.ID != 42 || resp.Campaign.Status != campaign.StatusPending {
		t.Fatalf("unexpected campaign: %+v", resp.Campaign)
	}
	if len(fs.createReq.Rules) != 2 || fs.createReq.Rules[0].Value != "5000" {
		t.Fatalf("rules not bound: %+v", fs.createReq.Rules)
	}
	if fs.createReq.Rules[0].Logic != segment.And || fs.createReq.Rules[1].Logic != segment.NoLogic {
		t.Fatalf("logic not bound: %+v", fs.createReq.Rules)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

func TestCreateCampaign_BindError(t *testing.T) {
	rr := do(t, &Handlers{Svc: &fakeService{}}, http.MethodPost, "/campaigns", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateCampaign_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", errs.Invalid(2, "unsupported operator %q", "!="), http.StatusBadRequest},
		{"no match", errs.NotFound("no customers match the given rules"), http.StatusNotFound},
		{"too many", errs.Capacity("audience exceeds 10000 recipients"), http.StatusUnprocessableEntity},
		{"internal", errs.Internal(errors.New("pq: connection refused")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, &Handlers{Svc: &fakeService{createErr: tc.err}}, http.MethodPost, "/campaigns", createBody)
			if rr.Code != tc.code {
				t.Fatalf("want %d, got %d (%s)", tc.code, rr.Code, rr.Body.String())
			}
			if strings.Contains(rr.Body.String(), "connection refused") {
				t.Fatalf("internal detail leaked: %s", rr.Body.String())
			}
		})
	}

	rr := do(t, &Handlers{Svc: &fakeService{createErr: errs.Invalid(2, "bad value")}}, http.MethodPost, "/campaigns", createBody)
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["rule_index"] != float64(2) || body["error"] != "rule 2: bad value" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestPreviewAudience(t *testing.T) {
	h := &Handlers{Svc: &fakeService{}}
	rr := do(t, h, http.MethodPost, "/campaigns/audience-preview",
		`{"rules":[{"field":"Total Spend","operator":">","value":"10","logic":null}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	var resp campaign.AudiencePreviewResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 10 {
		t.Fatalf("want count=10, got %d", resp.Count)
	}

	rr = do(t, &Handlers{Svc: &fakeService{previewErr: errs.Invalid(1, "unsupported field %q", "Age")}},
		http.MethodPost, "/campaigns/audience-preview", `{"rules":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPreviewFromPrompt(t *testing.T) {
	rr := do(t, &Handlers{Svc: &fakeService{}}, http.MethodPost, "/campaigns/preview-from-prompt",
		`{"prompt":"Customers who spent over 5000"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"method":"fallback"`) {
		t.Fatalf("method missing: %s", rr.Body.String())
	}

	rr = do(t, &Handlers{Svc: &fakeService{promptErr: errs.UserInput("prompt must be at least 5 characters")}},
		http.MethodPost, "/campaigns/preview-from-prompt", `{"prompt":"hey"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "examples") {
		t.Fatalf("examples missing: %s", rr.Body.String())
	}
}

func TestListCampaigns(t *testing.T) {
	fs := &fakeService{}
	rr := do(t, &Handlers{Svc: fs}, http.MethodGet, "/campaigns?page=2&limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if fs.gotPage != 2 || fs.gotLimit != 5 {
		t.Fatalf("paging not forwarded: page=%d limit=%d", fs.gotPage, fs.gotLimit)
	}
	if !strings.Contains(rr.Body.String(), `"hasMore":false`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	do(t, &Handlers{Svc: fs}, http.MethodGet, "/campaigns", "")
	if fs.gotPage != 1 || fs.gotLimit != campaign.DefaultPageSize {
		t.Fatalf("defaults not applied: page=%d limit=%d", fs.gotPage, fs.gotLimit)
	}
}

func TestGetCampaign(t *testing.T) {
	rr := do(t, &Handlers{Svc: &fakeService{}}, http.MethodGet, "/campaigns/7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var d campaign.CampaignDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.ID != 7 || d.Stats.Sent != 2 || d.Stats.Failed != 1 {
		t.Fatalf("unexpected details: %+v", d)
	}

	rr = do(t, &Handlers{Svc: &fakeService{}}, http.MethodGet, "/campaigns/abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = do(t, &Handlers{Svc: &fakeService{getErr: errs.NotFound("campaign not found")}}, http.MethodGet, "/campaigns/9", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	rr := do(t, &Handlers{Svc: &fakeService{}}, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	h := &Handlers{Svc: &fakeService{}, Ready: func(ctx context.Context) error { return errors.New("db down") }}
	rr = do(t, h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := &Handlers{Svc: &fakeService{}}
	do(t, h, http.MethodGet, "/healthz", "")

	rr := do(t, h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "api_http_requests_total") {
		t.Fatalf("request counter not exported")
	}
}

func TestDocsEndpoints(t *testing.T) {
	h := &Handlers{Svc: &fakeService{}}
	srv := NewHTTPServer(":0", h)

	t.Run("html", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/docs", nil)

		srv.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "SwaggerUIBundle") {
			t.Fatalf("swagger bundle not rendered: %s", rr.Body.String())
		}
	})

	t.Run("openapi", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/docs/campaign-api/openapi.yaml", nil)

		srv.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "yaml") {
			t.Fatalf("unexpected content type: %s", ct)
		}
		if !strings.Contains(rr.Body.String(), "openapi: 3.0.3") {
			t.Fatalf("unexpected body: %s", rr.Body.String())
		}
	})
}
