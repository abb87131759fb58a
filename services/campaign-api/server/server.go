package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/SegmentMailer/docs"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/docs", serveDocs)
	r.GET("/docs/campaign-api/openapi.yaml", serveOpenAPI)

	g := r.Group("/campaigns")
	g.POST("", h.CreateCampaign)
	g.GET("", h.ListCampaigns)
	g.GET("/:id", h.GetCampaign)
	g.POST("/audience-preview", h.PreviewAudience)
	g.POST("/preview-from-prompt", h.PreviewFromPrompt)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveDocs(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", docs.CampaignSwaggerHTML)
}

func serveOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", docs.CampaignOpenAPI)
}
