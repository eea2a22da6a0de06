package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/outletmedia/sales-ai-platform/internal/orchestrator"
	"github.com/outletmedia/sales-ai-platform/internal/webhook"
)

type noopPipeline struct{}

func (noopPipeline) Process(_ context.Context, _ orchestrator.Request) (orchestrator.Result, error) {
	return orchestrator.Result{Reply: "ok"}, nil
}

func newTestRouter() http.Handler {
	return New(&Config{
		WebhookHandler: webhook.NewHandler(noopPipeline{}, nil),
	})
}

func TestRouterRoutes(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/health/deep", "", http.StatusOK},
		{http.MethodPost, "/webhook/meta-lead", `{"phone":"+15550100001","message":"Hola","contactId":"c1"}`, http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
		{http.MethodGet, "/webhook/meta-lead", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "%s %s", tt.method, tt.path)
	}
}
