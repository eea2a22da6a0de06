package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outletmedia/sales-ai-platform/internal/conversation"
	"github.com/outletmedia/sales-ai-platform/internal/crm"
	"github.com/outletmedia/sales-ai-platform/internal/orchestrator"
)

type fakePipeline struct {
	result  orchestrator.Result
	err     error
	lastReq orchestrator.Request
	calls   int
}

func (f *fakePipeline) Process(_ context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type fakeBreakerStatus struct {
	status crm.BreakerStatus
}

func (f *fakeBreakerStatus) BreakerStatus() crm.BreakerStatus { return f.status }

type fakeQueueDepth struct{ depth int }

func (f *fakeQueueDepth) QueueDepth(_ context.Context) int { return f.depth }

func postLead(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/meta-lead", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.MetaLead(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestMetaLead_Success(t *testing.T) {
	pipeline := &fakePipeline{result: orchestrator.Result{
		Reply: "¡Hola! ¿Cómo te llamas?",
		Step:  conversation.StepGettingName,
	}}
	h := NewHandler(pipeline, nil)

	rec := postLead(t, h, `{"phone":"(555) 010-0001","message":"Hola","contactId":"c1","conversationId":"conv1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "¡Hola! ¿Cómo te llamas?", body["response"])

	// Phone arrives normalized at the pipeline.
	assert.Equal(t, "+15550100001", pipeline.lastReq.Phone)
	assert.Equal(t, "c1", pipeline.lastReq.ContactID)
	assert.Equal(t, "conv1", pipeline.lastReq.ConversationID)
}

func TestMetaLead_MissingFields(t *testing.T) {
	pipeline := &fakePipeline{}
	h := NewHandler(pipeline, nil)

	rec := postLead(t, h, `{"message":"Hola"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "phone")
	assert.Contains(t, body["error"], "contactId")
	assert.Equal(t, 0, pipeline.calls)
}

func TestMetaLead_InvalidJSON(t *testing.T) {
	h := NewHandler(&fakePipeline{}, nil)
	rec := postLead(t, h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetaLead_PipelineError(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("downstream exploded")}
	h := NewHandler(pipeline, nil)

	rec := postLead(t, h, `{"phone":"+15550100001","message":"Hola","contactId":"c1"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.NotContains(t, body["error"], "exploded")
}

func TestMetaLead_DuplicateReported(t *testing.T) {
	pipeline := &fakePipeline{result: orchestrator.Result{Duplicate: true}}
	h := NewHandler(pipeline, nil)

	rec := postLead(t, h, `{"phone":"+15550100001","message":"Hola","contactId":"c1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "duplicate ignored", body["message"])
}

func TestHealth(t *testing.T) {
	h := NewHandler(&fakePipeline{}, nil, WithVersion("1.2.3"))

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealthDeep_Degraded(t *testing.T) {
	h := NewHandler(&fakePipeline{}, nil,
		WithGatewayHealth(&fakeBreakerStatus{status: crm.BreakerStatus{State: crm.BreakerOpen, FailureCount: 7}}),
		WithQueueHealth(&fakeQueueDepth{depth: 4}),
		WithLLMConfigured(true),
	)

	rec := httptest.NewRecorder()
	h.HealthDeep(rec, httptest.NewRequest(http.MethodGet, "/health/deep", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, float64(4), body["retryQueueDepth"])

	crmBody, ok := body["crm"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "open", crmBody["breaker"])
}
