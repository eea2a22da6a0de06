// Package webhook exposes the inbound lead endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/outletmedia/sales-ai-platform/internal/crm"
	"github.com/outletmedia/sales-ai-platform/internal/observability/metrics"
	"github.com/outletmedia/sales-ai-platform/internal/orchestrator"
	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

// Pipeline processes one inbound lead message.
type Pipeline interface {
	Process(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// GatewayHealth reports the CRM gateway's view of the world for the deep
// health check.
type GatewayHealth interface {
	BreakerStatus() crm.BreakerStatus
}

// QueueHealth reports the retry queue backlog.
type QueueHealth interface {
	QueueDepth(ctx context.Context) int
}

// Handler serves the lead webhook and health endpoints.
type Handler struct {
	pipeline Pipeline
	gateway  GatewayHealth
	queue    QueueHealth
	logger   *logging.Logger
	metrics  *metrics.WebhookMetrics
	version  string
	llmReady bool
	now      func() time.Time
}

type HandlerOption func(*Handler)

func WithGatewayHealth(g GatewayHealth) HandlerOption {
	return func(h *Handler) { h.gateway = g }
}

func WithQueueHealth(q QueueHealth) HandlerOption {
	return func(h *Handler) { h.queue = q }
}

func WithMetrics(m *metrics.WebhookMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func WithVersion(v string) HandlerOption {
	return func(h *Handler) { h.version = v }
}

func WithLLMConfigured(ready bool) HandlerOption {
	return func(h *Handler) { h.llmReady = ready }
}

func NewHandler(pipeline Pipeline, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if pipeline == nil {
		panic("webhook: pipeline cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		pipeline: pipeline,
		logger:   logger.Component("webhook"),
		version:  "dev",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type leadRequest struct {
	Phone          string `json:"phone"`
	Message        string `json:"message"`
	ContactID      string `json:"contactId"`
	ConversationID string `json:"conversationId"`
}

type leadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MetaLead handles POST /webhook/meta-lead.
func (h *Handler) MetaLead(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	var req leadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, leadResponse{Success: false, Error: "invalid JSON body"})
		h.metrics.ObserveInbound("bad_request", time.Since(start).Seconds())
		return
	}
	if msg := validateLead(req); msg != "" {
		h.respond(w, http.StatusBadRequest, leadResponse{Success: false, Error: msg})
		h.metrics.ObserveInbound("bad_request", time.Since(start).Seconds())
		return
	}

	result, err := h.pipeline.Process(r.Context(), orchestrator.Request{
		ContactID:      req.ContactID,
		ConversationID: req.ConversationID,
		Phone:          crm.NormalizePhone(req.Phone),
		Message:        req.Message,
	})
	if err != nil {
		h.logger.Error("lead processing failed", "error", err, "contact_id", req.ContactID)
		h.respond(w, http.StatusInternalServerError, leadResponse{Success: false, Error: "internal error"})
		h.metrics.ObserveInbound("error", time.Since(start).Seconds())
		return
	}

	msg := "processed"
	if result.Duplicate {
		msg = "duplicate ignored"
	}
	h.respond(w, http.StatusOK, leadResponse{Success: true, Message: msg, Response: result.Reply})
	h.metrics.ObserveInbound("ok", time.Since(start).Seconds())
}

func validateLead(req leadRequest) string {
	var missing []string
	if strings.TrimSpace(req.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(req.Message) == "" {
		missing = append(missing, "message")
	}
	if strings.TrimSpace(req.ContactID) == "" {
		missing = append(missing, "contactId")
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing required fields: " + strings.Join(missing, ", ")
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   h.version,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthDeep handles GET /health/deep with per-dependency detail. The
// endpoint stays 200 while degraded; consumers read the body.
func (h *Handler) HealthDeep(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"version":   h.version,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"llm":       map[string]any{"configured": h.llmReady},
	}
	if h.gateway != nil {
		status := h.gateway.BreakerStatus()
		body["crm"] = map[string]any{
			"breaker":      status.State,
			"failureCount": status.FailureCount,
		}
		if status.State != crm.BreakerClosed {
			body["status"] = "degraded"
		}
	}
	if h.queue != nil {
		body["retryQueueDepth"] = h.queue.QueueDepth(r.Context())
	}
	h.respond(w, http.StatusOK, body)
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("response encode failed", "error", err)
	}
}
