package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/outletmedia/sales-ai-platform/internal/conversation"
	"github.com/outletmedia/sales-ai-platform/internal/llm"
)

const extractionSystemPrompt = `Eres un analista de ventas. Dado el historial de una conversación por SMS y el último mensaje del cliente, extrae los datos del prospecto.

Responde ÚNICAMENTE con un objeto JSON con estas claves (usa null para lo desconocido):
{"name": ..., "businessType": ..., "problem": ..., "goal": ..., "budget": <número mensual en dólares o null>, "email": ...}

No inventes datos: extrae solo lo que el cliente dijo explícitamente.`

const summarySystemPrompt = `Resume la siguiente conversación de ventas en un párrafo corto en español. Conserva: nombre del cliente, tipo de negocio, problema, presupuesto si lo mencionó, y decisiones clave. Responde solo con el resumen.`

// LLMAssist adapts a chat model to the extractor and summarizer roles.
type LLMAssist struct {
	client    llm.Client
	model     string
	maxTokens int32
}

func NewLLMAssist(client llm.Client, model string) *LLMAssist {
	if client == nil {
		panic("orchestrator: llm client cannot be nil")
	}
	return &LLMAssist{client: client, model: model, maxTokens: 512}
}

type extractedLead struct {
	Name         *string  `json:"name"`
	BusinessType *string  `json:"businessType"`
	Problem      *string  `json:"problem"`
	Goal         *string  `json:"goal"`
	Budget       *float64 `json:"budget"`
	Email        *string  `json:"email"`
}

// ExtractLead asks the model for structured lead fields from the latest
// inbound message in context.
func (a *LLMAssist) ExtractLead(ctx context.Context, state conversation.ConversationState, inbound string) (conversation.LeadInfo, error) {
	var history strings.Builder
	for _, m := range state.Messages {
		fmt.Fprintf(&history, "%s: %s\n", m.Role, m.Text)
	}
	fmt.Fprintf(&history, "human: %s\n", inbound)

	resp, err := a.client.Complete(ctx, llm.Request{
		Model:     a.model,
		System:    []string{extractionSystemPrompt},
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: history.String()}},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return conversation.LeadInfo{}, fmt.Errorf("orchestrator: extraction call: %w", err)
	}

	var raw extractedLead
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &raw); err != nil {
		return conversation.LeadInfo{}, fmt.Errorf("orchestrator: extraction response is not JSON: %w", err)
	}

	lead := conversation.LeadInfo{
		Name:         deref(raw.Name),
		BusinessType: deref(raw.BusinessType),
		Problem:      deref(raw.Problem),
		Goal:         deref(raw.Goal),
		Email:        strings.ToLower(deref(raw.Email)),
	}
	if raw.Budget != nil && *raw.Budget > 0 {
		lead.Budget = conversation.IntPtr(int(*raw.Budget))
	}
	return lead, nil
}

// Summarize folds older transcript turns into one short paragraph.
func (a *LLMAssist) Summarize(ctx context.Context, messages []conversation.TranscriptMessage) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Text)
	}

	resp, err := a.client.Complete(ctx, llm.Request{
		Model:     a.model,
		System:    []string{summarySystemPrompt},
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: transcript.String()}},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: summary call: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// stripCodeFence removes a ```json ... ``` wrapper when the model adds
// one.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
