package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outletmedia/sales-ai-platform/internal/conversation"
	"github.com/outletmedia/sales-ai-platform/internal/llm"
)

type stubLLM struct {
	resp    llm.Response
	err     error
	lastReq llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.lastReq = req
	return s.resp, s.err
}

func TestLLMAssist_ExtractLead(t *testing.T) {
	client := &stubLLM{resp: llm.Response{
		Text: `{"name": "Jaime", "businessType": "gimnasio", "problem": "pocos clientes", "goal": null, "budget": 500, "email": "Jaime@X.com"}`,
	}}
	assist := NewLLMAssist(client, "gemini-2.5-flash")

	state := conversation.ConversationState{
		Messages: []conversation.TranscriptMessage{{Role: conversation.RoleHuman, Text: "Hola"}},
	}
	lead, err := assist.ExtractLead(context.Background(), state, "Tengo un gimnasio y necesito clientes")
	require.NoError(t, err)

	assert.Equal(t, "Jaime", lead.Name)
	assert.Equal(t, "gimnasio", lead.BusinessType)
	assert.Equal(t, "pocos clientes", lead.Problem)
	assert.Empty(t, lead.Goal)
	assert.Equal(t, 500, lead.BudgetValue())
	assert.Equal(t, "jaime@x.com", lead.Email)

	assert.Equal(t, "gemini-2.5-flash", client.lastReq.Model)
	require.Len(t, client.lastReq.Messages, 1)
	assert.Contains(t, client.lastReq.Messages[0].Content, "human: Tengo un gimnasio")
}

func TestLLMAssist_ExtractLeadStripsCodeFence(t *testing.T) {
	client := &stubLLM{resp: llm.Response{Text: "```json\n{\"name\": \"Ana\"}\n```"}}
	assist := NewLLMAssist(client, "m")

	lead, err := assist.ExtractLead(context.Background(), conversation.ConversationState{}, "Soy Ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana", lead.Name)
}

func TestLLMAssist_ExtractLeadBadJSON(t *testing.T) {
	client := &stubLLM{resp: llm.Response{Text: "no puedo ayudar con eso"}}
	assist := NewLLMAssist(client, "m")

	_, err := assist.ExtractLead(context.Background(), conversation.ConversationState{}, "Hola")
	require.Error(t, err)
}

func TestLLMAssist_ExtractLeadPropagatesError(t *testing.T) {
	client := &stubLLM{err: errors.New("quota exceeded")}
	assist := NewLLMAssist(client, "m")

	_, err := assist.ExtractLead(context.Background(), conversation.ConversationState{}, "Hola")
	require.Error(t, err)
}

func TestLLMAssist_Summarize(t *testing.T) {
	client := &stubLLM{resp: llm.Response{Text: "  Jaime tiene un gimnasio y busca más clientes.  "}}
	assist := NewLLMAssist(client, "m")

	summary, err := assist.Summarize(context.Background(), []conversation.TranscriptMessage{
		{Role: conversation.RoleHuman, Text: "Hola, soy Jaime"},
		{Role: conversation.RoleAssistant, Text: "¡Hola Jaime!"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Jaime tiene un gimnasio y busca más clientes.", summary)
	assert.Contains(t, client.lastReq.Messages[0].Content, "human: Hola, soy Jaime")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
