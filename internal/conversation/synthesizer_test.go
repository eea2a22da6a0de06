package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outletmedia/sales-ai-platform/internal/crm"
)

type fakeGateway struct {
	contact        *crm.Contact
	conversation   *crm.Conversation
	byPhone        []crm.Conversation
	byContact      []crm.Conversation
	created        *crm.Conversation
	messages       []crm.Message
	failEverything bool

	phoneSearches   int
	contactSearches int
	creations       int
	messageFetches  int
	contactFetches  int
}

var errGatewayDown = errors.New("gateway down")

func (f *fakeGateway) GetContact(_ context.Context, _ string) (*crm.Contact, error) {
	f.contactFetches++
	if f.failEverything {
		return nil, errGatewayDown
	}
	return f.contact, nil
}

func (f *fakeGateway) FindContactByPhone(_ context.Context, _ string) (*crm.Contact, error) {
	if f.failEverything {
		return nil, errGatewayDown
	}
	return f.contact, nil
}

func (f *fakeGateway) GetConversation(_ context.Context, _ string) (*crm.Conversation, error) {
	if f.failEverything {
		return nil, errGatewayDown
	}
	return f.conversation, nil
}

func (f *fakeGateway) SearchConversationsByPhone(_ context.Context, _ string) ([]crm.Conversation, error) {
	f.phoneSearches++
	if f.failEverything {
		return nil, errGatewayDown
	}
	return f.byPhone, nil
}

func (f *fakeGateway) SearchConversationsByContact(_ context.Context, _ string) ([]crm.Conversation, error) {
	f.contactSearches++
	if f.failEverything {
		return nil, errGatewayDown
	}
	return f.byContact, nil
}

func (f *fakeGateway) CreateConversation(_ context.Context, contactID string) (*crm.Conversation, error) {
	f.creations++
	if f.failEverything {
		return nil, errGatewayDown
	}
	if f.created != nil {
		return f.created, nil
	}
	return &crm.Conversation{ID: "new-conv", ContactID: contactID}, nil
}

func (f *fakeGateway) GetConversationMessages(_ context.Context, _ string, _ int) ([]crm.Message, error) {
	f.messageFetches++
	if f.failEverything {
		return nil, errGatewayDown
	}
	return f.messages, nil
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ []TranscriptMessage) (string, error) {
	f.calls++
	return f.summary, f.err
}

func at(offset int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
}

func TestSynthesize_BuildsStateFromCRM(t *testing.T) {
	gw := &fakeGateway{
		conversation: &crm.Conversation{ID: "conv1", ContactID: "c1"},
		contact:      &crm.Contact{ID: "c1", FirstName: "Jaime", Email: "jaime@x.com", Phone: "+15550100001"},
		messages: []crm.Message{
			{ID: "m2", Direction: "outbound", Body: "¿Cuál es tu presupuesto?", DateAdded: at(1)},
			{ID: "m1", Direction: "inbound", Body: "Hola", DateAdded: at(0)},
			{ID: "m3", Direction: "inbound", Body: "Tengo 500 al mes", DateAdded: at(2)},
			{ID: "m4", Direction: "inbound", Body: `{"success": true, "messageId": "x"}`, DateAdded: at(3)},
		},
	}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil)

	state := s.Synthesize(context.Background(), "c1", "conv1", "+15550100001")

	assert.Equal(t, "conv1", state.ConversationID)
	require.Len(t, state.Messages, 3) // artifact filtered out
	assert.Equal(t, "Hola", state.Messages[0].Text)
	assert.Equal(t, RoleHuman, state.Messages[0].Role)
	assert.Equal(t, RoleAssistant, state.Messages[1].Role)

	assert.Equal(t, "Jaime", state.Lead.Name)
	assert.Equal(t, "jaime@x.com", state.Lead.Email)
	assert.Equal(t, 500, state.Lead.BudgetValue())
	// Problem and goal only come from extraction calls downstream.
	assert.Equal(t, StepGettingProblem, state.CurrentStep)
}

func TestSynthesize_CacheHitSkipsGateway(t *testing.T) {
	gw := &fakeGateway{
		conversation: &crm.Conversation{ID: "conv1"},
		contact:      &crm.Contact{ID: "c1", FirstName: "Ana"},
	}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil)

	first := s.Synthesize(context.Background(), "c1", "conv1", "+15550100001")
	second := s.Synthesize(context.Background(), "c1", "conv1", "+15550100001")

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, 1, gw.messageFetches)
	assert.Equal(t, 1, gw.contactFetches)
}

func TestSynthesize_ResolutionPrefersPhoneSearch(t *testing.T) {
	gw := &fakeGateway{
		byPhone: []crm.Conversation{
			{ID: "older", UpdatedAt: at(0)},
			{ID: "newest", UpdatedAt: at(10)},
		},
		contact: &crm.Contact{ID: "c1"},
	}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil)

	state := s.Synthesize(context.Background(), "c1", "", "+15550100001")

	assert.Equal(t, "newest", state.ConversationID)
	assert.Equal(t, 1, gw.phoneSearches)
	assert.Equal(t, 0, gw.contactSearches)
	assert.Equal(t, 0, gw.creations)
}

func TestSynthesize_ResolutionFallsBackToContactThenCreate(t *testing.T) {
	gw := &fakeGateway{
		byContact: []crm.Conversation{{ID: "by-contact", UpdatedAt: at(0)}},
		contact:   &crm.Contact{ID: "c1"},
	}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil)

	state := s.Synthesize(context.Background(), "c1", "", "+15550100001")
	assert.Equal(t, "by-contact", state.ConversationID)

	gw2 := &fakeGateway{contact: &crm.Contact{ID: "c2"}}
	s2 := NewSynthesizer(gw2, NewMemoryCache(time.Minute), nil)

	state2 := s2.Synthesize(context.Background(), "c2", "", "+15550100002")
	assert.Equal(t, "new-conv", state2.ConversationID)
	assert.Equal(t, 1, gw2.phoneSearches)
	assert.Equal(t, 1, gw2.contactSearches)
	assert.Equal(t, 1, gw2.creations)
}

func TestSynthesize_DegradesToEmptyStateOnFailure(t *testing.T) {
	gw := &fakeGateway{failEverything: true}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil)

	state := s.Synthesize(context.Background(), "c1", "conv1", "+15550100001")

	assert.Equal(t, "c1", state.ContactID)
	assert.Equal(t, "conv1", state.ConversationID)
	assert.Equal(t, StepGreeting, state.CurrentStep)
	assert.Empty(t, state.Messages)
	assert.Equal(t, LeadInfo{}, state.Lead)

	// Degraded states are not cached; the next request retries.
	cached, err := NewMemoryCache(time.Minute).Get(context.Background(), Key{ContactID: "c1", ConversationID: "conv1"})
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestSynthesize_WindowsLongHistories(t *testing.T) {
	var msgs []crm.Message
	for i := 0; i < 14; i++ {
		msgs = append(msgs, crm.Message{
			ID:        string(rune('a' + i)),
			Direction: "inbound",
			Body:      "mensaje con contenido real",
			DateAdded: at(i),
		})
	}
	gw := &fakeGateway{
		conversation: &crm.Conversation{ID: "conv1"},
		contact:      &crm.Contact{ID: "c1", FirstName: "Jaime"},
		messages:     msgs,
	}
	sum := &fakeSummarizer{summary: "Jaime, dueño de gimnasio, busca más clientes."}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil, WithSummarizer(sum), WithWindowSize(10))

	state := s.Synthesize(context.Background(), "c1", "conv1", "")

	require.Len(t, state.Messages, 11)
	assert.True(t, state.Messages[0].Summary)
	assert.Equal(t, 1, sum.calls)
}

func TestSynthesize_SummarizationFailureIsNonFatal(t *testing.T) {
	var msgs []crm.Message
	for i := 0; i < 14; i++ {
		msgs = append(msgs, crm.Message{Direction: "inbound", Body: "hola otra vez", DateAdded: at(i)})
	}
	gw := &fakeGateway{
		conversation: &crm.Conversation{ID: "conv1"},
		contact:      &crm.Contact{ID: "c1"},
		messages:     msgs,
	}
	sum := &fakeSummarizer{err: errors.New("model unavailable")}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil, WithSummarizer(sum), WithWindowSize(10))

	state := s.Synthesize(context.Background(), "c1", "conv1", "")
	assert.Len(t, state.Messages, 14)
}

func TestSynthesize_AppointmentTagMarksCompleted(t *testing.T) {
	gw := &fakeGateway{
		conversation: &crm.Conversation{ID: "conv1"},
		contact: &crm.Contact{
			ID:        "c1",
			FirstName: "Jaime",
			Email:     "jaime@x.com",
			Tags:      []string{"qualified-lead", "appointment-scheduled"},
		},
	}
	s := NewSynthesizer(gw, NewMemoryCache(time.Minute), nil)

	state := s.Synthesize(context.Background(), "c1", "conv1", "")
	assert.True(t, state.AppointmentScheduled)
	assert.Equal(t, StepCompleted, state.CurrentStep)
}

func TestStoreAndInvalidate(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	gw := &fakeGateway{conversation: &crm.Conversation{ID: "conv1"}, contact: &crm.Contact{ID: "c1"}}
	s := NewSynthesizer(gw, cache, nil)
	ctx := context.Background()

	state := ConversationState{ContactID: "c1", ConversationID: "conv1", ExtractionAttempts: 2}
	s.Store(ctx, state)

	cached, err := cache.Get(ctx, Key{ContactID: "c1", ConversationID: "conv1"})
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 2, cached.ExtractionAttempts)

	s.Invalidate(ctx, "c1", "conv1")
	cached, err = cache.Get(ctx, Key{ContactID: "c1", ConversationID: "conv1"})
	require.NoError(t, err)
	assert.Nil(t, cached)
}
