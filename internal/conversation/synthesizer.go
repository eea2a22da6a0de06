package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outletmedia/sales-ai-platform/internal/crm"
	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("github.com/outletmedia/sales-ai-platform/internal/conversation")

// CRMGateway is the slice of the CRM client the synthesizer needs.
type CRMGateway interface {
	GetContact(ctx context.Context, contactID string) (*crm.Contact, error)
	FindContactByPhone(ctx context.Context, phone string) (*crm.Contact, error)
	GetConversation(ctx context.Context, conversationID string) (*crm.Conversation, error)
	SearchConversationsByPhone(ctx context.Context, phone string) ([]crm.Conversation, error)
	SearchConversationsByContact(ctx context.Context, contactID string) ([]crm.Conversation, error)
	CreateConversation(ctx context.Context, contactID string) (*crm.Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]crm.Message, error)
}

// Summarizer condenses the oldest part of a long transcript into a single
// synthetic entry. Failures are non-fatal; the full history is used
// instead.
type Summarizer interface {
	Summarize(ctx context.Context, messages []TranscriptMessage) (string, error)
}

// Synthesizer reconstructs ConversationState from the CRM. It owns the
// cache exclusively.
type Synthesizer struct {
	gateway    CRMGateway
	cache      Cache
	summarizer Summarizer
	logger     *logging.Logger

	windowSize int
	pageLimit  int
	minBudget  int
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

func WithSummarizer(s Summarizer) Option {
	return func(sy *Synthesizer) { sy.summarizer = s }
}

func WithWindowSize(n int) Option {
	return func(sy *Synthesizer) {
		if n > 0 {
			sy.windowSize = n
		}
	}
}

func WithPageLimit(n int) Option {
	return func(sy *Synthesizer) {
		if n > 0 {
			sy.pageLimit = n
		}
	}
}

func WithMinBudget(n int) Option {
	return func(sy *Synthesizer) {
		if n > 0 {
			sy.minBudget = n
		}
	}
}

func NewSynthesizer(gateway CRMGateway, cache Cache, logger *logging.Logger, opts ...Option) *Synthesizer {
	if gateway == nil {
		panic("conversation: gateway cannot be nil")
	}
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Synthesizer{
		gateway:    gateway,
		cache:      cache,
		logger:     logger.Component("conversation.synthesizer"),
		windowSize: 10,
		pageLimit:  100,
		minBudget:  300,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize reconstructs the session snapshot for a contact. The
// conversationId may be empty; it is resolved by phone search, then
// contact search, then creation. Synthesis never fails hard: any error
// after the cache check degrades to an empty-but-valid state so the
// webhook always has something to act on.
func (s *Synthesizer) Synthesize(ctx context.Context, contactID, conversationID, phone string) ConversationState {
	ctx, span := tracer.Start(ctx, "conversation.synthesize",
		trace.WithAttributes(attribute.String("crm.contact_id", contactID)))
	defer span.End()

	key := Key{ContactID: contactID, ConversationID: conversationID}
	if cached, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("cache read failed", "error", err, "contact_id", contactID)
	} else if cached != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return *cached
	}

	state, err := s.build(ctx, contactID, conversationID, phone)
	if err != nil {
		s.logger.Error("synthesis degraded to empty state",
			"error", err, "contact_id", contactID, "conversation_id", conversationID)
		return EmptyState(contactID, conversationID, phone)
	}

	// Cache under both the requested key and the resolved one, so a
	// follow-up webhook that omits the conversation id still hits.
	if err := s.cache.Set(ctx, Key{ContactID: contactID, ConversationID: state.ConversationID}, state); err != nil {
		s.logger.Warn("cache write failed", "error", err, "contact_id", contactID)
	}
	if conversationID != state.ConversationID {
		if err := s.cache.Set(ctx, key, state); err != nil {
			s.logger.Warn("cache write failed", "error", err, "contact_id", contactID)
		}
	}
	return state
}

// Store writes back an updated snapshot, keeping request-scoped progress
// like extraction attempts visible to the next webhook within the TTL.
func (s *Synthesizer) Store(ctx context.Context, state ConversationState) {
	key := Key{ContactID: state.ContactID, ConversationID: state.ConversationID}
	if err := s.cache.Set(ctx, key, state); err != nil {
		s.logger.Warn("cache write failed", "error", err, "contact_id", state.ContactID)
	}
}

// Invalidate drops the cached snapshot after a mutation is pushed to the
// CRM.
func (s *Synthesizer) Invalidate(ctx context.Context, contactID, conversationID string) {
	key := Key{ContactID: contactID, ConversationID: conversationID}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Warn("cache invalidate failed", "error", err, "contact_id", contactID)
	}
}

func (s *Synthesizer) build(ctx context.Context, contactID, conversationID, phone string) (ConversationState, error) {
	conv, err := s.resolveConversation(ctx, contactID, conversationID, phone)
	if err != nil {
		return ConversationState{}, fmt.Errorf("conversation: resolve: %w", err)
	}

	raw, err := s.gateway.GetConversationMessages(ctx, conv.ID, s.pageLimit)
	if err != nil {
		return ConversationState{}, fmt.Errorf("conversation: fetch messages: %w", err)
	}
	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].DateAdded.Before(raw[j].DateAdded)
	})

	transcript := make([]TranscriptMessage, 0, len(raw))
	for _, m := range raw {
		if IsArtifact(m.Body) {
			continue
		}
		role := RoleAssistant
		if strings.EqualFold(m.Direction, "inbound") {
			role = RoleHuman
		}
		transcript = append(transcript, TranscriptMessage{Role: role, Text: m.Body})
	}
	transcript = s.window(ctx, transcript)

	state := ConversationState{
		ConversationID: conv.ID,
		ContactID:      contactID,
		Phone:          phone,
		Messages:       transcript,
		LastActivity:   time.Now().UTC(),
	}

	contact, err := s.gateway.GetContact(ctx, contactID)
	if err != nil {
		return ConversationState{}, fmt.Errorf("conversation: fetch contact: %w", err)
	}
	if contact != nil {
		if state.Phone == "" {
			state.Phone = contact.Phone
		}
		state.Tags = contact.Tags
		state.Lead.Name = strings.TrimSpace(contact.DisplayName())
		state.Lead.Email = strings.TrimSpace(contact.Email)
		for _, tag := range contact.Tags {
			if tag == "appointment-scheduled" {
				state.AppointmentScheduled = true
			}
		}
	}

	var text strings.Builder
	for _, m := range transcript {
		if m.Role == RoleHuman {
			text.WriteString(m.Text)
			text.WriteString("\n")
		}
	}
	BackfillFromText(&state.Lead, text.String())

	state.CurrentStep = DeriveStep(state.Lead, state.AppointmentScheduled, HumanTurns(transcript), s.minBudget)
	return state, nil
}

// resolveConversation finds or creates the conversation thread. Phone
// search is the most reliable key for a returning customer, contact
// search covers contacts with several threads, and creation is the
// terminal fallback.
func (s *Synthesizer) resolveConversation(ctx context.Context, contactID, conversationID, phone string) (*crm.Conversation, error) {
	if strings.TrimSpace(conversationID) != "" {
		conv, err := s.gateway.GetConversation(ctx, conversationID)
		if err == nil && conv != nil {
			return conv, nil
		}
		if err != nil && !crm.IsNotFound(err) {
			return nil, err
		}
		s.logger.Warn("conversation id not found, falling back to search",
			"conversation_id", conversationID, "contact_id", contactID)
	}

	if phone != "" {
		convs, err := s.gateway.SearchConversationsByPhone(ctx, phone)
		if err != nil && !crm.IsNotFound(err) {
			return nil, err
		}
		if mostRecent := newestConversation(convs); mostRecent != nil {
			return mostRecent, nil
		}
	}

	convs, err := s.gateway.SearchConversationsByContact(ctx, contactID)
	if err != nil && !crm.IsNotFound(err) {
		return nil, err
	}
	if mostRecent := newestConversation(convs); mostRecent != nil {
		return mostRecent, nil
	}

	return s.gateway.CreateConversation(ctx, contactID)
}

func newestConversation(convs []crm.Conversation) *crm.Conversation {
	if len(convs) == 0 {
		return nil
	}
	best := convs[0]
	for _, c := range convs[1:] {
		if c.UpdatedAt.After(best.UpdatedAt) {
			best = c
		}
	}
	return &best
}

// window keeps the most recent windowSize messages verbatim and folds the
// older excess into one synthetic summary entry. When summarization is
// unavailable or fails, the full history passes through unchanged.
func (s *Synthesizer) window(ctx context.Context, transcript []TranscriptMessage) []TranscriptMessage {
	if len(transcript) <= s.windowSize || s.summarizer == nil {
		return transcript
	}
	excess := transcript[:len(transcript)-s.windowSize]
	recent := transcript[len(transcript)-s.windowSize:]

	summary, err := s.summarizer.Summarize(ctx, excess)
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil {
			s.logger.Warn("summarization failed, keeping full history", "error", err)
		}
		return transcript
	}

	out := make([]TranscriptMessage, 0, len(recent)+1)
	out = append(out, TranscriptMessage{Role: RoleAssistant, Text: summary, Summary: true})
	out = append(out, recent...)
	return out
}
