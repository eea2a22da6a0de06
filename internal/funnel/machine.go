package funnel

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/outletmedia/sales-ai-platform/internal/conversation"
	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

// GatingError reports which field blocks a calendar or booking request.
type GatingError struct {
	Field  string
	Reason string
}

func (e *GatingError) Error() string {
	return fmt.Sprintf("funnel: %s blocks scheduling: %s", e.Field, e.Reason)
}

// CanSchedule checks the scheduling gate: every funnel field present and
// budget at or above the minimum. Calendar lookups and bookings are never
// issued while this returns an error.
func CanSchedule(lead conversation.LeadInfo, minBudget int) error {
	if missing := lead.MissingField(); missing != "" {
		return &GatingError{Field: missing, Reason: "not yet known"}
	}
	if lead.BudgetValue() < minBudget {
		return &GatingError{
			Field:  "budget",
			Reason: fmt.Sprintf("%d is below the %d minimum", lead.BudgetValue(), minBudget),
		}
	}
	return nil
}

// Extractor pulls lead fields out of one inbound message given the
// conversation so far. Errors mean "nothing new learned", never a failed
// request.
type Extractor interface {
	ExtractLead(ctx context.Context, state conversation.ConversationState, inbound string) (conversation.LeadInfo, error)
}

// Decision is the outcome of advancing the funnel by one inbound message.
type Decision struct {
	State     conversation.ConversationState
	Effects   []SideEffect
	Reply     string
	Duplicate bool

	// EntryStep is the funnel position the message arrived at, before
	// any extraction; State.CurrentStep is where it left the funnel.
	EntryStep conversation.Step
}

// Machine advances the qualification funnel. It owns no conversation
// data; everything it knows arrives in the state argument and leaves in
// the decision.
type Machine struct {
	extractor     Extractor
	deduper       *Deduper
	logger        *logging.Logger
	minBudget     int
	maxExtraction int
}

type MachineOption func(*Machine)

func WithExtractor(e Extractor) MachineOption {
	return func(m *Machine) { m.extractor = e }
}

func WithDeduper(d *Deduper) MachineOption {
	return func(m *Machine) { m.deduper = d }
}

func WithMinBudget(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.minBudget = n
		}
	}
}

func WithMaxExtractionAttempts(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.maxExtraction = n
		}
	}
}

func NewMachine(logger *logging.Logger, opts ...MachineOption) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Machine{
		logger:        logger.Component("funnel"),
		minBudget:     300,
		maxExtraction: 3,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MinBudget exposes the qualification threshold for gate re-checks
// outside the machine.
func (m *Machine) MinBudget() int { return m.minBudget }

// A digit only selects a slot when the message is nothing but the digit,
// or when it follows a selection word. "te escribo a las 3" is not a
// choice.
var (
	slotChoiceBare   = regexp.MustCompile(`^\s*¡?([1-3])[.!\s]*$`)
	slotChoiceMarked = regexp.MustCompile(`(?i)\b(?:opci[oó]n|la|el)\s+([1-3])\b`)
)

// ParseSlotChoice reads a 1-based slot selection ("2", "la opción 1")
// from an inbound message. Returns -1 when no choice is present.
func ParseSlotChoice(text string) int {
	m := slotChoiceBare.FindStringSubmatch(text)
	if m == nil {
		m = slotChoiceMarked.FindStringSubmatch(text)
	}
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n - 1
}

// Advance processes one inbound message: dedup, at most one extraction
// attempt, step derivation, and side-effect selection. It mutates nothing
// it was given; the updated snapshot is returned in the decision.
func (m *Machine) Advance(ctx context.Context, state conversation.ConversationState, inbound string) Decision {
	entry := conversation.DeriveStep(state.Lead, state.AppointmentScheduled, conversation.HumanTurns(state.Messages), m.minBudget)
	state.CurrentStep = entry

	if m.deduper != nil && m.deduper.Seen(state.ContactID, state.ConversationID, inbound) {
		m.logger.Info("duplicate inbound ignored", "conversation_id", state.ConversationID)
		return Decision{State: state, Duplicate: true, EntryStep: entry}
	}

	// Terminal: a booked lead gets an acknowledgment, never a prompt.
	if state.AppointmentScheduled {
		return Decision{
			State:     state,
			Reply:     replyBookedAck,
			Effects:   []SideEffect{{Type: EffectSendMessage, Message: replyBookedAck}},
			EntryStep: entry,
		}
	}

	// A slot choice at the scheduling step books before anything else.
	if entry == conversation.StepScheduling {
		if idx := ParseSlotChoice(inbound); idx >= 0 {
			if err := CanSchedule(state.Lead, m.minBudget); err == nil {
				return Decision{
					State:     state,
					Effects:   []SideEffect{{Type: EffectBookAppointment, SlotIndex: idx}},
					EntryStep: entry,
				}
			}
		}
	}

	state.Lead = m.extract(ctx, &state, inbound)

	// Terminal: once nurtured, under-budget leads are acknowledged only.
	if state.Lead.Budget != nil && state.Lead.BudgetValue() < m.minBudget {
		return m.nurture(state, entry)
	}

	next := conversation.DeriveStep(state.Lead, state.AppointmentScheduled, conversation.HumanTurns(state.Messages)+1, m.minBudget)
	state.CurrentStep = next

	if next == conversation.StepScheduling {
		return m.openScheduling(state, entry)
	}

	reply := m.prompt(next, state.Lead)
	if entry == conversation.StepGreeting {
		// First contact greets and asks the name in one message.
		reply = replyGreeting
	}
	return Decision{
		State:     state,
		Reply:     reply,
		Effects:   []SideEffect{{Type: EffectSendMessage, Message: reply}},
		EntryStep: entry,
	}
}

// extract runs the regex backfill and at most one structured extraction
// call, honoring the per-conversation attempt cap.
func (m *Machine) extract(ctx context.Context, state *conversation.ConversationState, inbound string) conversation.LeadInfo {
	lead := state.Lead
	before := knownFields(lead)
	conversation.BackfillFromText(&lead, inbound)

	if m.extractor != nil && !lead.Complete() && !state.MaxExtractionReached {
		state.ExtractionAttempts++
		extracted, err := m.extractor.ExtractLead(ctx, *state, inbound)
		if err != nil {
			m.logger.Warn("lead extraction failed, proceeding without",
				"error", err, "conversation_id", state.ConversationID)
		} else {
			lead.Backfill(extracted)
		}
	}

	// The cap protects against extraction loops that learn nothing, not
	// against a conversation that keeps yielding fields.
	if knownFields(lead) > before {
		state.ExtractionAttempts = 0
	} else if state.ExtractionAttempts >= m.maxExtraction && !lead.Complete() {
		state.MaxExtractionReached = true
		m.logger.Info("extraction attempt cap reached",
			"conversation_id", state.ConversationID, "attempts", state.ExtractionAttempts)
	}
	return lead
}

func knownFields(l conversation.LeadInfo) int {
	n := 0
	for _, set := range []bool{l.Name != "", l.BusinessType != "", l.Problem != "", l.Goal != "", l.Budget != nil, l.Email != ""} {
		if set {
			n++
		}
	}
	return n
}

func (m *Machine) nurture(state conversation.ConversationState, entry conversation.Step) Decision {
	state.CurrentStep = conversation.StepGettingBudget

	if hasTag(state.Tags, TagNurture) {
		return Decision{
			State:     state,
			Reply:     replyNurtureAck,
			Effects:   []SideEffect{{Type: EffectSendMessage, Message: replyNurtureAck}},
			EntryStep: entry,
		}
	}

	state.Tags = append(state.Tags, TagNurture)
	note := fmt.Sprintf("Presupuesto declarado: $%d, debajo del mínimo de $%d. Pasa a nurture.",
		state.Lead.BudgetValue(), m.minBudget)
	return Decision{
		State: state,
		Reply: replyNurture,
		Effects: []SideEffect{
			{Type: EffectSendMessage, Message: replyNurture},
			{Type: EffectAddTags, Tags: []string{TagNurture}},
			{Type: EffectAddNote, Note: note},
		},
		EntryStep: entry,
	}
}

func (m *Machine) openScheduling(state conversation.ConversationState, entry conversation.Step) Decision {
	effects := []SideEffect{
		{Type: EffectFetchSlots},
		{Type: EffectUpdateContact, Lead: state.Lead},
	}
	if !hasTag(state.Tags, TagQualifiedLead) {
		state.Tags = append(state.Tags, TagQualifiedLead)
		effects = append(effects, SideEffect{Type: EffectAddTags, Tags: []string{TagQualifiedLead}})
	}
	return Decision{
		State:     state,
		Reply:     replyCheckingCalendar,
		Effects:   effects,
		EntryStep: entry,
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
