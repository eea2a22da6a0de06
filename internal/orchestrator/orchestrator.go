// Package orchestrator runs the webhook pipeline: synthesize state,
// advance the funnel, and push the requested side effects back to the
// CRM. Requests for the same contact are serialized; different contacts
// proceed concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/outletmedia/sales-ai-platform/internal/conversation"
	"github.com/outletmedia/sales-ai-platform/internal/crm"
	"github.com/outletmedia/sales-ai-platform/internal/funnel"
	"github.com/outletmedia/sales-ai-platform/internal/observability/metrics"
	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

// StateSource reconstructs and caches conversation state.
type StateSource interface {
	Synthesize(ctx context.Context, contactID, conversationID, phone string) conversation.ConversationState
	Store(ctx context.Context, state conversation.ConversationState)
	Invalidate(ctx context.Context, contactID, conversationID string)
}

// CalendarGateway is the synchronous slice of the CRM client the
// pipeline needs for scheduling and contact updates.
type CalendarGateway interface {
	GetCalendarSlots(ctx context.Context, calendarID string, start, end time.Time) ([]crm.CalendarSlot, error)
	BookAppointment(ctx context.Context, req crm.BookingRequest) (*crm.BookingResult, error)
	UpdateContact(ctx context.Context, contactID string, update crm.ContactUpdate) (*crm.Contact, error)
}

// Messenger is the fire-and-forget surface, backed by the retry outbox.
type Messenger interface {
	SendMessage(ctx context.Context, contactID, text string)
	AddTags(ctx context.Context, contactID string, tags []string)
	AddNote(ctx context.Context, contactID, note string)
}

const (
	replyNoSlots        = "Por el momento no tengo horarios disponibles, pero una persona de nuestro equipo te escribirá muy pronto para agendar."
	replyBookingFailed  = "Tuvimos un problema al agendar tu cita, una disculpa. Una persona de nuestro equipo te contactará para confirmar el horario."
	replySlotsRefreshed = "Ese horario ya no está disponible. "

	tagManualFollowUp = "manual-follow-up"
)

// Request is one inbound lead message.
type Request struct {
	ContactID      string
	ConversationID string
	Phone          string
	Message        string
}

// Result is what the webhook handler reports back.
type Result struct {
	Reply     string
	Step      conversation.Step
	Duplicate bool
}

type Orchestrator struct {
	states    StateSource
	machine   *funnel.Machine
	calendar  CalendarGateway
	messenger Messenger
	logger    *logging.Logger
	metrics   *metrics.WebhookMetrics

	locks      *contactLocks
	slots      *slotCache
	slotFlight singleflight.Group

	calendarID    string
	location      *time.Location
	synthTimeout  time.Duration
	effectTimeout time.Duration
}

type OrchestratorOption func(*Orchestrator)

func WithMetrics(m *metrics.WebhookMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLocation(loc *time.Location) OrchestratorOption {
	return func(o *Orchestrator) {
		if loc != nil {
			o.location = loc
		}
	}
}

func WithStageTimeouts(synth, effects time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if synth > 0 {
			o.synthTimeout = synth
		}
		if effects > 0 {
			o.effectTimeout = effects
		}
	}
}

func WithSlotCacheTTL(ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.slots = newSlotCache(ttl) }
}

func New(states StateSource, machine *funnel.Machine, calendar CalendarGateway, messenger Messenger, calendarID string, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if states == nil || machine == nil || calendar == nil || messenger == nil {
		panic("orchestrator: all collaborators are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		states:        states,
		machine:       machine,
		calendar:      calendar,
		messenger:     messenger,
		logger:        logger.Component("orchestrator"),
		locks:         newContactLocks(),
		slots:         newSlotCache(0),
		calendarID:    calendarID,
		location:      time.UTC,
		synthTimeout:  8 * time.Second,
		effectTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process handles one inbound message end to end and returns the reply
// that was (or will be) sent to the lead.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	unlock := o.locks.lock(req.ContactID)
	defer unlock()

	sctx, cancel := context.WithTimeout(ctx, o.synthTimeout)
	state := o.states.Synthesize(sctx, req.ContactID, req.ConversationID, req.Phone)
	cancel()

	decision := o.machine.Advance(ctx, state, req.Message)
	if decision.Duplicate {
		o.states.Store(ctx, decision.State)
		return Result{Duplicate: true, Step: decision.State.CurrentStep}, nil
	}

	ectx, cancel := context.WithTimeout(ctx, o.effectTimeout)
	defer cancel()

	state = decision.State
	reply := decision.Reply
	for _, effect := range decision.Effects {
		switch effect.Type {
		case funnel.EffectSendMessage:
			// The reply is sent once, below, after slot lookups and
			// bookings have had their say.
		case funnel.EffectAddTags:
			o.messenger.AddTags(ectx, req.ContactID, effect.Tags)
		case funnel.EffectAddNote:
			o.messenger.AddNote(ectx, req.ContactID, effect.Note)
		case funnel.EffectUpdateContact:
			o.pushContactFields(ectx, req.ContactID, effect.Lead)
		case funnel.EffectFetchSlots:
			reply = o.offerSlots(ectx, state.Lead)
		case funnel.EffectBookAppointment:
			reply = o.book(ectx, &state, effect.SlotIndex)
		}
	}

	if reply != "" {
		o.messenger.SendMessage(ectx, req.ContactID, reply)
		state.Messages = append(state.Messages,
			conversation.TranscriptMessage{Role: conversation.RoleHuman, Text: req.Message},
			conversation.TranscriptMessage{Role: conversation.RoleAssistant, Text: reply},
		)
	}
	state.LastActivity = time.Now().UTC()

	// Write-through keeps extraction counters and the just-sent turns
	// visible to the next webhook within the TTL.
	o.states.Store(ctx, state)
	o.metrics.ObserveStep(string(state.CurrentStep))

	return Result{Reply: reply, Step: state.CurrentStep}, nil
}

func (o *Orchestrator) pushContactFields(ctx context.Context, contactID string, lead conversation.LeadInfo) {
	update := crm.ContactUpdate{FirstName: lead.Name, Email: lead.Email}
	if update == (crm.ContactUpdate{}) {
		return
	}
	if _, err := o.calendar.UpdateContact(ctx, contactID, update); err != nil {
		o.logger.Warn("contact update failed", "error", err, "contact_id", contactID)
	}
}

// offerSlots fetches free calendar slots and turns them into the
// numbered offer message. The scheduling gate is re-checked here so a
// calendar call can never be issued for an unqualified lead.
func (o *Orchestrator) offerSlots(ctx context.Context, lead conversation.LeadInfo) string {
	if err := funnel.CanSchedule(lead, o.machineMinBudget()); err != nil {
		o.logger.Warn("scheduling gate rejected slot lookup", "error", err)
		return replyNoSlots
	}
	slots, err := o.freeSlots(ctx)
	if err != nil {
		o.logger.Error("calendar slot lookup failed", "error", err)
		return replyNoSlots
	}
	if len(slots) == 0 {
		return replyNoSlots
	}
	return formatSlotOffer(slots, o.location)
}

func (o *Orchestrator) book(ctx context.Context, state *conversation.ConversationState, slotIndex int) string {
	if err := funnel.CanSchedule(state.Lead, o.machineMinBudget()); err != nil {
		o.logger.Warn("scheduling gate rejected booking", "error", err)
		return replyNoSlots
	}

	slots, err := o.freeSlots(ctx)
	if err != nil || len(slots) == 0 {
		o.logger.Error("slot refresh for booking failed", "error", err)
		o.messenger.AddTags(ctx, state.ContactID, []string{tagManualFollowUp})
		return replyBookingFailed
	}
	if slotIndex < 0 || slotIndex >= len(slots) {
		return replySlotsRefreshed + formatSlotOffer(slots, o.location)
	}

	slot := slots[slotIndex]
	_, err = o.calendar.BookAppointment(ctx, crm.BookingRequest{
		CalendarID: o.calendarID,
		ContactID:  state.ContactID,
		Title:      bookingTitle(state.Lead.Name),
		StartTime:  slot.StartTime,
		EndTime:    slot.EndTime,
	})
	if err != nil {
		o.logger.Error("booking failed", "error", err, "contact_id", state.ContactID)
		o.messenger.AddTags(ctx, state.ContactID, []string{tagManualFollowUp})
		o.messenger.AddNote(ctx, state.ContactID,
			fmt.Sprintf("Intento de agendar %s falló: %v", slot.StartTime.Format(time.RFC3339), err))
		return replyBookingFailed
	}

	state.AppointmentScheduled = true
	state.CurrentStep = conversation.StepCompleted
	o.slots.invalidate()

	o.messenger.AddTags(ctx, state.ContactID, []string{funnel.TagAppointmentScheduled})
	o.messenger.AddNote(ctx, state.ContactID,
		fmt.Sprintf("Cita agendada para %s.", slot.StartTime.In(o.location).Format("Mon 2 Jan, 3:04 PM")))

	return fmt.Sprintf("¡Tu cita quedó confirmada para el %s! Te llegará la invitación a %s. ¡Nos vemos!",
		slot.StartTime.In(o.location).Format("Mon 2 Jan, 3:04 PM"), state.Lead.Email)
}

func bookingTitle(name string) string {
	if name == "" {
		return "Llamada de estrategia"
	}
	return "Llamada de estrategia - " + name
}

func (o *Orchestrator) machineMinBudget() int {
	return o.machine.MinBudget()
}
