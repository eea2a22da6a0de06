// Package funnel decides what happens next in the qualification funnel.
// Advance consumes a synthesized conversation state plus one inbound
// message and returns the next state and a list of side-effect requests;
// it never talks to the CRM itself.
package funnel

import "github.com/outletmedia/sales-ai-platform/internal/conversation"

// EffectType enumerates the side effects the machine can request.
type EffectType string

const (
	EffectSendMessage     EffectType = "send_message"
	EffectAddTags         EffectType = "add_tags"
	EffectAddNote         EffectType = "add_note"
	EffectUpdateContact   EffectType = "update_contact"
	EffectFetchSlots      EffectType = "fetch_calendar_slots"
	EffectBookAppointment EffectType = "book_appointment"
)

// SideEffect is one requested CRM mutation. Which fields are meaningful
// depends on Type.
type SideEffect struct {
	Type EffectType

	Message string
	Tags    []string
	Note    string
	Lead    conversation.LeadInfo

	// SlotIndex selects one of the previously offered calendar slots
	// for book_appointment.
	SlotIndex int
}

// Qualification tags pushed to the CRM as the funnel progresses.
const (
	TagQualifiedLead        = "qualified-lead"
	TagNurture              = "nurture"
	TagAppointmentScheduled = "appointment-scheduled"
)
