package crm

import "time"

// Contact is the CRM-side contact record, the authoritative source of
// structured lead fields.
type Contact struct {
	ID        string   `json:"id"`
	FirstName string   `json:"firstName"`
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email"`
	Tags      []string `json:"tags"`
}

// DisplayName prefers the first name and falls back to the full name.
func (c *Contact) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.FirstName != "" {
		return c.FirstName
	}
	return c.Name
}

// Conversation is a CRM conversation thread.
type Conversation struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contactId"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"dateUpdated"`
}

// Message is a single conversational turn as stored by the CRM.
type Message struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"` // inbound | outbound
	Body      string    `json:"body"`
	DateAdded time.Time `json:"dateAdded"`
}

// CalendarSlot is an open appointment slot.
type CalendarSlot struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// BookingRequest describes an appointment to create.
type BookingRequest struct {
	CalendarID string    `json:"calendarId"`
	ContactID  string    `json:"contactId"`
	Title      string    `json:"title"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

// BookingResult is the CRM's confirmation of a booked appointment.
type BookingResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ContactUpdate carries the fields an update may set. Empty fields are
// omitted from the request so the CRM keeps its current values.
type ContactUpdate struct {
	FirstName string `json:"firstName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Response envelopes for the CRM REST API.

type contactEnvelope struct {
	Contact Contact `json:"contact"`
}

type conversationEnvelope struct {
	Conversation Conversation `json:"conversation"`
}

type conversationsEnvelope struct {
	Conversations []Conversation `json:"conversations"`
}

type messagesEnvelope struct {
	Messages []Message `json:"messages"`
}

type slotsEnvelope struct {
	Slots []CalendarSlot `json:"data"`
}

type bookingEnvelope struct {
	ID     string `json:"id"`
	Status string `json:"appointmentStatus"`
}
