// Package conversation reconstructs a lead's session state from the CRM
// system of record. The webhook handler is stateless; everything it knows
// about an ongoing conversation comes from Synthesize, which merges remote
// history, structured contact fields, and pattern-matched backfill into a
// single ConversationState snapshot.
package conversation

import (
	"strings"
	"time"
)

// Step is the qualification funnel position derived from what is known
// about the lead. It is recomputed on every request, never stored as the
// source of truth.
type Step string

const (
	StepGreeting       Step = "greeting"
	StepGettingName    Step = "getting_name"
	StepGettingProblem Step = "getting_problem"
	StepGettingGoal    Step = "getting_goal"
	StepGettingBudget  Step = "getting_budget"
	StepGettingEmail   Step = "getting_email"
	StepScheduling     Step = "scheduling"
	StepCompleted      Step = "completed"
)

// Role identifies which side of the conversation authored a message.
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// TranscriptMessage is one turn of the conversation, oldest first. A
// synthetic summary entry produced by windowing uses RoleAssistant with
// Summary set.
type TranscriptMessage struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	Summary bool   `json:"summary,omitempty"`
}

// LeadInfo accumulates qualification fields monotonically: a set field is
// never cleared, only replaced by a later, more specific value.
type LeadInfo struct {
	Name         string `json:"name,omitempty"`
	BusinessType string `json:"businessType,omitempty"`
	Problem      string `json:"problem,omitempty"`
	Goal         string `json:"goal,omitempty"`
	Budget       *int   `json:"budget,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Backfill fills fields that are still empty from other, leaving populated
// fields untouched. Structured CRM data is applied first, then extraction
// results backfill through this method, so the structured source always
// wins.
func (l *LeadInfo) Backfill(other LeadInfo) {
	if l.Name == "" {
		l.Name = strings.TrimSpace(other.Name)
	}
	if l.BusinessType == "" {
		l.BusinessType = strings.TrimSpace(other.BusinessType)
	}
	if l.Problem == "" {
		l.Problem = strings.TrimSpace(other.Problem)
	}
	if l.Goal == "" {
		l.Goal = strings.TrimSpace(other.Goal)
	}
	if l.Budget == nil {
		l.Budget = other.Budget
	}
	if l.Email == "" {
		l.Email = strings.TrimSpace(other.Email)
	}
}

// Complete reports whether every field required for scheduling is present.
// BusinessType is nice-to-have and does not gate the funnel.
func (l LeadInfo) Complete() bool {
	return l.Name != "" && l.Problem != "" && l.Goal != "" && l.Budget != nil && l.Email != ""
}

// MissingField returns the first funnel field still unknown, in funnel
// order, or "" when the lead is complete.
func (l LeadInfo) MissingField() string {
	switch {
	case l.Name == "":
		return "name"
	case l.Problem == "":
		return "problem"
	case l.Goal == "":
		return "goal"
	case l.Budget == nil:
		return "budget"
	case l.Email == "":
		return "email"
	}
	return ""
}

// ConversationState is the reconstructed session snapshot a webhook
// request operates on.
type ConversationState struct {
	ConversationID string              `json:"conversationId"`
	ContactID      string              `json:"contactId"`
	Phone          string              `json:"phone"`
	Messages       []TranscriptMessage `json:"messages"`
	Lead           LeadInfo            `json:"leadInfo"`
	CurrentStep    Step                `json:"currentStep"`
	Tags           []string            `json:"tags,omitempty"`

	AppointmentScheduled bool      `json:"appointmentScheduled"`
	ExtractionAttempts   int       `json:"extractionAttempts"`
	MaxExtractionReached bool      `json:"maxExtractionReached"`
	LastActivity         time.Time `json:"lastActivity"`
}

// EmptyState is the degraded fallback when synthesis fails: known
// identifiers, no history, no lead fields. Handlers always get a valid
// state to act on.
func EmptyState(contactID, conversationID, phone string) ConversationState {
	return ConversationState{
		ConversationID: conversationID,
		ContactID:      contactID,
		Phone:          phone,
		Messages:       []TranscriptMessage{},
		CurrentStep:    StepGreeting,
		LastActivity:   time.Now().UTC(),
	}
}

// DeriveStep computes the funnel step from lead completeness in strict
// order name, problem, goal, budget, email. An under-threshold budget
// holds the step at getting_budget; the nurture path is decided by the
// funnel machine, not here. humanTurns is the count of inbound messages
// already incorporated; a conversation with no prior turns and nothing
// known is at the greeting.
func DeriveStep(lead LeadInfo, appointmentScheduled bool, humanTurns, minBudget int) Step {
	if appointmentScheduled {
		return StepCompleted
	}
	if humanTurns == 0 && lead == (LeadInfo{}) {
		return StepGreeting
	}
	switch {
	case lead.Name == "":
		return StepGettingName
	case lead.Problem == "":
		return StepGettingProblem
	case lead.Goal == "":
		return StepGettingGoal
	case lead.Budget == nil:
		return StepGettingBudget
	case *lead.Budget < minBudget:
		return StepGettingBudget
	case lead.Email == "":
		return StepGettingEmail
	}
	return StepScheduling
}

// HumanTurns counts inbound messages in the transcript.
func HumanTurns(messages []TranscriptMessage) int {
	n := 0
	for _, m := range messages {
		if m.Role == RoleHuman {
			n++
		}
	}
	return n
}

// BudgetValue returns the budget or 0 when unknown.
func (l LeadInfo) BudgetValue() int {
	if l.Budget == nil {
		return 0
	}
	return *l.Budget
}

// IntPtr is a small helper for building LeadInfo literals.
func IntPtr(v int) *int { return &v }
