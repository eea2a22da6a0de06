package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// Amounts carrying a currency or per-month marker: "$500",
	// "500 al mes", "500/month", "1,200 usd mensuales".
	markedBudgetPattern = regexp.MustCompile(`(?i)(?:\$\s*(\d{1,3}(?:,\d{3})+|\d+)|(\d{1,3}(?:,\d{3})+|\d+)\s*(?:usd|d[oó]lares|pesos|al\s+mes|por\s+mes|mensuales?|per\s+month|/\s*month|monthly))`)

	bareNumberPattern = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)\s*(%?)`)

	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// ExtractBudget scans free text for the first plausible budget figure.
// Amounts with a currency or per-month marker win over bare numbers, and
// percentages ("crecer 50%") are never treated as budgets. Returns
// (0, false) when nothing matches; the structured CRM value, when
// present, always takes precedence over this backfill.
func ExtractBudget(text string) (int, bool) {
	if m := markedBudgetPattern.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, ok := parseAmount(raw); ok {
			return v, true
		}
	}
	for _, m := range bareNumberPattern.FindAllStringSubmatch(text, -1) {
		if m[2] == "%" {
			continue
		}
		if v, ok := parseAmount(m[1]); ok {
			return v, true
		}
	}
	return 0, false
}

func parseAmount(raw string) (int, bool) {
	v, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ExtractEmail returns the first email address found in text.
func ExtractEmail(text string) (string, bool) {
	m := emailPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// IsArtifact reports whether a message body is machine debris rather than
// something a human or the assistant said: raw JSON payloads and API
// responses that leaked into the conversation thread.
func IsArtifact(body string) bool {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return true
	}
	if strings.Contains(trimmed, `"success":`) || strings.Contains(trimmed, `"timestamp":`) {
		return true
	}
	return false
}

// BackfillFromText fills still-missing lead fields by pattern matching
// over the conversation text. Populated fields are never touched.
func BackfillFromText(lead *LeadInfo, text string) {
	if lead.Budget == nil {
		if v, ok := ExtractBudget(text); ok {
			lead.Budget = &v
		}
	}
	if lead.Email == "" {
		if email, ok := ExtractEmail(text); ok {
			lead.Email = email
		}
	}
}
