package funnel

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
	"unicode"
)

// NormalizeContent canonicalizes a message for duplicate detection:
// lowercase, punctuation stripped, whitespace collapsed. "Hola!" and
// "  hola " hash the same.
func NormalizeContent(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// ContentHash returns the dedup key for a message body.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(text)))
	return hex.EncodeToString(sum[:])
}

// dedupScope identifies one lead's conversation. Both parts matter: the
// conversation id alone can be empty on a degraded synthesis, and an
// empty key must never pool two contacts together.
type dedupScope struct {
	contactID      string
	conversationID string
}

// Deduper remembers recent inbound content hashes per contact and
// conversation so a re-delivered webhook does not re-enter the funnel.
// Entries expire after the window; the memory is best-effort and
// process-local, matching the at-least-once delivery of the webhook
// source.
type Deduper struct {
	mu     sync.Mutex
	seen   map[dedupScope]map[string]time.Time
	window time.Duration
	now    func() time.Time
}

const defaultDedupWindow = 10 * time.Minute

func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &Deduper{
		seen:   make(map[dedupScope]map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Seen records the message and reports whether the same normalized
// content was already seen for this contact's conversation within the
// window.
func (d *Deduper) Seen(contactID, conversationID, text string) bool {
	scope := dedupScope{contactID: contactID, conversationID: conversationID}
	hash := ContentHash(text)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	hashes, ok := d.seen[scope]
	if !ok {
		hashes = make(map[string]time.Time)
		d.seen[scope] = hashes
	}
	for h, at := range hashes {
		if now.Sub(at) >= d.window {
			delete(hashes, h)
		}
	}

	_, dup := hashes[hash]
	hashes[hash] = now
	return dup
}

// Forget drops all remembered hashes for a contact's conversation.
func (d *Deduper) Forget(contactID, conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupScope{contactID: contactID, conversationID: conversationID})
}
