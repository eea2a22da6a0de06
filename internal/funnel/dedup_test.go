package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "hola", NormalizeContent("  Hola!  "))
	assert.Equal(t, "tengo 500 al mes", NormalizeContent("Tengo  500   al mes."))
	assert.Equal(t, NormalizeContent("¿Qué tal?"), NormalizeContent("qué tal"))
	assert.Equal(t, "", NormalizeContent("!!!"))
}

func TestDeduper_SeenWithinWindow(t *testing.T) {
	d := NewDeduper(10 * time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	assert.False(t, d.Seen("c1", "conv1", "Hola"))
	assert.True(t, d.Seen("c1", "conv1", "hola!"))

	// Different conversations never share dedup memory.
	assert.False(t, d.Seen("c1", "conv2", "Hola"))

	// Outside the window the same content is fresh again.
	now = now.Add(11 * time.Minute)
	assert.False(t, d.Seen("c1", "conv1", "Hola"))
}

func TestDeduper_ContactsNeverShareMemory(t *testing.T) {
	d := NewDeduper(10 * time.Minute)

	// Degraded synthesis leaves the conversation id empty; two contacts
	// sending the same common text must both get through.
	assert.False(t, d.Seen("contact-a", "", "Hola"))
	assert.False(t, d.Seen("contact-b", "", "Hola"))
	assert.True(t, d.Seen("contact-a", "", "Hola"))
}

func TestDeduper_Forget(t *testing.T) {
	d := NewDeduper(10 * time.Minute)
	assert.False(t, d.Seen("c1", "conv1", "Hola"))
	d.Forget("c1", "conv1")
	assert.False(t, d.Seen("c1", "conv1", "Hola"))
}
