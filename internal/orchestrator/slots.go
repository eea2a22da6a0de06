package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/outletmedia/sales-ai-platform/internal/crm"
)

// slotCache holds free calendar slots for a short while so that the
// offer message and the booking that follows it see the same list.
type slotCache struct {
	mu        sync.Mutex
	slots     []crm.CalendarSlot
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func newSlotCache(ttl time.Duration) *slotCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &slotCache{ttl: ttl, now: time.Now}
}

func (c *slotCache) get() ([]crm.CalendarSlot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.slots, true
}

func (c *slotCache) put(slots []crm.CalendarSlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = slots
	c.fetchedAt = c.now()
}

func (c *slotCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = nil
}

// freeSlots returns up to maxOfferedSlots upcoming slots, from the cache
// when fresh. Concurrent cache misses collapse into one calendar call.
func (o *Orchestrator) freeSlots(ctx context.Context) ([]crm.CalendarSlot, error) {
	if slots, ok := o.slots.get(); ok {
		return slots, nil
	}

	v, err, _ := o.slotFlight.Do(o.calendarID, func() (any, error) {
		start := time.Now()
		slots, err := o.calendar.GetCalendarSlots(ctx, o.calendarID, start, start.AddDate(0, 0, 7))
		if err != nil {
			return nil, err
		}
		if len(slots) > maxOfferedSlots {
			slots = slots[:maxOfferedSlots]
		}
		o.slots.put(slots)
		return slots, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]crm.CalendarSlot), nil
}

const maxOfferedSlots = 3

// formatSlotOffer renders the numbered slot list the lead replies to.
func formatSlotOffer(slots []crm.CalendarSlot, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("¡Listo! Tengo estos horarios disponibles:\n")
	for i, s := range slots {
		local := s.StartTime.In(loc)
		fmt.Fprintf(&b, "%d. %s\n", i+1, local.Format("Mon 2 Jan, 3:04 PM"))
	}
	b.WriteString("Respóndeme con el número de la opción que prefieras.")
	return b.String()
}
