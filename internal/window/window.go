// internal/window/window.go
//
// Customer-care session window.
//
// Context
// -------
// WhatsApp lets a business send free-form text only while a contact’s
// session window is open; outside it only approved templates go through.
// Evaluate decides OPEN or CLOSED from a contact’s message history and is
// pure: no I/O, and the clock is injected.
//
// Two policies decide which messages count as activity:
//
//   - any_direction – the latest message in either direction (what the
//     console has always shown as “chat disabled”).
//   - inbound_only  – only customer messages, matching provider billing.
//
// Rules
// -----
//   - Empty history is OPEN.
//   - Elapsed strictly greater than the window is CLOSED; exactly the
//     window is still OPEN.
//   - Events with a zero timestamp are skipped and logged, never treated
//     as “now”.
//   - Under inbound_only, a history holding only outbound messages is
//     CLOSED: the customer never opened a session.
package window

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultHours is the provider’s window length.
const DefaultHours = 24

// Direction of a message relative to the business.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Policy selects which messages reopen the window.
type Policy string

const (
	AnyDirection Policy = "any_direction"
	InboundOnly  Policy = "inbound_only"
)

// ParsePolicy maps a config string to a Policy, defaulting to AnyDirection.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == InboundOnly {
		return InboundOnly
	}
	return AnyDirection
}

// State is the evaluated window state.
type State string

const (
	Open   State = "open"
	Closed State = "closed"
)

// Event is the slice of a message the evaluator needs.
type Event struct {
	ID        string
	At        time.Time
	Direction Direction
}

// Decision is the evaluation result.  LastActivity and ExpiresAt are zero
// when no event counted.
type Decision struct {
	State        State     `json:"state"`
	LastActivity time.Time `json:"last_activity,omitzero"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Skipped      int       `json:"-"`
}

// IsOpen reports whether free-form sending is allowed.
func (d Decision) IsOpen() bool { return d.State == Open }

// Evaluator holds the window length, policy, and clock.
type Evaluator struct {
	Hours  int
	Policy Policy
	Now    func() time.Time
	Log    *zap.SugaredLogger
}

// New returns an Evaluator with the wall clock.  hours <= 0 means
// DefaultHours.
func New(hours int, policy Policy, log *zap.SugaredLogger) *Evaluator {
	return &Evaluator{Hours: hours, Policy: policy, Now: time.Now, Log: log}
}

// Length is the window duration.
func (e *Evaluator) Length() time.Duration {
	if e.Hours <= 0 {
		return DefaultHours * time.Hour
	}
	return time.Duration(e.Hours) * time.Hour
}

// Evaluate decides the window state for one contact.  events need not be
// sorted.
func (e *Evaluator) Evaluate(events []Event) Decision {
	var (
		last     time.Time
		skipped  int
		outbound int
	)
	for _, ev := range events {
		if ev.At.IsZero() {
			skipped++
			e.log().Warnw("skipping message with invalid timestamp",
				"id", ev.ID, "direction", ev.Direction.String())
			continue
		}
		if e.Policy == InboundOnly && ev.Direction != Inbound {
			outbound++
			continue
		}
		if ev.At.After(last) {
			last = ev.At
		}
	}

	if last.IsZero() {
		if outbound > 0 {
			return Decision{State: Closed, Skipped: skipped}
		}
		return Decision{State: Open, Skipped: skipped}
	}

	d := Decision{
		LastActivity: last,
		ExpiresAt:    last.Add(e.Length()),
		Skipped:      skipped,
		State:        Open,
	}
	if e.now().Sub(last) > e.Length() {
		d.State = Closed
	}
	return d
}

// Since is a convenience for callers holding only timestamps: every time
// is treated as inbound.
func (e *Evaluator) Since(times ...time.Time) Decision {
	events := make([]Event, len(times))
	for i, t := range times {
		events[i] = Event{At: t, Direction: Inbound}
	}
	return e.Evaluate(events)
}

// ParseTimestamp accepts the layouts the tenant tables and the CLI use.
// It returns the zero time when s matches none, which Evaluate skips.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (e *Evaluator) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Evaluator) log() *zap.SugaredLogger {
	if e.Log == nil {
		return zap.S()
	}
	return e.Log
}
