// events.go carries update notifications from the monitor to any frontend
// (log sink, tray, future UI) without ever blocking the polling loop.
package monitor

// EventKind discriminates monitor events.
type EventKind int

const (
	// EventScenarioChanged fires when the tracked scenario switches,
	// including the switch to "nothing" when the game exits.
	EventScenarioChanged EventKind = iota
	// EventSyncProgress reports online sync progress messages.
	EventSyncProgress
	// EventSyncComplete fires once per finished online sync.
	EventSyncComplete
	// EventToast carries one-off informational messages.
	EventToast
)

// Event is a single monitor notification. Fields beyond Kind are populated
// per kind: Scenario/Highscore/SessionBest for scenario changes,
// Success/Message for sync completion, Message alone for progress and toasts.
type Event struct {
	Kind        EventKind
	Scenario    string
	Highscore   float64
	SessionBest float64
	Success     bool
	Message     string
}

// Bus fans monitor events out to a single consumer over a buffered channel.
// Publishing never blocks: when the consumer lags, the oldest pending event
// is dropped rather than stalling a tick.
type Bus struct {
	ch chan Event
}

// NewBus returns a Bus with the given buffer size. Sizes below 1 are raised
// to 1 so publish can always coalesce at least one pending event.
func NewBus(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{ch: make(chan Event, size)}
}

// Publish enqueues an event. When the buffer is full the oldest pending
// event is discarded to make room, so a stalled consumer sees the most
// recent state.
func (b *Bus) Publish(e Event) {
	select {
	case b.ch <- e:
		return
	default:
	}
	select {
	case <-b.ch:
	default:
	}
	select {
	case b.ch <- e:
	default:
	}
}

// Events returns the receive side of the bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
