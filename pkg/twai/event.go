package twai

import "strings"

// Set of events produced by one decode, consumed immediately by the caller
type Events uint32

const (
	EventBusOff Events = 1 << iota
	EventBusRecoveryComplete
	EventBusRecoveryInProgress
	EventAboveErrorWarning
	EventBelowErrorWarning
	EventErrorPassive
	EventErrorActive
	EventBusError
	EventArbitrationLost
	EventRxFrameAvailable
	EventTxBufferFree
	EventNeedsPeripheralReset
	EventRxFifoOverrun

	EventNone Events = 0
	EventAll  Events = EventRxFifoOverrun<<1 - 1
)

var eventNames = []struct {
	event Events
	name  string
}{
	{EventBusOff, "BUS_OFF"},
	{EventBusRecoveryComplete, "BUS_RECOVERY_COMPLETE"},
	{EventBusRecoveryInProgress, "BUS_RECOVERY_IN_PROGRESS"},
	{EventAboveErrorWarning, "ABOVE_ERROR_WARNING_LIMIT"},
	{EventBelowErrorWarning, "BELOW_ERROR_WARNING_LIMIT"},
	{EventErrorPassive, "ERROR_PASSIVE"},
	{EventErrorActive, "ERROR_ACTIVE"},
	{EventBusError, "BUS_ERROR"},
	{EventArbitrationLost, "ARBITRATION_LOST"},
	{EventRxFrameAvailable, "RX_FRAME_AVAILABLE"},
	{EventTxBufferFree, "TX_BUFFER_FREE"},
	{EventNeedsPeripheralReset, "NEEDS_PERIPHERAL_RESET"},
	{EventRxFifoOverrun, "RX_FIFO_OVERRUN"},
}

// Has returns true if every event of e is present
func (events Events) Has(e Events) bool {
	return events&e == e
}

// Any returns true if at least one event of e is present
func (events Events) Any(e Events) bool {
	return events&e != 0
}

// List returns the single events contained, in declaration order
func (events Events) List() []Events {
	list := make([]Events, 0, len(eventNames))
	for _, ev := range eventNames {
		if events.Has(ev.event) {
			list = append(list, ev.event)
		}
	}
	return list
}

func (events Events) String() string {
	if events == EventNone {
		return "NONE"
	}
	names := make([]string, 0, len(eventNames))
	for _, ev := range eventNames {
		if events.Has(ev.event) {
			names = append(names, ev.name)
		}
	}
	return strings.Join(names, "|")
}

// Lookup an event by name, as written by String
func ParseEvent(name string) (Events, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, ev := range eventNames {
		if ev.name == name {
			return ev.event, true
		}
	}
	return EventNone, false
}
