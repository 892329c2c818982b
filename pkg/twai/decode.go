package twai

// One read of the controller registers for a single interrupt occurrence
type Snapshot struct {
	Interrupts Interrupt
	Status     Status
	TEC        uint8
	REC        uint8
	// Only meaningful when IntrBusErr is set
	ErrorCode ErrorCode
	// Only meaningful when IntrRx is set
	RxMessageCount uint8
}

// Rules for the error / status change interrupt, first match wins
type statusChangeRule struct {
	match func(snap Snapshot, prev StateFlags) bool
	event Events
	set   StateFlags
	clear StateFlags
}

var statusChangeRules = []statusChangeRule{
	{
		// Limit exceeded while bus status is off, bus-off was just entered
		// Any TX is halted by the hardware
		match: func(s Snapshot, _ StateFlags) bool {
			return s.Status&StatusBusOff != 0 && s.Status&StatusErrorLimit != 0
		},
		event: EventBusOff,
		set:   FlagBusOff,
		clear: FlagRunning | FlagTxBufferOccupied,
	},
	{
		// Below limit while off, TEC is counting down during recovery
		match: func(s Snapshot, _ StateFlags) bool {
			return s.Status&StatusBusOff != 0
		},
		event: EventBusRecoveryInProgress,
	},
	{
		match: func(s Snapshot, _ StateFlags) bool {
			return s.Status&StatusErrorLimit != 0
		},
		event: EventAboveErrorWarning,
		set:   FlagErrWarning,
	},
	{
		match: func(_ Snapshot, prev StateFlags) bool {
			return prev.Has(FlagRecovering)
		},
		event: EventBusRecoveryComplete,
		clear: FlagRecovering | FlagBusOff,
	},
	{
		match: func(Snapshot, StateFlags) bool { return true },
		event: EventBelowErrorWarning,
		clear: FlagErrWarning,
	},
}

func decodeStatusChange(snap Snapshot, prev StateFlags) (Events, StateFlags) {
	state := prev
	for _, rule := range statusChangeRules {
		if rule.match(snap, prev) {
			state = state.Set(rule.set).Clear(rule.clear)
			return rule.event, state
		}
	}
	return EventNone, state
}

// Error passive is derived from the counters on every call
func isErrorPassive(tec uint8, rec uint8) bool {
	return tec >= ErrorPassiveThreshold || rec >= ErrorPassiveThreshold
}

// DecodeSnapshot translates one register snapshot into events and the new
// shadow state. It has no side effects and never fails.
func DecodeSnapshot(snap Snapshot, prev StateFlags, cfg Config) (Events, StateFlags) {
	events := EventNone
	state := prev
	errata := cfg.Errata

	if snap.Interrupts&IntrErrWarn != 0 {
		var ev Events
		ev, state = decodeStatusChange(snap, prev)
		events |= ev
	}
	// Set whenever RX FIFO is not empty
	if snap.Interrupts&IntrRx != 0 {
		events |= EventRxFrameAvailable
	}
	// Interrupt can be lost on some silicon, fallback on polling while a TX is outstanding
	txPolled := errata.TxIntrLost && prev.Has(FlagTxBufferOccupied) && snap.Status&StatusTxBufferFree != 0
	if snap.Interrupts&IntrTx != 0 || txPolled {
		events |= EventTxBufferFree
		state = state.Clear(FlagTxBufferOccupied)
	}
	if snap.Interrupts&IntrErrPassive != 0 {
		if isErrorPassive(snap.TEC, snap.REC) {
			events |= EventErrorPassive
		} else {
			events |= EventErrorActive
		}
	}
	state = state.Assign(FlagErrPassive, isErrorPassive(snap.TEC, snap.REC))

	if snap.Interrupts&IntrBusErr != 0 {
		events |= EventBusError
		if errata.RxFrameInvalid && snap.ErrorCode.CorruptsRxFrame() {
			events |= EventNeedsPeripheralReset
		}
	}
	if snap.Interrupts&IntrArbLost != 0 {
		events |= EventArbitrationLost
	}
	if snap.Interrupts&IntrDataOverrun != 0 {
		events |= EventRxFifoOverrun
	}
	if errata.RxFifoCorrupt && events.Has(EventRxFrameAvailable) && snap.RxMessageCount >= cfg.rxFifoThreshold() {
		events |= EventNeedsPeripheralReset
	}
	// The reset discards the FIFO content, nothing may be read upward
	if events.Has(EventNeedsPeripheralReset) {
		events &^= EventRxFrameAvailable
	}
	return events, state
}
