package twai

import (
	gotwai "github.com/samsamfire/gotwai"
	log "github.com/sirupsen/logrus"
)

// Controller decodes interrupts and coordinates recovery of one TWAI controller.
//
// Decode is meant to be called from the interrupt context, everything else
// from the owning task. There is no internal locking : the caller serializes
// all calls, and PrepareForReset / RecoverFromReset must be called as a pair
// with nothing else in between.
type Controller struct {
	port  RegisterPort
	cfg   Config
	state StateFlags

	// Valid for one prepare / recover pair
	rxMsgCountSaved uint8
	registersSaved  RegisterFile
	txFrameSaved    Frame

	lastBusError ErrorCode
}

// Create a controller, the peripheral is left in reset mode until Start
func NewController(port RegisterPort, cfg Config) (*Controller, error) {
	if port == nil {
		return nil, gotwai.ErrIllegalArgument
	}
	c := &Controller{port: port, cfg: cfg}
	port.EnterResetMode()
	port.EnableExtendedRegisterLayout()
	return c, nil
}

// Configure timing, filter and error warning limit.
// Error counters are cleared, must be called while stopped.
func (c *Controller) Configure(timing Timing, filter Filter, errorWarningLimit uint8) error {
	if c.state.Has(FlagRunning) {
		return gotwai.ErrInvalidState
	}
	c.port.EnterResetMode()
	c.port.SetBusTiming(timing)
	c.port.SetAcceptanceFilter(filter)
	c.port.SetErrorWarningLimit(errorWarningLimit)
	c.port.SetInterruptEnable(IntrAll)
	c.port.SetREC(0)
	c.port.SetTEC(0)
	_ = c.port.GetAndClearInterrupts()
	c.state = c.state.Clear(FlagErrWarning | FlagErrPassive)
	log.Debugf("[TWAI] configured | brp %v tseg1 %v tseg2 %v ewl %v", timing.Brp, timing.Tseg1, timing.Tseg2, errorWarningLimit)
	return nil
}

// Start participating on the bus in the given mode
func (c *Controller) Start(mode Mode) error {
	if c.state.Has(FlagBusOff) {
		return gotwai.ErrInvalidState
	}
	c.port.SetMode(mode)
	_ = c.port.GetAndClearInterrupts()
	c.port.ExitResetMode()
	c.state = c.state.Set(FlagRunning)
	log.Debugf("[TWAI] started in %v", mode)
	return nil
}

// Stop the controller, an outstanding TX is abandoned
func (c *Controller) Stop() {
	c.port.EnterResetMode()
	_ = c.port.GetAndClearInterrupts()
	// Freeze REC
	c.port.SetMode(ModeListenOnly)
	c.state = c.state.Clear(FlagRunning | FlagTxBufferOccupied)
	log.Debugf("[TWAI] stopped")
}

// Start bus recovery, only valid in bus-off.
// Completion is reported by Decode as EventBusRecoveryComplete.
func (c *Controller) StartBusRecovery() error {
	if !c.state.Has(FlagBusOff) {
		return gotwai.ErrNotBusOff
	}
	c.state = c.state.Set(FlagRecovering)
	c.port.ExitResetMode()
	log.Debugf("[TWAI] bus recovery initiated")
	return nil
}

// Current shadow state
func (c *Controller) State() StateFlags {
	return c.state
}

// True if all the given flags are set
func (c *Controller) CheckState(flags StateFlags) bool {
	return c.state.Has(flags)
}

// True if the last transmission was acknowledged.
// Only meaningful once the TX buffer was reported free.
func (c *Controller) LastTxSuccessful() bool {
	return c.port.GetStatus()&StatusTxComplete != 0
}

// Current error counters
func (c *Controller) Counters() (tec uint8, rec uint8) {
	return c.port.GetTEC(), c.port.GetREC()
}

// Last decoded bus error
func (c *Controller) LastBusError() ErrorCode {
	return c.lastBusError
}

// Number of frames that were in the RX FIFO when the last reset was prepared
func (c *Controller) LostRxCount() uint8 {
	return c.rxMsgCountSaved
}

// Read the registers once for the current interrupt
func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		Interrupts: c.port.GetAndClearInterrupts(),
		Status:     c.port.GetStatus(),
		TEC:        c.port.GetTEC(),
		REC:        c.port.GetREC(),
	}
	if snap.Interrupts&IntrBusErr != 0 {
		t, d, s := c.port.ParseErrorCodeCapture()
		snap.ErrorCode = ErrorCode{Type: t, Dir: d, Segment: s}
	}
	if c.cfg.Errata.RxFifoCorrupt && snap.Interrupts&IntrRx != 0 {
		snap.RxMessageCount = c.port.GetRxMessageCount()
	}
	return snap
}

// Decode handles one controller interrupt.
// Interrupts are read and cleared exactly once, the resulting events are
// returned after the low latency hardware actions have been performed.
func (c *Controller) Decode() Events {
	snap := c.snapshot()
	events, state := DecodeSnapshot(snap, c.state, c.cfg)
	c.state = state

	if events.Has(EventBusOff) {
		// Freeze TEC / REC so that final counts can be read
		c.port.SetMode(ModeListenOnly)
		if c.cfg.Errata.BusOffRec {
			// Re-trigger bus-off to force REC to 0, drop the resulting interrupt
			c.port.SetTEC(0)
			c.port.SetTEC(busOffTec)
			_ = c.port.GetAndClearInterrupts()
		}
		log.Warnf("[TWAI] bus-off | tec %v rec %v", snap.TEC, snap.REC)
	}
	if events.Has(EventBusRecoveryComplete) {
		// Controller stays stopped after recovery
		c.port.EnterResetMode()
		log.Infof("[TWAI] bus recovery complete")
	}
	if events.Has(EventBusError) {
		c.lastBusError = snap.ErrorCode
		c.port.ClearErrorCodeCapture()
	}
	if events.Has(EventArbitrationLost) {
		c.port.ClearArbitrationLostCapture()
	}
	if events.Has(EventNeedsPeripheralReset) {
		log.Debugf("[TWAI] peripheral reset required | rx count %v err %v %v %x",
			snap.RxMessageCount, snap.ErrorCode.Type, snap.ErrorCode.Dir, uint8(snap.ErrorCode.Segment))
	}
	return events
}

func txCommand(f Frame) TxCommand {
	switch {
	case f.SelfReception && f.SingleShot:
		return TxCmdSelfRxSingleShot
	case f.SelfReception:
		return TxCmdSelfRx
	case f.SingleShot:
		return TxCmdSingleShot
	default:
		return TxCmdNormal
	}
}

// Submit writes a frame to the TX buffer and requests its transmission.
// Completion is observed later through EventTxBufferFree.
func (c *Controller) Submit(f Frame) error {
	buffer, err := FormatFrame(f)
	if err != nil {
		return err
	}
	c.port.SetTxBuffer(buffer)
	c.port.IssueTxCommand(txCommand(f))
	c.state = c.state.Set(FlagTxBufferOccupied)
	if c.cfg.Errata.NeedsResetSupport() {
		// Kept in case a reset cancels it
		c.txFrameSaved = f
	}
	return nil
}

// Read and release one frame of the RX FIFO.
// On overrun the frame is released and gotwai.ErrRxFifoOverrun returned,
// the FIFO should then be emptied with ClearRxFifoOverrun.
func (c *Controller) ReadRxFrame() (Frame, error) {
	if c.port.GetRxMessageCount() == 0 {
		return Frame{}, gotwai.ErrRxFifoEmpty
	}
	buffer := c.port.GetRxBuffer()
	c.port.ReleaseRxBuffer()
	if c.port.GetStatus()&StatusDataOverrun != 0 {
		return Frame{}, gotwai.ErrRxFifoOverrun
	}
	return ParseFrame(buffer), nil
}

// Release every frame of the RX FIFO and clear overrun, returns the number of frames dropped
func (c *Controller) ClearRxFifoOverrun() int {
	count := int(c.port.GetRxMessageCount())
	for i := 0; i < count; i++ {
		c.port.ReleaseRxBuffer()
	}
	c.port.ClearDataOverrun()
	return count
}

// PrepareForReset saves what a peripheral reset loses and enters reset mode.
// Must be followed by RecoverFromReset before any other call.
func (c *Controller) PrepareForReset() {
	status := c.port.GetStatus()
	if status&StatusTxBufferFree == 0 {
		// Ongoing TX will be cancelled by the reset. If it completes right
		// after this check it is still retried and sent twice.
		c.state = c.state.Set(FlagTxNeedRetry)
	}
	c.rxMsgCountSaved = c.port.GetRxMessageCount()
	c.registersSaved = c.port.SaveRegisterFile()
	c.port.EnterResetMode()
	log.Debugf("[TWAI] prepared for reset | rx lost %v retry tx %v", c.rxMsgCountSaved, c.state.Has(FlagTxNeedRetry))
}

// RecoverFromReset restores the registers saved by PrepareForReset and
// retransmits a frame cancelled by the reset.
func (c *Controller) RecoverFromReset() {
	c.port.EnterResetMode()
	c.port.EnableExtendedRegisterLayout()
	c.port.RestoreRegisterFile(c.registersSaved)
	c.port.ExitResetMode()
	// Restoring may set interrupts that are not real events
	_ = c.port.GetAndClearInterrupts()

	if c.state.Has(FlagTxNeedRetry) {
		if err := c.Submit(c.txFrameSaved); err != nil {
			log.Errorf("[TWAI] retransmission after reset failed : %v", err)
		}
		c.state = c.state.Clear(FlagTxNeedRetry)
		log.Debugf("[TWAI] retransmitted %v after reset", c.txFrameSaved)
		return
	}
	// The reset emptied the TX buffer
	c.state = c.state.Clear(FlagTxBufferOccupied)
}
