package sim

import (
	"sync"

	gotwai "github.com/samsamfire/gotwai"
	"github.com/samsamfire/gotwai/internal/fifo"
	"github.com/samsamfire/gotwai/pkg/twai"
	log "github.com/sirupsen/logrus"
)

// Simulated TWAI controller register file.
//
// Device implements twai.RegisterPort and models the parts of the controller
// the decoder relies on : interrupt latch, status, fault confinement counters,
// bus-off and recovery, RX FIFO with overrun, error / arbitration captures.
// The bus side is a can.Bus shared through a gotwai.BusManager.
type Device struct {
	mu   sync.Mutex
	name string

	regs     twai.RegisterFile
	reset    bool
	extended bool

	tec int
	rec int

	intr        twai.Interrupt
	onInterrupt func()

	busOff       bool
	recoveryLeft int
	recovering   bool

	ecc        uint8
	eccLatched bool
	alc        uint8
	alcLatched bool

	rx      *fifo.Fifo[twai.FrameBuffer]
	overrun bool

	txBuffer   twai.FrameBuffer
	txPending  bool
	txCmd      twai.TxCommand
	txComplete bool

	bm *gotwai.BusManager

	// Emulated silicon behaviour
	dropTxInterrupt  bool
	recKeptOnBusOff  bool
	intrReads        int
	txCommandsIssued int
}

type Option func(d *Device)

// Never raise the TX interrupt, as on silicon losing it
func WithDroppedTxInterrupt() Option {
	return func(d *Device) { d.dropTxInterrupt = true }
}

// REC is not cleared when entering bus-off
func WithRecKeptOnBusOff() Option {
	return func(d *Device) { d.recKeptOnBusOff = true }
}

// Callback emulating the interrupt line, called when a new enabled
// interrupt is latched. It must not call back into the device.
func WithInterruptHandler(handler func()) Option {
	return func(d *Device) { d.onInterrupt = handler }
}

// Create a device in reset mode with an empty register file
func NewDevice(name string, options ...Option) *Device {
	d := &Device{
		name:  name,
		reset: true,
		rx:    fifo.NewFifo[twai.FrameBuffer](twai.RxFifoDepth),
	}
	d.regs.ErrorWarningLimit = twai.DefaultErrorWarningLimit
	d.regs.Filter = twai.FilterAcceptAll
	for _, option := range options {
		option(d)
	}
	return d
}

// Set interrupt handler after creation
func (d *Device) SetInterruptHandler(handler func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onInterrupt = handler
}

func (d *Device) raise(intr twai.Interrupt) {
	intr &= d.regs.InterruptEnable
	if intr == 0 {
		return
	}
	d.intr |= intr
	if d.onInterrupt != nil {
		d.onInterrupt()
	}
}

// Error status bit. Entering bus-off always reports the limit as exceeded,
// during recovery it follows the counting down TEC.
func (d *Device) errorLimit() bool {
	ewl := int(d.regs.ErrorWarningLimit)
	return (d.busOff && !d.recovering) || d.tec >= ewl || d.rec >= ewl
}

func (d *Device) errorPassive() bool {
	return d.tec >= twai.ErrorPassiveThreshold || d.rec >= twai.ErrorPassiveThreshold
}

// Apply a counter change and raise the resulting status interrupts
func (d *Device) updateCounters(tec int, rec int) {
	prevLimit, prevPassive, prevBusOff := d.errorLimit(), d.errorPassive(), d.busOff
	if rec < 0 {
		rec = 0
	}
	if tec < 0 {
		tec = 0
	}
	if rec > 255 {
		rec = 255
	}
	if tec > 255 {
		d.enterBusOff()
	} else {
		d.tec = tec
		d.rec = rec
	}
	if d.errorLimit() != prevLimit || d.busOff != prevBusOff {
		d.raise(twai.IntrErrWarn)
	}
	if d.errorPassive() != prevPassive {
		d.raise(twai.IntrErrPassive)
	}
}

func (d *Device) enterBusOff() {
	d.busOff = true
	d.tec = 127
	if !d.recKeptOnBusOff {
		d.rec = 0
	}
	// Controller stops on bus-off, pending TX is abandoned
	d.reset = true
	d.recovering = false
	d.abortTx()
	log.Debugf("[SIM][%v] entered bus-off | rec %v", d.name, d.rec)
}

func (d *Device) abortTx() {
	d.txPending = false
	d.txComplete = false
}

// ===== twai.RegisterPort =====

func (d *Device) GetAndClearInterrupts() twai.Interrupt {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.intrReads++
	intr := d.intr
	d.intr = 0
	return intr
}

func (d *Device) SetInterruptEnable(mask twai.Interrupt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs.InterruptEnable = mask
}

func (d *Device) GetStatus() twai.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status()
}

func (d *Device) status() twai.Status {
	var status twai.Status
	if d.rx.GetOccupied() > 0 {
		status |= twai.StatusRxBuffer
	}
	if d.overrun {
		status |= twai.StatusDataOverrun
	}
	if !d.txPending {
		status |= twai.StatusTxBufferFree
	} else {
		status |= twai.StatusTransmitting
	}
	if d.txComplete {
		status |= twai.StatusTxComplete
	}
	if d.errorLimit() {
		status |= twai.StatusErrorLimit
	}
	if d.busOff {
		status |= twai.StatusBusOff
	}
	return status
}

func (d *Device) GetTEC() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint8(d.tec)
}

func (d *Device) GetREC() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint8(d.rec)
}

// Writing 255 in reset mode forces bus-off, as on the real controller
func (d *Device) SetTEC(tec uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reset {
		return
	}
	if tec == 255 {
		d.enterBusOff()
		d.rec = 0
		d.raise(twai.IntrErrWarn)
		return
	}
	d.updateCounters(int(tec), d.rec)
}

func (d *Device) SetREC(rec uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reset {
		return
	}
	d.updateCounters(d.tec, int(rec))
}

func (d *Device) SetMode(mode twai.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs.Mode = mode
}

func (d *Device) EnterResetMode() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset = true
	d.abortTx()
}

// Leaving reset while bus-off starts the recovery sequence
func (d *Device) ExitResetMode() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset = false
	if d.busOff && !d.recovering {
		d.recovering = true
		d.recoveryLeft = 128
		log.Debugf("[SIM][%v] recovery started", d.name)
	}
}

func (d *Device) EnableExtendedRegisterLayout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extended = true
}

func (d *Device) SetBusTiming(timing twai.Timing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs.Timing = timing
}

func (d *Device) SetAcceptanceFilter(filter twai.Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs.Filter = filter
}

func (d *Device) SetErrorWarningLimit(ewl uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs.ErrorWarningLimit = ewl
}

func (d *Device) ClearErrorCodeCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eccLatched = false
}

func (d *Device) ClearArbitrationLostCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alcLatched = false
}

func (d *Device) ParseErrorCodeCapture() (twai.ErrType, twai.ErrDir, twai.ErrSeg) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := twai.ParseErrorCode(d.ecc)
	return code.Type, code.Dir, code.Segment
}

func (d *Device) GetRxMessageCount() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint8(d.rx.GetOccupied())
}

func (d *Device) SetTxBuffer(buffer twai.FrameBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txBuffer = buffer
}

func (d *Device) IssueTxCommand(cmd twai.TxCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txCommandsIssued++
	if d.reset || d.regs.Mode == twai.ModeListenOnly {
		log.Debugf("[SIM][%v] tx command ignored, controller not able to transmit", d.name)
		return
	}
	d.txPending = true
	d.txComplete = false
	d.txCmd = cmd
	d.transmit()
}

func (d *Device) GetRxBuffer() twai.FrameBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	buffer, _ := d.rx.Peek()
	return buffer
}

// Receive interrupt stays raised while the FIFO is not empty
func (d *Device) ReleaseRxBuffer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rx.Pop()
	if d.rx.GetOccupied() > 0 {
		d.raise(twai.IntrRx)
	}
}

func (d *Device) ClearDataOverrun() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overrun = false
}

func (d *Device) SaveRegisterFile() twai.RegisterFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.regs
	regs.TxErrorCounter = uint8(d.tec)
	regs.RxErrorCounter = uint8(d.rec)
	return regs
}

// Restoring counters may latch status interrupts
func (d *Device) RestoreRegisterFile(regs twai.RegisterFile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = regs
	d.updateCounters(int(regs.TxErrorCounter), int(regs.RxErrorCounter))
}

// ===== Simulation controls =====

// PeripheralReset emulates a module reset, every register goes back to its reset value
func (d *Device) PeripheralReset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = twai.RegisterFile{ErrorWarningLimit: twai.DefaultErrorWarningLimit, Filter: twai.FilterAcceptAll}
	d.reset = true
	d.extended = false
	d.tec, d.rec = 0, 0
	d.intr = 0
	d.busOff, d.recovering, d.recoveryLeft = false, false, 0
	d.eccLatched, d.alcLatched = false, false
	d.rx.Reset()
	d.overrun = false
	d.abortTx()
	log.Debugf("[SIM][%v] peripheral reset", d.name)
}

// Number of interrupt register reads so far
func (d *Device) InterruptReads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intrReads
}

// Number of transmit commands written so far
func (d *Device) TxCommandsIssued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txCommandsIssued
}

// True while the controller is in reset mode
func (d *Device) InReset() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset
}

// True once the extended register layout was enabled
func (d *Device) ExtendedLayout() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extended
}

// Current operating mode
func (d *Device) Mode() twai.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs.Mode
}

func (d *Device) accepts(buffer twai.FrameBuffer) bool {
	filter := d.regs.Filter
	frame := twai.ParseFrame(buffer)
	var word uint32
	if frame.Extended {
		word = frame.ID << 3
	} else {
		word = frame.ID << 21
	}
	if frame.RTR {
		if frame.Extended {
			word |= 1 << 2
		} else {
			word |= 1 << 20
		}
	}
	return (word^filter.Code)&^filter.Mask == 0
}

func (d *Device) receive(buffer twai.FrameBuffer) {
	if !d.accepts(buffer) {
		return
	}
	if !d.rx.Push(buffer) {
		d.overrun = true
		d.raise(twai.IntrDataOverrun)
		log.Debugf("[SIM][%v] rx fifo overrun", d.name)
		return
	}
	d.updateCounters(d.tec, d.rec-1)
	d.raise(twai.IntrRx)
}
