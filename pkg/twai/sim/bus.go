package sim

import (
	gotwai "github.com/samsamfire/gotwai"
	can "github.com/samsamfire/gotwai/pkg/can"
	"github.com/samsamfire/gotwai/pkg/twai"
	log "github.com/sirupsen/logrus"
)

var ackError = twai.ErrorCode{Type: twai.ErrTypeOther, Dir: twai.ErrDirTx, Segment: twai.ErrSegAckSlot}

// Attach the device to a bus, every frame of the bus is offered to the
// acceptance filter and transmitted frames are sent on it.
func (d *Device) Attach(bm *gotwai.BusManager) error {
	if bm == nil {
		return gotwai.ErrIllegalArgument
	}
	d.mu.Lock()
	d.bm = bm
	d.mu.Unlock()
	return bm.Subscribe(0, 0, d)
}

// Detach from the bus, transmissions then fail with an ACK error in normal mode
func (d *Device) Detach() {
	d.mu.Lock()
	bm := d.bm
	d.bm = nil
	d.mu.Unlock()
	if bm != nil {
		bm.Unsubscribe(d)
	}
}

// Handle implements can.FrameListener for frames received from the bus
func (d *Device) Handle(frame can.Frame) {
	buffer, err := twai.FormatFrame(twai.FromCan(frame))
	if err != nil {
		log.Debugf("[SIM][%v] dropped bus frame %x : %v", d.name, frame.ID, err)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reset || d.busOff {
		return
	}
	d.receive(buffer)
}

// Inject a frame as if received from the bus
func (d *Device) InjectFrame(frame twai.Frame) error {
	buffer, err := twai.FormatFrame(frame)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reset || d.busOff {
		return gotwai.ErrInvalidState
	}
	d.receive(buffer)
	return nil
}

// Inject a bus error, counters follow CAN fault confinement
func (d *Device) InjectBusError(code twai.ErrorCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reset || d.busOff {
		return
	}
	d.busError(code)
	if code.Dir == twai.ErrDirTx {
		d.txFailed()
	}
}

// Lose arbitration for the pending transmission at the given bit
func (d *Device) InjectArbitrationLost(bit uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reset || !d.txPending {
		return
	}
	if !d.alcLatched {
		d.alc = bit & 0x1F
		d.alcLatched = true
	}
	d.raise(twai.IntrArbLost)
	d.txFailed()
}

// Retry the pending transmission, as the controller does automatically
// after an error or lost arbitration
func (d *Device) Retransmit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reset || !d.txPending {
		return
	}
	d.transmit()
}

// Advance bus-off recovery by a number of 11 recessive bit sequences,
// recovery completes after 128 of them
func (d *Device) AdvanceRecovery(sequences int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.recovering || d.reset {
		return
	}
	prevLimit := d.errorLimit()
	d.recoveryLeft -= sequences
	if d.recoveryLeft <= 0 {
		d.busOff = false
		d.recovering = false
		d.recoveryLeft = 0
		d.tec, d.rec = 0, 0
		d.raise(twai.IntrErrWarn)
		log.Debugf("[SIM][%v] recovery complete", d.name)
		return
	}
	d.tec = d.recoveryLeft - 1
	if d.errorLimit() != prevLimit {
		d.raise(twai.IntrErrWarn)
	}
}

// True while the bus-off recovery sequence is running
func (d *Device) Recovering() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recovering
}

// Last captured arbitration lost bit
func (d *Device) ArbitrationLostBit() (uint8, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alc, d.alcLatched
}

func (d *Device) busError(code twai.ErrorCode) {
	if !d.eccLatched {
		d.ecc = code.Raw()
		d.eccLatched = true
	}
	d.raise(twai.IntrBusErr)
	// Counters are frozen in listen only mode
	if d.regs.Mode == twai.ModeListenOnly {
		return
	}
	if code.Dir == twai.ErrDirTx {
		d.updateCounters(d.tec+8, d.rec)
	} else {
		d.updateCounters(d.tec, d.rec+1)
	}
}

func (d *Device) singleShot() bool {
	return d.txCmd == twai.TxCmdSingleShot || d.txCmd == twai.TxCmdSelfRxSingleShot
}

// A single shot transmission ends on its first failure, others stay pending
func (d *Device) txFailed() {
	if !d.txPending || !d.singleShot() {
		return
	}
	d.txPending = false
	d.txComplete = false
	d.raiseTx()
}

func (d *Device) raiseTx() {
	if d.dropTxInterrupt {
		return
	}
	d.raise(twai.IntrTx)
}

// Attempt the pending transmission
func (d *Device) transmit() {
	frame := twai.ParseFrame(d.txBuffer)
	acked := d.regs.Mode == twai.ModeNoAck
	if d.bm != nil {
		err := d.bm.Send(frame.Can())
		acked = err == nil
	}
	if !acked {
		d.busError(ackError)
		d.txFailed()
		return
	}
	d.txPending = false
	d.txComplete = true
	d.updateCounters(d.tec-1, d.rec)
	if d.txCmd == twai.TxCmdSelfRx || d.txCmd == twai.TxCmdSelfRxSingleShot {
		d.receive(d.txBuffer)
	}
	d.raiseTx()
}
