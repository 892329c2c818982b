package twai

import (
	"testing"

	gotwai "github.com/samsamfire/gotwai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, port *mockPort, errata Errata) *Controller {
	t.Helper()
	ctrl, err := NewController(port, Config{Errata: errata})
	require.Nil(t, err)
	require.Nil(t, ctrl.Start(ModeNormal))
	port.calls = nil
	port.intrReads = 0
	return ctrl
}

func TestNewController(t *testing.T) {
	_, err := NewController(nil, Config{})
	assert.Equal(t, gotwai.ErrIllegalArgument, err)

	port := &mockPort{}
	ctrl, err := NewController(port, Config{})
	assert.Nil(t, err)
	assert.True(t, port.inReset)
	assert.True(t, port.extended)
	assert.Equal(t, StateFlags(0), ctrl.State())

	timing := Timing{Brp: 8, Sjw: 3, Tseg1: 15, Tseg2: 4}
	assert.Nil(t, ctrl.Configure(timing, FilterAcceptAll, 96))
	assert.Equal(t, timing, port.regs.Timing)
	assert.Equal(t, IntrAll, port.regs.InterruptEnable)
	assert.EqualValues(t, 96, port.regs.ErrorWarningLimit)

	assert.Nil(t, ctrl.Start(ModeNoAck))
	assert.False(t, port.inReset)
	assert.Equal(t, ModeNoAck, port.regs.Mode)
	assert.True(t, ctrl.State().Has(FlagRunning))
	assert.Equal(t, gotwai.ErrInvalidState, ctrl.Configure(timing, FilterAcceptAll, 96))

	ctrl.Stop()
	assert.True(t, port.inReset)
	assert.Equal(t, ModeListenOnly, port.regs.Mode)
	assert.False(t, ctrl.State().Has(FlagRunning))
}

func TestDecodeReadsInterruptsOnce(t *testing.T) {
	port := &mockPort{}
	ctrl := newTestController(t, port, ErrataAll)

	port.interrupts = []Interrupt{IntrRx | IntrTx | IntrErrWarn | IntrErrPassive | IntrArbLost | IntrBusErr}
	port.status = StatusTxBufferFree | StatusErrorLimit
	port.rxCount = 1
	events := ctrl.Decode()
	assert.Equal(t, 1, port.intrReads)
	assert.Equal(t, 1, port.count("ParseErrorCodeCapture"))
	assert.True(t, events.Has(EventRxFrameAvailable|EventTxBufferFree|EventAboveErrorWarning|EventErrorActive))
	assert.True(t, events.Has(EventBusError|EventArbitrationLost))
	assert.Equal(t, 1, port.count("ClearErrorCodeCapture"))
	assert.Equal(t, 1, port.count("ClearArbitrationLostCapture"))

	// Nothing pending
	port.calls = nil
	port.intrReads = 0
	events = ctrl.Decode()
	assert.Equal(t, EventNone, events)
	assert.Equal(t, 1, port.intrReads)
	assert.Equal(t, 0, port.count("ParseErrorCodeCapture"))
}

func TestDecodeBusOffActions(t *testing.T) {
	t.Run("listen only", func(t *testing.T) {
		port := &mockPort{}
		ctrl := newTestController(t, port, Errata{})
		ctrl.Submit(Frame{ID: 0x10, DLC: 1})
		port.calls = nil
		port.interrupts = []Interrupt{IntrErrWarn}
		port.status = StatusBusOff | StatusErrorLimit
		port.tec, port.rec = 255, 17
		events := ctrl.Decode()
		assert.Equal(t, EventBusOff, events)
		assert.Equal(t, []string{"GetAndClearInterrupts", "SetMode(LISTEN-ONLY)"}, port.calls)
		state := ctrl.State()
		assert.True(t, state.Has(FlagBusOff))
		assert.False(t, state.Has(FlagRunning))
		assert.False(t, state.Has(FlagTxBufferOccupied))
	})

	t.Run("rec forced to zero", func(t *testing.T) {
		port := &mockPort{}
		ctrl := newTestController(t, port, Errata{BusOffRec: true})
		port.interrupts = []Interrupt{IntrErrWarn, IntrErrWarn | IntrErrPassive}
		port.status = StatusBusOff | StatusErrorLimit
		port.tec, port.rec = 255, 17
		events := ctrl.Decode()
		assert.Equal(t, EventBusOff, events)
		assert.Equal(t, []string{
			"GetAndClearInterrupts",
			"SetMode(LISTEN-ONLY)",
			"SetTEC(0)",
			"SetTEC(255)",
			"GetAndClearInterrupts",
		}, port.calls)
		// Re-triggered interrupt was consumed
		assert.Empty(t, port.interrupts)
	})
}

func TestBusRecovery(t *testing.T) {
	port := &mockPort{}
	ctrl := newTestController(t, port, Errata{})
	assert.Equal(t, gotwai.ErrNotBusOff, ctrl.StartBusRecovery())

	port.interrupts = []Interrupt{IntrErrWarn}
	port.status = StatusBusOff | StatusErrorLimit
	ctrl.Decode()
	port.inReset = true

	assert.Nil(t, ctrl.StartBusRecovery())
	assert.False(t, port.inReset)
	assert.True(t, ctrl.State().Has(FlagRecovering))

	port.interrupts = []Interrupt{IntrErrWarn}
	port.status = StatusBusOff
	assert.Equal(t, EventBusRecoveryInProgress, ctrl.Decode())

	port.interrupts = []Interrupt{IntrErrWarn}
	port.status = 0
	assert.Equal(t, EventBusRecoveryComplete, ctrl.Decode())
	assert.True(t, port.inReset)
	assert.Equal(t, StateFlags(0), ctrl.State())
	assert.Equal(t, gotwai.ErrInvalidState, func() error {
		ctrl.state = ctrl.state.Set(FlagBusOff)
		return ctrl.Start(ModeNormal)
	}())
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		frame Frame
		cmd   TxCommand
	}{
		{Frame{ID: 0x123, DLC: 2, Data: [8]byte{1, 2}}, TxCmdNormal},
		{Frame{ID: 0x123, SingleShot: true}, TxCmdSingleShot},
		{Frame{ID: 0x123, SelfReception: true}, TxCmdSelfRx},
		{Frame{ID: 0x123, SelfReception: true, SingleShot: true}, TxCmdSelfRxSingleShot},
	}
	for _, test := range tests {
		port := &mockPort{}
		ctrl := newTestController(t, port, Errata{})
		assert.Nil(t, ctrl.Submit(test.frame))
		assert.Equal(t, []TxCommand{test.cmd}, port.txCommands)
		assert.Equal(t, 1, port.count("IssueTxCommand"))
		expected, _ := FormatFrame(test.frame)
		assert.Equal(t, []FrameBuffer{expected}, port.txBuffers)
		assert.True(t, ctrl.State().Has(FlagTxBufferOccupied))
		assert.Equal(t, Frame{}, ctrl.txFrameSaved)
	}

	t.Run("invalid frame", func(t *testing.T) {
		port := &mockPort{}
		ctrl := newTestController(t, port, Errata{})
		err := ctrl.Submit(Frame{ID: 0x800})
		assert.ErrorIs(t, err, gotwai.ErrIllegalArgument)
		assert.Empty(t, port.calls)
		assert.False(t, ctrl.State().Has(FlagTxBufferOccupied))
	})

	t.Run("saved for retry", func(t *testing.T) {
		port := &mockPort{}
		ctrl := newTestController(t, port, Errata{RxFifoCorrupt: true})
		frame := Frame{ID: 0x42, DLC: 1, Data: [8]byte{9}}
		assert.Nil(t, ctrl.Submit(frame))
		assert.Equal(t, frame, ctrl.txFrameSaved)
	})
}

func TestLostTxInterruptScenario(t *testing.T) {
	port := &mockPort{}
	ctrl := newTestController(t, port, Errata{TxIntrLost: true})
	assert.Nil(t, ctrl.Submit(Frame{ID: 0x1, DLC: 0}))
	port.status = StatusTxBufferFree
	events := ctrl.Decode()
	assert.Equal(t, EventTxBufferFree, events)
	assert.False(t, ctrl.State().Has(FlagTxBufferOccupied))
}

func TestDecodeRxFifoCorruptReadsCount(t *testing.T) {
	port := &mockPort{rxCount: 62}
	ctrl := newTestController(t, port, Errata{RxFifoCorrupt: true})
	port.interrupts = []Interrupt{IntrRx}
	events := ctrl.Decode()
	assert.Equal(t, EventNeedsPeripheralReset, events)
}

func TestReadRxFrame(t *testing.T) {
	port := &mockPort{}
	ctrl := newTestController(t, port, Errata{})
	_, err := ctrl.ReadRxFrame()
	assert.Equal(t, gotwai.ErrRxFifoEmpty, err)

	frame := Frame{ID: 0x1ABCDEF, Extended: true, DLC: 3, Data: [8]byte{1, 2, 3}}
	buffer, _ := FormatFrame(frame)
	port.rxBuffers = []FrameBuffer{buffer, buffer}
	port.rxCount = 2
	read, err := ctrl.ReadRxFrame()
	assert.Nil(t, err)
	assert.Equal(t, frame, read)
	assert.EqualValues(t, 1, port.rxCount)

	port.status |= StatusDataOverrun
	_, err = ctrl.ReadRxFrame()
	assert.Equal(t, gotwai.ErrRxFifoOverrun, err)

	port.rxCount = 3
	assert.Equal(t, 3, ctrl.ClearRxFifoOverrun())
	assert.EqualValues(t, 0, port.rxCount)
	assert.Equal(t, Status(0), port.status&StatusDataOverrun)
}

func TestResetRoundTrip(t *testing.T) {
	t.Run("registers restored", func(t *testing.T) {
		port := &mockPort{}
		ctrl, _ := NewController(port, Config{Errata: ErrataAll})
		timing := Timing{Brp: 4, Sjw: 2, Tseg1: 13, Tseg2: 2, TripleSampling: true}
		filter := Filter{Code: 0x12345678, Mask: 0x000000FF}
		ctrl.Configure(timing, filter, 100)
		ctrl.Start(ModeNormal)
		port.tec, port.rec = 12, 34
		port.rxCount = 5
		port.status = StatusTxBufferFree
		before := port.SaveRegisterFile()

		ctrl.PrepareForReset()
		assert.True(t, port.inReset)
		assert.False(t, ctrl.State().Has(FlagTxNeedRetry))
		assert.EqualValues(t, 5, ctrl.LostRxCount())

		// Reset wipes the register file
		port.regs = RegisterFile{}
		port.tec, port.rec = 0, 0
		port.interrupts = []Interrupt{IntrTx | IntrErrWarn}
		port.calls = nil

		ctrl.RecoverFromReset()
		assert.Equal(t, before, port.SaveRegisterFile())
		assert.False(t, port.inReset)
		assert.Empty(t, port.interrupts)
		assert.Equal(t, []string{
			"EnterResetMode",
			"EnableExtendedRegisterLayout",
			"RestoreRegisterFile",
			"ExitResetMode",
			"GetAndClearInterrupts",
			"SaveRegisterFile",
		}, port.calls)
		assert.Empty(t, port.txCommands)
	})

	t.Run("cancelled tx retried once", func(t *testing.T) {
		port := &mockPort{}
		ctrl := newTestController(t, port, Errata{RxFrameInvalid: true})
		frame := Frame{ID: 0x7FF, DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, SingleShot: true}
		assert.Nil(t, ctrl.Submit(frame))
		port.status = 0 // TX buffer not free

		ctrl.PrepareForReset()
		assert.True(t, ctrl.State().Has(FlagTxNeedRetry))
		ctrl.RecoverFromReset()

		assert.Equal(t, 2, port.count("IssueTxCommand"))
		assert.Equal(t, []TxCommand{TxCmdSingleShot, TxCmdSingleShot}, port.txCommands)
		assert.Equal(t, port.txBuffers[0], port.txBuffers[1])
		assert.False(t, ctrl.State().Has(FlagTxNeedRetry))
		assert.True(t, ctrl.State().Has(FlagTxBufferOccupied))
	})

	t.Run("no tx in flight", func(t *testing.T) {
		port := &mockPort{}
		ctrl := newTestController(t, port, Errata{RxFrameInvalid: true})
		assert.Nil(t, ctrl.Submit(Frame{ID: 0x1}))
		port.status = StatusTxBufferFree
		ctrl.PrepareForReset()
		ctrl.RecoverFromReset()
		assert.Equal(t, 1, port.count("IssueTxCommand"))
		assert.False(t, ctrl.State().Has(FlagTxBufferOccupied))
	})
}

func TestStateQueries(t *testing.T) {
	port := &mockPort{}
	ctrl := newTestController(t, port, Errata{})
	assert.True(t, ctrl.CheckState(FlagRunning))
	assert.False(t, ctrl.CheckState(FlagRunning|FlagBusOff))

	port.status = StatusTxBufferFree
	assert.False(t, ctrl.LastTxSuccessful())
	port.status = StatusTxBufferFree | StatusTxComplete
	assert.True(t, ctrl.LastTxSuccessful())
}
