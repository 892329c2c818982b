package twai

// Interrupt register bits
type Interrupt uint8

const (
	IntrRx          Interrupt = 1 << 0 // RX FIFO not empty
	IntrTx          Interrupt = 1 << 1 // TX buffer became free
	IntrErrWarn     Interrupt = 1 << 2 // Error or bus status bit changed
	IntrDataOverrun Interrupt = 1 << 3 // RX FIFO overrun
	IntrErrPassive  Interrupt = 1 << 5 // Error active <=> error passive transition
	IntrArbLost     Interrupt = 1 << 6 // Arbitration lost
	IntrBusErr      Interrupt = 1 << 7 // Bus error (bit, stuff, form, ack, crc)

	IntrAll = IntrRx | IntrTx | IntrErrWarn | IntrDataOverrun | IntrErrPassive | IntrArbLost | IntrBusErr
)

// Status register bits
type Status uint8

const (
	StatusRxBuffer     Status = 1 << 0 // At least one frame in RX FIFO
	StatusDataOverrun  Status = 1 << 1 // RX FIFO overran, last frame lost
	StatusTxBufferFree Status = 1 << 2 // TX buffer may be written
	StatusTxComplete   Status = 1 << 3 // Last requested transmission completed
	StatusReceiving    Status = 1 << 4
	StatusTransmitting Status = 1 << 5
	StatusErrorLimit   Status = 1 << 6 // TEC or REC reached the error warning limit
	StatusBusOff       Status = 1 << 7
)

// Controller operating mode
type Mode uint8

const (
	ModeNormal     Mode = iota // Normal operation with ACK
	ModeNoAck                  // Self test, no ACK required
	ModeListenOnly             // Never drives the bus
)

var modeMap = map[Mode]string{
	ModeNormal:     "NORMAL",
	ModeNoAck:      "NO-ACK",
	ModeListenOnly: "LISTEN-ONLY",
}

func (m Mode) String() string {
	desc, ok := modeMap[m]
	if !ok {
		return "UNKNOWN"
	}
	return desc
}

// Transmit command variants, exactly one is issued per submission
type TxCommand uint8

const (
	TxCmdNormal TxCommand = iota
	TxCmdSingleShot
	TxCmdSelfRx
	TxCmdSelfRxSingleShot
)

// Bus error type as captured by the error code capture register
type ErrType uint8

const (
	ErrTypeBit ErrType = iota
	ErrTypeForm
	ErrTypeStuff
	ErrTypeOther
)

var errTypeMap = map[ErrType]string{
	ErrTypeBit:   "BIT",
	ErrTypeForm:  "FORM",
	ErrTypeStuff: "STUFF",
	ErrTypeOther: "OTHER",
}

func (t ErrType) String() string {
	return errTypeMap[t&0x3]
}

// Direction of the transfer during which the bus error occurred
type ErrDir uint8

const (
	ErrDirTx ErrDir = 0
	ErrDirRx ErrDir = 1
)

func (d ErrDir) String() string {
	if d == ErrDirRx {
		return "RX"
	}
	return "TX"
}

// Frame segment during which the bus error occurred
type ErrSeg uint8

const (
	ErrSegIdent28To21   ErrSeg = 0x02
	ErrSegStartOfFrame  ErrSeg = 0x03
	ErrSegSRTR          ErrSeg = 0x04
	ErrSegIDE           ErrSeg = 0x05
	ErrSegIdent20To18   ErrSeg = 0x06
	ErrSegIdent17To13   ErrSeg = 0x07
	ErrSegCrcSeq        ErrSeg = 0x08
	ErrSegReserved0     ErrSeg = 0x09
	ErrSegData          ErrSeg = 0x0A
	ErrSegDLC           ErrSeg = 0x0B
	ErrSegRTR           ErrSeg = 0x0C
	ErrSegReserved1     ErrSeg = 0x0D
	ErrSegIdent4To0     ErrSeg = 0x0E
	ErrSegIdent12To5    ErrSeg = 0x0F
	ErrSegActiveErrFlag ErrSeg = 0x11
	ErrSegIntermission  ErrSeg = 0x12
	ErrSegTolerateDom   ErrSeg = 0x13
	ErrSegPassiveErr    ErrSeg = 0x16
	ErrSegErrDelim      ErrSeg = 0x17
	ErrSegCrcDelim      ErrSeg = 0x18
	ErrSegAckSlot       ErrSeg = 0x19
	ErrSegEndOfFrame    ErrSeg = 0x1A
	ErrSegAckDelim      ErrSeg = 0x1B
	ErrSegOverloadFlag  ErrSeg = 0x1C
)

// Decoded content of the error code capture register
type ErrorCode struct {
	Type    ErrType
	Dir     ErrDir
	Segment ErrSeg
}

// Decode a raw error code capture value
// bits 0-4 segment, bit 5 direction, bits 6-7 type
func ParseErrorCode(ecc uint8) ErrorCode {
	return ErrorCode{
		Type:    ErrType(ecc >> 6),
		Dir:     ErrDir((ecc >> 5) & 0x1),
		Segment: ErrSeg(ecc & 0x1F),
	}
}

// Encode back to the raw register value
func (e ErrorCode) Raw() uint8 {
	return uint8(e.Type&0x3)<<6 | uint8(e.Dir&0x1)<<5 | uint8(e.Segment&0x1F)
}

// A bus error that is known to corrupt the next received frame
func (e ErrorCode) CorruptsRxFrame() bool {
	if e.Dir != ErrDirRx {
		return false
	}
	return e.Segment == ErrSegData ||
		e.Segment == ErrSegCrcSeq ||
		(e.Segment == ErrSegAckDelim && e.Type == ErrTypeOther)
}

// Bus timing register content
type Timing struct {
	Brp            uint32
	Sjw            uint8
	Tseg1          uint8
	Tseg2          uint8
	TripleSampling bool
}

// Acceptance filter register content
type Filter struct {
	Code         uint32
	Mask         uint32 // bit set means don't care
	SingleFilter bool
}

// Accept everything
var FilterAcceptAll = Filter{Code: 0, Mask: 0xFFFFFFFF, SingleFilter: true}

// Configuration registers preserved across a peripheral reset
type RegisterFile struct {
	Mode              Mode
	InterruptEnable   Interrupt
	Timing            Timing
	ErrorWarningLimit uint8
	RxErrorCounter    uint8
	TxErrorCounter    uint8
	Filter            Filter
	ClockDivider      uint8
}

// RegisterPort is the register level access to one controller.
//
// GetAndClearInterrupts is read-and-clear : every pending interrupt is
// returned once, a second read returns only interrupts raised in between.
// Implementations are not safe for concurrent use, the owner of the
// controller serializes all accesses.
type RegisterPort interface {
	GetAndClearInterrupts() Interrupt
	SetInterruptEnable(mask Interrupt)
	GetStatus() Status
	GetTEC() uint8
	GetREC() uint8
	SetTEC(tec uint8)
	SetREC(rec uint8)

	SetMode(mode Mode)
	EnterResetMode()
	ExitResetMode()
	EnableExtendedRegisterLayout()
	SetBusTiming(timing Timing)
	SetAcceptanceFilter(filter Filter)
	SetErrorWarningLimit(ewl uint8)

	ClearErrorCodeCapture()
	ClearArbitrationLostCapture()
	ParseErrorCodeCapture() (ErrType, ErrDir, ErrSeg)

	GetRxMessageCount() uint8
	SetTxBuffer(buffer FrameBuffer)
	IssueTxCommand(cmd TxCommand)
	GetRxBuffer() FrameBuffer
	ReleaseRxBuffer()
	ClearDataOverrun()

	SaveRegisterFile() RegisterFile
	RestoreRegisterFile(regs RegisterFile)
}
