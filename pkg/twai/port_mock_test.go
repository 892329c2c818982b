package twai

import "fmt"

// Scripted register port recording every access
type mockPort struct {
	interrupts []Interrupt // returned in order by successive reads, then 0
	intrReads  int
	status     Status
	tec, rec   uint8
	errCode    ErrorCode
	rxCount    uint8
	rxBuffers  []FrameBuffer
	regs       RegisterFile
	inReset    bool
	extended   bool

	txBuffers  []FrameBuffer
	txCommands []TxCommand
	calls      []string
}

func (p *mockPort) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *mockPort) count(name string) int {
	n := 0
	for _, call := range p.calls {
		if call == name {
			n++
		}
	}
	return n
}

func (p *mockPort) GetAndClearInterrupts() Interrupt {
	p.intrReads++
	p.record("GetAndClearInterrupts")
	if len(p.interrupts) == 0 {
		return 0
	}
	intr := p.interrupts[0]
	p.interrupts = p.interrupts[1:]
	return intr
}

func (p *mockPort) SetInterruptEnable(mask Interrupt) {
	p.regs.InterruptEnable = mask
	p.record("SetInterruptEnable")
}

func (p *mockPort) GetStatus() Status { return p.status }
func (p *mockPort) GetTEC() uint8     { return p.tec }
func (p *mockPort) GetREC() uint8     { return p.rec }

func (p *mockPort) SetTEC(tec uint8) {
	p.tec = tec
	p.record("SetTEC(%d)", tec)
}

func (p *mockPort) SetREC(rec uint8) {
	p.rec = rec
	p.record("SetREC(%d)", rec)
}

func (p *mockPort) SetMode(mode Mode) {
	p.regs.Mode = mode
	p.record("SetMode(%v)", mode)
}

func (p *mockPort) EnterResetMode() {
	p.inReset = true
	p.record("EnterResetMode")
}

func (p *mockPort) ExitResetMode() {
	p.inReset = false
	p.record("ExitResetMode")
}

func (p *mockPort) EnableExtendedRegisterLayout() {
	p.extended = true
	p.record("EnableExtendedRegisterLayout")
}

func (p *mockPort) SetBusTiming(timing Timing) { p.regs.Timing = timing }
func (p *mockPort) SetAcceptanceFilter(filter Filter) {
	p.regs.Filter = filter
}
func (p *mockPort) SetErrorWarningLimit(ewl uint8) { p.regs.ErrorWarningLimit = ewl }

func (p *mockPort) ClearErrorCodeCapture()       { p.record("ClearErrorCodeCapture") }
func (p *mockPort) ClearArbitrationLostCapture() { p.record("ClearArbitrationLostCapture") }

func (p *mockPort) ParseErrorCodeCapture() (ErrType, ErrDir, ErrSeg) {
	p.record("ParseErrorCodeCapture")
	return p.errCode.Type, p.errCode.Dir, p.errCode.Segment
}

func (p *mockPort) GetRxMessageCount() uint8 { return p.rxCount }

func (p *mockPort) SetTxBuffer(buffer FrameBuffer) {
	p.txBuffers = append(p.txBuffers, buffer)
	p.record("SetTxBuffer")
}

func (p *mockPort) IssueTxCommand(cmd TxCommand) {
	p.txCommands = append(p.txCommands, cmd)
	p.record("IssueTxCommand")
}

func (p *mockPort) GetRxBuffer() FrameBuffer {
	if len(p.rxBuffers) == 0 {
		return FrameBuffer{}
	}
	return p.rxBuffers[0]
}

func (p *mockPort) ReleaseRxBuffer() {
	if len(p.rxBuffers) > 0 {
		p.rxBuffers = p.rxBuffers[1:]
	}
	if p.rxCount > 0 {
		p.rxCount--
	}
	p.record("ReleaseRxBuffer")
}

func (p *mockPort) ClearDataOverrun() {
	p.status &^= StatusDataOverrun
	p.record("ClearDataOverrun")
}

func (p *mockPort) SaveRegisterFile() RegisterFile {
	p.record("SaveRegisterFile")
	regs := p.regs
	regs.TxErrorCounter = p.tec
	regs.RxErrorCounter = p.rec
	return regs
}

func (p *mockPort) RestoreRegisterFile(regs RegisterFile) {
	p.record("RestoreRegisterFile")
	p.regs = regs
	p.tec = regs.TxErrorCounter
	p.rec = regs.RxErrorCounter
}

// Calls recorded after index
func (p *mockPort) callsSince(index int) []string {
	return append([]string(nil), p.calls[index:]...)
}
