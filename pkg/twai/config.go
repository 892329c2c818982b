package twai

const (
	ErrorPassiveThreshold    = 128 // TEC or REC at or above means error passive
	DefaultErrorWarningLimit = 96
	RxFifoDepth              = 64 // Documented RX FIFO message capacity
	RxFifoCorruptThreshold   = 62 // RX FIFO unreliable from this message count on affected silicon
	busOffTec                = 255
)

// Errata workarounds, enabled per silicon revision
type Errata struct {
	// TX complete interrupt can be dropped, poll TX buffer status while a TX is outstanding
	TxIntrLost bool
	// RX bus errors in data / CRC / ACK delimiter corrupt the next received frame
	RxFrameInvalid bool
	// RX FIFO corrupts when nearly full
	RxFifoCorrupt bool
	// REC is not reset when entering bus-off
	BusOffRec bool
}

// All errata workarounds enabled
var ErrataAll = Errata{TxIntrLost: true, RxFrameInvalid: true, RxFifoCorrupt: true, BusOffRec: true}

// NeedsResetSupport returns true if a workaround may request a peripheral reset
func (e Errata) NeedsResetSupport() bool {
	return e.RxFrameInvalid || e.RxFifoCorrupt
}

type Config struct {
	Errata Errata
	// Message count from which the RX FIFO is considered corrupt, 0 uses RxFifoCorruptThreshold
	RxFifoCorruptThreshold uint8
}

func (c Config) rxFifoThreshold() uint8 {
	if c.RxFifoCorruptThreshold == 0 {
		return RxFifoCorruptThreshold
	}
	return c.RxFifoCorruptThreshold
}
