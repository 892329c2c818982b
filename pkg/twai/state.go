package twai

import "strings"

// Shadow state of one controller, holds what the hardware does not expose
type StateFlags uint16

const (
	FlagRunning StateFlags = 1 << iota
	FlagRecovering
	FlagErrWarning
	FlagErrPassive
	FlagBusOff
	FlagTxBufferOccupied
	FlagTxNeedRetry
)

var flagNames = []struct {
	flag StateFlags
	name string
}{
	{FlagRunning, "RUNNING"},
	{FlagRecovering, "RECOVERING"},
	{FlagErrWarning, "ERR-WARN"},
	{FlagErrPassive, "ERR-PASSIVE"},
	{FlagBusOff, "BUS-OFF"},
	{FlagTxBufferOccupied, "TX-BUFF-OCCUPIED"},
	{FlagTxNeedRetry, "TX-NEED-RETRY"},
}

func (s StateFlags) Has(flags StateFlags) bool {
	return s&flags == flags
}

func (s StateFlags) Set(flags StateFlags) StateFlags {
	return s | flags
}

func (s StateFlags) Clear(flags StateFlags) StateFlags {
	return s &^ flags
}

// Assign sets flags when on is true, clears them otherwise
func (s StateFlags) Assign(flags StateFlags, on bool) StateFlags {
	if on {
		return s.Set(flags)
	}
	return s.Clear(flags)
}

func (s StateFlags) String() string {
	if s == 0 {
		return "NONE"
	}
	names := make([]string, 0, len(flagNames))
	for _, f := range flagNames {
		if s.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, "|")
}
