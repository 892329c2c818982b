package twai

import (
	"encoding/binary"
	"fmt"

	gotwai "github.com/samsamfire/gotwai"
	can "github.com/samsamfire/gotwai/pkg/can"
)

const (
	FrameMaxDLC       = 8
	StdIdentMask      = 0x7FF
	ExtIdentMask      = 0x1FFFFFFF
	FrameBufferLength = 13
)

// Byte 0 of the frame buffer
const (
	bufDlcMask       = 0x0F
	bufSelfReception = 1 << 4
	bufSingleShot    = 1 << 5
	bufRtr           = 1 << 6
	bufExtended      = 1 << 7
)

// A classic CAN frame as handled by the controller
type Frame struct {
	ID            uint32
	Extended      bool
	RTR           bool
	SelfReception bool // Also receive the frame when transmitting
	SingleShot    bool // Do not retransmit on error or arbitration loss
	DLC           uint8
	Data          [FrameMaxDLC]byte
}

// Raw TX / RX buffer layout of the controller
// byte 0 : FF | RTR | single shot | self reception | DLC
// standard : bytes 1..2 identifier << 5, data from byte 3
// extended : bytes 1..4 identifier << 3, data from byte 5
type FrameBuffer [FrameBufferLength]byte

func (f Frame) String() string {
	kind := "STD"
	if f.Extended {
		kind = "EXT"
	}
	if f.RTR {
		return fmt.Sprintf("%s %x [%d] RTR", kind, f.ID, f.DLC)
	}
	return fmt.Sprintf("%s %x [%d] % X", kind, f.ID, f.DLC, f.Data[:min(int(f.DLC), FrameMaxDLC)])
}

// Check that a frame can be written to the TX buffer
func (f Frame) Validate() error {
	if f.Extended && f.ID > ExtIdentMask {
		return fmt.Errorf("extended identifier %x out of range : %w", f.ID, gotwai.ErrIllegalArgument)
	}
	if !f.Extended && f.ID > StdIdentMask {
		return fmt.Errorf("standard identifier %x out of range : %w", f.ID, gotwai.ErrIllegalArgument)
	}
	if f.DLC > FrameMaxDLC {
		return fmt.Errorf("dlc %v exceeds %v : %w", f.DLC, FrameMaxDLC, gotwai.ErrIllegalArgument)
	}
	return nil
}

// Format a frame into the controller buffer layout
func FormatFrame(f Frame) (FrameBuffer, error) {
	var buffer FrameBuffer
	if err := f.Validate(); err != nil {
		return buffer, err
	}
	buffer[0] = f.DLC & bufDlcMask
	if f.SelfReception {
		buffer[0] |= bufSelfReception
	}
	if f.SingleShot {
		buffer[0] |= bufSingleShot
	}
	if f.RTR {
		buffer[0] |= bufRtr
	}
	dataStart := 3
	if f.Extended {
		buffer[0] |= bufExtended
		binary.BigEndian.PutUint32(buffer[1:5], f.ID<<3)
		dataStart = 5
	} else {
		binary.BigEndian.PutUint16(buffer[1:3], uint16(f.ID<<5))
	}
	// Remote frames carry no data
	if !f.RTR {
		copy(buffer[dataStart:], f.Data[:f.DLC])
	}
	return buffer, nil
}

// Parse a frame from the controller buffer layout
// DLC codes above 8 are kept but only 8 bytes are copied
func ParseFrame(buffer FrameBuffer) Frame {
	f := Frame{
		DLC:           buffer[0] & bufDlcMask,
		SelfReception: buffer[0]&bufSelfReception != 0,
		SingleShot:    buffer[0]&bufSingleShot != 0,
		RTR:           buffer[0]&bufRtr != 0,
		Extended:      buffer[0]&bufExtended != 0,
	}
	dataStart := 3
	if f.Extended {
		f.ID = (binary.BigEndian.Uint32(buffer[1:5]) >> 3) & ExtIdentMask
		dataStart = 5
	} else {
		f.ID = uint32(binary.BigEndian.Uint16(buffer[1:3])>>5) & StdIdentMask
	}
	if !f.RTR {
		length := min(int(f.DLC), FrameMaxDLC)
		copy(f.Data[:length], buffer[dataStart:dataStart+length])
	}
	return f
}

// Convert from a generic bus frame
func FromCan(frame can.Frame) Frame {
	f := Frame{
		ID:       frame.Ident(),
		Extended: frame.Extended(),
		RTR:      frame.Remote(),
		DLC:      frame.DLC,
		Data:     frame.Data,
	}
	if f.DLC > FrameMaxDLC {
		f.DLC = FrameMaxDLC
	}
	return f
}

// Convert to a generic bus frame, controller only flags are dropped
func (f Frame) Can() can.Frame {
	id := f.ID & StdIdentMask
	if f.Extended {
		id = (f.ID & ExtIdentMask) | can.CanEffFlag
	}
	if f.RTR {
		id |= can.CanRtrFlag
	}
	frame := can.NewFrame(id, 0, f.DLC)
	if !f.RTR {
		frame.Data = f.Data
	}
	return frame
}
