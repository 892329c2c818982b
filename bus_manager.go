// This package is a golang implementation of the TWAI (CAN) controller
// interrupt decoder and errata reset coordinator, with a simulated controller
// and a queue based driver on top.
package gotwai

import (
	"sync"

	can "github.com/samsamfire/gotwai/pkg/can"
	log "github.com/sirupsen/logrus"
)

type subscription struct {
	ident    uint32
	mask     uint32
	listener can.FrameListener
}

// Bus manager is a wrapper around the CAN bus interface
// Used by simulated controllers and tools to share one bus, it
// dispatches received frames to listeners by identifier / mask.
type BusManager struct {
	mu         sync.Mutex
	bus        can.Bus // Bus interface that can be adapted
	listeners  []subscription
	sendErrors uint32
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame can.Frame) {
	bm.mu.Lock()
	matching := make([]can.FrameListener, 0, len(bm.listeners))
	for _, sub := range bm.listeners {
		if (frame.ID^sub.ident)&sub.mask == 0 {
			matching = append(matching, sub.listener)
		}
	}
	bm.mu.Unlock()
	for _, listener := range matching {
		listener.Handle(frame)
	}
}

// Set bus
func (bm *BusManager) SetBus(bus can.Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() can.Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame can.Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrInvalidState
	}
	err := bus.Send(frame)
	if err != nil {
		bm.mu.Lock()
		bm.sendErrors++
		bm.mu.Unlock()
		log.Warnf("[CAN] %v", err)
	}
	return err
}

// Subscribe to frames matching ident under mask, mask 0 receives everything
func (bm *BusManager) Subscribe(ident uint32, mask uint32, callback can.FrameListener) error {
	if callback == nil {
		return ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Verify that we are not adding the same one twice
	for _, sub := range bm.listeners {
		if sub.listener == callback && sub.ident == ident && sub.mask == mask {
			log.Warnf("[CAN] callback for frame id %x already added", ident)
			return nil
		}
	}
	bm.listeners = append(bm.listeners, subscription{ident: ident, mask: mask, listener: callback})
	return nil
}

// Remove every subscription of callback
func (bm *BusManager) Unsubscribe(callback can.FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	kept := bm.listeners[:0]
	for _, sub := range bm.listeners {
		if sub.listener != callback {
			kept = append(kept, sub)
		}
	}
	bm.listeners = kept
}

// Number of failed sends
func (bm *BusManager) SendErrors() uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.sendErrors
}

// Create a bus manager and subscribe it to every frame of bus
func NewBusManager(bus can.Bus) (*BusManager, error) {
	bm := &BusManager{bus: bus}
	if bus == nil {
		return nil, ErrIllegalArgument
	}
	if err := bus.Subscribe(bm); err != nil {
		return nil, err
	}
	return bm, nil
}
