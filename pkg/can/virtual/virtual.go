package virtual

import (
	"errors"
	"sync"

	can "github.com/samsamfire/gotwai/pkg/can"
	log "github.com/sirupsen/logrus"
)

// In-process virtual CAN bus primarily used for testing
// All buses created with the same channel name share the same wire,
// frames sent by one are received by every other connected bus.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

const rxQueueSize = 256

var ErrNotConnected = errors.New("error : no active connection, abort send")

type wire struct {
	mu    sync.Mutex
	buses map[*Bus]struct{}
}

var (
	wiresMu sync.Mutex
	wires   = make(map[string]*wire)
)

func getWire(channel string) *wire {
	wiresMu.Lock()
	defer wiresMu.Unlock()
	w, ok := wires[channel]
	if !ok {
		w = &wire{buses: make(map[*Bus]struct{})}
		wires[channel] = w
	}
	return w
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	wire         *wire
	connected    bool
	receiveOwn   bool
	framehandler can.FrameListener
	rx           chan can.Frame
	stopChan     chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
	dropped      uint64
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, rx: make(chan can.Frame, rxQueueSize)}, nil
}

// "Connect" to the shared wire named by channel
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.wire = getWire(b.channel)
	b.wire.mu.Lock()
	b.wire.buses[b] = struct{}{}
	b.wire.mu.Unlock()
	b.connected = true
	return nil
}

// "Disconnect" from the wire and stop the reception routine
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		b.wire.mu.Lock()
		delete(b.wire.buses, b)
		b.wire.mu.Unlock()
		b.connected = false
	}
	if b.isRunning {
		close(b.stopChan)
		b.isRunning = false
		b.mu.Unlock()
		b.wg.Wait()
		b.mu.Lock()
	}
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	connected := b.connected
	w := b.wire
	receiveOwn := b.receiveOwn
	b.mu.Unlock()

	if !connected {
		if receiveOwn {
			b.deliver(frame)
			return nil
		}
		return ErrNotConnected
	}
	w.mu.Lock()
	peers := make([]*Bus, 0, len(w.buses))
	for peer := range w.buses {
		if peer != b || receiveOwn {
			peers = append(peers, peer)
		}
	}
	w.mu.Unlock()
	for _, peer := range peers {
		peer.deliver(frame)
	}
	return nil
}

func (b *Bus) deliver(frame can.Frame) {
	select {
	case b.rx <- frame:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		log.Warnf("[CAN][%v] virtual rx queue full, dropped frame %x", b.channel, frame.ID)
	}
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning {
		return nil
	}
	// Start go routine that receives incoming traffic and passes it to frameHandler
	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	b.isRunning = true
	go b.handleReception(b.stopChan)
	return nil
}

// Handle incoming traffic
func (b *Bus) handleReception(stop chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-stop:
			return
		case frame := <-b.rx:
			b.mu.Lock()
			handler := b.framehandler
			b.mu.Unlock()
			if handler != nil {
				handler.Handle(frame)
			}
		}
	}
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

// Number of frames dropped because the reception queue was full
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
