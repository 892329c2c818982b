package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	gotwai "github.com/samsamfire/gotwai"
	"github.com/samsamfire/gotwai/pkg/twai"
	log "github.com/sirupsen/logrus"
)

type State uint8

const (
	StateStopped State = iota
	StateRunning
	StateBusOff
	StateRecovering
)

var stateMap = map[State]string{
	StateStopped:    "STOPPED",
	StateRunning:    "RUNNING",
	StateBusOff:     "BUS-OFF",
	StateRecovering: "RECOVERING",
}

func (s State) String() string {
	str, ok := stateMap[s]
	if !ok {
		return "UNKNOWN"
	}
	return str
}

type Config struct {
	Mode       twai.Mode
	TxQueueLen int // 0 disables queueing, a frame is only accepted if the TX buffer is free
	RxQueueLen int
	Alerts     Alerts
}

func DefaultConfig() Config {
	return Config{Mode: twai.ModeNormal, TxQueueLen: 5, RxQueueLen: 5, Alerts: AlertsNone}
}

// Snapshot of the driver status and statistics
type StatusInfo struct {
	State            State
	TEC              uint8
	REC              uint8
	TxQueued         int
	RxQueued         int
	TxFailed         uint32
	RxMissed         uint32
	RxOverrun        uint32
	ArbLost          uint32
	BusErrors        uint32
	PeripheralResets uint32
}

type Option func(d *Driver)

// Register metrics on reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Driver) { d.reg = reg }
}

// Hook performing the peripheral module reset between prepare and recover
func WithPeripheralReset(reset func()) Option {
	return func(d *Driver) { d.peripheralReset = reset }
}

// Name used in logs and as the metrics "controller" label
func WithName(name string) Option {
	return func(d *Driver) { d.name = name }
}

// Driver is the task level interface to one TWAI controller.
//
// A single goroutine handles the interrupt line : it decodes the interrupt,
// moves received frames to the RX queue, feeds the TX buffer from the TX
// queue and performs errata resets. Every controller access is serialized
// by the driver lock.
type Driver struct {
	mu              sync.Mutex
	name            string
	ctrl            *twai.Controller
	irq             <-chan struct{}
	cfg             Config
	state           State
	stats           StatusInfo
	peripheralReset func()

	txQueue chan twai.Frame
	rxQueue chan twai.Frame

	alertsEnabled Alerts
	alertsPending Alerts
	alertSignal   chan struct{}

	reg     prometheus.Registerer
	metrics *metrics

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Create a driver for a configured controller and start handling its
// interrupt line. The driver is created in the stopped state.
func New(ctrl *twai.Controller, irq <-chan struct{}, cfg Config, options ...Option) (*Driver, error) {
	if ctrl == nil || irq == nil || cfg.TxQueueLen < 0 || cfg.RxQueueLen <= 0 {
		return nil, gotwai.ErrIllegalArgument
	}
	d := &Driver{
		name:          "twai0",
		ctrl:          ctrl,
		irq:           irq,
		cfg:           cfg,
		state:         StateStopped,
		txQueue:       make(chan twai.Frame, cfg.TxQueueLen),
		rxQueue:       make(chan twai.Frame, cfg.RxQueueLen),
		alertsEnabled: cfg.Alerts,
		alertSignal:   make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(d)
	}
	if d.reg == nil {
		d.reg = prometheus.NewRegistry()
	}
	d.metrics = newMetrics(d.reg, d.name)
	d.wg.Add(1)
	go d.process()
	log.Infof("[DRIVER][%v] installed | mode %v tx queue %v rx queue %v alerts %v",
		d.name, cfg.Mode, cfg.TxQueueLen, cfg.RxQueueLen, cfg.Alerts)
	return d, nil
}

func (d *Driver) process() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case _, ok := <-d.irq:
			if !ok {
				log.Warnf("[DRIVER][%v] interrupt line closed", d.name)
				return
			}
			d.handleInterrupt()
		}
	}
}

func (d *Driver) handleInterrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()

	events := d.ctrl.Decode()
	if events == twai.EventNone {
		return
	}
	d.metrics.observe(events)
	log.Debugf("[DRIVER][%v] events %v", d.name, events)

	var alerts Alerts
	// Reset first, the other events refer to the state before it
	if events.Has(twai.EventNeedsPeripheralReset) {
		alerts |= d.resetPeripheral()
	}
	if events.Any(twai.EventRxFrameAvailable | twai.EventRxFifoOverrun) {
		alerts |= d.drainRx()
	}
	if events.Has(twai.EventTxBufferFree) {
		if d.ctrl.LastTxSuccessful() {
			alerts |= AlertTxSuccess
		} else {
			d.stats.TxFailed++
			d.metrics.txFailed.Inc()
			alerts |= AlertTxFailed
		}
		alerts |= d.feedTx()
	}
	if events.Has(twai.EventBusError) {
		d.stats.BusErrors++
		alerts |= AlertBusError
	}
	if events.Has(twai.EventArbitrationLost) {
		d.stats.ArbLost++
		alerts |= AlertArbitrationLost
	}
	if events.Has(twai.EventAboveErrorWarning) {
		alerts |= AlertAboveErrorWarning
	}
	if events.Has(twai.EventBelowErrorWarning) {
		alerts |= AlertBelowErrorWarning
	}
	if events.Has(twai.EventErrorPassive) {
		alerts |= AlertErrorPassive
	}
	if events.Has(twai.EventErrorActive) {
		alerts |= AlertErrorActive
	}
	if events.Has(twai.EventBusOff) {
		d.setState(StateBusOff)
		d.flushTx()
		alerts |= AlertBusOff
	}
	if events.Has(twai.EventBusRecoveryInProgress) {
		alerts |= AlertRecoveryInProgress
	}
	if events.Has(twai.EventBusRecoveryComplete) {
		d.setState(StateStopped)
		alerts |= AlertBusRecovered
	}
	d.updateGauges()
	d.raiseAlerts(alerts)
}

func (d *Driver) resetPeripheral() Alerts {
	d.ctrl.PrepareForReset()
	retry := d.ctrl.CheckState(twai.FlagTxNeedRetry)
	if d.peripheralReset != nil {
		d.peripheralReset()
	}
	d.ctrl.RecoverFromReset()

	lost := d.ctrl.LostRxCount()
	d.stats.RxMissed += uint32(lost)
	d.stats.PeripheralResets++
	d.metrics.rxMissed.Add(float64(lost))
	d.metrics.resets.Inc()
	log.Warnf("[DRIVER][%v] peripheral reset | rx frames lost %v tx retried %v", d.name, lost, retry)

	alerts := AlertPeripheralReset
	if retry {
		alerts |= AlertTxRetried
	}
	return alerts
}

func (d *Driver) drainRx() Alerts {
	var alerts Alerts
	for {
		frame, err := d.ctrl.ReadRxFrame()
		if errors.Is(err, gotwai.ErrRxFifoEmpty) {
			return alerts
		}
		if errors.Is(err, gotwai.ErrRxFifoOverrun) {
			lost := 1 + d.ctrl.ClearRxFifoOverrun()
			d.stats.RxOverrun += uint32(lost)
			d.metrics.rxOverrun.Add(float64(lost))
			log.Warnf("[DRIVER][%v] rx fifo overrun | %v frames dropped", d.name, lost)
			return alerts | AlertRxFifoOverrun
		}
		select {
		case d.rxQueue <- frame:
			d.metrics.rxFrames.Inc()
			alerts |= AlertRxData
		default:
			d.stats.RxMissed++
			d.metrics.rxMissed.Inc()
			alerts |= AlertRxQueueFull
		}
	}
}

// Move the next queued frame to the TX buffer, AlertTxIdle if nothing left
func (d *Driver) feedTx() Alerts {
	if d.state != StateRunning {
		return AlertsNone
	}
	select {
	case frame := <-d.txQueue:
		d.submit(frame)
		return AlertsNone
	default:
		return AlertTxIdle
	}
}

func (d *Driver) submit(frame twai.Frame) {
	if err := d.ctrl.Submit(frame); err != nil {
		log.Errorf("[DRIVER][%v] submit %v failed : %v", d.name, frame, err)
		return
	}
	d.metrics.txFrames.Inc()
}

// Drop every queued frame, they count as failed
func (d *Driver) flushTx() {
	for {
		select {
		case <-d.txQueue:
			d.stats.TxFailed++
			d.metrics.txFailed.Inc()
		default:
			return
		}
	}
}

func (d *Driver) flushRx() {
	for {
		select {
		case <-d.rxQueue:
		default:
			return
		}
	}
}

func (d *Driver) setState(state State) {
	if d.state != state {
		log.Debugf("[DRIVER][%v] state %v => %v", d.name, d.state, state)
	}
	d.state = state
	d.metrics.driverState.Set(float64(state))
}

func (d *Driver) updateGauges() {
	tec, rec := d.ctrl.Counters()
	d.metrics.tec.Set(float64(tec))
	d.metrics.rec.Set(float64(rec))
	d.metrics.txQueue.Set(float64(len(d.txQueue)))
	d.metrics.rxQueue.Set(float64(len(d.rxQueue)))
}

func (d *Driver) raiseAlerts(alerts Alerts) {
	alerts &= d.alertsEnabled
	if alerts == AlertsNone {
		return
	}
	d.alertsPending |= alerts
	select {
	case d.alertSignal <- struct{}{}:
	default:
	}
}

func (d *Driver) closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Start the controller, queues are emptied
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed() {
		return gotwai.ErrDriverClosed
	}
	if d.state != StateStopped {
		return gotwai.ErrInvalidState
	}
	d.flushTx()
	d.flushRx()
	if err := d.ctrl.Start(d.cfg.Mode); err != nil {
		return fmt.Errorf("starting controller : %w", err)
	}
	d.setState(StateRunning)
	d.updateGauges()
	return nil
}

// Stop the controller, pending transmissions are abandoned
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateRunning {
		return gotwai.ErrInvalidState
	}
	d.ctrl.Stop()
	d.flushTx()
	d.setState(StateStopped)
	d.updateGauges()
	return nil
}

// Initiate bus recovery, only valid when bus-off.
// The driver goes back to stopped once AlertBusRecovered is raised.
func (d *Driver) InitiateRecovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateBusOff {
		return gotwai.ErrInvalidState
	}
	if err := d.ctrl.StartBusRecovery(); err != nil {
		return err
	}
	d.setState(StateRecovering)
	log.Infof("[DRIVER][%v] bus recovery initiated", d.name)
	return nil
}

// Transmit queues a frame for transmission.
// If the TX buffer is free the frame is written to it immediately, otherwise
// it waits in the TX queue, blocking until space is available or ctx is done.
func (d *Driver) Transmit(ctx context.Context, frame twai.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.closed() {
		d.mu.Unlock()
		return gotwai.ErrDriverClosed
	}
	if d.state != StateRunning {
		d.mu.Unlock()
		return gotwai.ErrInvalidState
	}
	if !d.ctrl.CheckState(twai.FlagTxBufferOccupied) && len(d.txQueue) == 0 {
		d.submit(frame)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	if d.cfg.TxQueueLen == 0 {
		return gotwai.ErrTxBusy
	}

	select {
	case d.txQueue <- frame:
	case <-ctx.Done():
		return fmt.Errorf("%w : %v", gotwai.ErrTxQueueFull, ctx.Err())
	case <-d.done:
		return gotwai.ErrDriverClosed
	}

	// The buffer may have been freed while queueing
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateRunning && !d.ctrl.CheckState(twai.FlagTxBufferOccupied) {
		d.feedTx()
	}
	d.metrics.txQueue.Set(float64(len(d.txQueue)))
	return nil
}

// Receive waits for a frame from the RX queue
func (d *Driver) Receive(ctx context.Context) (twai.Frame, error) {
	select {
	case frame := <-d.rxQueue:
		return frame, nil
	default:
	}
	select {
	case frame := <-d.rxQueue:
		return frame, nil
	case <-ctx.Done():
		return twai.Frame{}, gotwai.ErrTimeout
	case <-d.done:
		return twai.Frame{}, gotwai.ErrDriverClosed
	}
}

// ReadAlerts waits for at least one enabled alert, returned alerts are cleared
func (d *Driver) ReadAlerts(ctx context.Context) (Alerts, error) {
	for {
		d.mu.Lock()
		alerts := d.alertsPending
		d.alertsPending = AlertsNone
		d.mu.Unlock()
		if alerts != AlertsNone {
			return alerts, nil
		}
		select {
		case <-d.alertSignal:
		case <-ctx.Done():
			return AlertsNone, gotwai.ErrTimeout
		case <-d.done:
			return AlertsNone, gotwai.ErrDriverClosed
		}
	}
}

// ReconfigureAlerts sets the enabled alerts, returns and clears the pending ones
func (d *Driver) ReconfigureAlerts(enabled Alerts) Alerts {
	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.alertsPending
	d.alertsEnabled = enabled
	d.alertsPending = AlertsNone
	return pending
}

func (d *Driver) Status() StatusInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.stats
	status.State = d.state
	status.TEC, status.REC = d.ctrl.Counters()
	status.TxQueued = len(d.txQueue)
	status.RxQueued = len(d.rxQueue)
	return status
}

// Close stops the controller and the interrupt goroutine
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.state == StateRunning {
			d.ctrl.Stop()
		}
		d.flushTx()
		d.setState(StateStopped)
		log.Infof("[DRIVER][%v] uninstalled", d.name)
	})
	return nil
}
