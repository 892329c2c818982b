package driver

import (
	"fmt"
	"strings"

	gotwai "github.com/samsamfire/gotwai"
)

// Alerts notify the application of driver and bus conditions.
// Only alerts enabled through the configuration or ReconfigureAlerts are raised.
type Alerts uint32

const (
	AlertTxIdle Alerts = 1 << iota
	AlertTxSuccess
	AlertTxFailed
	AlertTxRetried
	AlertRxData
	AlertRxQueueFull
	AlertRxFifoOverrun
	AlertBelowErrorWarning
	AlertAboveErrorWarning
	AlertErrorActive
	AlertErrorPassive
	AlertBusError
	AlertArbitrationLost
	AlertBusOff
	AlertRecoveryInProgress
	AlertBusRecovered
	AlertPeripheralReset

	AlertsNone Alerts = 0
	AlertsAll  Alerts = AlertPeripheralReset<<1 - 1
)

var alertNames = []struct {
	alert Alerts
	name  string
}{
	{AlertTxIdle, "tx_idle"},
	{AlertTxSuccess, "tx_success"},
	{AlertTxFailed, "tx_failed"},
	{AlertTxRetried, "tx_retried"},
	{AlertRxData, "rx_data"},
	{AlertRxQueueFull, "rx_queue_full"},
	{AlertRxFifoOverrun, "rx_fifo_overrun"},
	{AlertBelowErrorWarning, "below_ewl"},
	{AlertAboveErrorWarning, "above_ewl"},
	{AlertErrorActive, "err_active"},
	{AlertErrorPassive, "err_passive"},
	{AlertBusError, "bus_error"},
	{AlertArbitrationLost, "arb_lost"},
	{AlertBusOff, "bus_off"},
	{AlertRecoveryInProgress, "recovery_in_progress"},
	{AlertBusRecovered, "bus_recovered"},
	{AlertPeripheralReset, "periph_reset"},
}

func (alerts Alerts) Has(a Alerts) bool {
	return alerts&a == a
}

func (alerts Alerts) String() string {
	if alerts == AlertsNone {
		return "none"
	}
	names := make([]string, 0, len(alertNames))
	for _, a := range alertNames {
		if alerts.Has(a.alert) {
			names = append(names, a.name)
		}
	}
	return strings.Join(names, ",")
}

// Parse a comma separated list of alert names, "all" and "none" are accepted
func ParseAlerts(list string) (Alerts, error) {
	var alerts Alerts
	for _, field := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(field))
		switch name {
		case "", "none":
			continue
		case "all":
			alerts |= AlertsAll
			continue
		}
		found := false
		for _, a := range alertNames {
			if a.name == name {
				alerts |= a.alert
				found = true
				break
			}
		}
		if !found {
			return AlertsNone, fmt.Errorf("unknown alert %q : %w", name, gotwai.ErrIllegalArgument)
		}
	}
	return alerts, nil
}
