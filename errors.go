package gotwai

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTimeout         = errors.New("function timeout")
	ErrIllegalBaudrate = errors.New("illegal baudrate passed to function")
	ErrRxFifoEmpty     = errors.New("no frame available in rx fifo")
	ErrRxFifoOverrun   = errors.New("rx fifo overrun, frame is invalid")
	ErrTxQueueFull     = errors.New("previous message is still waiting, buffer full")
	ErrTxBusy          = errors.New("sending rejected because driver is busy. Try again")
	ErrInvalidState    = errors.New("driver not in a state allowing this operation")
	ErrNotBusOff       = errors.New("controller is not in bus-off")
	ErrDriverClosed    = errors.New("driver closed")
)
