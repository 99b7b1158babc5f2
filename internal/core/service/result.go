package service

import "github.com/rl1809/order-fulfillment/internal/core/domain"

type ResultKind int

const (
	// ResultOK means the order reached a terminal state, Processed or Failed.
	ResultOK ResultKind = iota
	// ResultRetryableFault means processing hit an infrastructure or
	// programming error and the event should be delivered again.
	ResultRetryableFault
	// ResultTerminalFault means the event can never be processed.
	ResultTerminalFault
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultRetryableFault:
		return "retryable_fault"
	case ResultTerminalFault:
		return "terminal_fault"
	}
	return "unknown"
}

// Result is the outcome of processing one order event.
type Result struct {
	Kind  ResultKind
	Order domain.Order
	Err   error

	// Replayed is set when the order was already terminal and nothing was
	// changed.
	Replayed bool
}

func OK(order domain.Order) Result {
	return Result{Kind: ResultOK, Order: order}
}

func RetryableFault(err error) Result {
	return Result{Kind: ResultRetryableFault, Err: err}
}

func TerminalFault(err error) Result {
	return Result{Kind: ResultTerminalFault, Err: err}
}
