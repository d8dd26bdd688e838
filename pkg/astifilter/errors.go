package astifilter

import (
	"errors"
	"fmt"
	"time"
)

var (
	// A negotiation found no path between a producer's format and its consumer
	ErrFormatNegotiation = errors.New("astifilter: format negotiation failed")
	// A node failed while processing
	ErrNodeProcessing = errors.New("astifilter: node processing failed")
	// Transient, the node is retried on the next run. Chains started with the pipeline are
	// signaled so that the next run happens right away.
	ErrResourceExhausted = errors.New("astifilter: resource exhausted")
	// A device call didn't complete in time
	ErrDeviceTimeout = errors.New("astifilter: device timeout")
	// A device can't accept data yet
	ErrDeviceNotReady = errors.New("astifilter: device not ready")
)

var (
	ErrChainBusy      = errors.New("astifilter: chain is busy")
	ErrFrameOwned     = errors.New("astifilter: frame is already owned by a queue")
	ErrFrameReleased  = errors.New("astifilter: frame has been released")
	ErrQueueFull      = errors.New("astifilter: queue is full")
	ErrInvalidCommand = errors.New("astifilter: invalid command")
)

// ChainError is the terminal error of a chain. It is surfaced once through EventNameChainError
// and the chain stays in the error state until it is closed.
type ChainError struct {
	Err    error
	Format Format
	HasPTS bool
	// Either ErrFormatNegotiation or ErrNodeProcessing
	Kind   error
	Node   string
	NodeID NodeID
	PTS    time.Duration
}

func newChainError(kind error, n *Node, err error) *ChainError {
	e := &ChainError{
		Err:  err,
		Kind: kind,
	}
	if n != nil {
		e.Format = n.lastFormat
		e.HasPTS = n.lastHasPTS
		e.Node = n.String()
		e.NodeID = n.id
		e.PTS = n.lastPTS
	}
	return e
}

func (e *ChainError) Error() string {
	var s string
	if e.Kind != nil {
		s = e.Kind.Error()
	} else {
		s = "astifilter: chain failed"
	}
	if e.Node != "" {
		s += fmt.Sprintf(" in %s", e.Node)
	}
	if !e.Format.IsZero() {
		s += fmt.Sprintf(" (format: %s", e.Format)
		if e.HasPTS {
			s += fmt.Sprintf(", pts: %s", e.PTS)
		}
		s += ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ChainError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
