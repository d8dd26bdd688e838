package astifilter

import (
	"fmt"

	"github.com/asticode/go-astikit"
)

// Filter is the contract every node of a chain implements. Process is only ever called from
// the chain's dispatch context, so implementations don't need to be thread safe unless they
// hand work to other goroutines.
type Filter interface {
	// Whether the filter can consume frames of this format
	Accepts(f Format) bool
	// Called once the filter has been removed from the chain
	Destroy() error
	// Format produced for the provided input format. Sources are called with a zero format.
	// False means the output format can't be known before the first frame.
	OutputFormat(in Format) (Format, bool)
	// Ordered by preference, used when a conversion is needed
	PreferredFormats() []Format
	Process(p *Pins) (ProcessStatus, error)
	Reset(m ResetMode)
}

// FormatRanker is implemented by filters whose preferences depend on the incoming format
type FormatRanker interface {
	RankFormats(in Format) []Format
}

// Drainer is implemented by filters holding internal state that must be flushed downstream
// before they can be removed from the chain. Drain is called repeatedly until it returns true.
type Drainer interface {
	Drain(p *Pins) (done bool, err error)
}

type DeltaStater interface {
	DeltaStats() []astikit.DeltaStat
}

type CommandType uint32

const (
	// Changes the playback speed, filters adapting timestamps or tempo react to it
	CommandTypeSetSpeed CommandType = iota
	// Changes the playback speed by resampling
	CommandTypeSetSpeedResample
	// Asks filters whether they currently alter the stream
	CommandTypeIsActive
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeSetSpeed:
		return "set_speed"
	case CommandTypeSetSpeedResample:
		return "set_speed_resample"
	default:
		return "is_active"
	}
}

type Command struct {
	// Set by filters answering CommandTypeIsActive
	IsActive bool
	Speed    float64
	Type     CommandType
}

// Commander returns true when it has handled the command
type Commander interface {
	Command(c *Command) bool
}

// Pins gives a filter access to its queues during Process
type Pins struct {
	in  *InputPin
	n   *Node
	out *OutputPin
}

// Input is nil for sources
func (p *Pins) Input() *InputPin {
	return p.in
}

// Output is nil for sinks
func (p *Pins) Output() *OutputPin {
	return p.out
}

func (p *Pins) Node() *Node {
	return p.n
}

// Waker returns a func that can be called from any goroutine to mark the node as runnable
func (p *Pins) Waker() func() {
	return p.n.Wakeup
}

type InputPin struct {
	e *Edge
	n *Node
}

// Read dequeues the head frame and transfers its ownership to the caller
func (p *InputPin) Read() (*Frame, bool) {
	f, ok := p.e.q.Dequeue()
	if ok {
		p.n.observe(f)
	}
	return f, ok
}

// Peek doesn't transfer ownership
func (p *InputPin) Peek() (*Frame, bool) {
	return p.e.q.Peek()
}

// EOF returns true when the head of the queue is an EOF marker
func (p *InputPin) EOF() bool {
	return p.e.q.AtEOF()
}

func (p *InputPin) Len() int {
	return p.e.q.Len()
}

func (p *InputPin) Request() {
	p.e.q.Request()
}

// Format returns the negotiated format of the edge
func (p *InputPin) Format() (Format, bool) {
	return p.e.Format()
}

type OutputPin struct {
	e *Edge
	n *Node
}

// Write transfers ownership of the frame to the queue. Frames are never dropped: a full queue
// returns an error wrapping ErrQueueFull and the caller keeps ownership.
func (p *OutputPin) Write(f *Frame) error {
	if err := p.e.q.Enqueue(f); err != nil {
		return fmt.Errorf("astifilter: writing frame failed: %w", err)
	}
	p.n.observe(f)
	return nil
}

func (p *OutputPin) CanWrite() bool {
	return !p.e.q.Full()
}

// Requested returns true when the consumer is waiting for data
func (p *OutputPin) Requested() bool {
	return p.e.q.Requested()
}

func (p *OutputPin) WriteEOF() {
	p.e.q.EnqueueEOF()
}

// WriteFormatChange notifies the consumer that the following frames have a new format
func (p *OutputPin) WriteFormatChange(f Format) {
	p.e.q.EnqueueFormatChange(f)
}

func (p *OutputPin) Format() (Format, bool) {
	return p.e.Format()
}
