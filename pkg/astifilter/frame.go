package astifilter

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Payload is a reference counted buffer shared by frames
type Payload struct {
	b    []byte
	id   uuid.UUID
	refs int32
}

func newPayload(b []byte) *Payload {
	return &Payload{
		b:    b,
		id:   uuid.New(),
		refs: 1,
	}
}

func (p *Payload) ID() uuid.UUID {
	return p.id
}

// Bytes must not be modified
func (p *Payload) Bytes() []byte {
	return p.b
}

func (p *Payload) Shared() bool {
	return atomic.LoadInt32(&p.refs) > 1
}

func (p *Payload) Refs() int {
	return int(atomic.LoadInt32(&p.refs))
}

func (p *Payload) retain() {
	atomic.AddInt32(&p.refs, 1)
}

func (p *Payload) release() {
	if atomic.AddInt32(&p.refs, -1) == 0 {
		p.b = nil
	}
}

// Frame is a unit of decoded or raw data. It is owned by exactly one party at a time: a queue,
// the node currently processing it, or whoever it has been handed to.
type Frame struct {
	Duration time.Duration
	Format   Format
	HasPTS   bool
	PTS      time.Duration
	Samples  int // Per channel, audio only
	p        *Payload
	q        *Queue
	released bool
}

type FrameOptions struct {
	Data     []byte
	Duration time.Duration
	Format   Format
	PTS      *time.Duration
	Samples  int
}

func NewFrame(o FrameOptions) *Frame {
	f := &Frame{
		Duration: o.Duration,
		Format:   o.Format,
		Samples:  o.Samples,
		p:        newPayload(o.Data),
	}
	if o.PTS != nil {
		f.SetPTS(*o.PTS)
	}
	return f
}

func (f *Frame) Kind() MediaKind {
	return f.Format.Kind
}

func (f *Frame) SetPTS(pts time.Duration) {
	f.HasPTS = true
	f.PTS = pts
}

func (f *Frame) Payload() *Payload {
	return f.p
}

// Data must not be modified, use Writable instead
func (f *Frame) Data() []byte {
	if f.released {
		return nil
	}
	return f.p.b
}

// Ref creates a new frame sharing the same payload. Both frames have to be released.
func (f *Frame) Ref() *Frame {
	f.p.retain()
	r := *f
	r.q = nil
	return &r
}

// MakeWritable makes sure the frame owns its payload privately
func (f *Frame) MakeWritable() error {
	if f.released {
		return ErrFrameReleased
	}
	if f.q != nil {
		return ErrFrameOwned
	}
	if !f.p.Shared() {
		return nil
	}
	b := make([]byte, len(f.p.b))
	copy(b, f.p.b)
	f.p.release()
	f.p = newPayload(b)
	return nil
}

// Writable returns bytes that can be modified safely
func (f *Frame) Writable() ([]byte, error) {
	if err := f.MakeWritable(); err != nil {
		return nil, err
	}
	return f.p.b, nil
}

// SetData replaces the payload
func (f *Frame) SetData(b []byte) {
	if !f.released {
		f.p.release()
	}
	f.p = newPayload(b)
	f.released = false
}

// Release drops the frame's reference to its payload. It can be called several times.
func (f *Frame) Release() {
	if f.released {
		return
	}
	f.released = true
	f.p.release()
}

func (f *Frame) Released() bool {
	return f.released
}

func (f *Frame) Clone() *Frame {
	c := *f
	c.q = nil
	c.released = false
	b := make([]byte, len(f.Data()))
	copy(b, f.Data())
	c.p = newPayload(b)
	return &c
}

// Copies timing information, used by nodes creating a new frame out of an incoming one
func (f *Frame) CopyTiming(i *Frame) {
	f.Duration = i.Duration
	f.HasPTS = i.HasPTS
	f.PTS = i.PTS
}
