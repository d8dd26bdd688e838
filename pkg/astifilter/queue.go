package astifilter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

type queueItemType uint32

const (
	queueItemTypeFrame queueItemType = iota
	queueItemTypeEOF
	queueItemTypeFormatChange
)

type queueItem struct {
	f  *Frame
	fc Format
	t  queueItemType
}

// Queue is a bounded FIFO of frames. Control items (EOF, format change) are ordered with frames
// but don't count against its capacity.
type Queue struct {
	c         int
	cs        *queueCumulativeStats
	eof       bool
	f         Format
	hasFormat bool
	is        []queueItem
	m         sync.Mutex // Locks all attributes
	n         int
	requested bool
}

type queueCumulativeStats struct {
	controls uint64
	dequeued uint64
	dropped  uint64
	enqueued uint64
}

type QueueCumulativeStats struct {
	Dequeued uint64
	Dropped  uint64
	Enqueued uint64
}

func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("astifilter: invalid queue capacity %d", capacity)
	}
	return &Queue{
		c:  capacity,
		cs: &queueCumulativeStats{},
	}, nil
}

func (q *Queue) Cap() int {
	q.m.Lock()
	defer q.m.Unlock()
	return q.c
}

// Len returns the number of frames, control items excluded
func (q *Queue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()
	return q.n
}

func (q *Queue) Full() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return q.n >= q.c
}

// Empty returns true when there's neither frames nor control items
func (q *Queue) Empty() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return len(q.is) == 0
}

// Shrinking below the current occupancy keeps buffered frames but rejects enqueuing until
// enough of them have been dequeued
func (q *Queue) SetCapacity(n int) error {
	if n < 1 {
		return fmt.Errorf("astifilter: invalid queue capacity %d", n)
	}
	q.m.Lock()
	defer q.m.Unlock()
	q.c = n
	return nil
}

func (q *Queue) Enqueue(f *Frame) error {
	// Invalid frame
	if f == nil {
		return fmt.Errorf("astifilter: nil frame")
	} else if f.released {
		return ErrFrameReleased
	} else if f.q != nil {
		return ErrFrameOwned
	}

	// Lock
	q.m.Lock()
	defer q.m.Unlock()

	// Queue is full
	if q.n >= q.c {
		return ErrQueueFull
	}

	// Append
	f.q = q
	q.is = append(q.is, queueItem{f: f})
	q.n++

	// Update format
	q.f = f.Format
	q.hasFormat = true

	// Request has been fulfilled
	q.requested = false

	// Update stats
	atomic.AddUint64(&q.cs.enqueued, 1)
	return nil
}

func (q *Queue) EnqueueEOF() {
	q.m.Lock()
	defer q.m.Unlock()
	if q.eof {
		return
	}
	q.eof = true
	q.is = append(q.is, queueItem{t: queueItemTypeEOF})
	atomic.AddUint64(&q.cs.controls, 1)
}

// EOFQueued returns true when an EOF marker has been enqueued since the last flush
func (q *Queue) EOFQueued() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return q.eof
}

func (q *Queue) EnqueueFormatChange(f Format) {
	q.m.Lock()
	defer q.m.Unlock()
	q.is = append(q.is, queueItem{fc: f, t: queueItemTypeFormatChange})
	atomic.AddUint64(&q.cs.controls, 1)
}

// Dequeue returns the head frame and transfers its ownership to the caller. It returns false
// when the queue is empty or when its head is a control item.
func (q *Queue) Dequeue() (*Frame, bool) {
	q.m.Lock()
	defer q.m.Unlock()
	if len(q.is) == 0 || q.is[0].t != queueItemTypeFrame {
		return nil, false
	}
	f := q.is[0].f
	q.is[0] = queueItem{}
	q.is = q.is[1:]
	q.n--
	f.q = nil
	atomic.AddUint64(&q.cs.dequeued, 1)
	return f, true
}

// Peek returns the head frame without transferring its ownership
func (q *Queue) Peek() (*Frame, bool) {
	q.m.Lock()
	defer q.m.Unlock()
	if len(q.is) == 0 || q.is[0].t != queueItemTypeFrame {
		return nil, false
	}
	return q.is[0].f, true
}

// AtEOF returns true when the head of the queue is an EOF marker
func (q *Queue) AtEOF() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return len(q.is) > 0 && q.is[0].t == queueItemTypeEOF
}

// HeadFormatChange returns the notified format when the head of the queue is a format change
func (q *Queue) HeadFormatChange() (Format, bool) {
	q.m.Lock()
	defer q.m.Unlock()
	if len(q.is) == 0 || q.is[0].t != queueItemTypeFormatChange {
		return Format{}, false
	}
	return q.is[0].fc, true
}

func (q *Queue) popFormatChange() {
	q.m.Lock()
	defer q.m.Unlock()
	if len(q.is) > 0 && q.is[0].t == queueItemTypeFormatChange {
		q.is = q.is[1:]
	}
}

// PeekFormat returns the format of the last enqueued frame. It is unset until a frame has been
// enqueued since the last flush.
func (q *Queue) PeekFormat() (Format, bool) {
	q.m.Lock()
	defer q.m.Unlock()
	return q.f, q.hasFormat
}

func (q *Queue) Request() {
	q.m.Lock()
	defer q.m.Unlock()
	q.requested = true
}

func (q *Queue) Requested() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return q.requested
}

// Flush drops and releases every buffered item, and resets format and request flag.
func (q *Queue) Flush() {
	// Lock
	q.m.Lock()

	// Reset
	is := q.is
	q.eof = false
	q.f = Format{}
	q.hasFormat = false
	q.is = nil
	q.n = 0
	q.requested = false

	// Unlock
	q.m.Unlock()

	// Release frames
	for _, i := range is {
		if i.t != queueItemTypeFrame {
			continue
		}
		i.f.q = nil
		i.f.Release()
		atomic.AddUint64(&q.cs.dropped, 1)
	}
}

func (q *Queue) CumulativeStats() QueueCumulativeStats {
	return QueueCumulativeStats{
		Dequeued: atomic.LoadUint64(&q.cs.dequeued),
		Dropped:  atomic.LoadUint64(&q.cs.dropped),
		Enqueued: atomic.LoadUint64(&q.cs.enqueued),
	}
}

func (q *Queue) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames coming in per second",
				Label:       "Incoming rate",
				Name:        DeltaStatNameIncomingRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&q.cs.enqueued),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames going out per second",
				Label:       "Outgoing rate",
				Name:        DeltaStatNameOutgoingRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&q.cs.dequeued),
		},
	}
}
