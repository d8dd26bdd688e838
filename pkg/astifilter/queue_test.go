package astifilter_test

import (
	"math/rand"
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/stretchr/testify/require"
)

func newTestFrame(idx int) *astifilter.Frame {
	return astifilter.NewFrame(astifilter.FrameOptions{
		Data:   []byte{byte(idx)},
		Format: astifilter.AudioFormat(astifilter.SampleFormatS16, 48000, astifilter.ChannelLayoutStereo),
	})
}

func TestQueue(t *testing.T) {
	_, err := astifilter.NewQueue(0)
	require.Error(t, err)

	q, err := astifilter.NewQueue(2)
	require.NoError(t, err)
	require.Equal(t, 2, q.Cap())
	require.True(t, q.Empty())
	_, ok := q.PeekFormat()
	require.False(t, ok)
	_, ok = q.Dequeue()
	require.False(t, ok)
	require.Error(t, q.Enqueue(nil))

	q.Request()
	require.True(t, q.Requested())
	f1 := newTestFrame(1)
	require.NoError(t, q.Enqueue(f1))
	require.False(t, q.Requested())
	f, ok := q.PeekFormat()
	require.True(t, ok)
	require.Equal(t, f1.Format, f)

	fc := astifilter.VideoFormat(astifilter.PixelFormatRGB24, 2, 2)
	q.EnqueueFormatChange(fc)
	f2 := newTestFrame(2)
	require.NoError(t, q.Enqueue(f2))
	require.True(t, q.Full())
	require.ErrorIs(t, q.Enqueue(newTestFrame(3)), astifilter.ErrQueueFull)
	require.Equal(t, 2, q.Len())

	q.EnqueueEOF()
	q.EnqueueEOF()
	require.True(t, q.EOFQueued())

	p, ok := q.Peek()
	require.True(t, ok)
	require.Same(t, f1, p)
	d, ok := q.Dequeue()
	require.True(t, ok)
	require.Same(t, f1, d)

	_, ok = q.Dequeue()
	require.False(t, ok)
	h, ok := q.HeadFormatChange()
	require.True(t, ok)
	require.Equal(t, fc, h)

	q.Flush()
	require.True(t, f2.Released())
	require.True(t, q.Empty())
	require.False(t, q.EOFQueued())
	require.False(t, q.AtEOF())
	_, ok = q.PeekFormat()
	require.False(t, ok)
	require.Equal(t, astifilter.QueueCumulativeStats{
		Dequeued: 1,
		Dropped:  1,
		Enqueued: 2,
	}, q.CumulativeStats())

	q.Flush()
	require.True(t, q.Empty())
	require.Equal(t, uint64(1), q.CumulativeStats().Dropped)

	q.EnqueueEOF()
	require.True(t, q.AtEOF())
	require.Len(t, q.DeltaStats(), 2)
}

func TestQueueSetCapacity(t *testing.T) {
	q, err := astifilter.NewQueue(3)
	require.NoError(t, err)
	for idx := 0; idx < 3; idx++ {
		require.NoError(t, q.Enqueue(newTestFrame(idx)))
	}

	require.Error(t, q.SetCapacity(0))
	require.NoError(t, q.SetCapacity(1))
	require.Equal(t, 3, q.Len())
	require.ErrorIs(t, q.Enqueue(newTestFrame(4)), astifilter.ErrQueueFull)

	for idx := 0; idx < 2; idx++ {
		_, ok := q.Dequeue()
		require.True(t, ok)
	}
	require.ErrorIs(t, q.Enqueue(newTestFrame(5)), astifilter.ErrQueueFull)
	_, ok := q.Dequeue()
	require.True(t, ok)
	require.NoError(t, q.Enqueue(newTestFrame(6)))
}

func TestQueueOccupancyNeverExceedsCapacity(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for run := 0; run < 50; run++ {
		capacity := r.Intn(8) + 1
		q, err := astifilter.NewQueue(capacity)
		require.NoError(t, err)

		var enqueued, dequeued []*astifilter.Frame
		for op := 0; op < 200; op++ {
			switch r.Intn(10) {
			case 0:
				q.Flush()
				_, ok := q.Dequeue()
				require.False(t, ok)
				enqueued = enqueued[:0]
				dequeued = dequeued[:0]
			case 1, 2, 3, 4, 5:
				f := newTestFrame(op)
				if err := q.Enqueue(f); err == nil {
					enqueued = append(enqueued, f)
				} else {
					require.ErrorIs(t, err, astifilter.ErrQueueFull)
					require.Equal(t, capacity, q.Len())
				}
			default:
				if f, ok := q.Dequeue(); ok {
					dequeued = append(dequeued, f)
				}
			}
			require.LessOrEqual(t, q.Len(), capacity)
		}

		// Frames come out in order
		require.Equal(t, enqueued[:len(dequeued)], dequeued)
	}
}
