package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	got  []uint16
	fail bool
}

func (w *fakeWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("closed")
	}
	w.got = append(w.got, p.SequenceNumber)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.got)
}

// feed returns a reader that yields packets pushed to ch and ends with err
// once ch is closed.
func feed(ch <-chan *rtp.Packet, err error) PacketReader {
	return func() (*rtp.Packet, error) {
		p, ok := <-ch
		if !ok {
			return nil, err
		}
		return p, nil
	}
}

var testRef = core.StreamRef{Room: "r1", Participant: "a", Stream: "a_audio"}

func TestRelayForwardsToSubscribers(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	m.StartRelay(context.Background(), testRef, feed(ch, io.EOF), nil)
	defer m.StopRelay(testRef)

	b, c := &fakeWriter{}, &fakeWriter{}
	require.True(t, m.AddSubscriber(testRef, "b", NewOutTrack(b, "hb")))
	require.True(t, m.AddSubscriber(testRef, "c", NewOutTrack(c, "hc")))
	assert.Equal(t, 2, m.Subscribers(testRef))

	for i := range 3 {
		ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}}
	}
	require.Eventually(t, func() bool { return b.count() == 3 && c.count() == 3 }, time.Second, 5*time.Millisecond)

	m.MarkSubscriberDelete(testRef, "c")
	ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 3}}
	require.Eventually(t, func() bool { return b.count() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, c.count())
	assert.Equal(t, 1, m.Subscribers(testRef))
}

func TestRelayDropsFailingWriter(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	m.StartRelay(context.Background(), testRef, feed(ch, io.EOF), nil)
	defer m.StopRelay(testRef)

	w := &fakeWriter{fail: true}
	m.AddSubscriber(testRef, "b", NewOutTrack(w, "hb"))
	ch <- &rtp.Packet{}
	require.Eventually(t, func() bool { return m.Subscribers(testRef) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRelayReadErrorReportsFailure(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	var failed atomic.Int32
	m.StartRelay(context.Background(), testRef, feed(ch, io.EOF), func() { failed.Add(1) })

	close(ch)
	require.Eventually(t, func() bool { return failed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopRelayIsQuiet(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	var failed atomic.Int32
	m.StartRelay(context.Background(), testRef, feed(ch, io.EOF), func() { failed.Add(1) })
	require.True(t, m.HasRelay(testRef))

	m.StopRelay(testRef)
	assert.False(t, m.HasRelay(testRef))
	close(ch)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, failed.Load())
	assert.False(t, m.AddSubscriber(testRef, "b", NewOutTrack(&fakeWriter{}, "hb")))
}

func TestOutTrackStates(t *testing.T) {
	ot := NewOutTrack(&fakeWriter{}, "h")
	assert.Equal(t, TrackStateOk, ot.GetState())
	ot.MarkMuted()
	assert.Equal(t, "muted", ot.GetState().String())
	ot.MarkDelete()
	assert.Equal(t, TrackStateDelete, ot.GetState())
	ot.MarkOk()
	assert.Equal(t, TrackStateOk, ot.GetState())
}
