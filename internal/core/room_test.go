package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/core/mock"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newEngine(t *testing.T) *mock.MockMediaEngine {
	ctrl := gomock.NewController(t)
	media := mock.NewMockMediaEngine(ctrl)
	media.EXPECT().ConfirmActive(gomock.Any(), gomock.Any()).Return(true).AnyTimes()
	media.EXPECT().Destroy(gomock.Any()).AnyTimes()
	return media
}

func newRoom(t *testing.T) core.RoomService {
	return core.NewRoomService("r1", newEngine(t), nil)
}

// admit admits and activates ids in order.
func admit(t *testing.T, room core.RoomService, ids ...domain.ParticipantID) {
	t.Helper()
	for _, id := range ids {
		_, err := room.Admit(context.Background(), id, "")
		require.NoError(t, err)
		_, err = room.Activate(id)
		require.NoError(t, err)
	}
}

func TestAdmit(t *testing.T) {
	room := newRoom(t)
	assert.Equal(t, domain.RoomCreating, room.State())

	p, err := room.Admit(context.Background(), "A", "Alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantJoining, p.State)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, domain.RoomActive, room.State())

	p, err = room.Activate("A")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantActive, p.State)
	_, err = room.Activate("A")
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)

	_, err = room.Admit(context.Background(), "A", "Alice")
	assert.ErrorIs(t, err, domain.ErrDuplicateParticipant)

	var opErr *domain.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, domain.RoomID("r1"), opErr.Room)
	assert.Equal(t, domain.ParticipantID("A"), opErr.Participant)
	assert.Equal(t, 1, room.MemberCount())
}

func TestAdmitValidation(t *testing.T) {
	room := newRoom(t)
	_, err := room.Admit(context.Background(), "", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = room.Admit(context.Background(), "A", "a display name that is way too long to be accepted")
	assert.ErrorIs(t, err, domain.ErrDisplayNameTooLong)

	p, err := room.Admit(context.Background(), "B", "")
	require.NoError(t, err)
	assert.Equal(t, "B", p.DisplayName)
}

func TestScenarioJoinPublishSubscribeLeave(t *testing.T) {
	room := newRoom(t)

	var wg conc.WaitGroup
	for _, id := range []domain.ParticipantID{"A", "B"} {
		wg.Go(func() {
			_, err := room.Admit(context.Background(), id, "")
			assert.NoError(t, err)
		})
	}
	wg.Wait()
	require.Equal(t, 2, room.MemberCount())

	s1, err := room.Publish(context.Background(), "A", domain.KindVideo)
	require.NoError(t, err)
	assert.True(t, s1.Active)

	h, err := room.Subscribe("B", s1.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, h.Stream)
	b, _ := room.Participant("B")
	assert.True(t, b.SubscribedTo(s1.ID))

	dep, err := room.Depart("A")
	require.NoError(t, err)
	assert.Equal(t, domain.Departed, dep)

	b, _ = room.Participant("B")
	assert.Empty(t, b.Subscriptions)
	assert.Equal(t, 1, room.MemberCount())
	_, err = room.Subscribe("B", s1.ID)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)

	_, err = room.Depart("B")
	require.NoError(t, err)
	assert.Equal(t, 0, room.MemberCount())
	assert.True(t, room.TryClose())
	assert.Equal(t, domain.RoomClosed, room.State())
}

func TestDepartIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mock.NewMockMediaEngine(ctrl)
	media.EXPECT().ConfirmActive(gomock.Any(), gomock.Any()).Return(true)
	media.EXPECT().Destroy(core.StreamRef{Room: "r1", Participant: "A", Stream: "A_audio", Kind: domain.KindAudio}).Times(1)

	room := core.NewRoomService("r1", media, nil)
	admit(t, room, "A")
	_, err := room.Publish(context.Background(), "A", domain.KindAudio)
	require.NoError(t, err)

	dep, err := room.Depart("A")
	require.NoError(t, err)
	assert.Equal(t, domain.Departed, dep)

	dep, err = room.Depart("A")
	require.NoError(t, err)
	assert.Equal(t, domain.NoOpDeparture, dep)

	dep, err = room.Depart("never-joined")
	require.NoError(t, err)
	assert.Equal(t, domain.NoOpDeparture, dep)
}

func TestSubscribeUnknownStreamCreatesNothing(t *testing.T) {
	room := newRoom(t)
	admit(t, room, "A", "B")

	_, err := room.Subscribe("B", "A_video")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
	b, _ := room.Participant("B")
	assert.Empty(t, b.Subscriptions)

	_, err = room.Subscribe("ghost", "A_video")
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)
}

func TestSubscribeOwnStream(t *testing.T) {
	room := newRoom(t)
	admit(t, room, "A")
	s, err := room.Publish(context.Background(), "A", domain.KindScreen)
	require.NoError(t, err)

	_, err = room.Subscribe("A", s.ID)
	assert.ErrorIs(t, err, domain.ErrSelfSubscription)
}

func TestSubscribeBeforeConfirmation(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mock.NewMockMediaEngine(ctrl)
	confirm := make(chan struct{})
	entered := make(chan struct{})
	media.EXPECT().ConfirmActive(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, core.StreamRef) bool {
		close(entered)
		<-confirm
		return true
	})
	media.EXPECT().Destroy(gomock.Any()).AnyTimes()

	room := core.NewRoomService("r1", media, nil)
	admit(t, room, "A", "B")

	published := make(chan domain.StreamEndpoint, 1)
	go func() {
		ep, err := room.Publish(context.Background(), "A", domain.KindVideo)
		assert.NoError(t, err)
		published <- ep
	}()

	<-entered
	a, _ := room.Participant("A")
	require.Len(t, a.Streams, 1)
	assert.False(t, a.Streams[0].Active)
	_, err := room.Subscribe("B", a.Streams[0].ID)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)

	close(confirm)
	ep := <-published
	assert.True(t, ep.Active)
	_, err = room.Subscribe("B", ep.ID)
	assert.NoError(t, err)
}

func TestPublishNegotiationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	media := mock.NewMockMediaEngine(ctrl)
	media.EXPECT().ConfirmActive(gomock.Any(), gomock.Any()).Return(false)
	media.EXPECT().Destroy(gomock.Any()).Times(1)

	room := core.NewRoomService("r1", media, nil)
	admit(t, room, "A")

	_, err := room.Publish(context.Background(), "A", domain.KindVideo)
	assert.ErrorIs(t, err, domain.ErrNegotiationFailed)
	a, _ := room.Participant("A")
	assert.Empty(t, a.Streams)

	_, err = room.Publish(context.Background(), "ghost", domain.KindVideo)
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)
}

func TestUnpublish(t *testing.T) {
	room := newRoom(t)
	admit(t, room, "A", "B")
	s, err := room.Publish(context.Background(), "A", domain.KindVideo)
	require.NoError(t, err)
	_, err = room.Subscribe("B", s.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, room.Unpublish("B", s.ID), domain.ErrStreamNotFound, "only the owner unpublishes")
	require.NoError(t, room.Unpublish("A", s.ID))

	b, _ := room.Participant("B")
	assert.Empty(t, b.Subscriptions)
	a, _ := room.Participant("A")
	assert.Empty(t, a.Streams)
}

func TestUnsubscribe(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := struct {
		*mock.MockMediaEngine
		*mock.MockSubscriptionSink
	}{mock.NewMockMediaEngine(ctrl), mock.NewMockSubscriptionSink(ctrl)}
	engine.MockMediaEngine.EXPECT().ConfirmActive(gomock.Any(), gomock.Any()).Return(true)
	engine.MockSubscriptionSink.EXPECT().Attach(gomock.Any(), gomock.Any()).Return(nil)
	engine.MockSubscriptionSink.EXPECT().Detach(gomock.Any(), gomock.Any())

	room := core.NewRoomService("r1", engine, nil)
	admit(t, room, "A", "B")
	s, _ := room.Publish(context.Background(), "A", domain.KindVideo)
	_, err := room.Subscribe("B", s.ID)
	require.NoError(t, err)

	require.NoError(t, room.Unsubscribe("B", s.ID))
	assert.ErrorIs(t, room.Unsubscribe("B", s.ID), domain.ErrStreamNotFound)
}

func TestSubscribeAttachFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := struct {
		*mock.MockMediaEngine
		*mock.MockSubscriptionSink
	}{mock.NewMockMediaEngine(ctrl), mock.NewMockSubscriptionSink(ctrl)}
	engine.MockMediaEngine.EXPECT().ConfirmActive(gomock.Any(), gomock.Any()).Return(true)
	engine.MockSubscriptionSink.EXPECT().Attach(gomock.Any(), gomock.Any()).Return(errors.New("no peer"))

	room := core.NewRoomService("r1", engine, nil)
	admit(t, room, "A", "B")
	s, _ := room.Publish(context.Background(), "A", domain.KindVideo)

	_, err := room.Subscribe("B", s.ID)
	assert.ErrorIs(t, err, domain.ErrNegotiationFailed)
	b, _ := room.Participant("B")
	assert.Empty(t, b.Subscriptions)
}

// blockingDestroy keeps a departing participant in LEAVING until release
// is closed.
func blockingDestroy(t *testing.T) (media *mock.MockMediaEngine, destroying, release chan struct{}) {
	ctrl := gomock.NewController(t)
	media = mock.NewMockMediaEngine(ctrl)
	destroying = make(chan struct{})
	release = make(chan struct{})
	media.EXPECT().ConfirmActive(gomock.Any(), gomock.Any()).Return(true).AnyTimes()
	media.EXPECT().Destroy(gomock.Any()).Do(func(core.StreamRef) {
		close(destroying)
		<-release
	})
	return media, destroying, release
}

func TestAdmitWaitsForLeavingSession(t *testing.T) {
	media, destroying, release := blockingDestroy(t)
	room := core.NewRoomService("r1", media, nil)
	admit(t, room, "A")
	_, err := room.Publish(context.Background(), "A", domain.KindVideo)
	require.NoError(t, err)

	go func() { _, _ = room.Depart("A") }()
	<-destroying

	p, _ := room.Participant("A")
	require.Equal(t, domain.ParticipantLeaving, p.State)

	admitted := make(chan error, 1)
	go func() {
		_, err := room.Admit(context.Background(), "A", "")
		admitted <- err
	}()

	select {
	case err := <-admitted:
		t.Fatalf("admit returned while previous session was leaving: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-admitted)
	p, _ = room.Participant("A")
	assert.Equal(t, domain.ParticipantJoining, p.State)
	assert.Empty(t, p.Streams)
}

func TestAdmitTimeoutWhileLeaving(t *testing.T) {
	media, destroying, release := blockingDestroy(t)
	defer close(release)
	room := core.NewRoomService("r1", media, nil)
	admit(t, room, "A")
	_, err := room.Publish(context.Background(), "A", domain.KindAudio)
	require.NoError(t, err)

	go func() { _, _ = room.Depart("A") }()
	<-destroying

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = room.Admit(ctx, "A", "")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p, _ := room.Participant("A")
	assert.Equal(t, domain.ParticipantLeaving, p.State)
	assert.Equal(t, 1, room.MemberCount())
}

func TestAwaitActiveReleasesOnlyWhenAllJoined(t *testing.T) {
	room := newRoom(t)
	ids := []domain.ParticipantID{"p0", "p1", "p2", "p3"}

	done := make(chan error, 1)
	go func() {
		done <- room.Await(context.Background(), core.Expectation{
			Transition:   domain.ParticipantActive,
			Participants: ids,
			Timeout:      5 * time.Second,
		})
	}()

	admit(t, room, ids[:3]...)
	select {
	case err := <-done:
		t.Fatalf("barrier released early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	admit(t, room, ids[3])
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("barrier did not release")
	}
}

func TestAwaitByCount(t *testing.T) {
	room := newRoom(t)
	const n = 8

	released := make(chan error, 1)
	go func() {
		released <- room.Await(context.Background(), core.Expectation{Transition: domain.ParticipantActive, Count: n, Timeout: 5 * time.Second})
	}()
	// Count barriers only see transitions after they are registered.
	time.Sleep(20 * time.Millisecond)

	var wg conc.WaitGroup
	for i := range n {
		wg.Go(func() {
			id := domain.ParticipantID(fmt.Sprintf("fake-%d", i))
			_, err := room.Admit(context.Background(), id, "")
			assert.NoError(t, err)
			_, err = room.Activate(id)
			assert.NoError(t, err)
		})
	}
	wg.Wait()
	require.NoError(t, <-released)
}

func TestAwaitActiveWaitsForActivation(t *testing.T) {
	room := newRoom(t)
	done := make(chan error, 1)
	go func() {
		done <- room.Await(context.Background(), core.Expectation{
			Transition:   domain.ParticipantActive,
			Participants: []domain.ParticipantID{"A"},
			Timeout:      5 * time.Second,
		})
	}()

	_, err := room.Admit(context.Background(), "A", "")
	require.NoError(t, err)
	_, err = room.Publish(context.Background(), "A", domain.KindVideo)
	require.NoError(t, err)
	select {
	case err := <-done:
		t.Fatalf("barrier released before activation: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = room.Activate("A")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("barrier did not release")
	}
}

func TestRolledBackJoinReleasesNoActiveOrCountBarrier(t *testing.T) {
	room := newRoom(t)
	_, err := room.Admit(context.Background(), "A", "")
	require.NoError(t, err)

	wait := func(exp core.Expectation) chan error {
		ch := make(chan error, 1)
		go func() { ch <- room.Await(context.Background(), exp) }()
		return ch
	}
	active := wait(core.Expectation{Transition: domain.ParticipantActive, Participants: []domain.ParticipantID{"A"}, Timeout: 100 * time.Millisecond})
	leftCount := wait(core.Expectation{Transition: domain.ParticipantLeft, Count: 1, Timeout: 100 * time.Millisecond})
	leftNamed := wait(core.Expectation{Transition: domain.ParticipantLeft, Participants: []domain.ParticipantID{"A"}, Timeout: 5 * time.Second})
	time.Sleep(20 * time.Millisecond)

	dep, err := room.Depart("A")
	require.NoError(t, err)
	assert.Equal(t, domain.Departed, dep)

	assert.ErrorIs(t, <-active, domain.ErrTimeout)
	assert.ErrorIs(t, <-leftCount, domain.ErrTimeout)
	assert.NoError(t, <-leftNamed)
	_, err = room.Activate("A")
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)
}

func TestAwaitLeft(t *testing.T) {
	room := newRoom(t)
	admit(t, room, "A", "B")

	done := make(chan error, 1)
	go func() {
		done <- room.Await(context.Background(), core.Expectation{
			Transition:   domain.ParticipantLeft,
			Participants: []domain.ParticipantID{"A", "B"},
			Timeout:      5 * time.Second,
		})
	}()

	_, _ = room.Depart("A")
	_, _ = room.Depart("B")
	require.NoError(t, <-done)
}

func TestAwaitTimeout(t *testing.T) {
	room := newRoom(t)
	admit(t, room, "A")

	err := room.Await(context.Background(), core.Expectation{
		Transition:   domain.ParticipantActive,
		Participants: []domain.ParticipantID{"A", "B"},
		Timeout:      20 * time.Millisecond,
	})
	assert.ErrorIs(t, err, domain.ErrTimeout)

	// The expired barrier no longer blocks closure.
	_, _ = room.Depart("A")
	assert.True(t, room.TryClose())
}

func TestOnStreamFailed(t *testing.T) {
	room := newRoom(t)
	admit(t, room, "A", "B")
	v, _ := room.Publish(context.Background(), "A", domain.KindVideo)
	a, _ := room.Publish(context.Background(), "A", domain.KindAudio)
	_, err := room.Subscribe("B", v.ID)
	require.NoError(t, err)

	f, err := room.OnStreamFailed(v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.RemainingActive)
	assert.Equal(t, []domain.ParticipantID{"B"}, f.Subscribers)

	b, _ := room.Participant("B")
	assert.Empty(t, b.Subscriptions)
	owner, _ := room.Participant("A")
	s, ok := owner.Stream(v.ID)
	require.True(t, ok)
	assert.False(t, s.Active)

	f, err = room.OnStreamFailed(a.ID)
	require.NoError(t, err)
	assert.Zero(t, f.RemainingActive)

	_, err = room.OnStreamFailed("missing")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
}

func TestTryClose(t *testing.T) {
	room := newRoom(t)
	admit(t, room, "A")
	assert.False(t, room.TryClose())

	_, _ = room.Depart("A")
	require.True(t, room.Hold())
	assert.False(t, room.TryClose(), "held by an in-flight join")
	room.Release()

	assert.True(t, room.TryClose())
	assert.False(t, room.TryClose())
	assert.False(t, room.Hold())

	_, err := room.Admit(context.Background(), "B", "")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Notify(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestEventsInOrder(t *testing.T) {
	rec := &recorder{}
	room := core.NewRoomService("r1", newEngine(t), rec)
	admit(t, room, "A", "B")
	s, _ := room.Publish(context.Background(), "A", domain.KindVideo)
	_, _ = room.Subscribe("B", s.ID)
	_, _ = room.Depart("A")

	want := []domain.EventType{
		domain.EventParticipantActive,
		domain.EventParticipantActive,
		domain.EventStreamPublished,
		domain.EventStreamUnpublished,
		domain.EventSubscriptionRemoved,
		domain.EventParticipantLeft,
	}
	require.Eventually(t, func() bool { return len(rec.types()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, rec.types())
}
