package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

type fakeConn struct {
	id    string
	user  string
	block bool
	fail  error

	mu       sync.Mutex
	msgs     []types.Message
	closed   bool
	closedCh chan struct{}
}

func newFakeConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user, closedCh: make(chan struct{})}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(ctx context.Context, msg types.Message) error {
	if c.block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closedCh:
			return errors.New("closed")
		}
	}
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.msgs...)
}

func (c *fakeConn) Types() []string {
	var out []string
	for _, m := range c.Messages() {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type roomRecorder struct {
	mu     sync.Mutex
	events []RoomEvent
}

func (r *roomRecorder) record(e RoomEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *roomRecorder) Events() []RoomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RoomEvent(nil), r.events...)
}

type fakeSink struct {
	mu     sync.Mutex
	events []types.InputEvent
	err    error
}

func (s *fakeSink) Inject(ctx context.Context, e types.InputEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSink) Events() []types.InputEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.InputEvent(nil), s.events...)
}

func newTestHub(t *testing.T, queue int) (*Hub, *roomRecorder) {
	t.Helper()
	hub := NewHub(Config{QueueSize: queue, SendTimeout: 10 * time.Second}, nil, zap.NewNop())
	rooms := &roomRecorder{}
	hub.OnRoomChange(rooms.record)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })
	return hub, rooms
}

func frame(seq int) types.Message {
	return types.Message{Type: types.MsgFrame, Data: types.StreamPayload{Kind: "video", Seq: uint64(seq)}}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 2*time.Millisecond)
}

func TestSubscribeAckPrecedesFrames(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()

	conn := newFakeConn("conn_1", "alice")
	require.NoError(t, hub.Connect(ctx, conn))

	cfg, err := hub.Subscribe(ctx, "conn_1", "inst_a")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultRoomConfig(), cfg)

	for i := 1; i <= 3; i++ {
		n, err := hub.Publish(ctx, "inst_a", frame(i))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	eventually(t, func() bool { return len(conn.Messages()) == 4 })
	msgs := conn.Messages()
	assert.Equal(t, types.MsgJoined, msgs[0].Type)
	assert.Equal(t, cfg, msgs[0].Data)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, "inst_a", msgs[i].Room)
		assert.Equal(t, uint64(i), msgs[i].Data.(types.StreamPayload).Seq)
	}
}

func TestConfiguredRoomIsAcknowledged(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()

	want := types.RoomConfig{FrameRate: 10, Quality: 50}
	require.NoError(t, hub.ConfigureRoom(ctx, types.LiveDesktopRoom, want))

	require.NoError(t, hub.Connect(ctx, newFakeConn("conn_1", "alice")))
	cfg, err := hub.Subscribe(ctx, "conn_1", types.LiveDesktopRoom)
	require.NoError(t, err)
	assert.Equal(t, want, cfg)
}

func TestSubscribeMovesBetweenRooms(t *testing.T) {
	hub, rooms := newTestHub(t, 16)
	ctx := context.Background()

	require.NoError(t, hub.Connect(ctx, newFakeConn("conn_1", "alice")))
	_, err := hub.Subscribe(ctx, "conn_1", "inst_a")
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, "conn_1", "inst_b")
	require.NoError(t, err)

	stats, err := hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"inst_b": 1}, stats.Rooms)

	evs := rooms.Events()
	require.Len(t, evs, 3)
	assert.Equal(t, RoomEvent{Room: "inst_a", Active: true, Seq: 1}, evs[0])
	assert.Equal(t, RoomEvent{Room: "inst_a", Active: false, Seq: 2}, evs[1])
	assert.Equal(t, RoomEvent{Room: "inst_b", Active: true, Seq: 3}, evs[2])

	room, err := hub.Room(ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, "inst_b", room)
}

func TestSlowSubscriberDoesNotDelayOthers(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *fakeConn)
	}{
		{"blocking", func(c *fakeConn) { c.block = true }},
		{"failing", func(c *fakeConn) { c.fail = errors.New("broken pipe") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const frames = 10
			hub, _ := newTestHub(t, 4)
			ctx := context.Background()

			bad := newFakeConn("conn_bad", "bob")
			tt.setup(bad)
			fast := newFakeConn("conn_fast", "alice")
			other := newFakeConn("conn_other", "carol")
			for _, c := range []*fakeConn{bad, fast, other} {
				require.NoError(t, hub.Connect(ctx, c))
				_, err := hub.Subscribe(ctx, c.id, "inst_a")
				require.NoError(t, err)
			}

			start := time.Now()
			for i := 0; i < frames; i++ {
				_, err := hub.Publish(ctx, "inst_a", frame(i))
				require.NoError(t, err)
				eventually(t, func() bool {
					return len(fast.Messages()) == i+2 && len(other.Messages()) == i+2
				})
			}
			assert.Less(t, time.Since(start), 5*time.Second)

			for _, c := range []*fakeConn{fast, other} {
				var seqs []uint64
				for _, m := range c.Messages()[1:] {
					require.Equal(t, types.MsgFrame, m.Type)
					seqs = append(seqs, m.Data.(types.StreamPayload).Seq)
				}
				want := make([]uint64, frames)
				for i := range want {
					want[i] = uint64(i)
				}
				assert.Equal(t, want, seqs, c.id)
			}

			eventually(t, bad.Closed)
			stats, err := hub.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, stats.Connections)
			assert.Equal(t, map[string]int{"inst_a": 2}, stats.Rooms)
		})
	}
}

func TestFailedSendEvicts(t *testing.T) {
	hub, rooms := newTestHub(t, 16)
	ctx := context.Background()

	broken := newFakeConn("conn_1", "alice")
	broken.fail = errors.New("broken pipe")
	require.NoError(t, hub.Connect(ctx, broken))
	_, err := hub.Subscribe(ctx, "conn_1", "inst_a")
	require.NoError(t, err)

	eventually(t, broken.Closed)
	eventually(t, func() bool {
		stats, err := hub.Stats(ctx)
		return err == nil && stats.Connections == 0
	})
	eventually(t, func() bool { return len(rooms.Events()) == 2 })
	assert.False(t, rooms.Events()[1].Active)

	err = hub.Disconnect(ctx, "conn_1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDisconnectEmptiesRoom(t *testing.T) {
	hub, rooms := newTestHub(t, 16)
	ctx := context.Background()

	conn := newFakeConn("conn_1", "alice")
	require.NoError(t, hub.Connect(ctx, conn))
	_, err := hub.Subscribe(ctx, "conn_1", "inst_a")
	require.NoError(t, err)

	require.NoError(t, hub.Disconnect(ctx, "conn_1"))

	evs := rooms.Events()
	require.Len(t, evs, 2)
	assert.False(t, evs[1].Active)
	assert.False(t, conn.Closed(), "the transport owns the connection")
}

func TestConnectRejectsDuplicateChannel(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()

	require.NoError(t, hub.Connect(ctx, newFakeConn("conn_1", "alice")))
	err := hub.Connect(ctx, newFakeConn("conn_1", "alice"))
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestNotifyReachesEveryChannelOfUser(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()

	a1 := newFakeConn("conn_a1", "alice")
	a2 := newFakeConn("conn_a2", "alice")
	b := newFakeConn("conn_b", "bob")
	for _, c := range []*fakeConn{a1, a2, b} {
		require.NoError(t, hub.Connect(ctx, c))
	}

	n, err := hub.Notify(ctx, []string{"alice", "nobody"}, types.Message{Type: types.MsgSessionUpdate})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	eventually(t, func() bool { return len(a1.Messages()) == 1 && len(a2.Messages()) == 1 })
	assert.Empty(t, b.Messages())
}

func TestFanoutDeliversOncePerChannel(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()

	owner := newFakeConn("conn_owner", "alice")
	viewer := newFakeConn("conn_viewer", "bob")
	idle := newFakeConn("conn_idle", "carol")
	for _, c := range []*fakeConn{owner, viewer, idle} {
		require.NoError(t, hub.Connect(ctx, c))
	}
	_, err := hub.Subscribe(ctx, "conn_owner", "inst_1")
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, "conn_viewer", "inst_1")
	require.NoError(t, err)

	n, err := hub.Fanout(ctx, "inst_1", []string{"alice"}, types.Message{Type: types.MsgInstanceState})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	eventually(t, func() bool { return len(owner.Messages()) == 2 && len(viewer.Messages()) == 2 })
	assert.Equal(t, []string{types.MsgJoined, types.MsgInstanceState}, owner.Types())
	assert.Empty(t, idle.Messages())
}

func TestUnsubscribeSendsLeft(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()

	conn := newFakeConn("conn_1", "alice")
	require.NoError(t, hub.Connect(ctx, conn))
	_, err := hub.Subscribe(ctx, "conn_1", "inst_a")
	require.NoError(t, err)

	left, err := hub.Unsubscribe(ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, "inst_a", left)

	n, err := hub.Publish(ctx, "inst_a", frame(1))
	require.NoError(t, err)
	assert.Zero(t, n)

	eventually(t, func() bool { return len(conn.Messages()) == 2 })
	assert.Equal(t, []string{types.MsgJoined, types.MsgLeft}, conn.Types())
}

func TestCloseRoom(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()

	sink := &fakeSink{}
	require.NoError(t, hub.RegisterInputSink(ctx, "inst_a", sink))

	var conns []*fakeConn
	for i := 0; i < 2; i++ {
		c := newFakeConn(fmt.Sprintf("conn_%d", i), "alice")
		conns = append(conns, c)
		require.NoError(t, hub.Connect(ctx, c))
		_, err := hub.Subscribe(ctx, c.id, "inst_a")
		require.NoError(t, err)
	}

	require.NoError(t, hub.CloseRoom(ctx, "inst_a", &types.Message{Type: types.MsgRoomClosed}))

	for _, c := range conns {
		c := c
		eventually(t, func() bool { return len(c.Messages()) == 2 })
		assert.Equal(t, []string{types.MsgJoined, types.MsgRoomClosed}, c.Types())
		room, err := hub.Room(ctx, c.id)
		require.NoError(t, err)
		assert.Empty(t, room)
	}

	stats, err := hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Connections)
	assert.Zero(t, stats.InputSinks)
	assert.Empty(t, stats.Rooms)
}

func TestForwardInput(t *testing.T) {
	hub, _ := newTestHub(t, 16)
	ctx := context.Background()
	click := types.InputEvent{Kind: types.InputMouse, Action: "click", X: 10, Y: 20, Button: 1}

	require.NoError(t, hub.Connect(ctx, newFakeConn("conn_1", "alice")))

	ok, err := hub.ForwardInput(ctx, "conn_1", click, nil)
	require.NoError(t, err)
	assert.False(t, ok, "no room")

	_, err = hub.Subscribe(ctx, "conn_1", "inst_a")
	require.NoError(t, err)
	ok, err = hub.ForwardInput(ctx, "conn_1", click, nil)
	require.NoError(t, err)
	assert.False(t, ok, "no sink")

	sink := &fakeSink{}
	require.NoError(t, hub.RegisterInputSink(ctx, "inst_a", sink))

	deny := func(ctx context.Context, userID, room string) error {
		return apperr.Forbidden("instance", room)
	}
	ok, err = hub.ForwardInput(ctx, "conn_1", click, deny)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Empty(t, sink.Events())

	var seenUser, seenRoom string
	allow := func(ctx context.Context, userID, room string) error {
		seenUser, seenRoom = userID, room
		return nil
	}
	ok, err = hub.ForwardInput(ctx, "conn_1", click, allow)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []types.InputEvent{click}, sink.Events())
	assert.Equal(t, "alice", seenUser)
	assert.Equal(t, "inst_a", seenRoom)

	require.NoError(t, hub.UnregisterInputSink(ctx, "inst_a"))
	ok, err = hub.ForwardInput(ctx, "conn_1", click, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = hub.ForwardInput(ctx, "conn_missing", click, nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestShutdownClosesChannels(t *testing.T) {
	hub, _ := newTestHub(t, 4)
	ctx := context.Background()

	conn := newFakeConn("c1", "alice")
	require.NoError(t, hub.Connect(ctx, conn))
	require.NoError(t, hub.Shutdown(ctx))

	select {
	case <-conn.closedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed on shutdown")
	}
	require.NoError(t, hub.Shutdown(ctx), "second shutdown is a no-op")
}

func TestUnsubscribeUser(t *testing.T) {
	hub, rooms := newTestHub(t, 16)
	ctx := context.Background()

	phone := newFakeConn("conn_phone", "bob")
	laptop := newFakeConn("conn_laptop", "bob")
	desk := newFakeConn("conn_desk", "bob")
	alice := newFakeConn("conn_alice", "alice")
	subscribe := map[*fakeConn]string{phone: "inst_a", laptop: "inst_a", desk: "inst_b", alice: "inst_a"}
	for c, room := range subscribe {
		require.NoError(t, hub.Connect(ctx, c))
		_, err := hub.Subscribe(ctx, c.id, room)
		require.NoError(t, err)
	}

	got, err := hub.UserRooms(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"inst_a", "inst_b"}, got)

	n, err := hub.UnsubscribeUser(ctx, "bob", "inst_a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, c := range []*fakeConn{phone, laptop} {
		eventually(t, func() bool {
			seen := c.Types()
			return len(seen) == 2 && seen[1] == types.MsgLeft
		})
	}

	_, err = hub.Publish(ctx, "inst_a", frame(1))
	require.NoError(t, err)
	eventually(t, func() bool { return len(alice.Messages()) == 2 })
	assert.Len(t, phone.Messages(), 2)
	assert.Len(t, laptop.Messages(), 2)

	got, err = hub.UserRooms(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"inst_b"}, got)

	n, err = hub.UnsubscribeUser(ctx, "bob", "inst_a")
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Connections)
	assert.Equal(t, map[string]int{"inst_a": 1, "inst_b": 1}, stats.Rooms)
	assert.NotEmpty(t, rooms.Events())
}
