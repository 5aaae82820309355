package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpclient/bpclient-go/pkg/wire"
)

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *recordingSender) SendText(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestNextID(t *testing.T) {
	t.Run("StartsAtOneAndIncreases", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		prev := uint32(0)
		for i := 0; i < 100; i++ {
			id := tr.NextID()
			assert.Greater(t, id, prev)
			prev = id
		}
		assert.Equal(t, uint32(100), prev)
	})

	t.Run("SkipsZeroOnWrap", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		tr.nextID.Store(^uint32(0))
		assert.Equal(t, ^uint32(0), tr.NextID())
		assert.Equal(t, uint32(1), tr.NextID())
	})

	t.Run("ConcurrentUnique", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		const workers, per = 8, 250

		var mu sync.Mutex
		seen := make(map[uint32]bool)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < per; i++ {
					id := tr.NextID()
					mu.Lock()
					seen[id] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, workers*per)
		assert.False(t, seen[0])
	})
}

func TestTrackerReply(t *testing.T) {
	ctx := context.Background()

	t.Run("MatchedReply", func(t *testing.T) {
		s := &recordingSender{}
		tr := NewTracker(s)

		call := tr.Send(ctx, &wire.RequestDeviceList{})
		require.Equal(t, uint32(1), call.ID)
		assert.Equal(t, 1, tr.Pending())
		assert.Equal(t, 1, s.count())

		ok := tr.HandleMessage(wire.Message{ID: 1, Payload: &wire.DeviceList{}})
		assert.True(t, ok)

		reply, err := call.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, wire.KindDeviceList, reply.Kind())
		assert.Equal(t, 0, tr.Pending())
	})

	t.Run("ErrorReply", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		call := tr.Send(ctx, &wire.StartScanning{})

		tr.HandleMessage(wire.Message{ID: call.ID, Payload: &wire.Error{ErrorMessage: "no managers", ErrorCode: wire.ErrorDevice}})

		_, err := call.Wait(ctx)
		var serr *wire.ServerError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, wire.ErrorDevice, serr.Code)
		assert.Equal(t, call.ID, serr.ID)
	})

	t.Run("UnmatchedAndEvents", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		assert.False(t, tr.HandleMessage(wire.Message{ID: 0, Payload: &wire.ScanningFinished{}}))
		assert.False(t, tr.HandleMessage(wire.Message{ID: 42, Payload: &wire.Ok{}}))
	})

	t.Run("ResolveReturnsCall", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		call := tr.Send(ctx, &wire.Ping{})
		assert.Same(t, call, tr.Resolve(wire.Message{ID: call.ID, Payload: &wire.Ok{}}))
		assert.Nil(t, tr.Resolve(wire.Message{ID: call.ID, Payload: &wire.Ok{}}))
	})

	t.Run("SecondReplyIgnored", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		call := tr.Send(ctx, &wire.Ping{})
		assert.True(t, tr.HandleMessage(wire.Message{ID: call.ID, Payload: &wire.Ok{}}))
		assert.False(t, tr.HandleMessage(wire.Message{ID: call.ID, Payload: &wire.Ok{}}))
	})
}

func TestTrackerSendFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("TransportError", func(t *testing.T) {
		sendErr := errors.New("broken pipe")
		tr := NewTracker(&recordingSender{err: sendErr})

		call := tr.Send(ctx, &wire.Ping{})
		_, err := call.Wait(ctx)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, call.ID, terr.ID)
		assert.ErrorIs(t, err, sendErr)
		assert.Equal(t, 0, tr.Pending())
	})

	t.Run("ReservedID", func(t *testing.T) {
		s := &recordingSender{}
		tr := NewTracker(s)
		_, err := tr.SendMessage(ctx, wire.Message{ID: 0, Payload: &wire.Ping{}}).Wait(ctx)
		assert.ErrorIs(t, err, ErrReservedID)
		assert.Equal(t, 0, s.count())
	})

	t.Run("DuplicateID", func(t *testing.T) {
		s := &recordingSender{}
		tr := NewTracker(s)
		first := tr.SendMessage(ctx, wire.Message{ID: 5, Payload: &wire.Ping{}})
		_, err := tr.SendMessage(ctx, wire.Message{ID: 5, Payload: &wire.Ping{}}).Wait(ctx)
		assert.ErrorIs(t, err, ErrDuplicateID)
		assert.Equal(t, 1, s.count())

		select {
		case <-first.Done():
			t.Fatal("first call must stay pending")
		default:
		}
	})
}

func TestTrackerWaitCancelled(t *testing.T) {
	tr := NewTracker(&recordingSender{})
	call := tr.Send(context.Background(), &wire.RequestDeviceList{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, tr.Pending())

	// A late reply no longer matches.
	assert.False(t, tr.HandleMessage(wire.Message{ID: call.ID, Payload: &wire.DeviceList{}}))

	// Repeated waits return the same result.
	_, err = call.Wait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTrackerDrainAll(t *testing.T) {
	ctx := context.Background()

	t.Run("ResolvesEveryPendingCall", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})
		calls := []*Call{
			tr.Send(ctx, &wire.Ping{}),
			tr.Send(ctx, &wire.RequestDeviceList{}),
			tr.Send(ctx, &wire.StartScanning{}),
		}

		n := tr.DrainAll("socket closed")
		assert.Equal(t, 3, n)
		assert.True(t, tr.Closed())

		for _, c := range calls {
			_, err := c.Wait(ctx)
			var cerr *ConnectionClosedError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, "socket closed", cerr.Reason)
		}
	})

	t.Run("SendAfterDrainFails", func(t *testing.T) {
		s := &recordingSender{}
		tr := NewTracker(s)
		tr.DrainAll("gone")

		_, err := tr.Send(ctx, &wire.Ping{}).Wait(ctx)
		var cerr *ConnectionClosedError
		assert.True(t, errors.As(err, &cerr))
		assert.Equal(t, 0, s.count())
	})

	t.Run("ConcurrentSendersAllResolve", func(t *testing.T) {
		tr := NewTracker(&recordingSender{})

		var wg sync.WaitGroup
		results := make(chan error, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := tr.Send(ctx, &wire.Ping{}).Wait(ctx)
				results <- err
			}()
		}
		time.Sleep(5 * time.Millisecond)
		tr.DrainAll("closing")
		wg.Wait()
		close(results)

		for err := range results {
			var cerr *ConnectionClosedError
			assert.True(t, errors.As(err, &cerr))
		}
		assert.Equal(t, 0, tr.Pending())
	})
}
