package client

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bpclient/bpclient-go/internal/fakeserver"
	"github.com/bpclient/bpclient-go/pkg/capability"
	"github.com/bpclient/bpclient-go/pkg/connection"
	"github.com/bpclient/bpclient-go/pkg/device"
	"github.com/bpclient/bpclient-go/pkg/event"
	"github.com/bpclient/bpclient-go/pkg/interaction"
	"github.com/bpclient/bpclient-go/pkg/log"
	"github.com/bpclient/bpclient-go/pkg/transport"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

const (
	vibratorMessages = `{
		"StopDeviceCmd": {},
		"ScalarCmd": [
			{"FeatureDescriptor": "Clitoral Stimulator", "ActuatorType": "Vibrate", "StepCount": 20},
			{"FeatureDescriptor": "Insertable", "ActuatorType": "Vibrate", "StepCount": 20}
		],
		"SensorReadCmd": [{"FeatureDescriptor": "Battery Level", "SensorType": "Battery", "SensorRange": [[0, 100]]}],
		"SensorSubscribeCmd": [{"FeatureDescriptor": "Button", "SensorType": "Button", "SensorRange": [[0, 1]]}]
	}`

	strokerMessages = `{
		"StopDeviceCmd": {},
		"LinearCmd": [{"FeatureDescriptor": "", "ActuatorType": "Position", "StepCount": 100}],
		"RotateCmd": [{"FeatureDescriptor": "", "ActuatorType": "Rotate", "StepCount": 20}],
		"RawWriteCmd": {"Endpoints": ["tx"]},
		"RawReadCmd": {"Endpoints": ["rx"]}
	}`
)

// recorder collects events delivered to a subscriber.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) states() []connection.State {
	var out []connection.State
	for _, e := range r.ofType(event.StateChanged) {
		out = append(out, e.State)
	}
	return out
}

// traceRecorder collects protocol log events.
type traceRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *traceRecorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *traceRecorder) all() []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]log.Event(nil), r.events...)
}

func newTestClient(t *testing.T, mods ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ClientName = "bpclient-test"
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.Registerer = prometheus.NewRegistry()
	for _, mod := range mods {
		mod(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func connect(t *testing.T, c *Client, srv *fakeserver.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, srv.URL))
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientName = ""
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("HandshakeActivatesSession", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		c := newTestClient(t)
		defer c.Close()

		rec := &recorder{}
		defer c.Subscribe(rec.handle)()

		connect(t, c, srv)
		assert.Equal(t, connection.StateActive, c.State())
		assert.True(t, c.Connected())
		assert.NotEmpty(t, c.ConnectionID())

		info, ok := c.ServerInfo()
		require.True(t, ok)
		assert.Equal(t, "Fake Server", info.ServerName)

		received := srv.Received()
		require.Len(t, received, 1)
		assert.Equal(t, uint32(1), received[0].ID)
		req := received[0].Payload.(*wire.RequestServerInfo)
		assert.Equal(t, "bpclient-test", req.ClientName)
		assert.Equal(t, wire.MessageVersion, req.MessageVersion)

		require.NoError(t, c.Disconnect())
		assert.Equal(t, connection.StateClosed, c.State())
		assert.ErrorIs(t, c.Disconnect(), connection.ErrNotConnected)

		require.Eventually(t, func() bool { return len(rec.states()) == 4 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []connection.State{
			connection.StateConnecting,
			connection.StateHandshaking,
			connection.StateActive,
			connection.StateClosed,
		}, rec.states())
	})

	t.Run("AlreadyConnected", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		c := newTestClient(t)
		defer c.Close()

		connect(t, c, srv)
		err := c.Connect(context.Background(), srv.URL)
		assert.ErrorIs(t, err, connection.ErrAlreadyConnected)
		assert.Equal(t, 1, srv.Connections())
	})

	t.Run("HandshakeErrorReply", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		srv.Handle(wire.KindRequestServerInfo, fakeserver.Fail(wire.ErrorInit, "version mismatch"))
		c := newTestClient(t)
		defer c.Close()

		err := c.Connect(context.Background(), srv.URL)
		var serr *wire.ServerError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, wire.ErrorInit, serr.Code)
		assert.Equal(t, connection.StateClosed, c.State())
	})

	t.Run("HandshakeUnexpectedReply", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		srv.Handle(wire.KindRequestServerInfo, func(_ *fakeserver.Conn, msg wire.Message) []wire.Message {
			return fakeserver.Reply(msg, &wire.Ok{})
		})
		c := newTestClient(t)
		defer c.Close()

		err := c.Connect(context.Background(), srv.URL)
		var perr *wire.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Ok", perr.Kind)
		assert.Equal(t, connection.StateClosed, c.State())
	})

	t.Run("HandshakeTimeout", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		srv.Silence(wire.KindRequestServerInfo)
		c := newTestClient(t, func(cfg *Config) { cfg.HandshakeTimeout = 50 * time.Millisecond })
		defer c.Close()

		err := c.Connect(context.Background(), srv.URL)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, connection.StateClosed, c.State())
		assert.Equal(t, 0, c.pendingRequests())
	})

	t.Run("DialFailure", func(t *testing.T) {
		c := newTestClient(t)
		defer c.Close()

		err := c.Connect(context.Background(), "ws://127.0.0.1:1")
		assert.Error(t, err)
		assert.Equal(t, connection.StateClosed, c.State())
	})

	t.Run("AfterClose", func(t *testing.T) {
		c := newTestClient(t)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		err := c.Connect(context.Background(), "ws://127.0.0.1:1")
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestIdentifiers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := fakeserver.New(0)
	defer srv.Close()
	c := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	connect(t, c, srv)
	require.NoError(t, c.StartScanning(ctx))
	require.NoError(t, c.StopScanning(ctx))
	require.NoError(t, c.StopAllDevices(ctx))

	var ids []uint32
	for _, m := range srv.Received() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []uint32{1, 2, 3, 4}, ids)

	t.Run("RestartAfterReconnect", func(t *testing.T) {
		require.NoError(t, c.Disconnect())
		srv.Reset()

		connect(t, c, srv)
		require.NoError(t, c.StartScanning(ctx))

		received := srv.Received()
		require.Len(t, received, 2)
		assert.Equal(t, uint32(1), received[0].ID)
		assert.Equal(t, uint32(2), received[1].ID)
	})

	t.Run("ConcurrentRequestsUnique", func(t *testing.T) {
		srv.Reset()
		const n = 50

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- c.StartScanning(ctx)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		seen := make(map[uint32]bool)
		for _, m := range srv.Received() {
			assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
			seen[m.ID] = true
		}
		assert.Len(t, seen, n)
		assert.Equal(t, 0, c.pendingRequests())
	})
}

func TestRequests(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	t.Run("NotConnected", func(t *testing.T) {
		c := newTestClient(t)
		defer c.Close()

		assert.ErrorIs(t, c.StartScanning(ctx), connection.ErrNotConnected)
		_, err := c.RequestDeviceList(ctx)
		assert.ErrorIs(t, err, connection.ErrNotConnected)
		_, err = c.SendDeviceCommand(ctx, 0, &wire.StopDeviceCmd{})
		assert.ErrorIs(t, err, connection.ErrNotConnected)
	})

	t.Run("ServerErrorReply", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		srv.Handle(wire.KindStartScanning, fakeserver.Fail(wire.ErrorDevice, "no device managers"))
		c := newTestClient(t)
		defer c.Close()
		connect(t, c, srv)

		err := c.StartScanning(ctx)
		var serr *wire.ServerError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, wire.ErrorDevice, serr.Code)
		assert.Equal(t, "no device managers", serr.Message)
		assert.Equal(t, connection.StateActive, c.State())
	})

	t.Run("CancelledWaitWithdrawsRequest", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		srv.Silence(wire.KindStartScanning)
		c := newTestClient(t)
		defer c.Close()
		connect(t, c, srv)

		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.StartScanning(tctx), context.DeadlineExceeded)
		assert.Equal(t, 0, c.pendingRequests())
		assert.Equal(t, connection.StateActive, c.State())
	})

	t.Run("PendingFailOnDisconnect", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		srv.Silence(wire.KindStartScanning)
		c := newTestClient(t)
		defer c.Close()
		connect(t, c, srv)

		const n = 5
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() { errs <- c.StartScanning(ctx) }()
		}
		require.Eventually(t, func() bool { return srv.Count(wire.KindStartScanning) == n }, time.Second, 5*time.Millisecond)

		require.NoError(t, c.Disconnect())
		for i := 0; i < n; i++ {
			var cerr *interaction.ConnectionClosedError
			assert.ErrorAs(t, <-errs, &cerr)
		}
	})
}

func TestDeviceEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := fakeserver.New(0)
	defer srv.Close()
	c := newTestClient(t)
	defer c.Close()
	rec := &recorder{}
	defer c.Subscribe(rec.handle)()
	connect(t, c, srv)
	conn := srv.Conn()

	vibrator := fakeserver.Device(3, "Lovense Hush", vibratorMessages)

	t.Run("DuplicateAddNotifiesOnce", func(t *testing.T) {
		require.NoError(t, conn.Event(&wire.DeviceAdded{DeviceInfo: vibrator}))
		require.NoError(t, conn.Event(&wire.DeviceAdded{DeviceInfo: vibrator}))
		require.NoError(t, conn.Event(&wire.ScanningFinished{}))

		require.Eventually(t, func() bool { return len(rec.ofType(event.ScanningFinished)) == 1 }, time.Second, 5*time.Millisecond)
		added := rec.ofType(event.DeviceAdded)
		require.Len(t, added, 1)
		assert.Equal(t, uint32(3), added[0].Device.Index)
		assert.Equal(t, "Lovense Hush", added[0].Device.Label())
		assert.Len(t, c.Devices(), 1)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		removed := &wire.DeviceRemoved{DeviceRef: wire.DeviceRef{DeviceIndex: 3}}
		require.NoError(t, conn.Event(removed))
		require.NoError(t, conn.Event(removed))
		require.NoError(t, conn.Event(&wire.ScanningFinished{}))

		require.Eventually(t, func() bool { return len(rec.ofType(event.ScanningFinished)) == 2 }, time.Second, 5*time.Millisecond)
		assert.Len(t, rec.ofType(event.DeviceRemoved), 1)
		assert.Empty(t, c.Devices())
	})

	t.Run("UnknownCapabilityRejected", func(t *testing.T) {
		bad := fakeserver.Device(4, "Future Toy", `{"StopDeviceCmd": {}, "HoverCmd": [{}]}`)
		require.NoError(t, conn.Event(&wire.DeviceAdded{DeviceInfo: bad}))

		require.Eventually(t, func() bool { return len(rec.ofType(event.ProtocolError)) == 1 }, time.Second, 5*time.Millisecond)
		var perr *wire.ProtocolError
		assert.ErrorAs(t, rec.ofType(event.ProtocolError)[0].Err, &perr)
		_, ok := c.Device(4)
		assert.False(t, ok)
	})

	t.Run("UnsolicitedError", func(t *testing.T) {
		require.NoError(t, conn.Event(&wire.Error{ErrorCode: wire.ErrorDevice, ErrorMessage: "device lost"}))

		require.Eventually(t, func() bool { return len(rec.ofType(event.ServerError)) == 1 }, time.Second, 5*time.Millisecond)
		var serr *wire.ServerError
		require.ErrorAs(t, rec.ofType(event.ServerError)[0].Err, &serr)
		assert.Equal(t, wire.EventID, serr.ID)
		assert.Equal(t, "device lost", serr.Message)
	})

	t.Run("SensorReading", func(t *testing.T) {
		reading := &wire.SensorReading{
			SensorRef: wire.SensorRef{DeviceRef: wire.DeviceRef{DeviceIndex: 3}, SensorIndex: 0, SensorType: wire.SensorButton},
			Data:      []int32{1},
		}
		require.NoError(t, conn.Event(reading))

		require.Eventually(t, func() bool { return len(rec.ofType(event.SensorReading)) == 1 }, time.Second, 5*time.Millisecond)
		got := rec.ofType(event.SensorReading)[0].Reading
		assert.Equal(t, []int32{1}, got.Data)
		assert.Equal(t, wire.SensorButton, got.SensorType)
	})

	t.Run("BadEnvelopeKeepsRestOfFrame", func(t *testing.T) {
		before := len(rec.ofType(event.ProtocolError))
		require.NoError(t, conn.SendRaw([]byte(`[{"Bogus":{"Id":0}},{"ScanningFinished":{"Id":0}}]`)))

		require.Eventually(t, func() bool { return len(rec.ofType(event.ScanningFinished)) == 3 }, time.Second, 5*time.Millisecond)
		assert.Len(t, rec.ofType(event.ProtocolError), before+1)
		assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.decodeErrors))
		assert.Equal(t, connection.StateActive, c.State())
	})
}

func TestRequestDeviceList(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	srv := fakeserver.New(0)
	defer srv.Close()
	srv.AddDevice(fakeserver.Device(0, "Lovense Hush", vibratorMessages))
	srv.AddDevice(fakeserver.Device(1, "Kiiroo Onyx", strokerMessages))

	c := newTestClient(t)
	defer c.Close()
	rec := &recorder{}
	defer c.Subscribe(rec.handle)()
	connect(t, c, srv)

	devices, err := c.RequestDeviceList(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Lovense Hush", devices[0].Name)
	assert.Equal(t, "Kiiroo Onyx", devices[1].Name)

	devices, err = c.RequestDeviceList(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	require.Eventually(t, func() bool { return len(rec.ofType(event.DeviceAdded)) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.ofType(event.DeviceAdded), 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(c.metrics.devices))

	t.Run("ClearedOnReconnect", func(t *testing.T) {
		require.NoError(t, c.Disconnect())
		assert.Len(t, c.Devices(), 2)

		connect(t, c, srv)
		assert.Empty(t, c.Devices())
	})

	t.Run("EmptyWhenConnectingIsObserved", func(t *testing.T) {
		_, err := c.RequestDeviceList(ctx)
		require.NoError(t, err)
		require.NoError(t, c.Disconnect())
		require.Equal(t, 2, c.registry.Len())

		seen := -1
		c.machine.OnStateChange(func(from, to connection.State) {
			if to == connection.StateConnecting {
				seen = c.registry.Len()
			}
			c.stateChanged(from, to)
		})
		defer c.machine.OnStateChange(c.stateChanged)

		connect(t, c, srv)
		assert.Equal(t, 0, seen)
	})
}

func TestDeviceCommands(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	srv := fakeserver.New(0)
	defer srv.Close()
	srv.AddDevice(fakeserver.Device(0, "Lovense Hush", vibratorMessages))
	srv.AddDevice(fakeserver.Device(1, "Kiiroo Onyx", strokerMessages))

	c := newTestClient(t)
	defer c.Close()
	connect(t, c, srv)
	_, err := c.RequestDeviceList(ctx)
	require.NoError(t, err)

	vibrator, ok := c.Device(0)
	require.True(t, ok)
	stroker, ok := c.Device(1)
	require.True(t, ok)

	last := func(t *testing.T) wire.Message {
		t.Helper()
		received := srv.Received()
		require.NotEmpty(t, received)
		return received[len(received)-1]
	}

	t.Run("RejectedCommandsSendNothing", func(t *testing.T) {
		srv.Reset()

		var verr *wire.ValidationError
		assert.ErrorAs(t, vibrator.Vibrate(ctx, 1.5), &verr)
		assert.ErrorAs(t, vibrator.Vibrate(ctx, -0.1), &verr)
		assert.ErrorAs(t, vibrator.Scalar(ctx, wire.ScalarSubcommand{Index: 5, Scalar: 0.5, ActuatorType: wire.ActuatorVibrate}), &verr)

		assert.ErrorIs(t, vibrator.Rotate(ctx, 0.5, true), device.ErrCommandUnsupported)
		assert.ErrorIs(t, stroker.Vibrate(ctx, 0.5), device.ErrCommandUnsupported)
		assert.ErrorAs(t, stroker.RawWrite(ctx, "firmware", []byte{1}, false), &verr)
		assert.ErrorAs(t, stroker.Linear(ctx, -time.Second, 0.5), &verr)
		assert.ErrorAs(t, stroker.Linear(ctx, 50*24*time.Hour, 0.5), &verr)

		_, err := c.SendDeviceCommand(ctx, 9, &wire.StopDeviceCmd{})
		var cerr *device.CommandError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
		assert.Equal(t, uint32(9), cerr.Index)

		assert.Empty(t, srv.Received())
	})

	t.Run("Vibrate", func(t *testing.T) {
		require.NoError(t, vibrator.Vibrate(ctx, 0.5))

		cmd, ok := last(t).Payload.(*wire.ScalarCmd)
		require.True(t, ok)
		assert.Equal(t, uint32(0), cmd.DeviceIndex)
		assert.Equal(t, []wire.ScalarSubcommand{
			{Index: 0, Scalar: 0.5, ActuatorType: wire.ActuatorVibrate},
			{Index: 1, Scalar: 0.5, ActuatorType: wire.ActuatorVibrate},
		}, cmd.Scalars)
	})

	t.Run("Linear", func(t *testing.T) {
		require.NoError(t, stroker.Linear(ctx, 500*time.Millisecond, 0.25))

		cmd, ok := last(t).Payload.(*wire.LinearCmd)
		require.True(t, ok)
		assert.Equal(t, uint32(1), cmd.DeviceIndex)
		assert.Equal(t, []wire.VectorSubcommand{{Index: 0, Duration: 500, Position: 0.25}}, cmd.Vectors)
	})

	t.Run("Rotate", func(t *testing.T) {
		require.NoError(t, stroker.Rotate(ctx, 0.75, false))

		cmd, ok := last(t).Payload.(*wire.RotateCmd)
		require.True(t, ok)
		assert.Equal(t, []wire.RotateSubcommand{{Index: 0, Speed: 0.75, Clockwise: false}}, cmd.Rotations)
	})

	t.Run("Stop", func(t *testing.T) {
		require.NoError(t, stroker.Stop(ctx))
		assert.Equal(t, wire.KindStopDeviceCmd, last(t).Kind())
	})

	t.Run("Battery", func(t *testing.T) {
		level, err := vibrator.Battery(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, level, 1e-9)

		_, err = stroker.Battery(ctx)
		assert.ErrorIs(t, err, device.ErrCommandUnsupported)
	})

	t.Run("BatteryScaling", func(t *testing.T) {
		assert.InDelta(t, 0.42, batteryLevel(42, nil), 1e-9)
		assert.InDelta(t, 0.5, batteryLevel(10, []capability.Range{{Min: 0, Max: 20}}), 1e-9)

		wide := []capability.Range{{Min: math.MinInt32, Max: math.MaxInt32}}
		assert.InDelta(t, 1.0, batteryLevel(math.MaxInt32, wide), 1e-9)
		assert.InDelta(t, 0.0, batteryLevel(math.MinInt32, wide), 1e-9)
	})

	t.Run("SensorSubscription", func(t *testing.T) {
		require.NoError(t, vibrator.SubscribeSensor(ctx, 0, wire.SensorButton))
		assert.Equal(t, wire.KindSensorSubscribeCmd, last(t).Kind())

		require.NoError(t, vibrator.UnsubscribeSensor(ctx, 0, wire.SensorButton))
		cmd, ok := last(t).Payload.(*wire.SensorUnsubscribeCmd)
		require.True(t, ok)
		assert.Equal(t, uint32(0), cmd.DeviceIndex)

		var verr *wire.ValidationError
		assert.ErrorAs(t, vibrator.SubscribeSensor(ctx, 0, wire.SensorPressure), &verr)
	})

	t.Run("Raw", func(t *testing.T) {
		require.NoError(t, stroker.RawWrite(ctx, "tx", []byte{0x01, 0xff}, true))
		cmd, ok := last(t).Payload.(*wire.RawWriteCmd)
		require.True(t, ok)
		assert.Equal(t, wire.Bytes{0x01, 0xff}, cmd.Data)

		data, err := stroker.RawRead(ctx, "rx", 3, false)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)
	})

	t.Run("Metrics", func(t *testing.T) {
		assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.requests.WithLabelValues("LinearCmd")))
		assert.Greater(t, testutil.ToFloat64(c.metrics.frames.WithLabelValues("out")), float64(0))
	})
}

func TestTimingGap(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	srv := fakeserver.New(0)
	defer srv.Close()
	slow := fakeserver.Device(0, "Slow Toy", `{"StopDeviceCmd": {}}`)
	gap := uint32(100)
	slow.DeviceMessageTimingGap = &gap
	srv.AddDevice(slow)

	c := newTestClient(t)
	defer c.Close()
	connect(t, c, srv)
	_, err := c.RequestDeviceList(ctx)
	require.NoError(t, err)

	d, ok := c.Device(0)
	require.True(t, ok)

	start := time.Now()
	require.NoError(t, d.Stop(ctx))
	require.NoError(t, d.Stop(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestKeepAlive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("FirstProbeWithinHalfMaxPingTime", func(t *testing.T) {
		srv := fakeserver.New(1000)
		defer srv.Close()
		c := newTestClient(t)
		defer c.Close()

		connect(t, c, srv)
		require.Eventually(t, func() bool { return srv.Count(wire.KindPing) >= 1 }, 500*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("ProbesPeriodically", func(t *testing.T) {
		srv := fakeserver.New(100)
		defer srv.Close()
		c := newTestClient(t)
		defer c.Close()

		connect(t, c, srv)
		require.Eventually(t, func() bool { return srv.Count(wire.KindPing) >= 4 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, connection.StateActive, c.State())
	})

	t.Run("DisabledWithoutMaxPingTime", func(t *testing.T) {
		srv := fakeserver.New(0)
		defer srv.Close()
		c := newTestClient(t)
		defer c.Close()

		connect(t, c, srv)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 0, srv.Count(wire.KindPing))
	})

	t.Run("ErrorReplyFaultsSession", func(t *testing.T) {
		srv := fakeserver.New(200)
		defer srv.Close()

		var armed atomic.Bool
		srv.Handle(wire.KindPing, func(conn *fakeserver.Conn, msg wire.Message) []wire.Message {
			if armed.Load() {
				return fakeserver.Fail(wire.ErrorPing, "ping timed out")(conn, msg)
			}
			return fakeserver.Reply(msg, &wire.Ok{})
		})
		srv.Silence(wire.KindStartScanning)

		c := newTestClient(t)
		defer c.Close()
		rec := &recorder{}
		defer c.Subscribe(rec.handle)()
		connect(t, c, srv)

		errs := make(chan error, 1)
		go func() { errs <- c.StartScanning(context.Background()) }()
		require.Eventually(t, func() bool { return srv.Count(wire.KindStartScanning) == 1 }, time.Second, 5*time.Millisecond)
		armed.Store(true)

		select {
		case err := <-errs:
			var cerr *interaction.ConnectionClosedError
			require.ErrorAs(t, err, &cerr)
		case <-time.After(2 * time.Second):
			t.Fatal("pending request not failed after keep-alive fault")
		}
		assert.Equal(t, connection.StatePingFault, c.State())
		assert.ErrorIs(t, c.StartScanning(context.Background()), connection.ErrNotConnected)

		require.Eventually(t, func() bool { return len(rec.ofType(event.Fault)) == 1 }, time.Second, 5*time.Millisecond)
		var serr *wire.ServerError
		require.ErrorAs(t, rec.ofType(event.Fault)[0].Err, &serr)
		assert.Equal(t, wire.ErrorPing, serr.Code)
		assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.keepAliveFaults))

		t.Run("Reconnect", func(t *testing.T) {
			armed.Store(false)
			connect(t, c, srv)
			assert.Equal(t, connection.StateActive, c.State())
		})
	})
}

func TestTransportLoss(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := fakeserver.New(0)
	defer srv.Close()
	srv.Silence(wire.KindStartScanning)

	c := newTestClient(t)
	defer c.Close()
	rec := &recorder{}
	defer c.Subscribe(rec.handle)()
	connect(t, c, srv)

	errs := make(chan error, 1)
	go func() { errs <- c.StartScanning(context.Background()) }()
	require.Eventually(t, func() bool { return srv.Count(wire.KindStartScanning) == 1 }, time.Second, 5*time.Millisecond)

	srv.Conn().Close()

	var cerr *interaction.ConnectionClosedError
	require.ErrorAs(t, <-errs, &cerr)
	require.Eventually(t, func() bool { return c.State() == connection.StateClosed }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.ofType(event.Fault)) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.ofType(event.Fault)[0].Err, transport.ErrConnectionClosed)
}

func TestDisconnectFromHandler(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := fakeserver.New(0)
	defer srv.Close()
	c := newTestClient(t)
	defer c.Close()

	done := make(chan error, 1)
	defer c.Subscribe(func(e event.Event) {
		if e.Type == event.ScanningFinished {
			done <- c.Disconnect()
		}
	})()
	connect(t, c, srv)

	require.NoError(t, srv.Conn().Event(&wire.ScanningFinished{}))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not disconnect")
	}
	assert.Equal(t, connection.StateClosed, c.State())
}

func TestConnectWithRetry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := fakeserver.New(0)
	defer srv.Close()

	fast := func(cfg *Config) {
		cfg.Backoff = connection.BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	}

	t.Run("SucceedsAfterFailures", func(t *testing.T) {
		dialer := &flakyDialer{failures: 2, next: &transport.WebSocketDialer{}}
		c := newTestClient(t, fast, func(cfg *Config) { cfg.Dialer = dialer })
		defer c.Close()

		require.NoError(t, c.ConnectWithRetry(context.Background(), srv.URL, 0))
		assert.Equal(t, int32(3), dialer.calls.Load())
		assert.True(t, c.Connected())
	})

	t.Run("GivesUpAfterMaxAttempts", func(t *testing.T) {
		dialer := &flakyDialer{failures: 10, next: &transport.WebSocketDialer{}}
		c := newTestClient(t, fast, func(cfg *Config) { cfg.Dialer = dialer })
		defer c.Close()

		err := c.ConnectWithRetry(context.Background(), srv.URL, 3)
		assert.ErrorIs(t, err, errDialRefused)
		assert.Equal(t, int32(3), dialer.calls.Load())
	})

	t.Run("StopsOnContext", func(t *testing.T) {
		dialer := &flakyDialer{failures: 1000, next: &transport.WebSocketDialer{}}
		c := newTestClient(t, fast, func(cfg *Config) { cfg.Dialer = dialer })
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := c.ConnectWithRetry(ctx, srv.URL, 0)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

var errDialRefused = errors.New("dial refused")

// flakyDialer fails the first failures dials.
type flakyDialer struct {
	failures int32
	calls    atomic.Int32
	next     transport.Dialer
}

func (d *flakyDialer) Dial(ctx context.Context, url string, h transport.Handler) (transport.Conn, error) {
	if d.calls.Add(1) <= d.failures {
		return nil, errDialRefused
	}
	return d.next.Dial(ctx, url, h)
}

func TestProtocolTrace(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := fakeserver.New(0)
	defer srv.Close()
	trace := &traceRecorder{}
	c := newTestClient(t, func(cfg *Config) { cfg.ProtocolLogger = trace })
	defer c.Close()

	connect(t, c, srv)
	require.NoError(t, c.StartScanning(context.Background()))
	connID := c.ConnectionID()

	var frames, requests, replies int
	var states []string
	for _, e := range trace.all() {
		assert.Equal(t, connID, e.ConnectionID)
		assert.Equal(t, srv.URL, e.RemoteAddr)
		switch {
		case e.Frame != nil:
			frames++
		case e.Message != nil && e.Message.Type == log.MessageTypeRequest:
			requests++
		case e.Message != nil && e.Message.Type == log.MessageTypeReply:
			replies++
			require.NotNil(t, e.Message.Latency)
		case e.StateChange != nil:
			states = append(states, e.StateChange.NewState)
		}
	}
	assert.Equal(t, 4, frames)
	assert.Equal(t, 2, requests)
	assert.Equal(t, 2, replies)
	assert.Equal(t, []string{"CONNECTING", "HANDSHAKING", "ACTIVE"}, states)
}
