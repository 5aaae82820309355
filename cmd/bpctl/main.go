// Command bpctl connects to a device server and controls its devices.
//
// Usage:
//
//	bpctl [flags]
//
// Flags:
//
//	--config path            YAML configuration file
//	--url url                Server WebSocket URL (e.g. ws://127.0.0.1:12345)
//	--discover               Find the server via mDNS when no URL is given
//	--interface name         Network interface for mDNS discovery
//	--name string            Client name announced in the handshake (default: bpctl)
//	--attempts n             Connect attempts before giving up (default: 5, 0 = unlimited)
//	--reconnect              Reconnect after a session fault
//	--scan-time duration     Scan duration in non-interactive mode (default: 5s)
//	--log-level level        Log level: debug, info, warn, error (default: info)
//	--log-format format      Log format: text, json (default: text)
//	--protocol-log path      Write protocol events to a CBOR file (view with bp-log)
//	--metrics-addr addr      Serve Prometheus metrics on addr
//	-i, --interactive        Run the interactive shell (default: true)
//
// Every string setting can also come from a BPCTL_* environment variable,
// e.g. BPCTL_URL or BPCTL_LOG_LEVEL. Flags win over the environment, which
// wins over the config file.
//
// Interactive Commands:
//
//	connect [url]                   - Connect to a server
//	disconnect                      - End the session
//	discover                        - Find servers via mDNS
//	status                          - Show session status
//	devices                         - Refresh and list devices
//	scan [duration]                 - Scan for devices
//	stop [index]                    - Stop one device, or all
//	vibrate <index> <speed>         - Vibrate all motors
//	rotate <index> <speed> [ccw]    - Rotate
//	linear <index> <ms> <position>  - Move to a position
//	battery <index>                 - Read battery level
//	sensor <index> <sensor> <type>  - Read a sensor
//	help                            - Show help
//	quit                            - Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bpclient/bpclient-go/pkg/client"
	"github.com/bpclient/bpclient-go/pkg/discovery"
	"github.com/bpclient/bpclient-go/pkg/event"
	"github.com/bpclient/bpclient-go/pkg/log"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpctl: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bpctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config) error {
	var rl *readline.Instance
	var logOut io.Writer = os.Stderr

	if cfg.Interactive {
		var err error
		if rl, err = newReadline(); err != nil {
			return err
		}
		defer rl.Close()
		logOut = rl.Stdout()
	}
	logger := newLogger(cfg, logOut)

	cc := cfg.clientConfig()
	cc.Logger = logger

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		cc.ProtocolLogger = fl
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cc.Registerer = reg

	c, err := client.New(cc)
	if err != nil {
		return err
	}
	defer c.Close()

	faults := make(chan error, 1)
	unsubscribe := c.Subscribe(func(e event.Event) {
		logEvent(logger, e)
		if e.Type == event.Fault {
			select {
			case faults <- e.Err:
			default:
			}
		}
	})
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	sessionCtx, endSession := context.WithCancel(ctx)
	if cfg.URL != "" || cfg.Discover {
		g.Go(func() error {
			return runSession(sessionCtx, c, cfg, logger, faults)
		})
	}

	if rl != nil {
		shell := NewReadlineShell(c, cfg, rl)
		g.Go(func() error {
			defer endSession()
			if err := shell.Run(ctx); err != nil {
				return err
			}
			// Leaving the shell ends the program.
			return errQuit
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			endSession()
			return nil
		})
	}

	err = g.Wait()
	endSession()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		err = nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if c.Connected() {
		if sErr := c.StopAllDevices(stopCtx); sErr != nil {
			logger.Warn("stop all devices", "error", sErr)
		}
	}
	return err
}

// runSession connects and keeps the session alive until ctx ends. With
// reconnect enabled a faulted session is redialed.
func runSession(ctx context.Context, c *client.Client, cfg Config, logger *slog.Logger, faults <-chan error) error {
	for {
		url := cfg.URL
		if url == "" {
			bc := discovery.DefaultBrowserConfig()
			bc.Interface = cfg.Interface
			srv, err := discovery.NewMDNSBrowser(bc).FindFirst(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("discover: %w", err)
			}
			url = srv.URL()
			logger.Info("discovered server", "instance", srv.Instance, "url", url)
		}

		if err := c.ConnectWithRetry(ctx, url, cfg.ConnectAttempts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := startup(ctx, c, cfg, logger); err != nil && ctx.Err() == nil {
			logger.Warn("session startup failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-faults:
			if !cfg.Reconnect {
				logger.Error("session ended", "error", err)
				<-ctx.Done()
				return nil
			}
			logger.Info("reconnecting", "error", err)
		}
	}
}

// startup lists devices and, outside the shell, scans for ScanTime.
func startup(ctx context.Context, c *client.Client, cfg Config, logger *slog.Logger) error {
	devices, err := c.RequestDeviceList(ctx)
	if err != nil {
		return err
	}
	logger.Info("devices", "count", len(devices))

	if cfg.Interactive || cfg.ScanTime <= 0 {
		return nil
	}

	if err := c.StartScanning(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.ScanTime):
	}
	return c.StopScanning(ctx)
}

func logEvent(logger *slog.Logger, e event.Event) {
	switch e.Type {
	case event.DeviceAdded, event.DeviceRemoved:
		logger.Info(e.Type.String(), "index", e.Device.Index, "name", e.Device.Label())
	case event.SensorReading:
		logger.Info(e.Type.String(),
			"index", e.Reading.DeviceIndex,
			"sensor", e.Reading.SensorIndex,
			"type", e.Reading.SensorType,
			"data", e.Reading.Data)
	case event.ScanningFinished:
		logger.Info(e.Type.String())
	case event.StateChanged:
		logger.Debug(e.Type.String(), "from", e.PrevState, "to", e.State)
	case event.ServerError, event.Fault, event.ProtocolError:
		logger.Warn(e.Type.String(), "error", e.Err)
	}
}
