package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/bpclient/bpclient-go/pkg/capability"
	"github.com/bpclient/bpclient-go/pkg/client"
	"github.com/bpclient/bpclient-go/pkg/discovery"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// errQuit ends the shell.
var errQuit = errors.New("quit")

// commandTimeout bounds a single shell command.
const commandTimeout = 10 * time.Second

// Shell runs interactive commands against a client.
type Shell struct {
	client  *client.Client
	config  Config
	out     io.Writer
	rl      *readline.Instance
	lastURL string
}

// NewShell creates a shell writing to out. Use NewReadlineShell for a
// terminal.
func NewShell(c *client.Client, cfg Config, out io.Writer) *Shell {
	return &Shell{client: c, config: cfg, out: out, lastURL: cfg.URL}
}

// newReadline creates the terminal line editor used by the shell.
func newReadline() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("connect"),
			readline.PcItem("disconnect"),
			readline.PcItem("discover"),
			readline.PcItem("status"),
			readline.PcItem("devices"),
			readline.PcItem("scan"),
			readline.PcItem("stop"),
			readline.PcItem("vibrate"),
			readline.PcItem("rotate"),
			readline.PcItem("linear"),
			readline.PcItem("battery"),
			readline.PcItem("sensor"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// NewReadlineShell creates a shell reading commands from rl.
func NewReadlineShell(c *client.Client, cfg Config, rl *readline.Instance) *Shell {
	s := NewShell(c, cfg, rl.Stdout())
	s.rl = rl
	return s
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run reads commands until quit, end of input or ctx ends.
func (s *Shell) Run(ctx context.Context) error {
	defer s.rl.Close()

	stop := context.AfterFunc(ctx, func() { s.rl.Close() })
	defer stop()

	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			fmt.Fprintln(s.out, "Exiting...")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Fprintln(s.out, "Exiting...")
				return nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// Exec runs one command line.
func (s *Shell) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd {
	case "help", "?":
		s.printHelp()
		return nil
	case "connect", "c":
		return s.cmdConnect(ctx, args)
	case "disconnect":
		return s.client.Disconnect()
	case "discover":
		return s.cmdDiscover(ctx)
	case "status":
		s.cmdStatus()
		return nil
	case "devices", "list", "ls":
		return s.cmdDevices(ctx)
	case "scan":
		return s.cmdScan(ctx, args)
	case "stop":
		return s.cmdStop(ctx, args)
	case "vibrate", "v":
		return s.cmdVibrate(ctx, args)
	case "rotate":
		return s.cmdRotate(ctx, args)
	case "linear":
		return s.cmdLinear(ctx, args)
	case "battery":
		return s.cmdBattery(ctx, args)
	case "sensor":
		return s.cmdSensor(ctx, args)
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  Session:
    connect [url]                     - Connect (default: last or configured URL)
    disconnect                        - End the session
    discover                          - Find servers via mDNS
    status                            - Show session status

  Devices:
    devices                           - Refresh and list devices
    scan [duration]                   - Scan for devices (default 5s)
    stop [index]                      - Stop one device, or all

  Control:
    vibrate <index> <speed>           - Vibrate all motors (0..1)
    rotate <index> <speed> [ccw]      - Rotate (0..1)
    linear <index> <ms> <position>    - Move to position (0..1) over ms
    battery <index>                   - Read battery level
    sensor <index> <sensor> <type>    - Read a sensor

  General:
    help                              - Show this help
    quit                              - Exit`)
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) error {
	url := s.lastURL
	if len(args) > 0 {
		url = args[0]
	}
	if url == "" {
		srv, err := s.findServer(ctx)
		if err != nil {
			return err
		}
		url = srv.URL()
	}

	if err := s.client.Connect(ctx, url); err != nil {
		return err
	}
	s.lastURL = url

	info, _ := s.client.ServerInfo()
	fmt.Fprintf(s.out, "Connected to %s (%s, max ping %dms)\n", info.ServerName, url, info.MaxPingTime)
	return s.cmdDevices(ctx)
}

func (s *Shell) findServer(ctx context.Context) (*discovery.Server, error) {
	bc := discovery.DefaultBrowserConfig()
	bc.Interface = s.config.Interface
	srv, err := discovery.NewMDNSBrowser(bc).FindFirst(ctx)
	if err != nil {
		return nil, fmt.Errorf("no URL given and discovery failed: %w", err)
	}
	return srv, nil
}

func (s *Shell) cmdDiscover(ctx context.Context) error {
	fmt.Fprintln(s.out, "Browsing for servers...")
	bc := discovery.DefaultBrowserConfig()
	bc.Interface = s.config.Interface
	servers, err := discovery.NewMDNSBrowser(bc).FindAll(ctx)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Fprintln(s.out, "No servers found")
		return nil
	}
	for i, srv := range servers {
		fmt.Fprintf(s.out, "  %d. %s  %s\n", i+1, srv.Instance, srv.URL())
	}
	return nil
}

func (s *Shell) cmdStatus() {
	fmt.Fprintf(s.out, "State:   %s\n", s.client.State())
	if info, ok := s.client.ServerInfo(); ok {
		fmt.Fprintf(s.out, "Server:  %s (message version %d, max ping %dms)\n",
			info.ServerName, info.MessageVersion, info.MaxPingTime)
		fmt.Fprintf(s.out, "Session: %s\n", s.client.ConnectionID())
	}
	fmt.Fprintf(s.out, "Devices: %d\n", len(s.client.Devices()))
}

func (s *Shell) cmdDevices(ctx context.Context) error {
	devices, err := s.client.RequestDeviceList(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(s.out, "No devices")
		return nil
	}
	fmt.Fprintf(s.out, "Devices (%d):\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(s.out, "  [%d] %s\n", d.Index, d.Label())
		printCapabilities(s.out, d.Capabilities)
	}
	return nil
}

func printCapabilities(w io.Writer, caps map[string]capability.Descriptor) {
	kinds := make([]string, 0, len(caps))
	for k := range caps {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		switch d := caps[kind].(type) {
		case capability.Generic:
			parts := make([]string, len(d.Features))
			for i, f := range d.Features {
				parts[i] = fmt.Sprintf("%s/%d", f.Actuator, f.StepCount)
			}
			fmt.Fprintf(w, "      %s: %s\n", kind, strings.Join(parts, ", "))
		case capability.Sensor:
			parts := make([]string, len(d.Features))
			for i, f := range d.Features {
				parts[i] = string(f.Type)
			}
			fmt.Fprintf(w, "      %s: %s\n", kind, strings.Join(parts, ", "))
		case capability.Raw:
			fmt.Fprintf(w, "      %s: %s\n", kind, strings.Join(d.Endpoints, ", "))
		default:
			fmt.Fprintf(w, "      %s\n", kind)
		}
	}
}

func (s *Shell) cmdScan(ctx context.Context, args []string) error {
	d := 5 * time.Second
	if len(args) > 0 {
		var err error
		if d, err = time.ParseDuration(args[0]); err != nil {
			return fmt.Errorf("invalid duration: %s", args[0])
		}
	}
	if d >= commandTimeout {
		return fmt.Errorf("scan duration must be below %s", commandTimeout)
	}

	if err := s.client.StartScanning(ctx); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Scanning for %s...\n", d)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}

	if err := s.client.StopScanning(ctx); err != nil {
		return err
	}
	return s.cmdDevices(ctx)
}

func (s *Shell) cmdStop(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "all" {
		return s.client.StopAllDevices(ctx)
	}
	d, err := s.device(args[0])
	if err != nil {
		return err
	}
	return d.Stop(ctx)
}

func (s *Shell) cmdVibrate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: vibrate <index> <speed>")
	}
	d, err := s.device(args[0])
	if err != nil {
		return err
	}
	speed, err := parseUnit(args[1])
	if err != nil {
		return err
	}
	return d.Vibrate(ctx, speed)
}

func (s *Shell) cmdRotate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: rotate <index> <speed> [ccw]")
	}
	d, err := s.device(args[0])
	if err != nil {
		return err
	}
	speed, err := parseUnit(args[1])
	if err != nil {
		return err
	}
	clockwise := len(args) < 3 || args[2] != "ccw"
	return d.Rotate(ctx, speed, clockwise)
}

func (s *Shell) cmdLinear(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: linear <index> <ms> <position>")
	}
	d, err := s.device(args[0])
	if err != nil {
		return err
	}
	ms, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid duration: %s", args[1])
	}
	pos, err := parseUnit(args[2])
	if err != nil {
		return err
	}
	return d.Linear(ctx, time.Duration(ms)*time.Millisecond, pos)
}

func (s *Shell) cmdBattery(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: battery <index>")
	}
	d, err := s.device(args[0])
	if err != nil {
		return err
	}
	level, err := d.Battery(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Battery: %.0f%%\n", level*100)
	return nil
}

func (s *Shell) cmdSensor(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: sensor <index> <sensor> <type>")
	}
	d, err := s.device(args[0])
	if err != nil {
		return err
	}
	idx, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid sensor index: %s", args[1])
	}
	data, err := d.ReadSensor(ctx, uint32(idx), wire.SensorType(args[2]))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Sensor %d (%s): %v\n", idx, args[2], data)
	return nil
}

// device resolves a device index argument against the registry.
func (s *Shell) device(arg string) (*client.Device, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid device index: %s", arg)
	}
	d, ok := s.client.Device(uint32(n))
	if !ok {
		return nil, fmt.Errorf("no device %d (try 'devices')", n)
	}
	return d, nil
}

func parseUnit(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value: %s", s)
	}
	return v, nil
}
