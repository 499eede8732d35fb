package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/nerrad567/payload-core/internal/ptpip"
)

// errQuit ends the interactive loop.
var errQuit = errors.New("quit")

// Shell runs payloadctl commands against a Client.
type Shell struct {
	client *Client
	out    io.Writer

	// discover browses for PTP/IP responders. Swapped in tests.
	discover func(ctx context.Context, wait time.Duration, iface string) ([]ptpip.Responder, error)
}

// NewShell creates a Shell writing command output to out.
func NewShell(client *Client, out io.Writer) *Shell {
	return &Shell{client: client, out: out, discover: ptpip.Discover}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("health"),
		readline.PcItem("status"),
		readline.PcItem("get"),
		readline.PcItem("set"),
		readline.PcItem("capture", readline.PcItem("fast")),
		readline.PcItem("cc", readline.PcItem("start"), readline.PcItem("stop")),
		readline.PcItem("zoom", readline.PcItem("wide"), readline.PcItem("tele")),
		readline.PcItem("reset"),
		readline.PcItem("init"),
		readline.PcItem("storage"),
		readline.PcItem("files"),
		readline.PcItem("download"),
		readline.PcItem("captures", readline.PcItem("confirmed"), readline.PcItem("failed")),
		readline.PcItem("downloads"),
		readline.PcItem("discover"),
		readline.PcItem("quit"),
	)
}

// Interactive runs the readline loop until EOF, quit or ctx is cancelled.
func (s *Shell) Interactive(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "payload> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	s.printHelp()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if err := s.Exec(ctx, args); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

// Exec runs one command.
func (s *Shell) Exec(ctx context.Context, args []string) error {
	cmd := strings.ToLower(args[0])
	args = args[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "health":
		return s.print(s.client.Health(ctx))
	case "status", "st":
		return s.call(ctx, http.MethodGet, "/status", nil)
	case "get":
		return s.cmdGet(ctx, args)
	case "set":
		return s.cmdSet(ctx, args)
	case "capture", "shoot":
		return s.cmdCapture(ctx, args)
	case "cc":
		return s.cmdContinuous(ctx, args)
	case "zoom":
		return s.cmdZoom(ctx, args)
	case "reset":
		return s.call(ctx, http.MethodPost, "/reset", nil)
	case "init", "initialize":
		return s.call(ctx, http.MethodPost, "/initialize", nil)
	case "storage":
		return s.call(ctx, http.MethodGet, "/storage", nil)
	case "files", "ls":
		return s.cmdFiles(ctx, args)
	case "download", "dl":
		return s.cmdDownload(ctx, args)
	case "captures":
		return s.cmdCaptures(ctx, args)
	case "downloads":
		return s.call(ctx, http.MethodGet, "/downloads", nil)
	case "discover":
		return s.cmdDiscover(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Payload Commands:
  Camera:
    status                       - Show camera status
    get <setting|0xCODE>         - Read a setting or raw property
    set <setting> <value>        - Change a setting
    set <0xCODE> <value> <kind>  - Write a raw property (kind: uint8, uint16, ...)
    capture [burst_ms] [fast]    - Take a photo, or burst for burst_ms
    cc start|stop                - Start or stop continuous capture
    zoom wide|tele [ms]          - Zoom for ms (default hold)
    zoom <0-255>                 - Zoom to an absolute level
    zoom <mm>mm                  - Zoom to the nearest focal length
    reset                        - Reset camera settings
    init                         - Re-initialize the camera

  Storage:
    storage                      - List camera storages
    files [parent]               - List objects (storage root by default)
    download <handle>            - Fetch one object

  Ledger:
    captures [confirmed|failed] [limit]
    downloads

  Network:
    discover [seconds]           - Browse mDNS for PTP/IP cameras
    health                       - API health (no key needed)

  quit                           - Exit`)
}

func (s *Shell) call(ctx context.Context, method, path string, body any) error {
	return s.print(s.client.Call(ctx, method, path, body))
}

func (s *Shell) print(raw json.RawMessage, err error) error {
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if json.Indent(&buf, raw, "", "  ") != nil {
		_, err = s.out.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(s.out)
	return err
}

func (s *Shell) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <setting|0xCODE>")
	}
	return s.call(ctx, http.MethodGet, "/properties/"+url.PathEscape(args[0]), nil)
}

func (s *Shell) cmdSet(ctx context.Context, args []string) error {
	body := map[string]string{}
	switch len(args) {
	case 2:
	case 3:
		body["kind"] = args[2]
	default:
		return errors.New("usage: set <setting> <value> | set <0xCODE> <value> <kind>")
	}
	body["value"] = args[1]
	return s.call(ctx, http.MethodPut, "/properties/"+url.PathEscape(args[0]), body)
}

func (s *Shell) cmdCapture(ctx context.Context, args []string) error {
	body := map[string]any{}
	for _, a := range args {
		if strings.EqualFold(a, "fast") {
			body["high_speed"] = true
			continue
		}
		ms, err := strconv.ParseInt(a, 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid burst duration %q", a)
		}
		body["burst_ms"] = ms
	}
	if len(body) == 0 {
		return s.call(ctx, http.MethodPost, "/capture", nil)
	}
	return s.call(ctx, http.MethodPost, "/capture", body)
}

func (s *Shell) cmdContinuous(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "start" && args[0] != "stop") {
		return errors.New("usage: cc start|stop")
	}
	return s.call(ctx, http.MethodPost, "/continuous-capture/"+args[0], nil)
}

func (s *Shell) cmdZoom(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: zoom wide|tele [ms] | zoom <0-255> | zoom <mm>mm")
	}
	switch mode := strings.ToLower(args[0]); mode {
	case "wide", "tele":
		body := map[string]any{"mode": mode}
		if len(args) == 2 {
			ms, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || ms <= 0 {
				return fmt.Errorf("invalid zoom duration %q", args[1])
			}
			body["duration_ms"] = ms
		}
		return s.call(ctx, http.MethodPost, "/zoom", body)
	default:
		if mm, ok := strings.CutSuffix(mode, "mm"); ok {
			f, err := strconv.ParseFloat(mm, 64)
			if err != nil || !(f > 0) || len(args) != 1 {
				return fmt.Errorf("invalid focal length %q", args[0])
			}
			return s.call(ctx, http.MethodPost, "/zoom", map[string]any{"mode": "focal_length", "focal_length_mm": f})
		}
		level, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil || len(args) != 1 {
			return fmt.Errorf("zoom level must be 0-255, got %q", args[0])
		}
		return s.call(ctx, http.MethodPost, "/zoom", map[string]any{"mode": "level", "level": level})
	}
}

func (s *Shell) cmdFiles(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		return s.call(ctx, http.MethodGet, "/files", nil)
	case 1:
		if _, err := strconv.ParseUint(args[0], 0, 32); err != nil {
			return fmt.Errorf("invalid object handle %q", args[0])
		}
		return s.call(ctx, http.MethodGet, "/files?parent="+url.QueryEscape(args[0]), nil)
	default:
		return errors.New("usage: files [parent]")
	}
}

func (s *Shell) cmdDownload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: download <handle>")
	}
	handle, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid object handle %q", args[0])
	}
	return s.call(ctx, http.MethodPost, "/files/download", map[string]uint64{"handle": handle})
}

func (s *Shell) cmdCaptures(ctx context.Context, args []string) error {
	q := url.Values{}
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			q.Set("limit", strconv.Itoa(n))
			continue
		}
		q.Set("status", a)
	}
	path := "/captures"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return s.call(ctx, http.MethodGet, path, nil)
}

func (s *Shell) cmdDiscover(ctx context.Context, args []string) error {
	wait := 3 * time.Second
	if len(args) == 1 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid discovery time %q", args[0])
		}
		wait = time.Duration(secs) * time.Second
	}
	fmt.Fprintf(s.out, "Browsing for PTP/IP responders for %s...\n", wait)
	found, err := s.discover(ctx, wait, "")
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(s.out, "No cameras found")
		return nil
	}
	for _, r := range found {
		fmt.Fprintf(s.out, "  %-24s %s\n", r.Instance, r.Address())
	}
	return nil
}
