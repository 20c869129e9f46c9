// panedeck drives structured command execution against terminal panes. This
// binary is a development harness over the engine: it opens panes on a local
// or remote host and runs the tool operations a transport layer would
// normally invoke.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asheshgoplani/panedeck/internal/capture"
	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/exec"
	"github.com/asheshgoplani/panedeck/internal/history"
	"github.com/asheshgoplani/panedeck/internal/host"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/platform"
	"github.com/asheshgoplani/panedeck/internal/registry"
	"github.com/asheshgoplani/panedeck/internal/shell"
	"github.com/asheshgoplani/panedeck/internal/tools"
)

const Version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, `panedeck %s - structured command execution over terminal panes

Usage:
  panedeck [flags] run <command...>   execute a command and print the result
  panedeck [flags] sessions           list live sessions
  panedeck [flags] buffer [n]         print the last n buffer lines (default 50)
  panedeck [flags] history [n]        print the n most recent commands (default 20)

Flags:
`, Version)
	flag.PrintDefaults()
}

func main() {
	var (
		configPath = flag.String("config", "", "config file path (default ~/.panedeck/config.toml)")
		timeoutMs  = flag.Int("timeout", 0, "command timeout in ms (0 = config default)")
		noWait     = flag.Bool("no-wait", false, "write the command without waiting for output")
		confirm    = flag.Bool("confirm", false, "ask for confirmation before executing")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	baseDir := panedeckDir()
	path := *configPath
	if path == "" {
		path = filepath.Join(baseDir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}

	logDir := cfg.Logs.Dir
	if logDir == "" {
		logDir = baseDir
	}
	level := cfg.Logs.Level
	if *debug {
		level = "debug"
	}
	logging.Init(logging.Config{
		LogDir: logDir,
		Level:  level,
		Format: cfg.Logs.Format,
		Debug:  *debug,
	})
	defer logging.Shutdown()

	app, cleanup, err := buildApp(cfg, path, baseDir, *confirm)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	switch flag.Arg(0) {
	case "run":
		cmdText := strings.Join(flag.Args()[1:], " ")
		if cmdText == "" {
			fatal(fmt.Errorf("run: command is required"))
		}
		wait := !*noWait
		resp := app.tools.ExecCommand(context.Background(), tools.ExecRequest{
			Command:       cmdText,
			WaitForOutput: &wait,
			TimeoutMs:     *timeoutMs,
		})
		printJSON(resp)
		if !resp.Success {
			os.Exit(1)
		}

	case "sessions":
		printJSON(app.tools.GetSessionList())

	case "buffer":
		n := argInt(1, 50)
		printJSON(app.tools.GetTerminalBuffer(tools.BufferRequest{LastNLines: &n}))

	case "history":
		if app.history == nil {
			fatal(fmt.Errorf("history is disabled in config"))
		}
		entries, err := app.history.Recent(argInt(1, 20))
		if err != nil {
			fatal(err)
		}
		printJSON(entries)

	default:
		usage()
		os.Exit(2)
	}
}

type app struct {
	tools   *tools.Tools
	history *history.Store
}

// buildApp wires the engine: host, registry, detector, watcher, controller.
func buildApp(cfg config.Config, configPath, baseDir string, confirm bool) (*app, func(), error) {
	var (
		h       host.Host
		cleanup = func() {}
	)
	if cfg.Host.ControlSocket != "" {
		remote, err := host.DialRemote(cfg.Host.ControlSocket)
		if err != nil {
			return nil, nil, err
		}
		h = remote
		cleanup = func() { remote.Close() }
	} else {
		local := host.NewLocalHost()
		if _, err := local.OpenPane("panedeck", cfg.Host.Shell); err != nil {
			return nil, nil, err
		}
		// Give the shell a moment to print its prompt.
		time.Sleep(200 * time.Millisecond)
		h = local
		cleanup = local.CloseAll
	}

	var store *history.Store
	if cfg.History.Enabled {
		dbPath := cfg.History.Path
		if dbPath == "" {
			dbPath = filepath.Join(baseDir, "history.db")
		}
		var err error
		store, err = history.Open(dbPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		prev := cleanup
		cleanup = func() { store.Close(); prev() }
	}

	var confirmFn exec.ConfirmFunc
	if confirm {
		confirmFn = promptConfirm
	}

	watcher := capture.NewDynamic(captureWatcher(cfg))
	if stop, err := watchConfig(configPath, watcher); err != nil {
		fmt.Fprintf(os.Stderr, "panedeck: config watch unavailable: %v\n", err)
	} else {
		prev := cleanup
		cleanup = func() { stop(); prev() }
	}

	det := shell.NewDetector()
	reg := registry.New(h)
	reg.OnPrune(det.Forget)
	ctrl := exec.New(reg, det, exec.Config{
		Watcher:        watcher,
		History:        store,
		Confirm:        confirmFn,
		DefaultTimeout: time.Duration(cfg.Exec.DefaultTimeoutMs) * time.Millisecond,
		MaxTimeout:     time.Duration(cfg.Exec.MaxTimeoutMs) * time.Millisecond,
	})

	return &app{tools: tools.New(reg, ctrl), history: store}, cleanup, nil
}

func captureWatcher(cfg config.Config) capture.Watcher {
	return capture.NewWatcher(cfg.Capture.Strategy,
		time.Duration(cfg.Capture.PollIntervalMs)*time.Millisecond,
		time.Duration(cfg.Capture.HealthIntervalMs)*time.Millisecond)
}

// watchConfig hot-reloads the capture tunables while the process runs. Long
// executions pick up a strategy change on their next command.
func watchConfig(path string, watcher *capture.Dynamic) (func(), error) {
	if warning := platform.CheckFsnotifySupport(filepath.Dir(path)); warning != "" {
		fmt.Fprintf(os.Stderr, "panedeck: %s\n", warning)
	}
	return config.Watch(path, func(cfg config.Config) {
		watcher.Set(captureWatcher(cfg))
	})
}

func promptConfirm(command, sessionID string) bool {
	fmt.Fprintf(os.Stderr, "execute %q on session %s? [y/N] ", command, sessionID)
	var answer string
	fmt.Fscanln(os.Stdin, &answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func panedeckDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".panedeck"
	}
	return filepath.Join(home, ".panedeck")
}

func argInt(i, fallback int) int {
	if flag.NArg() <= i {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(flag.Arg(i), "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "panedeck: %v\n", err)
	os.Exit(1)
}
