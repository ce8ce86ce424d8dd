// Package main is the entry point for the clrdbg-core debug server: a
// thin CLI that drives a Session Controller against a helper process
// speaking the wire protocol over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkolo/clrdbg-core/internal/dbgconfig"
	"github.com/jkolo/clrdbg-core/internal/logging"
	"github.com/jkolo/clrdbg-core/internal/model"
	"github.com/jkolo/clrdbg-core/internal/runtime"
	"github.com/jkolo/clrdbg-core/internal/runtime/processhost"
	"github.com/jkolo/clrdbg-core/internal/session"
	"github.com/jkolo/clrdbg-core/internal/symbols"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	helperPath string
	helperArgs []string
	attachPID  int
	launchPath string
	logLevel   string
	showVer    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()
	if opts.showVer {
		fmt.Printf("clrdbg-core %s (%s)\n", version, commit)
		return 0
	}
	if opts.helperPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -helper is required (path to the target runtime's debug helper)")
		return 1
	}
	if opts.attachPID == 0 && opts.launchPath == "" {
		fmt.Fprintln(os.Stderr, "Error: one of -attach-pid or -launch is required")
		return 1
	}

	log := logging.New(logging.Config{Level: logging.ParseLevel(opts.logLevel)})
	logging.SetDefault(log)

	cache, err := symbols.NewCache(dbgconfig.DefaultSymbolCacheConfig(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create symbol cache: %v\n", err)
		return 1
	}
	defer cache.Close()

	newAdapter := func() runtime.Interface {
		host, err := processhost.NewOverStdio(opts.helperPath, opts.helperArgs...)
		if err != nil {
			log.Error("failed to start debug helper: %v", err)
			return nil
		}
		return host
	}

	ctrl := session.New(dbgconfig.DefaultSessionConfig(), cache, newAdapter, log)

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	if opts.attachPID != 0 {
		if dbgErr := ctrl.Attach(ctx, opts.attachPID); dbgErr != nil {
			fmt.Fprintf(os.Stderr, "Error: attach failed: %v\n", dbgErr)
			return 1
		}
		log.Info("attached to pid %d", opts.attachPID)
	} else {
		if dbgErr := ctrl.Launch(ctx, opts.launchPath, flag.Args(), nil, "", true); dbgErr != nil {
			fmt.Fprintf(os.Stderr, "Error: launch failed: %v\n", dbgErr)
			return 1
		}
		log.Info("launched %s", opts.launchPath)
	}

	return waitLoop(ctx, ctrl, log)
}

// waitLoop reports breakpoint hits and the session's terminal state
// until the process exits or the caller interrupts.
func waitLoop(ctx context.Context, ctrl *session.Controller, log *logging.Logger) int {
	for {
		if ctrl.State() == model.StateExited {
			log.Info("target process exited")
			return 0
		}
		hit, dbgErr := ctrl.WaitForHit(ctx, 5*time.Second)
		if dbgErr != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				log.Info("shutting down")
				return 0
			}
			continue
		}
		fmt.Printf("breakpoint hit: thread=%d location=%+v\n", hit.ThreadID, hit.Location)
	}
}

func parseFlags() options {
	var opts options
	var showHelp bool

	flag.StringVar(&opts.helperPath, "helper", "", "path to the target runtime's debug helper executable")
	flag.IntVar(&opts.attachPID, "attach-pid", 0, "process id to attach to")
	flag.StringVar(&opts.launchPath, "launch", "", "path to a managed executable to launch and debug")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&opts.showVer, "version", false, "print version and exit")
	flag.BoolVar(&showHelp, "help", false, "show usage")
	flag.Parse()

	opts.helperArgs = flag.Args()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	return opts
}
