package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/npratt/tether/internal/api"
	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/session"
	"github.com/npratt/tether/internal/shutdown"
	"github.com/npratt/tether/internal/swarm"
	"github.com/npratt/tether/internal/tui"
)

// dashboardBuffer is the dashboard's router subscription size. Redraws read
// controller snapshots, so dropped events only delay a redraw.
const dashboardBuffer = 5000

// follow shows an execution until the user quits (dashboard) or the
// execution ends (plain output). eventChan must be subscribed before the
// execution is started so no early event is missed.
func follow(ctx context.Context, rt *runtime, interactive bool, eventChan <-chan events.Event, source tui.Source, opts ...tui.Option) error {
	if interactive {
		return tui.New(eventChan, source, opts...).Run()
	}

	plain := tui.New(eventChan, source, append(opts, tui.WithExitOnTerminal())...)
	return shutdown.RunWithGracefulShutdown(ctx, rt.logger, shutdown.DefaultTimeout,
		func(runCtx context.Context) error {
			return plain.RunPlain(runCtx, os.Stdout)
		},
		nil,
	)
}

// sessionOptions binds dashboard keys to a session controller.
func sessionOptions(ctx context.Context, ctrl *session.Controller) []tui.Option {
	return []tui.Option{
		tui.WithOnInput(func(text string) error { return ctrl.SendInput(ctx, text) }),
		tui.WithOnStop(func() error { return ctrl.Stop(ctx) }),
		tui.WithOnRetry(ctrl.Retry),
	}
}

// swarmOptions binds dashboard keys to a swarm controller.
func swarmOptions(ctx context.Context, ctrl *swarm.Controller) []tui.Option {
	return []tui.Option{
		tui.WithOnStop(func() error { return ctrl.Stop(ctx) }),
		tui.WithOnRetry(ctrl.Retry),
	}
}

// detachHint tells the user how to get back to an execution they left running.
func detachHint(id string, swarmRun bool) {
	if id == "" {
		return
	}
	cmd := "tether attach " + id
	if swarmRun {
		cmd += " --swarm"
	}
	fmt.Fprintf(os.Stderr, "detached from %s; reattach with: %s\n", id, cmd)
}

// parseAgentSpecs parses --agent values of the form name:type[:model].
func parseAgentSpecs(values []string) ([]api.SwarmAgentSpec, error) {
	specs := make([]api.SwarmAgentSpec, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid agent %q: want name:type[:model]", v)
		}
		spec := api.SwarmAgentSpec{Name: parts[0], Type: parts[1]}
		if len(parts) == 3 {
			spec.Model = parts[2]
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one --agent is required")
	}
	return specs, nil
}

// attachTarget picks the execution to attach to: an explicit id wins,
// otherwise --last reads the state file.
func attachTarget(args []string, last, swarmRun bool, statePath string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if !last {
		return "", errors.New("an execution id or --last is required")
	}

	state, err := events.ReadState(statePath)
	if err != nil {
		return "", fmt.Errorf("read last execution: %w", err)
	}
	id := state.SessionID
	if swarmRun {
		id = state.SwarmID
	}
	if id == "" {
		return "", errors.New("no previous execution recorded")
	}
	return id, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
