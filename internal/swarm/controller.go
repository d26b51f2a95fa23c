package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/npratt/tether/internal/api"
	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/session"
	"github.com/npratt/tether/internal/stream"
)

var (
	// ErrNoExecution is returned by operations that need an execution id
	// when none has been assigned.
	ErrNoExecution = errors.New("no active swarm execution")

	// ErrSuperseded is returned by a control call whose execution was
	// replaced while the call was in flight.
	ErrSuperseded = errors.New("swarm execution superseded")
)

// Invalidator drops cached state for an execution once it ends.
type Invalidator interface {
	Invalidate(id string)
}

// Options configure a Controller.
type Options struct {
	API         api.SwarmAPI
	Stream      *stream.Manager
	Invalidator Invalidator    // may be nil
	Router      *events.Router // may be nil
	Logger      *slog.Logger
}

// Controller owns one swarm execution at a time. It is safe for concurrent
// use.
type Controller struct {
	api         api.SwarmAPI
	stream      *stream.Manager
	invalidator Invalidator
	router      *events.Router
	logger      *slog.Logger

	mu    sync.Mutex
	exec  Execution
	epoch uint64
	calls map[*call]struct{} // in-flight control calls
}

type call struct {
	cancel context.CancelFunc
}

// New creates a Controller and registers it as the stream's event handler.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		api:         opts.API,
		stream:      opts.Stream,
		invalidator: opts.Invalidator,
		router:      opts.Router,
		logger:      opts.Logger.With("component", "swarm"),
		calls:       make(map[*call]struct{}),
	}
	c.stream.SetHandler(c.handle)
	return c
}

// Start launches a swarm and follows its stream, abandoning any previous
// execution.
func (c *Controller) Start(ctx context.Context, params api.SwarmParams) (string, error) {
	c.mu.Lock()
	c.replaceLocked(Execution{Status: session.StatusPending})
	cctx, epoch, done := c.beginCallLocked(ctx)
	c.mu.Unlock()
	defer done()

	resp, err := c.api.ExecuteSwarm(cctx, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return "", ErrSuperseded
	}
	if err != nil {
		c.logger.Error("swarm start failed", "agents", len(params.Agents), "error", err)
		c.exec = Execution{Error: err.Error()}
		return "", err
	}

	c.exec.ID = resp.ID()
	c.exec.Running = true
	for _, a := range params.Agents {
		c.exec.Agents = append(c.exec.Agents, Agent{Name: a.Name, Type: a.Type, Status: AgentIdle})
	}
	c.logger.Info("swarm started", "execution_id", c.exec.ID, "agents", len(params.Agents))
	c.setStatusLocked(session.StatusRunning, "")
	c.connectLocked()
	return c.exec.ID, nil
}

// Attach follows an execution that was started elsewhere.
func (c *Controller) Attach(executionID string) error {
	if executionID == "" {
		return ErrNoExecution
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceLocked(Execution{ID: executionID, Running: true})
	c.setStatusLocked(session.StatusRunning, "")
	c.connectLocked()
	return nil
}

// Stop asks the server to stop the swarm. The local stream is closed
// whether or not the call succeeds.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	id := c.exec.ID
	if id == "" {
		c.mu.Unlock()
		return ErrNoExecution
	}
	cctx, epoch, done := c.beginCallLocked(ctx)
	c.mu.Unlock()
	defer done()

	err := c.api.StopSwarm(cctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrSuperseded
	}

	c.stream.Disconnect()
	c.exec.Running = false
	if err != nil {
		c.logger.Warn("swarm stop failed, closing local view anyway", "execution_id", id, "error", err)
		c.exec.Error = err.Error()
	}
	if !c.exec.Status.Terminal() {
		c.setStatusLocked(session.StatusStopped, c.exec.Error)
	}
	c.invalidate()
	return err
}

// Retry reconnects the stream immediately.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exec.ID == "" {
		return ErrNoExecution
	}
	return c.stream.Retry()
}

// Snapshot returns a copy of the current execution.
func (c *Controller) Snapshot() Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec.clone()
}

// ID returns the current execution id.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec.ID
}

// ConnectionState returns the stream's connection state.
func (c *Controller) ConnectionState() (stream.State, stream.ReconnectState) {
	return c.stream.State(), c.stream.Reconnect()
}

// Close cancels any in-flight call and closes the stream.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.cancelCallsLocked()
	c.stream.Disconnect()
}

func (c *Controller) handle(gen uint64, ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stream.Current(gen) || ev.Stream() != c.exec.ID {
		c.logger.Debug("stale event dropped", "type", ev.Type(), "stream", ev.Stream())
		return
	}

	switch e := ev.(type) {
	case *events.LogEvent:
		c.exec.Logs = append(c.exec.Logs, LogLine{
			Time:    e.Timestamp(),
			Level:   e.Level,
			Agent:   e.Agent,
			Message: e.Message,
		})
		if over := len(c.exec.Logs) - MaxLogLines; over > 0 {
			c.exec.Logs = append([]LogLine(nil), c.exec.Logs[over:]...)
		}

	case *events.ProgressEvent:
		c.exec.Progress = min(max(e.Progress, 0), 100)
		if e.Total > 0 {
			c.exec.Completed, c.exec.Total = e.Completed, e.Total
		}

	case *events.StatusEvent:
		agents := make([]Agent, 0, len(e.Agents))
		for _, a := range e.Agents {
			agents = append(agents, Agent{
				Name:        a.Name,
				Type:        a.Type,
				Status:      parseAgentStatus(a.Status),
				CurrentTask: a.CurrentTask,
			})
		}
		c.exec.Agents = agents
		if status := session.ParseStatus(e.Status); status != session.StatusNone {
			c.setStatusLocked(status, "")
			if status.Terminal() {
				c.exec.Running = false
			}
		}

	case *events.CompleteEvent:
		status := session.ParseStatus(e.Status)
		switch {
		case e.Err != "":
			status = session.StatusFailed
			c.exec.Error = e.Err
		case !status.Terminal():
			status = session.StatusCompleted
		}
		if status == session.StatusCompleted {
			c.exec.Progress = 100
		}
		c.exec.Result = append(json.RawMessage(nil), e.Result...)
		c.exec.Running = false
		c.setStatusLocked(status, e.Err)
		c.invalidate()

	case *events.ConsensusEvent:
		res := e.Consensus
		c.exec.Consensus = &res

	default:
		c.logger.Debug("event ignored", "type", ev.Type())
	}
}

func (c *Controller) replaceLocked(next Execution) {
	c.epoch++
	c.cancelCallsLocked()
	c.stream.Disconnect()
	c.exec = next
}

func (c *Controller) connectLocked() {
	if _, err := c.stream.Connect(c.exec.ID); err != nil {
		c.logger.Error("open stream", "execution_id", c.exec.ID, "error", err)
		c.exec.Error = err.Error()
	}
}

// beginCallLocked derives a context for a control call that is cancelled
// when the execution is replaced. done must be called when the call returns.
func (c *Controller) beginCallLocked(ctx context.Context) (context.Context, uint64, func()) {
	cctx, cancel := context.WithCancel(ctx)
	cl := &call{cancel: cancel}
	c.calls[cl] = struct{}{}
	return cctx, c.epoch, func() {
		c.mu.Lock()
		delete(c.calls, cl)
		c.mu.Unlock()
		cancel()
	}
}

func (c *Controller) cancelCallsLocked() {
	for cl := range c.calls {
		cl.cancel()
		delete(c.calls, cl)
	}
}

func (c *Controller) invalidate() {
	if c.invalidator != nil && c.exec.ID != "" {
		c.invalidator.Invalidate(c.exec.ID)
	}
}

func (c *Controller) setStatusLocked(to session.Status, errText string) {
	from := c.exec.Status
	if from == to {
		return
	}
	c.exec.Status = to
	c.logger.Info("swarm status", "execution_id", c.exec.ID, "from", from, "to", to)
	c.router.Emit(&events.SessionStatusEvent{
		BaseEvent: events.NewInternalEvent(events.EventSessionStatus),
		Kind:      events.KindSwarm,
		SessionID: c.exec.ID,
		From:      string(from),
		To:        string(to),
		Error:     errText,
	})
}
