package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/npratt/tether/internal/api"
	"github.com/npratt/tether/internal/clock"
	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/stream"
)

var (
	// ErrNoSession is returned by operations that need a session id when
	// none has been assigned.
	ErrNoSession = errors.New("no active session")

	// ErrSuperseded is returned by a control call whose session was replaced
	// while the call was in flight.
	ErrSuperseded = errors.New("session superseded")
)

// SnapshotSource fetches persisted session snapshots. *cache.Snapshots
// implements it.
type SnapshotSource interface {
	Get(ctx context.Context, sessionID string) (*api.Snapshot, error)
	Invalidate(sessionID string)
}

// Options configure a Controller.
type Options struct {
	API       api.SessionAPI
	Stream    *stream.Manager
	Snapshots SnapshotSource // nil fetches through API without caching
	Router    *events.Router // may be nil
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Controller owns one execution session at a time. It is safe for
// concurrent use.
type Controller struct {
	api       api.SessionAPI
	stream    *stream.Manager
	snapshots SnapshotSource
	router    *events.Router
	clock     clock.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	sess     Session
	epoch    uint64 // bumped whenever the current session is replaced
	received uint64 // stream events accepted, across sessions
	calls map[*call]struct{}
}

type call struct {
	cancel context.CancelFunc
}

// New creates a Controller and registers it as the stream's event handler.
func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		api:       opts.API,
		stream:    opts.Stream,
		snapshots: opts.Snapshots,
		router:    opts.Router,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "session"),
		calls:     make(map[*call]struct{}),
	}
	if c.snapshots == nil {
		c.snapshots = directSnapshots{opts.API}
	}
	c.stream.SetHandler(c.handle)
	return c
}

// Start creates a session server-side and follows its stream. Any previous
// session is abandoned first: its stream is closed and its in-flight control
// calls are cancelled. On failure no session is created and the error string
// is kept for display.
func (c *Controller) Start(ctx context.Context, params api.StartParams) (string, error) {
	c.mu.Lock()
	c.replaceLocked(Session{Status: StatusPending})
	cctx, epoch, done := c.beginCallLocked(ctx)
	c.mu.Unlock()
	defer done()

	resp, err := c.api.Execute(cctx, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return "", ErrSuperseded
	}
	if err != nil {
		c.logger.Error("start failed", "provider", params.Provider, "error", err)
		c.sess = Session{Error: err.Error(), Revision: c.sess.Revision + 1}
		return "", err
	}

	id := resp.ID()
	c.sess.ID = id
	c.logger.Info("session started", "session_id", id, "provider", params.Provider)
	if params.Prompt != "" {
		c.appendLocked(Message{Role: RoleUser, Content: params.Prompt, Local: true})
	}
	c.setStatusLocked(StatusRunning, "")
	c.connectLocked()
	return id, nil
}

// SendInput appends content as a local user message and delivers it to the
// server. The local message is kept even if delivery fails. On success the
// stream is reopened, since the server may run the follow-up in a fresh
// process.
func (c *Controller) SendInput(ctx context.Context, content string) error {
	c.mu.Lock()
	c.appendLocked(Message{Role: RoleUser, Content: content, Local: true})
	id := c.sess.ID
	if id == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	cctx, epoch, done := c.beginCallLocked(ctx)
	c.mu.Unlock()
	defer done()

	err := c.api.SendInput(cctx, id, content)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrSuperseded
	}
	if err != nil {
		c.logger.Warn("send input failed", "session_id", id, "error", err)
		c.sess.Error = err.Error()
		return err
	}

	c.sess.Error = ""
	c.setStatusLocked(StatusRunning, "")
	c.connectLocked()
	return nil
}

// Stop asks the server to stop the session. The local stream is closed and
// the session marked stopped whether or not the call succeeds.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	id := c.sess.ID
	if id == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	cctx, epoch, done := c.beginCallLocked(ctx)
	c.mu.Unlock()
	defer done()

	err := c.api.Stop(cctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrSuperseded
	}

	c.stream.Disconnect()
	c.snapshots.Invalidate(id)
	if err != nil {
		c.logger.Warn("stop call failed, closing local view anyway", "session_id", id, "error", err)
		c.sess.Error = err.Error()
	}
	if !c.sess.Status.Terminal() {
		c.setStatusLocked(StatusStopped, c.sess.Error)
	}
	return err
}

// Resume restarts a stopped session and follows its stream again.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	id := c.sess.ID
	if id == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	cctx, epoch, done := c.beginCallLocked(ctx)
	c.mu.Unlock()
	defer done()

	err := c.api.Resume(cctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrSuperseded
	}
	if err != nil {
		c.logger.Warn("resume failed", "session_id", id, "error", err)
		c.sess.Error = err.Error()
		return err
	}

	c.sess.Error = ""
	c.setStatusLocked(StatusRunning, "")
	c.connectLocked()
	return nil
}

// Load switches to an existing session and fills it from the persisted
// snapshot. The snapshot is applied only when no stream is live and the
// session did not change while it was being fetched: no stream event, no
// status change. History then replaces local messages only when it holds at
// least as many messages and nothing was appended meanwhile. A running
// session is followed live.
func (c *Controller) Load(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}

	c.mu.Lock()
	if c.sess.ID != sessionID {
		c.replaceLocked(Session{ID: sessionID, Status: StatusPending})
	}
	rev, seen, was := c.sess.Revision, c.received, c.sess.Status
	cctx, epoch, done := c.beginCallLocked(ctx)
	c.mu.Unlock()
	defer done()

	snap, err := c.snapshots.Get(cctx, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrSuperseded
	}
	if err != nil {
		c.sess.Error = err.Error()
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	switch {
	case c.stream.Active():
		c.logger.Debug("snapshot ignored, stream live", "session_id", sessionID)
		return nil
	case c.received != seen || c.sess.Status != was:
		c.logger.Debug("snapshot ignored, session changed while loading",
			"session_id", sessionID,
			"status", c.sess.Status)
		return nil
	}

	c.sess.Progress = Progress{Completed: snap.Progress.Completed, Total: snap.Progress.Total}
	if snap.Error != "" {
		c.sess.Error = snap.Error
	}

	switch {
	case len(snap.ConversationHistory) < len(c.sess.Messages):
		c.logger.Debug("history ignored, shorter than local",
			"session_id", sessionID,
			"history", len(snap.ConversationHistory),
			"local", len(c.sess.Messages))
	case c.sess.Revision != rev:
		c.logger.Debug("history ignored, local changes while loading", "session_id", sessionID)
	default:
		c.sess.Messages = historyMessages(snap.ConversationHistory)
		c.sess.Revision++
	}

	status := ParseStatus(snap.Status)
	if status != StatusNone {
		c.setStatusLocked(status, snap.Error)
	}
	if status == StatusRunning || status == StatusPending {
		c.connectLocked()
	}
	return nil
}

// Logs returns the server-side log of the current session.
func (c *Controller) Logs(ctx context.Context) ([]api.LogEntry, error) {
	c.mu.Lock()
	id := c.sess.ID
	c.mu.Unlock()
	if id == "" {
		return nil, ErrNoSession
	}
	return c.api.GetLogs(ctx, id)
}

// Retry reconnects the stream immediately, including out of the failed
// state.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.ID == "" {
		return ErrNoSession
	}
	return c.stream.Retry()
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.clone()
}

// ID returns the current session id, or "" if none is assigned.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.ID
}

// ConnectionState returns the stream's connection state.
func (c *Controller) ConnectionState() (stream.State, stream.ReconnectState) {
	return c.stream.State(), c.stream.Reconnect()
}

// Close cancels in-flight calls and closes the stream. The session itself is
// left untouched on the server.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.cancelCallsLocked()
	c.stream.Disconnect()
}

// handle merges one stream event into the session.
func (c *Controller) handle(gen uint64, ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stream.Current(gen) || ev.Stream() != c.sess.ID {
		c.logger.Debug("stale event dropped", "type", ev.Type(), "stream", ev.Stream())
		return
	}
	c.received++

	switch e := ev.(type) {
	case *events.TaskStartEvent:
		task := firstNonEmpty(e.Task, e.TaskID)
		c.sess.CurrentTask = task
		if e.TotalTasks > 0 {
			c.sess.Progress.Total = e.TotalTasks
		}
		c.appendLocked(Message{
			Role:      RoleSystem,
			Content:   "Started " + firstNonEmpty(task, "task"),
			Timestamp: e.Timestamp(),
			TaskID:    e.TaskID,
		})

	case *events.TaskCompleteEvent:
		task := firstNonEmpty(e.Task, e.TaskID)
		if c.sess.CurrentTask == task {
			c.sess.CurrentTask = ""
		}
		c.sess.Progress.Completed++
		if c.sess.Progress.Total < c.sess.Progress.Completed {
			c.sess.Progress.Total = c.sess.Progress.Completed
		}
		c.appendLocked(Message{
			Role:      RoleSystem,
			Content:   "Completed " + firstNonEmpty(task, "task"),
			Timestamp: e.Timestamp(),
			TaskID:    e.TaskID,
		})

	case *events.ResponseEvent:
		c.appendLocked(Message{
			Role:      RoleAgent,
			Content:   e.Content,
			Timestamp: e.Timestamp(),
			TaskID:    e.TaskID,
		})

	case *events.ErrorEvent:
		c.appendLocked(Message{
			Role:      RoleError,
			Content:   e.Text(),
			Timestamp: e.Timestamp(),
			TaskID:    e.TaskID,
		})

	case *events.SessionCompleteEvent:
		if e.Result != "" {
			c.appendLocked(Message{Role: RoleSystem, Content: e.Result, Timestamp: e.Timestamp()})
		}
		c.sess.CurrentTask = ""
		c.setStatusLocked(StatusCompleted, "")
		c.snapshots.Invalidate(c.sess.ID)

	case *events.SessionStoppedEvent:
		c.sess.CurrentTask = ""
		c.setStatusLocked(StatusStopped, "")
		c.snapshots.Invalidate(c.sess.ID)

	default:
		c.logger.Debug("event ignored", "type", ev.Type())
	}
}

// replaceLocked abandons the current session for next.
func (c *Controller) replaceLocked(next Session) {
	c.epoch++
	c.cancelCallsLocked()
	c.stream.Disconnect()
	next.Revision = c.sess.Revision + 1
	c.sess = next
}

// connectLocked (re)opens the stream for the current session.
func (c *Controller) connectLocked() {
	if _, err := c.stream.Connect(c.sess.ID); err != nil {
		c.logger.Error("open stream", "session_id", c.sess.ID, "error", err)
		c.sess.Error = err.Error()
	}
}

// beginCallLocked derives a context for a control call that is cancelled
// when the current session is replaced. done must be called when the call
// returns.
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

func (c *Controller) appendLocked(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.clock.Now()
	}
	c.sess.Messages = append(c.sess.Messages, msg)
	c.sess.Revision++

	c.router.Emit(&events.MessageEvent{
		BaseEvent: events.NewInternalEvent(events.EventMessage),
		SessionID: c.sess.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Local:     msg.Local,
	})
}

func (c *Controller) setStatusLocked(to Status, errText string) {
	from := c.sess.Status
	if from == to {
		return
	}
	c.sess.Status = to
	c.logger.Info("session status", "session_id", c.sess.ID, "from", from, "to", to)
	c.router.Emit(&events.SessionStatusEvent{
		BaseEvent: events.NewInternalEvent(events.EventSessionStatus),
		Kind:      events.KindSession,
		SessionID: c.sess.ID,
		From:      string(from),
		To:        string(to),
		Error:     errText,
	})
}

func historyMessages(history []api.HistoryEntry) []Message {
	msgs := make([]Message, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, Message{
			ID:        uuid.NewString(),
			Role:      parseRole(h.Role),
			Content:   h.Content,
			Timestamp: h.Timestamp.Time,
			TaskID:    h.TaskID,
		})
	}
	return msgs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// directSnapshots fetches snapshots without caching.
type directSnapshots struct {
	api api.SessionAPI
}

func (d directSnapshots) Get(ctx context.Context, id string) (*api.Snapshot, error) {
	return d.api.GetSession(ctx, id)
}

func (directSnapshots) Invalidate(string) {}
