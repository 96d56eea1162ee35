// ABOUTME: Owns the username to backend process map: start, stop, status, logs
// ABOUTME: Serializes operations per username while different users proceed independently

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Orchestrator errors
var (
	ErrNoCapacity   = errors.New("no available ports for the backend process")
	ErrProcessStart = errors.New("backend process failed to start")
	ErrProcessKill  = errors.New("problem killing existing process")
	ErrNotFound     = errors.New("no backend process for user")
	ErrInvalidUser  = errors.New("invalid username")
)

// StartResult reports what Start did.
type StartResult int

// Start results
const (
	Started StartResult = iota
	AlreadyRunning
)

// PortInfo is what the proxy needs to reach a backend.
type PortInfo struct {
	Port   int
	PID    int
	Secret string
}

// Status is a point-in-time view of one user's backend.
type Status struct {
	Username  string
	Running   bool
	State     State
	Port      int
	PID       int
	StartedAt time.Time
}

// Options configures an Orchestrator.
type Options struct {
	Launcher        Launcher
	Ports           *PortAllocator
	StartDelay      time.Duration
	KillGrace       time.Duration
	LogCapacity     int
	LogFileTemplate string
	Recorder        EventRecorder // optional
	Metrics         *Metrics      // optional
	Logger          *slog.Logger
}

// Orchestrator supervises one backend process per username.
type Orchestrator struct {
	launcher        Launcher
	ports           *PortAllocator
	startDelay      time.Duration
	killGrace       time.Duration
	logCapacity     int
	logFileTemplate string
	recorder        EventRecorder
	metrics         *Metrics
	logger          *slog.Logger

	// mu guards procs, logs and userLocks. It is never held across a wait.
	mu        sync.Mutex
	procs     map[string]*process
	logs      map[string]*LogBuffer
	userLocks map[string]*sync.Mutex
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		launcher:        opts.Launcher,
		ports:           opts.Ports,
		startDelay:      opts.StartDelay,
		killGrace:       opts.KillGrace,
		logCapacity:     opts.LogCapacity,
		logFileTemplate: opts.LogFileTemplate,
		recorder:        opts.Recorder,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		procs:           make(map[string]*process),
		logs:            make(map[string]*LogBuffer),
		userLocks:       make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing start and stop for username.
func (o *Orchestrator) userLock(username string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.userLocks[username]
	if !ok {
		l = &sync.Mutex{}
		o.userLocks[username] = l
	}
	return l
}

// Status reports whether username has a tracked backend. It never waits on an
// in-flight start or stop.
func (o *Orchestrator) Status(username string) Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked(username)
}

func (o *Orchestrator) statusLocked(username string) Status {
	p, ok := o.procs[username]
	if !ok {
		return Status{Username: username}
	}
	return Status{
		Username:  username,
		Running:   true,
		State:     p.state,
		Port:      p.port,
		PID:       p.pid,
		StartedAt: p.startedAt,
	}
}

// List returns the status of every tracked backend, sorted by username.
func (o *Orchestrator) List() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Status, 0, len(o.procs))
	for username := range o.procs {
		out = append(out, o.statusLocked(username))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Start launches a backend for username. Without forceRestart an existing process is
// left alone and AlreadyRunning is returned. With forceRestart the existing process is
// killed first. Start returns once the start delay has passed without the process exiting.
func (o *Orchestrator) Start(ctx context.Context, username string, forceRestart bool) (StartResult, error) {
	if username == "" {
		return 0, ErrInvalidUser
	}
	lock := o.userLock(username)
	lock.Lock()
	defer lock.Unlock()

	res, _, err := o.startLocked(ctx, username, forceRestart)
	return res, err
}

// EnsureRunning returns the port of username's backend, starting one if none is tracked.
func (o *Orchestrator) EnsureRunning(ctx context.Context, username string) (PortInfo, error) {
	if username == "" {
		return PortInfo{}, ErrInvalidUser
	}
	lock := o.userLock(username)
	lock.Lock()
	defer lock.Unlock()

	_, info, err := o.startLocked(ctx, username, false)
	return info, err
}

// startLocked runs with the user lock held.
func (o *Orchestrator) startLocked(ctx context.Context, username string, forceRestart bool) (StartResult, PortInfo, error) {
	o.mu.Lock()
	existing := o.procs[username]
	o.mu.Unlock()

	avoid := -1
	if existing != nil {
		if !forceRestart {
			o.metrics.observeStart("already_running")
			return AlreadyRunning, existing.info(), nil
		}
		if err := o.terminate(ctx, existing, EventKilled); err != nil {
			o.metrics.observeStart("failed")
			return 0, PortInfo{}, err
		}
		avoid = existing.port
	}

	p, err := o.reserve(username, avoid)
	if err != nil {
		o.metrics.observeStart("no_capacity")
		o.logger.Warn("no backend port available", "user", username)
		return 0, PortInfo{}, err
	}

	pid, err := p.start()
	if err != nil {
		o.release(p)
		o.metrics.observeStart("failed")
		o.record(Event{Username: username, Port: p.port, Kind: EventStartFailed, Detail: err.Error()})
		o.logger.Error("failed to spawn backend", "user", username, "error", err)
		return 0, PortInfo{}, fmt.Errorf("%w: %v", ErrProcessStart, err)
	}

	o.mu.Lock()
	p.pid = pid
	p.startedAt = time.Now()
	o.mu.Unlock()

	go o.supervise(p)

	// The start delay is the only readiness signal: surviving it means ready.
	timer := time.NewTimer(o.startDelay)
	defer timer.Stop()
	select {
	case <-p.exitCh:
	case <-timer.C:
	}

	o.mu.Lock()
	if p.exited() || o.procs[username] != p {
		o.mu.Unlock()
		o.metrics.observeStart("failed")
		return 0, PortInfo{}, fmt.Errorf("%w: process terminated within %s (%s)",
			ErrProcessStart, o.startDelay, p.exitDescription())
	}
	p.state = StateReady
	o.updateGaugesLocked()
	o.mu.Unlock()

	o.metrics.observeStart("started")
	o.record(Event{Username: username, PID: pid, Port: p.port, Kind: EventStarted})
	o.logger.Info("started backend process", "user", username, "pid", pid, "port", p.port)
	return Started, p.info(), nil
}

// reserve allocates a port and registers a Starting record in one critical section,
// so concurrent starts for different users never share a port. The avoid port, held
// by a just-killed process, is only reused when nothing else is free.
func (o *Orchestrator) reserve(username string, avoid int) (*process, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	inUse := make(map[int]struct{}, len(o.procs)+1)
	for _, p := range o.procs {
		inUse[p.port] = struct{}{}
	}
	if avoid > 0 {
		inUse[avoid] = struct{}{}
	}
	port, err := o.ports.Next(inUse)
	if errors.Is(err, ErrNoCapacity) && avoid > 0 {
		delete(inUse, avoid)
		port, err = o.ports.Next(inUse)
	}
	if err != nil {
		return nil, err
	}

	secret := uuid.NewString()
	logs := NewLogBuffer(o.logCapacity)
	p := newProcess(username, port, secret, o.launcher.Command(username, port, secret), logs)

	o.procs[username] = p
	o.logs[username] = logs
	o.updateGaugesLocked()
	return p, nil
}

// release drops p's record if it is still the current one.
func (o *Orchestrator) release(p *process) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.procs[p.username] == p {
		delete(o.procs, p.username)
		o.updateGaugesLocked()
	}
}

// Stop kills username's backend. Returns ErrNotFound when nothing is tracked.
func (o *Orchestrator) Stop(ctx context.Context, username string) error {
	lock := o.userLock(username)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	p := o.procs[username]
	o.mu.Unlock()
	if p == nil {
		o.metrics.observeStop("not_found")
		return ErrNotFound
	}

	if err := o.terminate(ctx, p, EventStopped); err != nil {
		o.metrics.observeStop("failed")
		return err
	}
	o.metrics.observeStop("stopped")
	o.logger.Info("backend exited via stop request", "user", username, "pid", p.pid)
	return nil
}

// terminate detaches p, runs the privileged kill, waits the grace delay and drops the record.
func (o *Orchestrator) terminate(ctx context.Context, p *process, kind string) error {
	p.detached.Store(true)
	if err := o.launcher.Kill(ctx, p.username, p.pid); err != nil {
		p.detached.Store(false)
		o.logger.Error("error killing backend process", "user", p.username, "pid", p.pid, "error", err)
		if !errors.Is(err, ErrProcessKill) {
			err = fmt.Errorf("%w: %v", ErrProcessKill, err)
		}
		return err
	}

	time.Sleep(o.killGrace)
	o.release(p)
	o.record(Event{Username: p.username, PID: p.pid, Port: p.port, Kind: kind})
	return nil
}

// supervise consumes p's events until the process exits.
func (o *Orchestrator) supervise(p *process) {
	logger := o.logger.With("user", p.username, "pid", p.pid)

	var logFile io.WriteCloser
	if o.logFileTemplate != "" {
		f, err := openLogFile(o.logFileTemplate, p.username, p.pid, time.Now())
		if err != nil {
			logger.Warn("cannot open backend log file", "error", err)
		} else {
			logFile = f
		}
	}

	for ev := range p.events {
		switch ev.kind {
		case eventLine:
			if p.detached.Load() {
				continue
			}
			p.logs.Append(ev.line)
			if logFile != nil {
				_, _ = io.WriteString(logFile, ev.line+"\n")
			}
			logger.Debug("backend output", "line", ev.line)

		case eventExit:
			p.setExitStatus(describeExit(ev.exit, ev.err))
			o.handleExit(p, logger)
			close(p.exitCh)
		}
	}

	if logFile != nil {
		_ = logFile.Close()
	}
	close(p.done)
}

// handleExit removes the record unconditionally, whatever ended the process.
func (o *Orchestrator) handleExit(p *process, logger *slog.Logger) {
	o.mu.Lock()
	current := o.procs[p.username] == p
	wasStarting := p.state == StateStarting
	if current {
		delete(o.procs, p.username)
		o.updateGaugesLocked()
	}
	o.mu.Unlock()

	if p.detached.Load() {
		return
	}

	kind := EventExited
	if wasStarting {
		kind = EventStartFailed
	} else {
		o.metrics.observeExit()
	}
	o.record(Event{Username: p.username, PID: p.pid, Port: p.port, Kind: kind, Detail: p.exitDescription()})
	logger.Info("backend process closed", "status", p.exitDescription())
}

// AppendLog adds a line to username's log buffer, creating one if needed.
func (o *Orchestrator) AppendLog(username, line string) {
	o.mu.Lock()
	buf, ok := o.logs[username]
	if !ok {
		buf = NewLogBuffer(o.logCapacity)
		o.logs[username] = buf
	}
	o.mu.Unlock()
	buf.Append(line)
}

// Log returns username's buffered output, oldest first. The buffer outlives the
// process and is replaced on the next start.
func (o *Orchestrator) Log(username string) ([]string, bool) {
	o.mu.Lock()
	buf, ok := o.logs[username]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return buf.Lines(), true
}

// Shutdown stops every tracked backend.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range o.List() {
		if err := o.Stop(ctx, s.Username); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("stopping %s: %w", s.Username, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) updateGaugesLocked() {
	var starting, ready int
	for _, p := range o.procs {
		if p.state == StateReady {
			ready++
		} else {
			starting++
		}
	}
	o.metrics.setProcesses(starting, ready)
}

func (o *Orchestrator) record(e Event) {
	if o.recorder == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.recorder.RecordBackendEvent(ctx, e); err != nil {
		o.logger.Warn("failed to record backend event", "user", e.Username, "event", e.Kind, "error", err)
	}
}
