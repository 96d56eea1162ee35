// ABOUTME: A supervised backend process and its output/exit event pipeline
// ABOUTME: Pipe readers feed a bounded channel consumed by one supervisor goroutine

package backend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a tracked backend process.
type State int

// Process states. Absent processes have no record at all.
const (
	StateStarting State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	eventBuffer  = 256
	maxLineBytes = 1 << 20
	exitDrain    = 50 * time.Millisecond
)

type eventKind int

const (
	eventLine eventKind = iota
	eventExit
)

type processEvent struct {
	kind eventKind
	line string
	exit *os.ProcessState
	err  error
}

// process is the record for one running backend. Fields other than state are
// fixed once the process is started; state is guarded by the orchestrator mutex.
type process struct {
	username  string
	port      int
	secret    string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	state     State
	logs      *LogBuffer

	detached atomic.Bool
	exitCh   chan struct{} // closed once the exit event is handled
	done     chan struct{} // closed once every event is consumed
	events   chan processEvent

	exitMu     sync.Mutex
	exitStatus string
}

func newProcess(username string, port int, secret string, cmd *exec.Cmd, logs *LogBuffer) *process {
	return &process{
		username: username,
		port:     port,
		secret:   secret,
		cmd:      cmd,
		logs:     logs,
		state:    StateStarting,
		exitCh:   make(chan struct{}),
		done:     make(chan struct{}),
		events:   make(chan processEvent, eventBuffer),
	}
}

// exited reports whether the exit event has been handled.
func (p *process) exited() bool {
	select {
	case <-p.exitCh:
		return true
	default:
		return false
	}
}

func (p *process) setExitStatus(s string) {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	p.exitStatus = s
}

func (p *process) exitDescription() string {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exitStatus
}

func (p *process) info() PortInfo {
	return PortInfo{Port: p.port, PID: p.pid, Secret: p.secret}
}

// start launches the command and the pipe readers and returns the pid.
// The caller records the pid and runs the supervisor.
//
// The exit event is sent as soon as the process is reaped, after at most
// exitDrain of waiting for buffered output. Pipes inherited by a surviving
// child keep draining into the log but never delay exit detection.
func (p *process) start() (int, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return 0, err
	}
	p.cmd.Stdout = stdoutW
	p.cmd.Stderr = stderrW

	err = p.cmd.Start()
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		return 0, err
	}

	var readers, senders sync.WaitGroup
	readers.Add(2)
	go p.readLines(stdoutR, &readers)
	go p.readLines(stderrR, &readers)

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	senders.Add(1)
	go func() {
		defer senders.Done()
		err := p.cmd.Wait()
		select {
		case <-drained:
		case <-time.After(exitDrain):
		}
		p.events <- processEvent{kind: eventExit, exit: p.cmd.ProcessState, err: err}
	}()

	go func() {
		<-drained
		senders.Wait()
		close(p.events)
	}()
	return p.cmd.Process.Pid, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (p *process) readLines(r io.ReadCloser, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		p.events <- processEvent{kind: eventLine, line: scanner.Text()}
	}
	// Keep the child from blocking on a full pipe after an oversized line.
	_, _ = io.Copy(io.Discard, r)
}

// describeExit renders an exit as "code N" or "signal S".
func describeExit(state *os.ProcessState, err error) string {
	if state == nil {
		if err != nil {
			return err.Error()
		}
		return "unknown"
	}
	if code := state.ExitCode(); code >= 0 {
		return "code " + strconv.Itoa(code)
	}
	return strings.TrimPrefix(state.String(), "signal: ")
}

// openLogFile creates the per-run log file from a template with {username}, {pid}
// and {datetime} placeholders.
func openLogFile(tpl, username string, pid int, now time.Time) (*os.File, error) {
	path := strings.NewReplacer(
		"{username}", username,
		"{pid}", strconv.Itoa(pid),
		"{datetime}", now.Format("20060102.15_04_05"),
	).Replace(tpl)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
