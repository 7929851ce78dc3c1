package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Session is one telnet client running inside a PTY. The master side of
// the PTY is kept for writes and resizes; the bridge reads from its own
// duplicate of the master descriptor.
type Session struct {
	id        string
	host      string
	port      int
	label     string
	createdAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	// mu serialises writes and resizes on ptmx.
	mu sync.Mutex

	geoMu sync.Mutex
	cols  uint16
	rows  uint16

	killed atomic.Bool

	done     chan struct{}
	exitCode int
}

// spawnSession allocates a PTY sized cols x rows, starts argv on its
// subordinate side and returns the session together with the reader the
// bridge will own.
func spawnSession(id string, argv []string, req StartRequest) (*Session, *os.File, error) {
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	cols, rows := uint16(req.Cols), uint16(req.Rows)

	ptmx, tty, err := creackpty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open pty: %v", ErrAllocation, err)
	}
	if err := creackpty.Setsize(ptmx, &creackpty.Winsize{Cols: cols, Rows: rows}); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, nil, fmt.Errorf("%w: set pty size: %v", ErrAllocation, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, nil, fmt.Errorf("%w: start %s: %v", ErrSpawn, argv[0], err)
	}
	// The child holds its own copy; keeping ours open would stop the
	// master from ever reporting closure.
	_ = tty.Close()

	reader, err := dupFile(ptmx)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = ptmx.Close()
		return nil, nil, fmt.Errorf("%w: acquire pty reader: %v", ErrIO, err)
	}

	s := &Session{
		id:        id,
		host:      req.Host,
		port:      req.Port,
		label:     req.Label,
		createdAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		cols:      cols,
		rows:      rows,
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	go s.waitExit()

	return s, reader, nil
}

// dupFile returns an independent close-on-exec descriptor for the same
// open file.
func dupFile(f *os.File) (*os.File, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	var dupErr error
	if err := raw.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// waitExit reaps the child so it never lingers as a zombie, whether it
// was killed or exited on its own.
func (s *Session) waitExit() {
	err := s.cmd.Wait()

	code := -1
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	s.exitCode = code
	close(s.done)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Done is closed once the child process has been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Pid returns the child's process id.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// Write sends all of data to the PTY, and therefore to the telnet
// client's stdin.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.killed.Load() {
		return fmt.Errorf("%w: %s", ErrNotFound, s.id)
	}
	if _, err := s.ptmx.Write(data); err != nil {
		if s.killed.Load() {
			return fmt.Errorf("%w: %s", ErrNotFound, s.id)
		}
		return fmt.Errorf("%w: write %s: %v", ErrIO, s.id, err)
	}
	return nil
}

// Resize changes the PTY window size. It only touches terminal geometry,
// so it is safe while the bridge is reading.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.killed.Load() {
		return fmt.Errorf("%w: %s", ErrNotFound, s.id)
	}
	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows}); err != nil {
		if s.killed.Load() {
			return fmt.Errorf("%w: %s", ErrNotFound, s.id)
		}
		return fmt.Errorf("%w: resize %s: %v", ErrIO, s.id, err)
	}
	s.geoMu.Lock()
	s.cols = cols
	s.rows = rows
	s.geoMu.Unlock()
	return nil
}

// Kill sends SIGKILL to the child and closes the writer. It does not wait
// for the process to be reaped or for the bridge to finish. It is safe to
// call Kill multiple times.
func (s *Session) Kill() {
	if s.killed.Swap(true) {
		return
	}
	// Kill after the child was reaped only reports os.ErrProcessDone.
	_ = s.cmd.Process.Kill()
	// Close may run concurrently with a blocked Write; the poller wakes it.
	_ = s.ptmx.Close()
}

// Info returns a snapshot of the session's metadata.
func (s *Session) Info() SessionInfo {
	s.geoMu.Lock()
	cols, rows := s.cols, s.rows
	s.geoMu.Unlock()

	info := SessionInfo{
		ID:        s.id,
		Host:      s.host,
		Port:      s.port,
		Label:     s.label,
		Cols:      int(cols),
		Rows:      int(rows),
		Alive:     true,
		CreatedAt: s.createdAt,
	}
	select {
	case <-s.done:
		code := s.exitCode
		info.Alive = false
		info.ExitCode = &code
	default:
	}
	return info
}
