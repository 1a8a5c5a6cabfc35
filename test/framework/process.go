package framework

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// NewProcess creates a new Process instance
func NewProcess(binary string) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	return &Process{
		Binary: binary,
		Ctx:    ctx,
		Cancel: cancel,
		logs:   &LogBuffer{},
	}
}

// Process manages a keepwarm process with log capture and lifecycle control
type Process struct {
	Binary string
	Args   []string
	Env    []string
	Ctx    context.Context
	Cancel context.CancelFunc
	PID    int

	cmd  *exec.Cmd
	done chan error
	logs *LogBuffer
	mu   sync.Mutex
}

// Start starts the process
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.done != nil {
		select {
		case <-p.done:
		default:
			return fmt.Errorf("process already running with PID %d", p.PID)
		}
	}

	p.cmd = exec.CommandContext(p.Ctx, p.Binary, p.Args...)
	p.cmd.Env = append(os.Environ(), p.Env...)

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	p.PID = p.cmd.Process.Pid

	var wg sync.WaitGroup
	wg.Add(2)
	go p.captureLogs("stdout", stdout, &wg)
	go p.captureLogs("stderr", stderr, &wg)

	// Wait must follow the pipe readers
	done := make(chan error, 1)
	cmd := p.cmd
	go func() {
		wg.Wait()
		done <- cmd.Wait()
		close(done)
	}()
	p.done = done

	return nil
}

// Stop stops the process gracefully with SIGTERM, killing it after 10s
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("process not running")
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("process exited with error: %w", err)
		}
		return nil
	case <-time.After(10 * time.Second):
		return p.Kill()
	}
}

// Kill forcefully kills the process with SIGKILL
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	<-done
	return nil
}

// IsRunning returns true if the process has started and not exited
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Logs returns all captured logs as a string
func (p *Process) Logs() string {
	return p.logs.String()
}

// WaitForLog waits for a specific log line to appear
func (p *Process) WaitForLog(pattern string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(p.Ctx, timeout)
	defer cancel()

	if err := PollUntil(ctx, 100*time.Millisecond, func() bool {
		return p.logs.Contains(pattern)
	}); err != nil {
		return fmt.Errorf("timeout waiting for log pattern: %s", pattern)
	}
	return nil
}

// CountLog returns how many captured lines contain pattern
func (p *Process) CountLog(pattern string) int {
	return p.logs.Count(pattern)
}

func (p *Process) captureLogs(source string, reader io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		p.logs.Append(line)

		// Also print to stdout for test visibility
		fmt.Printf("[%s] %s\n", source, line)
	}
}

// LogBuffer provides thread-safe log buffering
type LogBuffer struct {
	mu    sync.RWMutex
	lines []string
}

// Append adds a log line to the buffer
func (lb *LogBuffer) Append(line string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.lines = append(lb.lines, line)
}

// String returns all logs as a single string
func (lb *LogBuffer) String() string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return strings.Join(lb.lines, "\n")
}

// Contains checks if the logs contain a specific pattern
func (lb *LogBuffer) Contains(pattern string) bool {
	return lb.Count(pattern) > 0
}

// Count returns the number of lines containing pattern
func (lb *LogBuffer) Count(pattern string) int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	n := 0
	for _, line := range lb.lines {
		if strings.Contains(line, pattern) {
			n++
		}
	}
	return n
}
