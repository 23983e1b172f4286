// Package pidfile records the relay's process id so init scripts and
// operators can find the running daemon.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Pidfile tracks one pid file on disk.
type Pidfile struct {
	path string
}

// New creates a Pidfile for the given path. Nothing is written until
// Acquire is called.
func New(path string) *Pidfile {
	return &Pidfile{path: path}
}

// Path returns the pid file location.
func (p *Pidfile) Path() string {
	return p.path
}

// Acquire writes the current pid. A pid file left behind by a dead
// process is replaced; one owned by a live process is an error.
func (p *Pidfile) Acquire() error {
	if pid, err := p.Read(); err == nil && processAlive(pid) {
		return fmt.Errorf("already running with pid %d (pidfile %s)", pid, p.path)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	return nil
}

// Read returns the pid stored in the file.
func (p *Pidfile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", p.path, err)
	}
	return pid, nil
}

// Release removes the pid file. Missing files are fine.
func (p *Pidfile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// processAlive reports whether a process with the pid exists. Signal 0
// performs the existence check without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
