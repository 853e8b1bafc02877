//go:build !windows

package device

import (
	"errors"
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// unixPty is a freshly allocated POSIX pseudo-terminal pair. The bridge holds
// the master; the guest opens the slave path reported by Name. DTR and RTS
// have no PTY equivalent and are accepted as no-ops.
type unixPty struct {
	master, slave *os.File
	closed        bool
}

func allocPty() (Device, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: pty: %v", ErrUnavailable, err)
	}
	return &unixPty{master: master, slave: slave}, nil
}

func (p *unixPty) Read(b []byte) (int, error)  { return p.master.Read(b) }
func (p *unixPty) Write(b []byte) (int, error) { return p.master.Write(b) }

func (p *unixPty) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return errors.Join(p.master.Close(), p.slave.Close())
}

// Name returns the slave path for the guest side to open.
func (p *unixPty) Name() string { return p.slave.Name() }

func (p *unixPty) SetDTR(bool) error { return nil }
func (p *unixPty) SetRTS(bool) error { return nil }
func (p *unixPty) Drain() error      { return nil }

// IsSlaveClosed checks if the slave end has no readers/writers left.
func (p *unixPty) IsSlaveClosed() (bool, error) {
	fds := []unix.PollFd{{
		Fd:     int32(p.master.Fd()),
		Events: unix.POLLOUT,
	}}

	_, err := unix.Poll(fds, 0) // no wait
	if err != nil {
		return false, err
	}

	// POLLHUP indicates that the slave has no processes with it open
	return (fds[0].Revents & unix.POLLHUP) != 0, nil
}
