//go:build windows

package device

import (
	"fmt"

	"github.com/aymanbagabas/go-pty"
)

// conPty is a ConPTY-backed pseudo-terminal on Windows.
type conPty struct {
	pty pty.Pty
}

func allocPty() (Device, error) {
	p, err := pty.New()
	if err != nil {
		return nil, fmt.Errorf("%w: pty: %v", ErrUnavailable, err)
	}
	return &conPty{pty: p}, nil
}

func (p *conPty) Read(b []byte) (int, error)  { return p.pty.Read(b) }
func (p *conPty) Write(b []byte) (int, error) { return p.pty.Write(b) }
func (p *conPty) Close() error                { return p.pty.Close() }
func (p *conPty) Name() string                { return p.pty.Name() }
func (p *conPty) SetDTR(bool) error           { return nil }
func (p *conPty) SetRTS(bool) error           { return nil }
func (p *conPty) Drain() error                { return nil }
