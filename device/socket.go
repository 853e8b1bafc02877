package device

import (
	"fmt"
	"net"
	"os"
	"sync"
)

// connDevice adapts a stream socket (Unix or TCP) to the Device interface.
// When the bridge side is the listener, the listener is closed after the
// first peer is accepted and the socket file (if any) removed on Close.
type connDevice struct {
	conn net.Conn
	name string

	mu      sync.Mutex
	cleanup func()
	cleaned bool
}

func (d *connDevice) Read(p []byte) (int, error)  { return d.conn.Read(p) }
func (d *connDevice) Write(p []byte) (int, error) { return d.conn.Write(p) }
func (d *connDevice) Name() string                { return d.name }
func (d *connDevice) SetDTR(bool) error           { return nil }
func (d *connDevice) SetRTS(bool) error           { return nil }
func (d *connDevice) Drain() error                { return nil }

func (d *connDevice) Close() error {
	err := d.conn.Close()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cleanup != nil && !d.cleaned {
		d.cleaned = true
		d.cleanup()
	}
	return err
}

// openUnixSocket dials the socket when the path already exists; otherwise it
// binds the path itself and accepts exactly one peer.
func openUnixSocket(spec Spec) (Device, error) {
	if _, err := os.Stat(spec.Path); err == nil {
		conn, err := net.Dial("unix", spec.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: unix %s: %v", ErrUnavailable, spec.Path, err)
		}
		return &connDevice{conn: conn, name: "unix:" + spec.Path}, nil
	}

	ln, err := net.Listen("unix", spec.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: unix %s: %v", ErrUnavailable, spec.Path, err)
	}
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		os.Remove(spec.Path)
		return nil, fmt.Errorf("%w: unix %s accept: %v", ErrUnavailable, spec.Path, err)
	}
	path := spec.Path
	return &connDevice{
		conn:    conn,
		name:    "unix:" + spec.Path,
		cleanup: func() { os.Remove(path) },
	}, nil
}

// openTCPSocket follows the same bind-or-connect rule: a wildcard host means
// listen and accept one connection, anything else is dialled.
func openTCPSocket(spec Spec) (Device, error) {
	addr := net.JoinHostPort(spec.Host, fmt.Sprintf("%d", spec.Port))
	if isWildcardHost(spec.Host) {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: tcp %s: %v", ErrUnavailable, addr, err)
		}
		conn, err := ln.Accept()
		ln.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: tcp %s accept: %v", ErrUnavailable, addr, err)
		}
		return &connDevice{conn: conn, name: "tcp:" + addr}, nil
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: tcp %s: %v", ErrUnavailable, addr, err)
	}
	return &connDevice{conn: conn, name: "tcp:" + addr}, nil
}

func isWildcardHost(host string) bool {
	switch host {
	case "", "*", "0.0.0.0", "::":
		return true
	}
	return false
}
