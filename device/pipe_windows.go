//go:build windows

package device

import (
	"fmt"
	"os"
	"time"

	"github.com/Microsoft/go-winio"
)

// openNamedPipe attaches to a Windows named pipe in byte mode. If the pipe
// already exists it is dialled as a client; otherwise the bridge creates the
// pipe and waits for exactly one client, mirroring the unix: behaviour.
func openNamedPipe(spec Spec) (Device, error) {
	timeout := 2 * time.Second
	conn, err := winio.DialPipe(spec.Path, &timeout)
	if err == nil {
		return &connDevice{conn: conn, name: spec.Path}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: pipe %s: %v", ErrUnavailable, spec.Path, err)
	}

	ln, err := winio.ListenPipe(spec.Path, &winio.PipeConfig{MessageMode: false})
	if err != nil {
		return nil, fmt.Errorf("%w: pipe %s: %v", ErrUnavailable, spec.Path, err)
	}
	conn, err = ln.Accept()
	ln.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: pipe %s accept: %v", ErrUnavailable, spec.Path, err)
	}
	return &connDevice{conn: conn, name: spec.Path}, nil
}
