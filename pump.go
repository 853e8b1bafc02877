package crossbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vespernet/crossbridge/device"
)

var (
	// ErrInactivityTimeout is returned by a pump when no bytes crossed in
	// either direction for the configured timeout.
	ErrInactivityTimeout = errors.New("inactivity timeout")
	// ErrCarrierLost is returned when the remote side of a pump ends.
	ErrCarrierLost = errors.New("carrier lost")
)

const (
	pumpBufSize      = 4096
	drainBudget      = 500 * time.Millisecond
	writeStallBudget = 2 * time.Second
)

// PumpStats is a snapshot of a pump's transfer counters. BytesIn counts
// remote-to-device traffic, BytesOut device-to-remote.
type PumpStats struct {
	BytesIn      int64
	BytesOut     int64
	LastActivity time.Time
}

// Pump moves bytes between the local device and the remote peer. In direct
// bridge mode it owns both directions (RunBidirectional); in modem emulation
// mode the modem read task owns the device side and feeds it through
// ForwardDevice while Run handles the remote side and the inactivity
// watchdog.
type Pump struct {
	dev     io.ReadWriteCloser
	conn    io.ReadWriteCloser
	deliver func() bool // nil means always deliver remote bytes
	timeout time.Duration
	baud    int
	log     *slog.Logger

	mu       sync.Mutex
	bytesIn  int64
	bytesOut int64
	last     time.Time
}

func newPump(dev, conn io.ReadWriteCloser, deliver func() bool, timeout time.Duration, baud int, log *slog.Logger) *Pump {
	if log == nil {
		log = slog.Default()
	}
	return &Pump{
		dev:     dev,
		conn:    conn,
		deliver: deliver,
		timeout: timeout,
		baud:    baud,
		log:     log,
		last:    time.Now(),
	}
}

// Stats returns a snapshot of the transfer counters.
func (p *Pump) Stats() PumpStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PumpStats{BytesIn: p.bytesIn, BytesOut: p.bytesOut, LastActivity: p.last}
}

func (p *Pump) touch(in, out int) {
	if in == 0 && out == 0 {
		return
	}
	p.mu.Lock()
	p.bytesIn += int64(in)
	p.bytesOut += int64(out)
	p.last = time.Now()
	p.mu.Unlock()
}

func (p *Pump) lastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// writeWindow budgets a remote write: the stall allowance plus the time the
// payload itself needs at the configured line speed.
func (p *Pump) writeWindow(n int) time.Duration {
	baud := p.baud
	if baud <= 0 {
		baud = 38400
	}
	wire := time.Duration(n) * 10 * time.Second / time.Duration(baud)
	return writeStallBudget + wire
}

// writeConn writes the whole buffer to the remote, retaining and resending
// any unwritten tail. A stall beyond the write window fails the pump.
func (p *Pump) writeConn(b []byte) error {
	if c, ok := p.conn.(net.Conn); ok {
		c.SetWriteDeadline(time.Now().Add(p.writeWindow(len(b))))
		defer c.SetWriteDeadline(time.Time{})
	}
	for len(b) > 0 {
		n, err := p.conn.Write(b)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCarrierLost, err)
		}
		b = b[n:]
	}
	return nil
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// ForwardDevice writes device-sourced bytes to the remote and accounts the
// transfer. The caller blocks while the remote stalls, which is what pauses
// the device reader under backpressure.
func (p *Pump) ForwardDevice(b []byte) error {
	if err := p.writeConn(b); err != nil {
		return err
	}
	p.touch(0, len(b))
	return nil
}

// Run pumps remote-to-device until the connection ends, the context is
// cancelled or the inactivity timer fires. Used in modem emulation mode.
func (p *Pump) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.connToDev(ctx) }()
	return p.wait(ctx, errCh)
}

// RunBidirectional pumps both directions. Used by the direct bridge where no
// modem sits between device and remote. A clean device EOF is reported as
// io.EOF so the supervisor can treat it as a normal end of session.
func (p *Pump) RunBidirectional(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- p.connToDev(ctx) }()
	go func() { errCh <- p.devToConn(ctx) }()
	return p.wait(ctx, errCh)
}

func (p *Pump) wait(ctx context.Context, errCh <-chan error) error {
	var tick <-chan time.Time
	if p.timeout > 0 {
		interval := p.timeout / 4
		if interval < 100*time.Millisecond {
			interval = 100 * time.Millisecond
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case err := <-errCh:
			p.drain()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case <-tick:
			if time.Since(p.lastActivity()) > p.timeout {
				p.drain()
				return ErrInactivityTimeout
			}
		}
	}
}

// drain gives the device a bounded window to flush buffered output.
func (p *Pump) drain() {
	d, ok := p.dev.(interface{ Drain() error })
	if !ok {
		return
	}
	done := make(chan struct{})
	go func() {
		d.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainBudget):
	}
}

func (p *Pump) connToDev(ctx context.Context) error {
	buf := make([]byte, pumpBufSize)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			if p.deliver == nil || p.deliver() {
				if werr := writeFull(p.dev, buf[:n]); werr != nil {
					return fmt.Errorf("%w: %v", device.ErrIo, werr)
				}
				p.touch(n, 0)
				p.log.Debug("remote->device", "bytes", n)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: remote closed", ErrCarrierLost)
			}
			return fmt.Errorf("%w: %v", ErrCarrierLost, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *Pump) devToConn(ctx context.Context) error {
	buf := make([]byte, pumpBufSize)
	for {
		n, err := p.dev.Read(buf)
		if n > 0 {
			if werr := p.writeConn(buf[:n]); werr != nil {
				return werr
			}
			p.touch(0, n)
			p.log.Debug("device->remote", "bytes", n)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("%w: %v", device.ErrIo, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
