package crossbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/vespernet/crossbridge/config"
	"github.com/vespernet/crossbridge/device"
)

var (
	// ErrRetriesExhausted is returned when every connection attempt failed.
	ErrRetriesExhausted = errors.New("connection retries exhausted")
	// ErrCancelled is returned when the session was interrupted by a signal.
	ErrCancelled = errors.New("cancelled")
)

const (
	connectTimeout = 30 * time.Second
	backoffStart   = time.Second
	backoffCap     = 30 * time.Second
	backoffJitter  = 0.2
	// an online period at least this long resets the retry counter
	stableOnline = 30 * time.Second
)

// SessionState is the supervisor-level lifecycle state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateWaitingForDial
	StateConnecting
	StateAuthenticating
	StateOnline
	StateTearingDown
	StateFailed
)

// String returns a human-readable string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaitingForDial:
		return "WaitingForDial"
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateOnline:
		return "Online"
	case StateTearingDown:
		return "TearingDown"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Session supervises the bridge lifecycle. It exclusively owns the device
// handle and the remote connection, drives the modem when emulation is
// enabled, and applies the retry policy otherwise.
type Session struct {
	cfg config.Config
	dev device.Device
	log *slog.Logger
	rng *rand.Rand

	mu    sync.Mutex
	state SessionState
}

// NewSession creates a supervisor for an already opened device.
func NewSession(cfg config.Config, dev device.Device, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:   cfg,
		dev:   dev,
		log:   logger,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		state: StateIdle,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Info("session state", "from", prev.String(), "to", st.String())
	}
}

// Run drives the session until the device closes, retries are exhausted or
// the context is cancelled. The returned error determines the process exit
// code.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.EmulateModem {
		return s.runModem(ctx)
	}
	return s.runDirect(ctx)
}

func (s *Session) serverAddr() string {
	return net.JoinHostPort(s.cfg.ServerHost, fmt.Sprintf("%d", s.cfg.ServerPort))
}

func (s *Session) inactivity() time.Duration {
	return time.Duration(s.cfg.InactivityTimeout) * time.Second
}

// backoff computes the delay before retry attempt n (1-based): exponential
// from 1 s, capped at 30 s, with ±20 % jitter.
func (s *Session) backoff(attempt int) time.Duration {
	d := backoffStart
	for i := 1; i < attempt && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}
	jitter := 1 - backoffJitter + 2*backoffJitter*s.rng.Float64()
	return time.Duration(float64(d) * jitter)
}

// runDirect bridges the device straight to the server: connect,
// authenticate, pump, and retry per policy. Device EOF ends the session
// cleanly.
func (s *Session) runDirect(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		stable, err := s.bridgeOnce(ctx)
		switch {
		case err == nil:
			// local device is gone, nothing left to bridge
			s.setState(StateIdle)
			return nil
		case errors.Is(err, ErrCancelled):
			s.setState(StateIdle)
			return err
		}

		if stable {
			attempt = 0
		}
		attempt++
		if attempt > s.cfg.ConnectionRetries {
			if errors.Is(err, ErrInactivityTimeout) || errors.Is(err, ErrCarrierLost) {
				// the session did run; losing it is a normal end
				s.setState(StateIdle)
				return nil
			}
			s.setState(StateFailed)
			if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrServerBusy) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		}

		delay := s.backoff(attempt)
		s.log.Warn("bridge attempt failed", "attempt", attempt, "err", err, "backoff", delay)
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(delay):
		}
	}
}

// bridgeOnce runs one connect/authenticate/pump cycle. It returns nil when
// the local device ended the session, otherwise the classified failure.
// stable reports whether the online period lasted long enough to reset the
// retry counter.
func (s *Session) bridgeOnce(ctx context.Context) (stable bool, err error) {
	s.setState(StateConnecting)
	conn, err := s.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.setState(StateAuthenticating)
	if err := Handshake(conn, s.cfg.Username, s.cfg.Password); err != nil {
		s.setState(StateTearingDown)
		return false, err
	}

	s.setState(StateOnline)
	start := time.Now()
	pump := newPump(s.dev, conn, nil, s.inactivity(), s.cfg.BaudRate, s.log)
	perr := pump.RunBidirectional(ctx)
	s.setState(StateTearingDown)
	conn.Close()
	stable = time.Since(start) >= stableOnline

	st := pump.Stats()
	s.log.Info("bridge ended", "reason", perr, "rx", st.BytesIn, "tx", st.BytesOut)

	switch {
	case ctx.Err() != nil:
		return stable, ErrCancelled
	case errors.Is(perr, io.EOF), errors.Is(perr, device.ErrIo):
		return stable, nil
	default:
		return stable, perr
	}
}

func (s *Session) connect(ctx context.Context) (net.Conn, error) {
	addr := s.serverAddr()
	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("%w: %s: %v", ErrNoAnswer, addr, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRemoteUnreachable, addr, err)
	}
	return conn, nil
}

// runModem presents a Hayes modem on the device and opens the remote session
// on demand when the guest dials.
func (s *Session) runModem(ctx context.Context) error {
	s.setState(StateWaitingForDial)

	closed := make(chan struct{})
	m, err := NewModem(&ModemConfig{
		TTY:          s.dev,
		OutgoingCall: s.dialOut,
		StatusTransition: func(_ *Modem, prev, next ModemStatus) {
			s.onModemStatus(prev, next)
			if next == StatusClosed {
				close(closed)
			}
		},
		ConnectSpeed:      s.cfg.ConnectSpeed,
		BaudRate:          s.cfg.BaudRate,
		InactivityTimeout: s.inactivity(),
		Logger:            s.log,
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		s.setState(StateTearingDown)
		m.CloseSync()
		s.setState(StateIdle)
		return ErrCancelled
	case <-closed:
		s.log.Info("device closed, modem shut down")
		s.setState(StateIdle)
		return nil
	}
}

func (s *Session) onModemStatus(prev, next ModemStatus) {
	s.log.Info("modem state", "from", prev.String(), "to", next.String())
	switch next {
	case StatusCommand:
		s.setState(StateWaitingForDial)
	case StatusDialing:
		s.setState(StateConnecting)
	case StatusOnline, StatusOnlineCmd:
		s.setState(StateOnline)
	case StatusClosed:
		s.setState(StateIdle)
	}
}

// dialOut is the modem's outgoing call handler: connect to the configured
// server and run the login handshake. Failures map onto dial result codes.
func (s *Session) dialOut(_ *Modem, number string) (io.ReadWriteCloser, error) {
	addr := s.serverAddr()
	s.log.Info("dialing", "number", number, "server", addr)

	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		s.log.Warn("connect failed", "server", addr, "err", err)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrNoAnswer, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCarrier, err)
	}

	s.setState(StateAuthenticating)
	if err := Handshake(conn, s.cfg.Username, s.cfg.Password); err != nil {
		conn.Close()
		s.log.Warn("handshake failed", "server", addr, "err", err)
		if errors.Is(err, ErrServerBusy) {
			return nil, fmt.Errorf("%w: %v", ErrLineBusy, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCarrier, err)
	}

	s.log.Info("authenticated", "server", addr)
	return conn, nil
}
