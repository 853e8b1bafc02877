// Package crossbridge connects a local character device to a remote PPP
// service over TCP. It can either shuttle bytes directly or present a
// Hayes-compatible modem to the local side, terminating the AT command
// dialogue before the remote session is opened.
//
// The core components are the Modem, a state machine with the states
// Command, Dialing, Online, OnlineCommand and Closed; the Pump, which moves
// bytes between the device and the remote peer; and the Session supervisor,
// which owns the device handle, performs the login handshake and applies the
// retry policy.
//
// Example usage:
//
//	m, err := NewModem(&ModemConfig{
//		TTY:          dev,
//		OutgoingCall: dialFunc,
//		ConnectSpeed: 33600,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.CloseSync()
package crossbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrConfigRequired is returned when a required configuration parameter is missing
	ErrConfigRequired = errors.New("config required")
	// ErrInvalidStateTransition is returned when an invalid state transition is attempted
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNoCarrier is returned when the remote session cannot be established,
	// whether the transport or the login handshake failed
	ErrNoCarrier = errors.New("no carrier")
	// ErrLineBusy is returned when the remote server indicated it is busy
	ErrLineBusy = errors.New("line busy")
	// ErrNoAnswer is returned when the remote server did not answer in time
	ErrNoAnswer = errors.New("no answer")
)

// ModemStatus represents the current operational state of the modem.
type ModemStatus int

const (
	// StatusCommand is the initial state where AT commands are parsed
	StatusCommand ModemStatus = iota
	// StatusDialing is active while an outgoing connection is being attempted
	StatusDialing
	// StatusOnline is the transparent data state
	StatusOnline
	// StatusOnlineCmd is command mode during an active connection
	StatusOnlineCmd
	// StatusClosed is the terminal state
	StatusClosed
)

// String returns a human-readable string representation of the modem status.
func (ms ModemStatus) String() string {
	switch ms {
	case StatusCommand:
		return "Command"
	case StatusDialing:
		return "Dialing"
	case StatusOnline:
		return "Online"
	case StatusOnlineCmd:
		return "OnlineCmd"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// RetCode represents the result code of AT command processing. The numeric
// values written in V0 mode follow the standard Hayes assignment.
type RetCode int

const (
	// RetCodeOk indicates successful command execution
	RetCodeOk RetCode = iota
	// RetCodeError indicates command execution failed
	RetCodeError
	// RetCodeSilent indicates no response should be sent
	RetCodeSilent
	// RetCodeConnect indicates a connection was established
	RetCodeConnect
	// RetCodeNoCarrier indicates the transport could not be established or was lost
	RetCodeNoCarrier
	// RetCodeNoDialtone indicates no dial tone was detected
	RetCodeNoDialtone
	// RetCodeBusy indicates the remote endpoint is busy
	RetCodeBusy
	// RetCodeNoAnswer indicates the remote endpoint did not answer
	RetCodeNoAnswer
	// RetCodeRing indicates an incoming call
	RetCodeRing
)

// StatusTransitionFunc is called whenever the modem changes state. It runs
// with the modem lock held.
type StatusTransitionFunc func(m *Modem, prevStatus ModemStatus, newStatus ModemStatus)

// OutgoingCallFunc establishes the remote session for a dial request. It is
// called without the modem lock and may block for the duration of the
// connection attempt. The returned errors map to result codes: ErrNoAnswer,
// ErrLineBusy, anything else NO CARRIER.
type OutgoingCallFunc func(m *Modem, number string) (io.ReadWriteCloser, error)

// ModemConfig contains the configuration for creating a Modem. TTY is
// required; everything else has usable defaults.
type ModemConfig struct {
	// TTY is the local device the modem talks to (required)
	TTY io.ReadWriteCloser
	// OutgoingCall handles dial requests
	OutgoingCall OutgoingCallFunc
	// StatusTransition is an optional callback for state change notifications
	StatusTransition StatusTransitionFunc
	// ConnectSpeed is the virtual DCE speed reported in CONNECT messages
	ConnectSpeed int
	// BaudRate is the configured DTE speed, used to budget write stalls
	BaudRate int
	// InactivityTimeout ends an online session with no traffic; 0 disables
	InactivityTimeout time.Duration
	// Logger receives debug output; defaults to slog.Default()
	Logger *slog.Logger
}

// Metrics contains byte counters and timestamps for a modem instance.
// All counters are cumulative since the modem was created.
type Metrics struct {
	Status        ModemStatus
	TtyTxBytes    int
	TtyRxBytes    int
	ConnTxBytes   int64
	ConnRxBytes   int64
	NumConns      int
	LastTtyRxTime time.Time
	LastAtCmdTime time.Time
	LastConnTime  time.Time
}

// S-register indices with defined roles.
const (
	regAutoAnswer = 0
	regEscapeChar = 2
	regCRChar     = 3
	regLFChar     = 4
	regBSChar     = 5
	regGuardTime  = 12
)

func defaultSRegisters() map[byte]byte {
	return map[byte]byte{
		0:  0,   // auto-answer rings
		1:  0,   // ring count
		2:  '+', // escape character
		3:  13,  // carriage return
		4:  10,  // line feed
		5:  8,   // backspace
		6:  2,   // blind dial wait (s)
		7:  50,  // carrier wait (s)
		8:  2,   // comma pause (s)
		9:  6,   // carrier detect response (1/10 s)
		10: 14,  // carrier loss to hangup (1/10 s)
		11: 95,  // DTMF duration (ms)
		12: 50,  // escape guard time (1/50 s)
	}
}

// Modem is a Hayes-compatible modem emulator. It owns reads from the local
// device for its whole lifetime; in online mode device bytes are forwarded
// to the remote through the pump while the escape tracker observes them.
//
// The modem is thread-safe. Methods without a Sync suffix require the modem
// lock to be held; Sync variants acquire and release it automatically.
type Modem struct {
	sync.Mutex
	st               ModemStatus
	stCtx            context.Context
	stCtxCancel      context.CancelFunc
	connCtx          context.Context
	connCtxCancel    context.CancelFunc
	tty              io.ReadWriteCloser
	conn             io.ReadWriteCloser
	pump             *Pump
	outgoingCall     OutgoingCallFunc
	statusTransition StatusTransitionFunc
	log              *slog.Logger
	connectSpeed     int
	baudRate         int
	inactivity       time.Duration
	sregs            map[byte]byte
	echo             bool
	verbose          bool
	quiet            bool
	speakerMode      byte
	speakerVolume    byte
	dtrAction        byte
	dcdAction        byte
	lastDialed       string
	metrics          *Metrics
}

// NewModem creates a modem in StatusCommand and starts processing device
// input immediately. Returns ErrConfigRequired if config or config.TTY is
// nil.
func NewModem(config *ModemConfig) (*Modem, error) {
	if config == nil || config.TTY == nil {
		return nil, ErrConfigRequired
	}

	m := &Modem{
		st:               StatusCommand,
		tty:              config.TTY,
		outgoingCall:     config.OutgoingCall,
		statusTransition: config.StatusTransition,
		log:              config.Logger,
		connectSpeed:     config.ConnectSpeed,
		baudRate:         config.BaudRate,
		inactivity:       config.InactivityTimeout,
		sregs:            defaultSRegisters(),
		echo:             true,
		verbose:          true,
		speakerMode:      1,
		speakerVolume:    2,
		dtrAction:        2,
		metrics:          &Metrics{},
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.stCtx, m.stCtxCancel = context.WithCancel(context.Background())

	go m.deviceReadTask()
	return m, nil
}

func checkValidCmdChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func checkValidNumChar(b byte) bool {
	return b >= '0' && b <= '9'
}

func (m *Modem) checkLock() {
	if m.TryLock() {
		panic("Modem lock not held")
	}
}

func (m *Modem) guardDuration() time.Duration {
	// S12 counts in 1/50 s units
	return time.Duration(m.sregs[regGuardTime]) * time.Second / 50
}

func (m *Modem) ttyWrite(b []byte) {
	n, err := m.tty.Write(b)
	if err != nil || n == 0 {
		m.setStatus(StatusClosed)
		return
	}
	m.metrics.TtyTxBytes += n
}

func (m *Modem) ttyWriteStr(s string) {
	m.ttyWrite([]byte(s))
}

// printRetCode frames a result code according to the current V and Q flags:
// verbose CR LF <text> CR LF, numeric <digit> CR, nothing when quiet.
func (m *Modem) printRetCode(ret RetCode) {
	if ret == RetCodeSilent || m.quiet {
		return
	}
	retStr := ""
	if m.verbose {
		switch ret {
		case RetCodeOk:
			retStr = "OK"
		case RetCodeError:
			retStr = "ERROR"
		case RetCodeConnect:
			if m.connectSpeed > 0 {
				retStr = fmt.Sprintf("CONNECT %d", m.connectSpeed)
			} else {
				retStr = "CONNECT"
			}
		case RetCodeNoCarrier:
			retStr = "NO CARRIER"
		case RetCodeNoDialtone:
			retStr = "NO DIALTONE"
		case RetCodeBusy:
			retStr = "BUSY"
		case RetCodeNoAnswer:
			retStr = "NO ANSWER"
		case RetCodeRing:
			retStr = "RING"
		}
		// Write directly to avoid recursing into setStatus on a dead TTY
		_, _ = m.tty.Write([]byte("\r\n" + retStr + "\r\n"))
		return
	}
	switch ret {
	case RetCodeOk:
		retStr = "0"
	case RetCodeConnect:
		retStr = "1"
	case RetCodeRing:
		retStr = "2"
	case RetCodeNoCarrier:
		retStr = "3"
	case RetCodeError:
		retStr = "4"
	case RetCodeNoDialtone:
		retStr = "6"
	case RetCodeBusy:
		retStr = "7"
	case RetCodeNoAnswer:
		retStr = "8"
	}
	_, _ = m.tty.Write([]byte(retStr + "\r"))
}

// infoLine writes an informational response line framed CR LF <text> CR LF.
func (m *Modem) infoLine(s string) {
	m.ttyWriteStr("\r\n" + s + "\r\n")
}

func (m *Modem) status() ModemStatus {
	return m.st
}

// Status returns the current modem status. The modem lock must be held.
func (m *Modem) Status() ModemStatus {
	m.checkLock()
	return m.status()
}

// StatusSync returns the current modem status with automatic lock management.
func (m *Modem) StatusSync() ModemStatus {
	m.Lock()
	defer m.Unlock()
	return m.status()
}

func (m *Modem) closeConn() {
	if m.connCtxCancel != nil {
		m.connCtxCancel()
		m.connCtxCancel = nil
		m.connCtx = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.pump != nil {
		st := m.pump.Stats()
		m.metrics.ConnRxBytes += st.BytesIn
		m.metrics.ConnTxBytes += st.BytesOut
		m.pump = nil
	}
}

func (m *Modem) setStatus(status ModemStatus) {
	prevStatus := m.st
	if prevStatus == status {
		return
	}
	if prevStatus == StatusClosed {
		panic(ErrInvalidStateTransition)
	}
	m.stCtxCancel()
	m.stCtx, m.stCtxCancel = context.WithCancel(context.Background())
	m.st = status
	switch m.st {
	case StatusCommand:
		if prevStatus == StatusOnline || prevStatus == StatusOnlineCmd {
			m.printRetCode(RetCodeNoCarrier)
		}
		m.closeConn()

	case StatusOnline:
		if prevStatus != StatusDialing && prevStatus != StatusOnlineCmd {
			panic(ErrInvalidStateTransition)
		}
		if prevStatus == StatusDialing {
			m.metrics.NumConns++
			m.metrics.LastConnTime = time.Now()
			m.connCtx, m.connCtxCancel = context.WithCancel(context.Background())
			m.pump = newPump(m.tty, m.conn, m.deliverOnline, m.inactivity, m.baudRate, m.log)
			m.printRetCode(RetCodeConnect)
			go m.pumpTask(m.connCtx, m.pump)
		}

	case StatusOnlineCmd:
		if prevStatus != StatusOnline {
			panic(ErrInvalidStateTransition)
		}
		m.printRetCode(RetCodeOk)

	case StatusDialing:
		if prevStatus != StatusCommand {
			panic(ErrInvalidStateTransition)
		}

	case StatusClosed:
		m.tty.Close()
		m.closeConn()
	}
	if m.statusTransition != nil {
		m.statusTransition(m, prevStatus, status)
	}
}

// SetStatus changes the modem status. The modem lock must be held.
func (m *Modem) SetStatus(status ModemStatus) {
	m.checkLock()
	m.setStatus(status)
}

// SetStatusSync changes the modem status with automatic lock management.
func (m *Modem) SetStatusSync(status ModemStatus) {
	m.Lock()
	defer m.Unlock()
	m.setStatus(status)
}

// deliverOnline gates remote-to-device delivery: bytes arriving while the
// modem sits in online-command mode are discarded.
func (m *Modem) deliverOnline() bool {
	return m.StatusSync() == StatusOnline
}

func (m *Modem) close() {
	m.setStatus(StatusClosed)
}

// Close shuts the modem down and closes all resources. The modem lock must
// be held.
func (m *Modem) Close() {
	m.checkLock()
	m.close()
}

// CloseSync shuts the modem down with automatic lock management.
func (m *Modem) CloseSync() {
	m.Lock()
	defer m.Unlock()
	m.close()
}

// pumpTask waits for the remote-side pump to finish and decides whether its
// exit means carrier loss. A cancelled context means the teardown was
// deliberate (hangup, escape-then-hangup, close) and already handled.
func (m *Modem) pumpTask(ctx context.Context, p *Pump) {
	err := p.Run(ctx)
	m.Lock()
	defer m.Unlock()
	if ctx.Err() != nil || m.st == StatusClosed {
		return
	}
	if m.st == StatusOnline || m.st == StatusOnlineCmd {
		st := p.Stats()
		m.log.Info("carrier lost", "reason", err, "rx", st.BytesIn, "tx", st.BytesOut)
		m.setStatus(StatusCommand)
	}
}

func (m *Modem) processDialing(ctx context.Context, number string) {
	if ctx.Err() != nil {
		return
	}
	conn, err := m.outgoingCall(m, number)

	m.Lock()
	defer m.Unlock()
	if ctx.Err() != nil || m.st != StatusDialing {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.printRetCode(dialRetCode(err))
		m.setStatus(StatusCommand)
		return
	}
	m.conn = conn
	m.setStatus(StatusOnline)
}

func dialRetCode(err error) RetCode {
	switch {
	case errors.Is(err, ErrNoAnswer):
		return RetCodeNoAnswer
	case errors.Is(err, ErrLineBusy):
		return RetCodeBusy
	default:
		return RetCodeNoCarrier
	}
}

func (m *Modem) factoryDefaults() {
	m.sregs = defaultSRegisters()
	m.echo = true
	m.verbose = true
	m.quiet = false
	m.speakerMode = 1
	m.speakerVolume = 2
	m.dtrAction = 2
	m.dcdAction = 0
}

// modulationClass maps a connect speed to the modulation family a real modem
// of that era would report.
func modulationClass(speed int) string {
	switch {
	case speed <= 9600:
		return "V.32"
	case speed <= 14400:
		return "V.32bis"
	case speed <= 28800:
		return "V.34"
	case speed <= 33600:
		return "V.34+"
	case speed <= 56000:
		return "V.90"
	case speed <= 128000:
		return "ISDN"
	default:
		return "ISDN-256"
	}
}

func (m *Modem) identity(n string) (string, bool) {
	switch n {
	case "", "0":
		return "VesperNet PPP Bridge", true
	case "1":
		return "VesperNet Bridge ROM 2.0", true
	case "2":
		return "ROM checksum A5B2C3D4", true
	case "3":
		return fmt.Sprintf("%d bps %s", m.connectSpeed, modulationClass(m.connectSpeed)), true
	case "4":
		return "Enhanced Hayes Compatible", true
	default:
		return "", false
	}
}

func (m *Modem) processCommand(cmdChar string, cmdNum string, cmdAssign bool, cmdQuery bool, cmdAssignVal string) RetCode {
	switch cmdChar {
	case "S":
		r, err := strconv.Atoi(cmdNum)
		if err != nil || r < 0 || r > 255 {
			return RetCodeError
		}
		if cmdAssign {
			v, err := strconv.Atoi(cmdAssignVal)
			if err != nil || v < 0 || v > 255 {
				return RetCodeError
			}
			m.sregs[byte(r)] = byte(v)
			return RetCodeOk
		}
		if cmdQuery {
			m.infoLine(fmt.Sprintf("%03d", m.sregs[byte(r)]))
			return RetCodeOk
		}
		return RetCodeError

	case "E":
		switch cmdNum {
		case "", "0":
			m.echo = false
		case "1":
			m.echo = true
		default:
			return RetCodeError
		}

	case "V":
		switch cmdNum {
		case "", "0":
			m.verbose = false
		case "1":
			m.verbose = true
		default:
			return RetCodeError
		}

	case "Q":
		switch cmdNum {
		case "", "0":
			m.quiet = false
		case "1":
			m.quiet = true
		default:
			return RetCodeError
		}

	case "H":
		switch cmdNum {
		case "", "0":
			if m.status() == StatusOnline || m.status() == StatusOnlineCmd {
				m.setStatus(StatusCommand)
				return RetCodeSilent
			}
		case "1":
			// off-hook is meaningless here, acknowledge
		default:
			return RetCodeError
		}

	case "D":
		if m.status() != StatusCommand {
			return RetCodeError
		}
		number := strings.ToUpper(strings.TrimSpace(cmdAssignVal))
		if len(number) > 0 && (number[0] == 'T' || number[0] == 'P') {
			number = strings.TrimSpace(number[1:])
		}
		if number == "L" {
			number = m.lastDialed
		}
		m.lastDialed = number
		if m.outgoingCall == nil {
			return RetCodeNoCarrier
		}
		m.setStatus(StatusDialing)
		go m.processDialing(m.stCtx, number)
		return RetCodeSilent

	case "A":
		// No ring line exists on this bridge; answering dials the default
		// target, i.e. the configured server.
		if m.status() != StatusCommand {
			return RetCodeError
		}
		if m.outgoingCall == nil {
			return RetCodeNoCarrier
		}
		m.setStatus(StatusDialing)
		go m.processDialing(m.stCtx, "")
		return RetCodeSilent

	case "O":
		if m.status() != StatusOnlineCmd {
			return RetCodeError
		}
		m.printRetCode(RetCodeOk)
		m.setStatus(StatusOnline)
		return RetCodeSilent

	case "Z", "&F":
		m.factoryDefaults()
		if m.status() == StatusOnline || m.status() == StatusOnlineCmd {
			m.setStatus(StatusCommand)
			return RetCodeSilent
		}

	case "I":
		id, ok := m.identity(cmdNum)
		if !ok {
			return RetCodeError
		}
		m.infoLine(id)

	case "X":
		// line quality selector: accepted and ignored

	case "M":
		if len(cmdNum) > 0 {
			m.speakerMode = cmdNum[0] - '0'
		}

	case "L":
		if len(cmdNum) > 0 {
			m.speakerVolume = cmdNum[0] - '0'
		}

	case "&D":
		if len(cmdNum) > 0 {
			m.dtrAction = cmdNum[0] - '0'
		}

	case "&C":
		if len(cmdNum) > 0 {
			m.dcdAction = cmdNum[0] - '0'
		}

	case "&K", "&R", "&S", "%C", "&Q":
		// flow control, compression and protocol selectors: acknowledged

	case "*L":
		m.infoLine(fmt.Sprintf("Last connection: %d bps (%s)", m.connectSpeed, modulationClass(m.connectSpeed)))

	default:
		return RetCodeError
	}
	return RetCodeOk
}

func (m *Modem) processAtCommand(cmd string) RetCode {
	if m.status() != StatusCommand && m.status() != StatusOnlineCmd {
		return RetCodeError
	}
	m.metrics.LastAtCmdTime = time.Now()

	cmdBuf := bytes.NewBufferString(cmd)
	cmdRet := RetCodeOk
	e := false
	for cmdBuf.Len() > 0 && !e {
		cmdChar := ""
		cmdNum := ""
		cmdLong := false
		cmdAssign := false
		cmdQuery := false
		cmdAssignVal := ""

		for cmdBuf.Len() > 0 && !e {
			b, err := cmdBuf.ReadByte()
			if err != nil {
				e = true
				break
			}

			if b == '?' {
				if cmdChar != "" {
					cmdQuery = true
					break
				}
				e = true
				break
			}

			if cmdAssign {
				if !cmdLong && !checkValidNumChar(b) { // short command only accepts numbers
					cmdBuf.UnreadByte()
					break
				}
				cmdAssignVal += string(b)
				continue
			}

			if b == '+' || b == '#' {
				if cmdChar == "" {
					cmdLong = true
					cmdChar += string(b)
					continue
				}
				e = true
				break
			}

			if b == '=' {
				if cmdChar != "" {
					cmdAssign = true
					continue
				}
				e = true
				break
			}

			if cmdLong {
				if checkValidCmdChar(b) {
					cmdChar += string(b)
					continue
				}
				e = true
				break
			}

			if cmdChar == "" || cmdChar == "&" || cmdChar == "%" || cmdChar == "*" {
				if (b == '&' || b == '%' || b == '*') && cmdChar == "" && cmdBuf.Len() > 0 {
					cmdChar += string(b)
					continue
				}
				if checkValidCmdChar(b) {
					cmdChar += string(b)
					if cmdChar == "d" || cmdChar == "D" {
						cmdLong = true
						cmdAssign = true
					}
				} else {
					e = true
					break
				}
			} else {
				if checkValidNumChar(b) {
					cmdNum += string(b)
				} else {
					cmdBuf.UnreadByte()
					break
				}
			}
		}
		if !e {
			ret := m.processCommand(strings.ToUpper(cmdChar), cmdNum, cmdAssign, cmdQuery, cmdAssignVal)
			if ret == RetCodeError {
				return RetCodeError // ERROR wins over anything earlier
			}
			if ret != RetCodeOk {
				cmdRet = ret
			}
		}
		if cmdLong {
			break // long commands don't support chaining
		}
	}

	if e {
		cmdRet = RetCodeError
	}
	return cmdRet
}

// ProcessAtCommand processes an AT command line (without the AT prefix) and
// returns the result code. The modem lock must be held.
func (m *Modem) ProcessAtCommand(cmd string) RetCode {
	m.checkLock()
	return m.processAtCommand(cmd)
}

// ProcessAtCommandSync processes an AT command line with automatic lock
// management.
func (m *Modem) ProcessAtCommandSync(cmd string) RetCode {
	m.Lock()
	defer m.Unlock()
	return m.processAtCommand(cmd)
}

// Metrics returns a copy of the current counters. The modem lock must be
// held.
func (m *Modem) Metrics() *Metrics {
	m.checkLock()
	copy := *m.metrics
	copy.Status = m.status()
	if m.pump != nil {
		st := m.pump.Stats()
		copy.ConnRxBytes += st.BytesIn
		copy.ConnTxBytes += st.BytesOut
	}
	return &copy
}

// MetricsSync returns a copy of the current counters with automatic lock
// management.
func (m *Modem) MetricsSync() *Metrics {
	m.Lock()
	defer m.Unlock()
	return m.Metrics()
}

// deviceReadTask owns all reads from the local device. In command states it
// assembles AT lines; while dialing it discards input; online it forwards
// bytes to the remote and feeds the escape tracker.
func (m *Modem) deviceReadTask() {
	aFlag := false
	atFlag := false
	buffer := *bytes.NewBuffer(nil)
	byteBuff := make([]byte, 1)
	lastCmd := ""
	plusCnt := 0
	lastPlus := time.Time{}
	lastNotPlus := time.Time{}

	m.Lock()
	for m.status() != StatusClosed {
		m.Unlock()
		n, err := m.tty.Read(byteBuff)
		m.Lock()
		if m.status() == StatusClosed {
			break
		}

		if err != nil || n == 0 {
			m.setStatus(StatusClosed)
			break
		}
		m.metrics.LastTtyRxTime = time.Now()
		m.metrics.TtyRxBytes += n

		if m.status() == StatusOnline { // online pass-through with escape watch
			if m.pump != nil {
				if err := m.pump.ForwardDevice(byteBuff); err != nil {
					m.log.Info("carrier lost", "reason", err)
					m.setStatus(StatusCommand)
					continue
				}
			}
			guard := m.guardDuration()
			if byteBuff[0] == m.sregs[regEscapeChar] {
				if time.Since(lastNotPlus) < guard {
					// pre-guard silence not met, treat as payload
					plusCnt = 0
					lastNotPlus = time.Now()
					continue
				}
				if time.Since(lastPlus) > guard {
					plusCnt = 0
				}
				plusCnt++
				lastPlus = time.Now()
				if plusCnt == 3 {
					go func(ctx context.Context) {
						time.Sleep(guard)
						m.Lock()
						defer m.Unlock()
						if ctx.Err() != nil || plusCnt != 3 {
							return
						}
						if m.status() == StatusOnline {
							m.setStatus(StatusOnlineCmd)
						}
					}(m.stCtx)
				}
			} else {
				plusCnt = 0
				lastNotPlus = time.Now()
			}
			continue
		}
		plusCnt = 0

		if m.status() == StatusDialing {
			// input is suppressed until the dial attempt resolves
			continue
		}

		if !atFlag {
			if m.echo {
				m.ttyWrite(byteBuff)
			}
			if bytes.ToUpper(byteBuff)[0] == 'A' {
				aFlag = true
				continue
			}
			if aFlag && byteBuff[0] == '/' {
				aFlag = false
				if m.echo {
					m.ttyWriteStr("\r")
				}
				r := m.processAtCommand(lastCmd)
				m.printRetCode(r)
				continue
			}
			if aFlag && bytes.ToUpper(byteBuff)[0] == 'T' {
				atFlag = true
				aFlag = false
				continue
			}
			aFlag = false
		} else {
			if byteBuff[0] == m.sregs[regBSChar] || byteBuff[0] == 0x7f {
				if buffer.Len() > 0 {
					buffer.Truncate(buffer.Len() - 1)
					if m.echo {
						m.ttyWriteStr("\b \b")
					}
				}
				continue
			}
			if byteBuff[0] == m.sregs[regCRChar] {
				atFlag = false
				lastCmd = buffer.String()
				if m.echo {
					m.ttyWriteStr("\r")
				}
				r := m.processAtCommand(lastCmd)
				m.printRetCode(r)
				buffer.Reset()
				continue
			}
			if buffer.Len() < 100 && strconv.IsPrint(rune(byteBuff[0])) {
				buffer.Write(byteBuff)
				if m.echo {
					m.ttyWrite(byteBuff)
				}
			}
		}
	}
	m.Unlock()
}
