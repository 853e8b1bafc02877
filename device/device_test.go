package device

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		baud int
		want Spec
		err  error
	}{
		{"unix socket", "unix:/tmp/vesper.sock", 0, Spec{Kind: KindUnixSocket, Path: "/tmp/vesper.sock"}, nil},
		{"unix without path", "unix:", 0, Spec{}, ErrMisconfigured},
		{"tcp dial", "tcp:127.0.0.1:9000", 0, Spec{Kind: KindTCPSocket, Host: "127.0.0.1", Port: 9000}, nil},
		{"tcp wildcard", "tcp::9000", 0, Spec{Kind: KindTCPSocket, Host: "", Port: 9000}, nil},
		{"tcp missing port", "tcp:host", 0, Spec{}, ErrMisconfigured},
		{"tcp bad port", "tcp:host:notaport", 0, Spec{}, ErrMisconfigured},
		{"tcp port out of range", "tcp:host:70000", 0, Spec{}, ErrMisconfigured},
		{"pipe short form", "pipe:vesper", 0, Spec{Kind: KindNamedPipe, Path: `\\.\pipe\vesper`}, nil},
		{"pipe native form", `\\.\pipe\vesper`, 0, Spec{Kind: KindNamedPipe, Path: `\\.\pipe\vesper`}, nil},
		{"com port", "COM3", 38400, Spec{Kind: KindSerial, Path: "COM3", Baud: 38400}, nil},
		{"com port invalid", "COMx", 38400, Spec{}, ErrMisconfigured},
		{"serial path", "/dev/ttyUSB0", 19200, Spec{Kind: KindSerial, Path: "/dev/ttyUSB0", Baud: 19200}, nil},
		{"serial bad baud", "/dev/ttyUSB0", 0, Spec{}, ErrMisconfigured},
		{"pts path", "/dev/pts/3", 0, Spec{Kind: KindCharDev, Path: "/dev/pts/3"}, nil},
		{"fresh pty", "pty", 0, Spec{Kind: KindPty}, nil},
		{"empty", "", 0, Spec{}, ErrMisconfigured},
		{"garbage", "carrier::pigeon", 0, Spec{}, ErrMisconfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, tt.baud)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("Parse(%q) error = %v, want %v", tt.raw, err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSerial, "serial"},
		{KindPty, "pty"},
		{KindCharDev, "chardev"},
		{KindUnixSocket, "unix"},
		{KindTCPSocket, "tcp"},
		{KindNamedPipe, "pipe"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestOpenUnixSocket_ListenThenAccept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vesper.sock")

	type result struct {
		dev Device
		err error
	}
	opened := make(chan result, 1)
	go func() {
		dev, err := Open(Spec{Kind: KindUnixSocket, Path: path})
		opened <- result{dev, err}
	}()

	// the path does not exist, so Open binds it and waits for one peer
	var peer net.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		var err error
		peer, err = net.Dial("unix", path)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("could not reach bridge-side listener: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer peer.Close()

	res := <-opened
	if res.err != nil {
		t.Fatalf("Open() error = %v", res.err)
	}
	defer res.dev.Close()

	if err := res.dev.SetDTR(true); err != nil {
		t.Errorf("SetDTR on socket device should be a no-op, got %v", err)
	}

	go peer.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := res.dev.Read(buf); err != nil {
		t.Fatalf("device read: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("device read %q, want ping", buf)
	}

	go res.dev.Write([]byte("pong"))
	if _, err := peer.Read(buf); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("peer read %q, want pong", buf)
	}
}

func TestOpenUnixSocket_DialExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vesper.sock")

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	dev, err := Open(Spec{Kind: KindUnixSocket, Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer dev.Close()

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never dialled the existing socket")
	}
}

func TestOpenCharDev_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-such-pts")
	if _, err := Open(Spec{Kind: KindCharDev, Path: path}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open() error = %v, want ErrUnavailable", err)
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	if _, err := Open(Spec{Kind: Kind(42)}); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("Open() error = %v, want ErrMisconfigured", err)
	}
}
