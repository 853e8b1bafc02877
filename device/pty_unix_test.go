//go:build !windows

package device

import (
	"strings"
	"testing"
)

func TestAllocPty(t *testing.T) {
	dev, err := Open(Spec{Kind: KindPty})
	if err != nil {
		t.Fatalf("Open(pty) error = %v", err)
	}
	defer dev.Close()

	name := dev.Name()
	if name == "" {
		t.Fatal("pty Name() is empty")
	}
	if !strings.HasPrefix(name, "/dev/") {
		t.Errorf("pty Name() = %q, want a /dev path", name)
	}

	if err := dev.SetDTR(true); err != nil {
		t.Errorf("SetDTR on pty should be a no-op, got %v", err)
	}
	if err := dev.Drain(); err != nil {
		t.Errorf("Drain on pty should be a no-op, got %v", err)
	}
}

func TestUnixPty_CloseTwice(t *testing.T) {
	dev, err := allocPty()
	if err != nil {
		t.Fatalf("allocPty() error = %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestUnixPty_IsSlaveClosed(t *testing.T) {
	dev, err := allocPty()
	if err != nil {
		t.Fatalf("allocPty() error = %v", err)
	}
	defer dev.Close()

	p, ok := dev.(*unixPty)
	if !ok {
		t.Fatalf("allocPty() returned %T, want *unixPty", dev)
	}

	// our own slave handle is still open, so the peer cannot be gone
	closed, err := p.IsSlaveClosed()
	if err != nil {
		t.Fatalf("IsSlaveClosed() error = %v", err)
	}
	if closed {
		t.Error("IsSlaveClosed() = true while the slave handle is held")
	}
}
