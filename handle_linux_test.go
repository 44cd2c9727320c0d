package linkmesh

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"linkmesh/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTapFd(t *testing.T) int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	t.Cleanup(func() { unix.Close(fds[0]) })
	return fds[0]
}

func freeUDPAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	addr := l.LocalAddr().(*net.UDPAddr)
	l.Close()
	return addr
}

func TestNewFreeEmptyHandleSucceeds(t *testing.T) {
	h, err := New(Config{LocalID: 1, TapFd: testTapFd(t), Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Free(); err != nil {
		t.Fatalf("Free on empty handle: %v", err)
	}
	// A second Free on an already-freed handle is a no-op, not an error.
	if err := h.Free(); err != nil {
		t.Fatalf("Free after Free: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{LocalID: 1, TapFd: -1}); err == nil {
		t.Fatalf("expected error for non-positive tap fd")
	}
}

func TestFreeRefusesWhileHostsRegistered(t *testing.T) {
	h, err := New(Config{LocalID: 1, TapFd: testTapFd(t), Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.AddHost(2, "peer", registry.Passive); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	if err := h.Free(); err != ErrBusy {
		t.Fatalf("Free with registered host = %v, want ErrBusy", err)
	}

	if err := h.RemoveHost(2); err != nil {
		t.Fatalf("RemoveHost: %v", err)
	}
	if err := h.Free(); err != nil {
		t.Fatalf("Free after RemoveHost: %v", err)
	}
}

func TestAddLinkEnableAndRemove(t *testing.T) {
	h, err := New(Config{LocalID: 1, TapFd: testTapFd(t), Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		_ = h.RemoveHost(2)
		_ = h.Free()
	}()

	if err := h.AddHost(2, "peer", registry.Passive); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	remote := freeUDPAddr(t)
	opts := LinkOptions{
		Remote:       remote,
		Priority:     1,
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  500 * time.Millisecond,
		Precision:    8192,
	}
	if err := h.AddLink(2, 0, opts); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := h.EnableLink(2, 0, true); err != nil {
		t.Fatalf("EnableLink: %v", err)
	}
	if err := h.RemoveLink(2, 0); err != nil {
		t.Fatalf("RemoveLink: %v", err)
	}
	// Removing an already-removed link is a no-op.
	if err := h.RemoveLink(2, 0); err != nil {
		t.Fatalf("RemoveLink twice: %v", err)
	}
}

func TestSetTransformForbiddenWhileEnabled(t *testing.T) {
	h, err := New(Config{LocalID: 1, TapFd: testTapFd(t), Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Free()

	h.Enable()
	if err := h.SetTransform(nil); err != ErrForwardingEnabled {
		t.Fatalf("SetTransform while enabled = %v, want ErrForwardingEnabled", err)
	}
	h.Disable()
	if err := h.SetTransform(nil); err != nil {
		t.Fatalf("SetTransform while disabled: %v", err)
	}
}
