//go:build linux

package framesock

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestPoller(t *testing.T) Poller {
	t.Helper()

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestEpoll_ReadInterest(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)

	if err := p.Add(a, InterestRead); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	events := make([]Event, 8)
	n, err := p.Wait(events, 0)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no events before data arrives, got %d", n)
	}

	if _, err = unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	n, err = p.Wait(events, time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n != 1 || events[0].Fd != a || !events[0].Readable || events[0].Writable {
		t.Errorf("events = %+v", events[:n])
	}
}

func TestEpoll_Modify(t *testing.T) {
	p := newTestPoller(t)
	a, _ := socketPair(t)

	if err := p.Add(a, InterestRead); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := p.Modify(a, InterestWrite); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	events := make([]Event, 8)
	n, err := p.Wait(events, time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n != 1 || !events[0].Writable {
		t.Errorf("expected a writable event, got %+v", events[:n])
	}

	if err = p.Delete(a); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n, _ = p.Wait(events, 0); n != 0 {
		t.Errorf("deleted descriptor still reported: %+v", events[:n])
	}
}

func TestEpoll_PeerHangupIsReadable(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)

	if err := p.Add(a, InterestRead); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	_ = unix.Shutdown(b, unix.SHUT_WR)

	events := make([]Event, 8)
	n, err := p.Wait(events, time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n != 1 || !events[0].Readable {
		t.Errorf("hangup should be reported as readable, got %+v", events[:n])
	}
}

func TestEpoll_Wake(t *testing.T) {
	p := newTestPoller(t)

	done := make(chan int, 1)
	go func() {
		n, _ := p.Wait(make([]Event, 8), -1)
		done <- n
	}()

	time.Sleep(time.Millisecond * 20)
	if err := p.Wake(); err != nil {
		t.Fatalf("Wake failed: %v", err)
	}

	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("wake should not surface as an event, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait was not interrupted by Wake")
	}
}

func TestEpoll_AddInvalidFd(t *testing.T) {
	p := newTestPoller(t)
	if err := p.Add(-1, InterestRead); err == nil {
		t.Error("expected error for invalid descriptor")
	}
}

func TestListenerAccept(t *testing.T) {
	ln, err := listenTCP(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listenTCP failed: %v", err)
	}
	defer ln.Close()

	if _, err = ln.accept(); err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock with no pending connection, got %v", err)
	}

	peer, err := net.Dial("tcp", ln.addr.String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer peer.Close()

	var sock Socket
	for i := 0; i < 100; i++ {
		if sock, err = ln.accept(); err != ErrWouldBlock {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	defer sock.Close()

	if _, err = sock.Read(make([]byte, 8)); err != ErrWouldBlock {
		t.Errorf("expected ErrWouldBlock on empty socket, got %v", err)
	}

	if _, err = peer.Write([]byte("hi")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, 8)
	var n int
	for i := 0; i < 100; i++ {
		if n, err = sock.Read(buf); err != ErrWouldBlock {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil || string(buf[:n]) != "hi" {
		t.Errorf("Read = %q, %v", buf[:n], err)
	}

	if err = sock.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err = sock.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
