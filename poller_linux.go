//go:build linux

package framesock

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epoll is the Linux Poller. An eventfd registered alongside the sockets lets
// Wake interrupt EpollWait from another goroutine.
type epoll struct {
	fd     int
	wakeFd int
	raw    []unix.EpollEvent
}

// NewPoller returns the platform readiness multiplexer.
func NewPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "eventfd")
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err = unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "register eventfd")
	}

	return &epoll{fd: fd, wakeFd: wakeFd}, nil
}

func epollEvents(interest Interest) uint32 {
	var events uint32
	if interest.Readable() {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.Writable() {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epoll) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	return errors.Wrapf(unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev), "epoll add fd %d", fd)
}

func (p *epoll) Modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	return errors.Wrapf(unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev), "epoll modify fd %d", fd)
}

func (p *epoll) Delete(fd int) error {
	return errors.Wrapf(unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil), "epoll delete fd %d", fd)
}

func (p *epoll) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.fd, raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "epoll wait")
	}

	count := 0
	for _, ev := range raw[:n] {
		fd := int(ev.Fd)
		if fd == p.wakeFd {
			p.drainWake()
			continue
		}

		events[count] = Event{
			Fd:       fd,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
		}
		count++
	}

	return count, nil
}

func (p *epoll) Wake() error {
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(p.wakeFd, one[:])
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return errors.Wrap(err, "eventfd write")
}

func (p *epoll) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakeFd, buf[:])
}

func (p *epoll) Close() error {
	werr := unix.Close(p.wakeFd)
	if err := unix.Close(p.fd); err != nil {
		return errors.Wrap(err, "close epoll")
	}
	return errors.Wrap(werr, "close eventfd")
}
