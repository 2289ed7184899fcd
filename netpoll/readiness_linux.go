//go:build linux

package netpoll

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/huoshan017/mcnet/buffer"
	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/control"
	"github.com/huoshan017/mcnet/log"
)

const (
	maxEpollEvents = 256
	readEvents     = unix.EPOLLIN | unix.EPOLLRDHUP
)

// readinessBackend level triggered epoll, an eventfd wakes Wait
type readinessBackend struct {
	epfd    int
	wakefd  int
	lfd     int
	addr    net.Addr
	evbuf   []unix.EpollEvent
	sockets map[int]*readinessSocket // fd -> socket
	closed  bool
}

func newReadinessBackend() (IBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("mcnet: epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("mcnet: eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("mcnet: epoll add eventfd: %w", err)
	}
	return &readinessBackend{
		epfd:    epfd,
		wakefd:  wakefd,
		lfd:     -1,
		evbuf:   make([]unix.EpollEvent, maxEpollEvents),
		sockets: make(map[int]*readinessSocket),
	}, nil
}

func (b *readinessBackend) Kind() BackendKind {
	return BackendReadiness
}

func (b *readinessBackend) Listen(addr string, ctrl control.CtrlOptions) error {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	var (
		domain = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ta.IP == nil || ta.IP.To4() != nil {
		sa4 := &unix.SockaddrInet4{Port: ta.Port}
		if ta.IP != nil {
			copy(sa4.Addr[:], ta.IP.To4())
		}
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa6.Addr[:], ta.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("mcnet: socket create: %w", err)
	}
	if err = control.SetSockopts(fd, ctrl); err != nil {
		unix.Close(fd)
		return fmt.Errorf("mcnet: socket options: %w", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("mcnet: bind %v: %w", addr, err)
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("mcnet: listen %v: %w", addr, err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return fmt.Errorf("mcnet: epoll add listener: %w", err)
	}
	if local, err := unix.Getsockname(fd); err == nil {
		b.addr = sockaddrToTCPAddr(local)
	}
	b.lfd = fd
	return nil
}

func (b *readinessBackend) Addr() net.Addr {
	return b.addr
}

func (b *readinessBackend) Wait(events []Event, timeout time.Duration) (int, error) {
	if b.closed {
		return 0, ErrBackendClosed
	}
	// 一个epoll事件最多产生读写两个事件
	limit := len(events) / 2
	if limit == 0 {
		limit = 1
	}
	if limit > len(b.evbuf) {
		limit = len(b.evbuf)
	}
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}
	n, err := unix.EpollWait(b.epfd, b.evbuf[:limit], msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("mcnet: epoll wait: %w", err)
	}

	out := 0
	for i := 0; i < n && out < len(events); i++ {
		ev := &b.evbuf[i]
		fd := int(ev.Fd)
		switch fd {
		case b.wakefd:
			var buf [8]byte
			unix.Read(b.wakefd, buf[:])
			events[out] = Event{Kind: EventWake}
			out++
		case b.lfd:
			events[out] = Event{Kind: EventAccept}
			out++
		default:
			s, o := b.sockets[fd]
			if !o {
				continue
			}
			if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				events[out] = Event{Kind: EventRead, ID: s.id, Socket: s}
				out++
			}
			if ev.Events&unix.EPOLLOUT != 0 && out < len(events) {
				events[out] = Event{Kind: EventWrite, ID: s.id, Socket: s}
				out++
			}
		}
	}
	return out, nil
}

func (b *readinessBackend) Accept() (common.ISocket, common.IOCode) {
	if b.lfd < 0 {
		return nil, common.IOCError
	}
	for {
		nfd, sa, err := unix.Accept4(b.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EINTR, unix.ECONNABORTED:
				continue
			case unix.EAGAIN:
				return nil, common.IOCAgain
			}
			log.Infof("mcnet: accept err: %v", err)
			return nil, common.IOCError
		}
		control.SetNoDelay(nfd, true)
		return newReadinessSocket(nfd, sockaddrToTCPAddr(sa)), common.IOCOk
	}
}

func (b *readinessBackend) socket(sock common.ISocket) (*readinessSocket, error) {
	s, o := sock.(*readinessSocket)
	if !o {
		return nil, ErrForeignSocket
	}
	return s, nil
}

func (b *readinessBackend) Attach(id uint64, sock common.ISocket) error {
	s, err := b.socket(sock)
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(s.fd)}
	if err = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, s.fd, &ev); err != nil {
		return fmt.Errorf("mcnet: epoll add: %w", err)
	}
	s.id = id
	b.sockets[s.fd] = s
	return nil
}

func (b *readinessBackend) Detach(id uint64, sock common.ISocket) error {
	s, err := b.socket(sock)
	if err != nil {
		return err
	}
	if cur, o := b.sockets[s.fd]; !o || cur != s {
		return nil
	}
	delete(b.sockets, s.fd)
	if err = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, s.fd, nil); err != nil {
		return fmt.Errorf("mcnet: epoll del: %w", err)
	}
	return nil
}

func (b *readinessBackend) WantWrite(id uint64, sock common.ISocket, enable bool) error {
	s, err := b.socket(sock)
	if err != nil {
		return err
	}
	if s.wantWrite == enable {
		return nil
	}
	return b.modify(s, !s.readOff, enable)
}

// readinessBackend.WantRead level triggered EPOLLIN would fire on every Wait
// while unread bytes wait behind a connection that no longer reads
func (b *readinessBackend) WantRead(id uint64, sock common.ISocket, enable bool) error {
	s, err := b.socket(sock)
	if err != nil {
		return err
	}
	if s.readOff == !enable {
		return nil
	}
	return b.modify(s, enable, s.wantWrite)
}

func (b *readinessBackend) modify(s *readinessSocket, read, write bool) error {
	var events uint32
	if read {
		events = readEvents
	}
	if write {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(s.fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, s.fd, &ev); err != nil {
		return fmt.Errorf("mcnet: epoll mod: %w", err)
	}
	s.readOff, s.wantWrite = !read, write
	return nil
}

func (b *readinessBackend) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(b.wakefd, buf[:])
	if err == unix.EAGAIN {
		// 计数器已满，Wait必然会醒来
		return nil
	}
	return err
}

func (b *readinessBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.lfd >= 0 {
		unix.Close(b.lfd)
		b.lfd = -1
	}
	for fd, s := range b.sockets {
		s.Close()
		delete(b.sockets, fd)
	}
	unix.Close(b.wakefd)
	return unix.Close(b.epfd)
}

// readinessSocket non-blocking descriptor, vectored io over region spans
type readinessSocket struct {
	fd        int
	id        uint64
	remote    net.Addr
	wantWrite bool
	readOff   bool
	closed    bool
	iov       [2][]byte
}

func newReadinessSocket(fd int, remote net.Addr) *readinessSocket {
	return &readinessSocket{fd: fd, remote: remote}
}

func (s *readinessSocket) spans(r buffer.Regions) [][]byte {
	s.iov[0], s.iov[1] = r.First, r.Second
	if len(r.Second) == 0 {
		return s.iov[:1]
	}
	return s.iov[:2]
}

func (s *readinessSocket) Read(r buffer.Regions) (int, common.IOCode) {
	if s.closed {
		return 0, common.IOCError
	}
	if r.Len() == 0 {
		return 0, common.IOCOk
	}
	for {
		n, err := unix.Readv(s.fd, s.spans(r))
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return 0, common.IOCAgain
			case unix.ECONNRESET:
				return 0, common.IOCClosed
			}
			return 0, common.IOCError
		}
		if n == 0 {
			return 0, common.IOCClosed
		}
		return n, common.IOCOk
	}
}

func (s *readinessSocket) Write(r buffer.Regions) (int, common.IOCode) {
	if s.closed {
		return 0, common.IOCError
	}
	if r.Len() == 0 {
		return 0, common.IOCOk
	}
	for {
		n, err := unix.Writev(s.fd, s.spans(r))
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return 0, common.IOCAgain
			case unix.EPIPE, unix.ECONNRESET:
				return 0, common.IOCClosed
			}
			return 0, common.IOCError
		}
		if n == 0 {
			return 0, common.IOCAgain
		}
		return n, common.IOCOk
	}
}

func (s *readinessSocket) RemoteAddr() net.Addr {
	return s.remote
}

func (s *readinessSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	}
	return nil
}
