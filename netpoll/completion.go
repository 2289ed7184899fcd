package netpoll

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/huoshan017/mcnet/buffer"
	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/control"
	"github.com/huoshan017/mcnet/log"
)

// completion a finished operation, or the wake sentinel when kind is EventWake
type completion struct {
	kind EventKind
	sock *completionSocket
	conn net.Conn
	n    int
	err  error
}

// completionPort queue of finished operations, posted from io goroutines
// and drained by the network goroutine
type completionPort struct {
	mu     sync.Mutex
	q      *queue.Queue
	signal chan struct{}
}

func newCompletionPort() *completionPort {
	return &completionPort{
		q:      queue.New(),
		signal: make(chan struct{}, 1),
	}
}

func (p *completionPort) post(c *completion) {
	p.mu.Lock()
	p.q.Add(c)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// drain pop at most len(out) completions
func (p *completionPort) drain(out []*completion) int {
	p.mu.Lock()
	n := 0
	for n < len(out) && p.q.Length() > 0 {
		out[n] = p.q.Remove().(*completion)
		n++
	}
	more := p.q.Length() > 0
	p.mu.Unlock()
	if more {
		select {
		case p.signal <- struct{}{}:
		default:
		}
	}
	return n
}

type opState int8

const (
	opIdle opState = iota
	opInflight
	opDone
)

// completionBackend operations run speculatively on goroutines against
// net.Conn and net.Listener, their results are applied on the network
// goroutine inside Wait
type completionBackend struct {
	port           *completionPort
	listener       net.Listener
	acceptInflight bool
	accepted       []net.Conn
	acceptErr      error
	wg             sync.WaitGroup
	drained        []*completion
	closed         bool
}

func newCompletionBackend() *completionBackend {
	return &completionBackend{
		port: newCompletionPort(),
	}
}

func (b *completionBackend) Kind() BackendKind {
	return BackendCompletion
}

func (b *completionBackend) Listen(addr string, ctrl control.CtrlOptions) error {
	lc := net.ListenConfig{
		Control: control.GetControl(ctrl),
	}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	b.listener = listener
	b.issueAccept()
	return nil
}

func (b *completionBackend) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

func (b *completionBackend) issueAccept() {
	b.acceptInflight = true
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		conn, err := b.listener.Accept()
		b.port.post(&completion{kind: EventAccept, conn: conn, err: err})
	}()
}

func (b *completionBackend) Wait(events []Event, timeout time.Duration) (int, error) {
	if b.closed {
		return 0, ErrBackendClosed
	}
	if n := b.collect(events); n > 0 || timeout == 0 {
		return n, nil
	}
	if timeout < 0 {
		<-b.port.signal
	} else {
		timer := time.NewTimer(timeout)
		select {
		case <-b.port.signal:
			timer.Stop()
		case <-timer.C:
			return 0, nil
		}
	}
	return b.collect(events), nil
}

func (b *completionBackend) collect(events []Event) int {
	if cap(b.drained) < len(events) {
		b.drained = make([]*completion, len(events))
	}
	drained := b.drained[:len(events)]
	n := b.port.drain(drained)
	out := 0
	for i := 0; i < n; i++ {
		if ev, o := b.apply(drained[i]); o {
			events[out] = ev
			out++
		}
		drained[i] = nil
	}
	return out
}

// apply record a completion on its socket, stale ones produce no event
func (b *completionBackend) apply(c *completion) (Event, bool) {
	switch c.kind {
	case EventWake:
		return Event{Kind: EventWake}, true
	case EventAccept:
		b.acceptInflight = false
		if c.err != nil {
			if b.closed || errors.Is(c.err, net.ErrClosed) {
				b.acceptErr = c.err
				return Event{}, false
			}
			log.Infof("mcnet: accept err: %v", c.err)
			b.acceptErr = c.err
			return Event{Kind: EventAccept}, true
		}
		if b.closed {
			c.conn.Close()
			return Event{}, false
		}
		b.accepted = append(b.accepted, c.conn)
		return Event{Kind: EventAccept}, true
	case EventRead:
		s := c.sock
		s.readState, s.readN, s.readErr = opDone, c.n, c.err
		if !s.attached {
			return Event{}, false
		}
		return Event{Kind: EventRead, ID: s.id, Socket: s}, true
	case EventWrite:
		s := c.sock
		s.writeState, s.writeN, s.writeErr = opDone, c.n, c.err
		if !s.attached {
			return Event{}, false
		}
		return Event{Kind: EventWrite, ID: s.id, Socket: s}, true
	}
	return Event{}, false
}

func (b *completionBackend) Accept() (common.ISocket, common.IOCode) {
	if len(b.accepted) > 0 {
		conn := b.accepted[0]
		b.accepted[0] = nil
		b.accepted = b.accepted[1:]
		if tcp, o := conn.(*net.TCPConn); o {
			tcp.SetNoDelay(true)
		}
		return newCompletionSocket(b, conn), common.IOCOk
	}
	if b.listener == nil || b.closed {
		return nil, common.IOCError
	}
	if b.acceptErr != nil {
		err := b.acceptErr
		b.acceptErr = nil
		if errors.Is(err, net.ErrClosed) {
			return nil, common.IOCError
		}
	}
	if !b.acceptInflight {
		b.issueAccept()
	}
	return nil, common.IOCPending
}

func (b *completionBackend) socket(sock common.ISocket) (*completionSocket, error) {
	s, o := sock.(*completionSocket)
	if !o || s.b != b {
		return nil, ErrForeignSocket
	}
	return s, nil
}

func (b *completionBackend) Attach(id uint64, sock common.ISocket) error {
	s, err := b.socket(sock)
	if err != nil {
		return err
	}
	s.id = id
	s.attached = true
	return nil
}

func (b *completionBackend) Detach(id uint64, sock common.ISocket) error {
	s, err := b.socket(sock)
	if err != nil {
		return err
	}
	if s.id == id {
		s.attached = false
	}
	return nil
}

// completionBackend.WantWrite write completions are always reported
func (b *completionBackend) WantWrite(id uint64, sock common.ISocket, enable bool) error {
	return nil
}

// completionBackend.WantRead reads are only issued by the connection
func (b *completionBackend) WantRead(id uint64, sock common.ISocket, enable bool) error {
	return nil
}

func (b *completionBackend) Wake() error {
	b.port.post(&completion{kind: EventWake})
	return nil
}

func (b *completionBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.listener != nil {
		err = b.listener.Close()
	}
	b.wg.Wait()
	for _, conn := range b.accepted {
		conn.Close()
	}
	b.accepted = nil
	return err
}

// completionSocket net.Conn driven by one read and one write goroutine at
// most. The regions of an inflight operation stay owned by it until its
// completion is collected.
type completionSocket struct {
	b        *completionBackend
	conn     net.Conn
	id       uint64
	attached bool
	closed   bool
	wg       sync.WaitGroup

	readState opState
	readN     int
	readErr   error

	writeState opState
	writeN     int
	writeErr   error
}

func newCompletionSocket(b *completionBackend, conn net.Conn) *completionSocket {
	return &completionSocket{b: b, conn: conn}
}

func ioCodeOf(n int, err error) common.IOCode {
	if n > 0 {
		return common.IOCOk
	}
	if err == nil {
		return common.IOCAgain
	}
	if errors.Is(err, io.EOF) {
		return common.IOCClosed
	}
	return common.IOCError
}

func (s *completionSocket) Read(r buffer.Regions) (int, common.IOCode) {
	switch s.readState {
	case opInflight:
		return 0, common.IOCPending
	case opDone:
		s.readState = opIdle
		n, err := s.readN, s.readErr
		s.readN, s.readErr = 0, nil
		if n == 0 && err == nil {
			return 0, common.IOCClosed
		}
		return n, ioCodeOf(n, err)
	}
	if s.closed {
		return 0, common.IOCError
	}
	if r.Len() == 0 {
		return 0, common.IOCOk
	}
	s.readState = opInflight
	buf := r.First
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		n, err := s.conn.Read(buf)
		s.b.port.post(&completion{kind: EventRead, sock: s, n: n, err: err})
	}()
	return 0, common.IOCPending
}

func (s *completionSocket) Write(r buffer.Regions) (int, common.IOCode) {
	switch s.writeState {
	case opInflight:
		return 0, common.IOCPending
	case opDone:
		s.writeState = opIdle
		n, err := s.writeN, s.writeErr
		s.writeN, s.writeErr = 0, nil
		if err != nil {
			if n > 0 {
				// 已写出的部分仍然有效，下一次写会报告错误
				return n, common.IOCOk
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return 0, common.IOCClosed
			}
			return 0, common.IOCError
		}
		return n, common.IOCOk
	}
	if s.closed {
		return 0, common.IOCError
	}
	if r.Len() == 0 {
		return 0, common.IOCOk
	}
	s.writeState = opInflight
	bufs := r.Buffers()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		n, err := bufs.WriteTo(s.conn)
		s.b.port.post(&completion{kind: EventWrite, sock: s, n: int(n), err: err})
	}()
	return 0, common.IOCPending
}

func (s *completionSocket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// completionSocket.Close close the conn and wait the inflight operations,
// nothing writes into the regions afterwards
func (s *completionSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.attached = false
	err := s.conn.Close()
	s.wg.Wait()
	return err
}
