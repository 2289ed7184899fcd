package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/huoshan017/mcnet/auth"
	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/control"
	"github.com/huoshan017/mcnet/handler"
	"github.com/huoshan017/mcnet/log"
	"github.com/huoshan017/mcnet/netpoll"
	"github.com/huoshan017/mcnet/protocol"
)

const (
	DefaultServerMaxConnCount = 20000
	DefaultSweepTick          = time.Second // 默认空闲检查间隔
	DefaultWaitEvents         = 1024
	ShutdownReason            = "Server closed"
	ShutdownDrainTimeout      = time.Second // 关闭时等待断开包发出的时间
)

var (
	ErrServerRunning  = errors.New("mcnet: server is already serving")
	ErrNameInUse      = errors.New("You are already connected to this server")
	ErrConnNotFound   = errors.New("mcnet: connection not found")
	ErrServerNotReady = errors.New("mcnet: server is not listening")
)

// 服务器，所有连接都在Serve所在的网络协程上处理
type Server struct {
	options      ServerOptions
	backend      netpoll.IBackend
	dispatcher   *common.Dispatcher
	loginHandler handler.ILoginEventHandler
	table        *ConnTable
	events       []netpoll.Event

	taskMu  sync.Mutex
	tasks   *queue.Queue // func()
	flushMu sync.Mutex
	flushes *queue.Queue // *common.Conn
	pending []*common.Conn
	sweep   []*common.Conn

	wakeQueued atomic.Bool
	running    atomic.Bool
	stopped    atomic.Bool
	doneCh     chan struct{}
	lastSweep  time.Time
}

// NewServer loginHandler receives the login hooks, may be nil
func NewServer(loginHandler handler.ILoginEventHandler, options ...common.Option) *Server {
	s := &Server{
		loginHandler: loginHandler,
		dispatcher:   common.NewDispatcher(),
		tasks:        queue.New(),
		flushes:      queue.New(),
		doneCh:       make(chan struct{}),
	}
	s.init(options...)
	return s
}

func (s *Server) init(options ...common.Option) {
	s.options.Options = *common.NewOptions()
	for _, option := range options {
		option(&s.options.Options)
	}
	s.options.Normalize()
	if s.options.GetConnMaxCount() <= 0 {
		s.options.SetConnMaxCount(DefaultServerMaxConnCount)
	}
	if s.options.GetSweepTick() <= 0 {
		s.options.SetSweepTick(DefaultSweepTick)
	}
	if s.options.GetWaitEvents() <= 0 {
		s.options.SetWaitEvents(DefaultWaitEvents)
	}
	if s.options.GetOnlineMode() && s.options.GetAuthenticator() == nil {
		s.options.SetAuthenticator(auth.NewSessionServer())
	}
	s.table = NewConnTable(s.options.GetConnMaxCount())
	s.events = make([]netpoll.Event, s.options.GetWaitEvents())
	h := handler.NewDefaultBasePacketHandler(&s.options.Options, s, s.table.Len)
	handler.RegisterDefault(s.dispatcher, h)
}

func (s *Server) Options() *ServerOptions {
	return &s.options
}

// Server.Dispatcher register play packet handlers here before Serve
func (s *Server) Dispatcher() *common.Dispatcher {
	return s.dispatcher
}

func (s *Server) Listen(addr string) error {
	backend, err := netpoll.NewBackend(s.options.GetBackendKind())
	if err != nil {
		return err
	}
	var ctrlOptions control.CtrlOptions
	if s.options.GetReuseAddr() {
		ctrlOptions.ReuseAddr = 1
	}
	if s.options.GetReusePort() {
		ctrlOptions.ReusePort = 1
	}
	if err = backend.Listen(addr, ctrlOptions); err != nil {
		backend.Close()
		return err
	}
	s.backend = backend
	log.Infof("mcnet: server listen %v with %v backend", backend.Addr(), backend.Kind())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.backend == nil {
		return nil
	}
	return s.backend.Addr()
}

// Server.Serve run the network loop on the calling goroutine until Stop
func (s *Server) Serve() error {
	if s.backend == nil {
		return ErrServerNotReady
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer close(s.doneCh)
	defer func() {
		if err := recover(); err != nil {
			log.WithStack(err)
			s.shutdown()
			panic(err)
		}
	}()

	s.lastSweep = time.Now()
	tick := s.options.GetSweepTick()
	var err error
	for !s.stopped.Load() {
		timeout := tick - time.Since(s.lastSweep)
		if timeout < 0 {
			timeout = 0
		}
		var n int
		n, err = s.backend.Wait(s.events, timeout)
		if err != nil {
			log.Errorf("mcnet: server wait err: %v", err)
			break
		}
		s.wakeQueued.Store(false)
		for i := 0; i < n; i++ {
			s.handleEvent(&s.events[i])
			s.events[i] = netpoll.Event{}
		}
		s.runTasks()
		if now := time.Now(); now.Sub(s.lastSweep) >= tick {
			s.sweepIdle(now)
			s.lastSweep = now
		}
		s.flushPending()
	}
	s.shutdown()
	return err
}

// Server.Stop ask the network loop to end, safe on any goroutine
func (s *Server) Stop() {
	if s.stopped.CompareAndSwap(false, true) && s.backend != nil {
		s.backend.Wake()
	}
}

// Server.Done closed once Serve returned
func (s *Server) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Server) wake() {
	if s.backend == nil {
		return
	}
	if s.wakeQueued.CompareAndSwap(false, true) {
		if err := s.backend.Wake(); err != nil {
			log.Warnf("mcnet: server wake err: %v", err)
		}
	}
}

// Server.Post run fn on the network goroutine
func (s *Server) Post(fn func()) {
	s.taskMu.Lock()
	s.tasks.Add(fn)
	s.taskMu.Unlock()
	s.wake()
}

// Server.RequestFlush queue c for flushing on the network goroutine
func (s *Server) RequestFlush(c *common.Conn) {
	s.flushMu.Lock()
	s.flushes.Add(c)
	s.flushMu.Unlock()
	s.wake()
}

func (s *Server) runTasks() {
	for {
		s.taskMu.Lock()
		if s.tasks.Length() == 0 {
			s.taskMu.Unlock()
			return
		}
		fn := s.tasks.Remove().(func())
		s.taskMu.Unlock()
		fn()
	}
}

func (s *Server) flushPending() {
	s.flushMu.Lock()
	for s.flushes.Length() > 0 {
		s.pending = append(s.pending, s.flushes.Remove().(*common.Conn))
	}
	s.flushMu.Unlock()
	for i, c := range s.pending {
		if !c.IsClosed() {
			s.flush(c)
		}
		s.pending[i] = nil
	}
	s.pending = s.pending[:0]
}

func (s *Server) handleEvent(ev *netpoll.Event) {
	switch ev.Kind {
	case netpoll.EventAccept:
		s.acceptConns()
	case netpoll.EventRead:
		if c := s.eventConn(ev); c != nil {
			s.onReadable(c)
		}
	case netpoll.EventWrite:
		if c := s.eventConn(ev); c != nil {
			s.flush(c)
		}
	case netpoll.EventWake:
	}
}

// eventConn connection of ev, nil for events of closed connections
func (s *Server) eventConn(ev *netpoll.Event) *common.Conn {
	c := s.table.Get(ev.ID)
	if c == nil || c.IsClosed() || c.Socket() != ev.Socket {
		return nil
	}
	return c
}

func (s *Server) acceptConns() {
	for {
		sock, code := s.backend.Accept()
		switch code {
		case common.IOCOk:
		case common.IOCAgain, common.IOCPending:
			return
		default:
			log.Warnf("mcnet: server accept code %v", code)
			return
		}
		if s.table.Len() >= s.options.GetConnMaxCount() {
			log.Infof("mcnet: connection to server is maximum, refuse %v", sock.RemoteAddr())
			sock.Close()
			continue
		}
		c, err := s.table.Add(func(id uint64) *common.Conn {
			return common.NewConn(id, sock, s, s.dispatcher, &s.options.Options)
		})
		if err != nil {
			log.Infof("mcnet: refuse %v: %v", sock.RemoteAddr(), err)
			sock.Close()
			continue
		}
		if err = s.backend.Attach(c.ID(), sock); err != nil {
			log.Warnf("mcnet: attach conn %v err: %v", c.ID(), err)
			s.table.Remove(c.ID())
			c.Close(err)
			continue
		}
		log.Debugf("mcnet: conn %v accepted from %v", c.ID(), sock.RemoteAddr())
		// 完成模型需要先投递第一次读
		s.onReadable(c)
	}
}

func (s *Server) onReadable(c *common.Conn) {
	if code := c.OnReadable(); code.IsFatal() {
		s.closeConn(c, c.Err())
		return
	}
	if c.IsClosing() {
		s.flush(c)
	}
}

func (s *Server) flush(c *common.Conn) {
	code := c.Flush()
	if code.IsFatal() {
		s.closeConn(c, c.Err())
		return
	}
	if code.IsRetry() {
		if c.IsClosing() {
			s.stopReading(c)
		}
		if code == common.IOCAgain {
			if err := s.backend.WantWrite(c.ID(), c.Socket(), true); err != nil {
				s.closeConn(c, err)
			}
		}
		return
	}
	if err := s.backend.WantWrite(c.ID(), c.Socket(), false); err != nil {
		log.Debugf("mcnet: conn %v want write err: %v", c.ID(), err)
	}
	if c.IsClosing() {
		s.closeConn(c, c.Err())
	}
}

// stopReading a closing connection only waits for its send ring to drain
func (s *Server) stopReading(c *common.Conn) {
	if err := s.backend.WantRead(c.ID(), c.Socket(), false); err != nil {
		log.Debugf("mcnet: conn %v want read err: %v", c.ID(), err)
	}
}

func (s *Server) closeConn(c *common.Conn, err error) {
	if c.IsClosed() {
		return
	}
	if e := s.backend.Detach(c.ID(), c.Socket()); e != nil {
		log.Debugf("mcnet: detach conn %v err: %v", c.ID(), e)
	}
	s.table.Remove(c.ID())
	if name := c.Name(); name != "" {
		s.table.UnbindName(name, c)
	}
	c.Close(err)
	if err == nil || errors.Is(err, common.ErrConnClosed) {
		log.Debugf("mcnet: conn %v closed", c.ID())
	} else {
		log.Infof("mcnet: conn %v closed: %v", c.ID(), err)
	}
}

// sweepIdle close connections without keep alive for the timeout and
// send keep alives to the playing ones. A closing connection gets one
// sweep tick to drain its send ring.
func (s *Server) sweepIdle(now time.Time) {
	s.table.Range(func(c *common.Conn) bool {
		s.sweep = append(s.sweep, c)
		return true
	})
	timeout := s.options.GetKeepAliveTimeout()
	interval := s.options.GetKeepAliveInterval()
	linger := s.options.GetSweepTick()
	for i, c := range s.sweep {
		s.sweep[i] = nil
		if c.IsClosed() {
			continue
		}
		if c.IsClosing() {
			if now.Sub(c.ClosingSince()) >= linger {
				s.closeConn(c, c.Err())
			}
			continue
		}
		if c.IsIdle(now, timeout) {
			err := fmt.Errorf("%w: last %v", common.ErrKeepAliveTimeout, c.LastKeepAlive().Format(time.RFC3339))
			if c.State() != protocol.StatePlay {
				s.closeConn(c, err)
				continue
			}
			log.Infof("mcnet: conn %v %v", c.ID(), err)
			// 断开包发送完成后由flush关闭
			c.Disconnect("Timed out")
			s.flush(c)
			continue
		}
		if err := c.SendKeepAlive(now, interval); err != nil && !common.IsNoDisconnectError(err) {
			s.closeConn(c, err)
		}
	}
	s.sweep = s.sweep[:0]
}

// shutdown disconnect every live connection, wait at most
// ShutdownDrainTimeout for their send rings to drain, then close them and
// the backend
func (s *Server) shutdown() {
	s.table.Range(func(c *common.Conn) bool {
		s.sweep = append(s.sweep, c)
		return true
	})
	for i, c := range s.sweep {
		s.sweep[i] = nil
		if c.IsClosed() {
			continue
		}
		c.Disconnect(ShutdownReason)
		s.flush(c)
	}
	s.sweep = s.sweep[:0]

	s.drain(time.Now().Add(ShutdownDrainTimeout))

	s.table.Range(func(c *common.Conn) bool {
		s.sweep = append(s.sweep, c)
		return true
	})
	for i, c := range s.sweep {
		s.sweep[i] = nil
		s.closeConn(c, common.ErrServerShutdown)
	}
	s.sweep = s.sweep[:0]
	if err := s.backend.Close(); err != nil {
		log.Debugf("mcnet: backend close err: %v", err)
	}
	log.Infof("mcnet: server stopped")
}

// drain handle write events until every closing connection flushed or deadline
func (s *Server) drain(deadline time.Time) {
	for s.table.Len() > 0 {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			log.Infof("mcnet: %v connections not drained before shutdown", s.table.Len())
			return
		}
		n, err := s.backend.Wait(s.events, timeout)
		if err != nil {
			log.Debugf("mcnet: drain wait err: %v", err)
			return
		}
		s.wakeQueued.Store(false)
		for i := 0; i < n; i++ {
			ev := &s.events[i]
			if ev.Kind == netpoll.EventWrite {
				if c := s.eventConn(ev); c != nil {
					s.flush(c)
				}
			}
			s.events[i] = netpoll.Event{}
		}
		s.flushPending()
	}
}

// Server.Lookup connection of a logged in player, safe on any goroutine
func (s *Server) Lookup(name string) *common.Conn {
	return s.table.Lookup(name)
}

// Server.ConnCount live connections
func (s *Server) ConnCount() int {
	return s.table.Len()
}

// Server.Send send p to connection id, safe on any goroutine
func (s *Server) Send(id uint64, p protocol.Outbound) error {
	c := s.table.Get(id)
	if c == nil {
		return ErrConnNotFound
	}
	return c.Send(p)
}

func (s *Server) OnLogin(c *common.Conn, profile *auth.Profile) error {
	if !s.table.BindName(profile.Name, c) {
		return ErrNameInUse
	}
	if s.loginHandler != nil {
		if err := s.loginHandler.OnLogin(c, profile); err != nil {
			s.table.UnbindName(profile.Name, c)
			return err
		}
	}
	return nil
}

func (s *Server) OnPlay(c *common.Conn) {
	if s.loginHandler != nil {
		s.loginHandler.OnPlay(c)
	}
}
