package client

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/huoshan017/mcnet/log"
)

const (
	ConnStateNotConnect    = iota // 非连接状态
	ConnStateConnecting    = 1    // 连接中状态
	ConnStateConnected     = 2    // 已连接状态
	ConnStateDisconnecting = 3    // 正在断开状态
)

type connectResult struct {
	conn net.Conn
	err  error
}

// Connector dials the server, synchronously or in a goroutine whose
// result is collected by WaitResult
type Connector struct {
	conn            net.Conn
	asyncResultCh   chan connectResult
	connectCallback func(error)
	state           int32
}

// 创建连接器
func NewConnector() *Connector {
	return &Connector{
		asyncResultCh: make(chan connectResult, 1),
	}
}

// 带超时的同步连接，timeout为0不超时
func (c *Connector) Connect(address string, timeout time.Duration) (net.Conn, error) {
	conn, err := c.connect(address, timeout)
	if err == nil {
		c.conn = conn
	}
	return conn, err
}

// 异步连接
func (c *Connector) ConnectAsync(address string, timeout time.Duration, connectCB func(error)) {
	c.connectCallback = connectCB
	atomic.StoreInt32(&c.state, ConnStateConnecting)
	go func() {
		defer func() {
			if err := recover(); err != nil {
				log.WithStack(err)
			}
		}()
		conn, err := c.connect(address, timeout)
		c.asyncResultCh <- connectResult{conn, err}
	}()
}

func (c *Connector) GetConn() net.Conn {
	return c.conn
}

// 等待结果，wait参数为等待时间，如果这个时间内有了结果就提前返回，返回是否得到结果
func (c *Connector) WaitResult(wait time.Duration) bool {
	var d connectResult
	if wait <= 0 {
		select {
		case d = <-c.asyncResultCh:
		default:
			return false
		}
	} else {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
			return false
		case d = <-c.asyncResultCh:
		}
	}
	if d.err == nil {
		c.conn = d.conn
	}
	if c.connectCallback != nil {
		c.connectCallback(d.err)
	}
	return true
}

// 是否已连接
func (c *Connector) IsConnected() bool {
	return atomic.LoadInt32(&c.state) == ConnStateConnected
}

// 是否正在连接
func (c *Connector) IsConnecting() bool {
	return atomic.LoadInt32(&c.state) == ConnStateConnecting
}

// 是否断连或未连接
func (c *Connector) IsDisconnected() bool {
	return atomic.LoadInt32(&c.state) == ConnStateNotConnect
}

// 关闭连接
func (c *Connector) Close() error {
	if c.conn == nil {
		return nil
	}
	atomic.StoreInt32(&c.state, ConnStateDisconnecting)
	err := c.conn.Close()
	atomic.StoreInt32(&c.state, ConnStateNotConnect)
	return err
}

// 内部连接函数
func (c *Connector) connect(address string, timeout time.Duration) (net.Conn, error) {
	var conn net.Conn
	var err error
	if timeout > 0 {
		conn, err = net.DialTimeout("tcp", address, timeout)
	} else {
		conn, err = net.Dial("tcp", address)
	}
	if err != nil {
		atomic.StoreInt32(&c.state, ConnStateNotConnect)
		return nil, err
	}
	if tcp, o := conn.(*net.TCPConn); o {
		tcp.SetNoDelay(true)
	}
	atomic.StoreInt32(&c.state, ConnStateConnected)
	return conn, nil
}
