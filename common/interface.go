package common

import (
	"net"

	"github.com/huoshan017/mcnet/buffer"
)

// ISocket non-blocking socket of an event loop backend. Read fills the
// regions and Write drains them; a PENDING call must be repeated with the
// same regions once the backend reports its completion.
type ISocket interface {
	Read(r buffer.Regions) (int, IOCode)
	Write(r buffer.Regions) (int, IOCode)
	RemoteAddr() net.Addr
	Close() error
}

// IExecutor runs closures on the network goroutine
type IExecutor interface {
	Post(fn func())
}

// IConnOwner event loop owning a connection
type IConnOwner interface {
	IExecutor
	// 请求网络线程发送连接的发送缓冲，可在任意协程调用
	RequestFlush(c *Conn)
}
