package server

import (
	"time"
	"unsafe"

	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/netpoll"
)

// 服务选项结构
type ServerOptions struct {
	common.Options
	connMaxCount int                 // 連接最大數
	backendKind  netpoll.BackendKind // 事件循环后端
	reusePort    bool                // 重用端口
	reuseAddr    bool                // 重用地址
	sweepTick    time.Duration       // 空闲连接检查间隔
	waitEvents   int                 // 单次等待的事件数
}

func (options *ServerOptions) GetConnMaxCount() int {
	return options.connMaxCount
}

func (options *ServerOptions) SetConnMaxCount(count int) {
	options.connMaxCount = count
}

func (options *ServerOptions) GetBackendKind() netpoll.BackendKind {
	return options.backendKind
}

func (options *ServerOptions) SetBackendKind(kind netpoll.BackendKind) {
	options.backendKind = kind
}

func (options *ServerOptions) GetReuseAddr() bool {
	return options.reuseAddr
}

func (options *ServerOptions) SetReuseAddr(enable bool) {
	options.reuseAddr = enable
}

func (options *ServerOptions) GetReusePort() bool {
	return options.reusePort
}

func (options *ServerOptions) SetReusePort(enable bool) {
	options.reusePort = enable
}

func (options *ServerOptions) GetSweepTick() time.Duration {
	return options.sweepTick
}

func (options *ServerOptions) SetSweepTick(tick time.Duration) {
	options.sweepTick = tick
}

func (options *ServerOptions) GetWaitEvents() int {
	return options.waitEvents
}

func (options *ServerOptions) SetWaitEvents(n int) {
	options.waitEvents = n
}

func WithConnMaxCount(count int) common.Option {
	return func(options *common.Options) {
		p := (*ServerOptions)(unsafe.Pointer(options))
		p.SetConnMaxCount(count)
	}
}

func WithBackendKind(kind netpoll.BackendKind) common.Option {
	return func(options *common.Options) {
		p := (*ServerOptions)(unsafe.Pointer(options))
		p.SetBackendKind(kind)
	}
}

func WithReuseAddr(enable bool) common.Option {
	return func(options *common.Options) {
		p := (*ServerOptions)(unsafe.Pointer(options))
		p.SetReuseAddr(enable)
	}
}

func WithReusePort(enable bool) common.Option {
	return func(options *common.Options) {
		p := (*ServerOptions)(unsafe.Pointer(options))
		p.SetReusePort(enable)
	}
}

func WithSweepTick(tick time.Duration) common.Option {
	return func(options *common.Options) {
		p := (*ServerOptions)(unsafe.Pointer(options))
		p.SetSweepTick(tick)
	}
}

func WithWaitEvents(n int) common.Option {
	return func(options *common.Options) {
		p := (*ServerOptions)(unsafe.Pointer(options))
		p.SetWaitEvents(n)
	}
}
