package client

import (
	"time"
	"unsafe"

	"github.com/huoshan017/mcnet/common"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// 客户端选项结构
type ClientOptions struct {
	common.Options
	dialTimeout time.Duration // 连接超时
	readTimeout time.Duration // 单个包的读超时
	serverHost  string        // 握手中的服务器地址
}

func (options *ClientOptions) GetDialTimeout() time.Duration {
	return options.dialTimeout
}

func (options *ClientOptions) SetDialTimeout(timeout time.Duration) {
	options.dialTimeout = timeout
}

func (options *ClientOptions) GetReadTimeout() time.Duration {
	return options.readTimeout
}

func (options *ClientOptions) SetReadTimeout(timeout time.Duration) {
	options.readTimeout = timeout
}

func (options *ClientOptions) GetServerHost() string {
	return options.serverHost
}

func (options *ClientOptions) SetServerHost(host string) {
	options.serverHost = host
}

func WithDialTimeout(timeout time.Duration) common.Option {
	return func(options *common.Options) {
		p := (*ClientOptions)(unsafe.Pointer(options))
		p.SetDialTimeout(timeout)
	}
}

func WithReadTimeout(timeout time.Duration) common.Option {
	return func(options *common.Options) {
		p := (*ClientOptions)(unsafe.Pointer(options))
		p.SetReadTimeout(timeout)
	}
}

func WithServerHost(host string) common.Option {
	return func(options *common.Options) {
		p := (*ClientOptions)(unsafe.Pointer(options))
		p.SetServerHost(host)
	}
}
