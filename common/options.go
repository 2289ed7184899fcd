package common

import (
	"time"

	"github.com/huoshan017/mcnet/auth"
	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/pool"
	"github.com/huoshan017/mcnet/protocol"
)

const (
	DefaultRecvBuffSize       = 64 * 1024
	DefaultSendBuffSize       = 256 * 1024
	DefaultKeepAliveInterval  = 10 * time.Second // 默认心跳发送间隔
	DefaultKeepAliveTimeout   = 15 * time.Second // 断开连接的心跳超时
	DefaultScratchArenaMax    = 32 * 1024 * 1024
	DefaultPersistentArenaMax = 4 * 1024 * 1024
	DefaultMaxPlayers         = 100
	DefaultMotd               = "A mcnet server"
)

// StatusProvider builds the status document, online is the current connection count
type StatusProvider func(online int) *protocol.StatusDocument

// 选项结构
type Options struct {
	recvBuffSize       int                 // 接收环形缓冲大小
	sendBuffSize       int                 // 发送环形缓冲大小
	compressType       packet.CompressType // 压缩类型
	compressThreshold  int                 // 压缩阈值，小于0不压缩
	onlineMode         bool                // 是否向会话服务器验证
	serverKey          *packet.ServerKey   // 服务器rsa密钥
	authenticator      auth.IAuthenticator // 会话验证
	keepAliveInterval  time.Duration       // 心跳间隔
	keepAliveTimeout   time.Duration       // 心跳超时
	statusProvider     StatusProvider      // 状态文档
	arenaChunkSize     int                 // 内存块大小
	scratchArenaMax    int                 // 临时arena上限
	persistentArenaMax int                 // 持久arena上限
	customDatas        map[string]any      // 自定义数据
}

// 创建Options
func NewOptions() *Options {
	return &Options{
		compressThreshold: packet.DefaultCompressThreshold,
		customDatas:       make(map[string]any),
	}
}

// 选项
type Option func(*Options)

// Options.Normalize fill defaults for unset values
func (options *Options) Normalize() {
	if options.recvBuffSize <= 0 {
		options.recvBuffSize = DefaultRecvBuffSize
	}
	if options.sendBuffSize <= 0 {
		options.sendBuffSize = DefaultSendBuffSize
	}
	if options.compressType == packet.CompressNone {
		options.compressType = packet.CompressZlib
	}
	if options.keepAliveInterval <= 0 {
		options.keepAliveInterval = DefaultKeepAliveInterval
	}
	if options.keepAliveTimeout <= 0 {
		options.keepAliveTimeout = DefaultKeepAliveTimeout
	}
	if options.arenaChunkSize <= 0 {
		options.arenaChunkSize = pool.DefaultArenaChunkSize
	}
	if options.scratchArenaMax <= 0 {
		options.scratchArenaMax = DefaultScratchArenaMax
	}
	if options.persistentArenaMax < options.recvBuffSize+options.sendBuffSize {
		options.persistentArenaMax = options.recvBuffSize + options.sendBuffSize + DefaultPersistentArenaMax
	}
	if options.statusProvider == nil {
		options.statusProvider = func(online int) *protocol.StatusDocument {
			return protocol.NewStatusDocument(DefaultMotd, online, DefaultMaxPlayers)
		}
	}
	if options.customDatas == nil {
		options.customDatas = make(map[string]any)
	}
}

func (options *Options) GetCustomData(key string) any {
	return options.customDatas[key]
}

func (options *Options) SetCustomData(key string, data any) {
	if options.customDatas == nil {
		options.customDatas = make(map[string]any)
	}
	options.customDatas[key] = data
}

func (options *Options) GetRecvBuffSize() int {
	return options.recvBuffSize
}

func (options *Options) SetRecvBuffSize(size int) {
	options.recvBuffSize = size
}

func (options *Options) GetSendBuffSize() int {
	return options.sendBuffSize
}

func (options *Options) SetSendBuffSize(size int) {
	options.sendBuffSize = size
}

// Options.GetMaxFrameLength largest frame body the recv ring can hold
func (options *Options) GetMaxFrameLength() int {
	return options.recvBuffSize - packet.MaxVarIntLen
}

func (options *Options) GetCompressType() packet.CompressType {
	return options.compressType
}

func (options *Options) SetCompressType(typ packet.CompressType) {
	options.compressType = typ
}

func (options *Options) GetCompressThreshold() int {
	return options.compressThreshold
}

func (options *Options) SetCompressThreshold(threshold int) {
	options.compressThreshold = threshold
}

func (options *Options) GetOnlineMode() bool {
	return options.onlineMode
}

func (options *Options) SetOnlineMode(online bool) {
	options.onlineMode = online
}

func (options *Options) GetServerKey() *packet.ServerKey {
	return options.serverKey
}

func (options *Options) SetServerKey(key *packet.ServerKey) {
	options.serverKey = key
}

func (options *Options) GetAuthenticator() auth.IAuthenticator {
	return options.authenticator
}

func (options *Options) SetAuthenticator(a auth.IAuthenticator) {
	options.authenticator = a
}

func (options *Options) GetKeepAliveInterval() time.Duration {
	return options.keepAliveInterval
}

func (options *Options) SetKeepAliveInterval(d time.Duration) {
	options.keepAliveInterval = d
}

func (options *Options) GetKeepAliveTimeout() time.Duration {
	return options.keepAliveTimeout
}

func (options *Options) SetKeepAliveTimeout(d time.Duration) {
	options.keepAliveTimeout = d
}

func (options *Options) GetStatusProvider() StatusProvider {
	return options.statusProvider
}

func (options *Options) SetStatusProvider(p StatusProvider) {
	options.statusProvider = p
}

func (options *Options) GetArenaChunkSize() int {
	return options.arenaChunkSize
}

func (options *Options) SetArenaChunkSize(size int) {
	options.arenaChunkSize = size
}

func (options *Options) GetScratchArenaMax() int {
	return options.scratchArenaMax
}

func (options *Options) SetScratchArenaMax(max int) {
	options.scratchArenaMax = max
}

func (options *Options) GetPersistentArenaMax() int {
	return options.persistentArenaMax
}

func (options *Options) SetPersistentArenaMax(max int) {
	options.persistentArenaMax = max
}

func WithRecvBuffSize(size int) Option {
	return func(options *Options) {
		options.SetRecvBuffSize(size)
	}
}

func WithSendBuffSize(size int) Option {
	return func(options *Options) {
		options.SetSendBuffSize(size)
	}
}

func WithCompressType(typ packet.CompressType) Option {
	return func(options *Options) {
		options.SetCompressType(typ)
	}
}

func WithCompressThreshold(threshold int) Option {
	return func(options *Options) {
		options.SetCompressThreshold(threshold)
	}
}

func WithOnlineMode(online bool) Option {
	return func(options *Options) {
		options.SetOnlineMode(online)
	}
}

func WithServerKey(key *packet.ServerKey) Option {
	return func(options *Options) {
		options.SetServerKey(key)
	}
}

func WithAuthenticator(a auth.IAuthenticator) Option {
	return func(options *Options) {
		options.SetAuthenticator(a)
	}
}

func WithKeepAliveInterval(d time.Duration) Option {
	return func(options *Options) {
		options.SetKeepAliveInterval(d)
	}
}

func WithKeepAliveTimeout(d time.Duration) Option {
	return func(options *Options) {
		options.SetKeepAliveTimeout(d)
	}
}

func WithStatusProvider(p StatusProvider) Option {
	return func(options *Options) {
		options.SetStatusProvider(p)
	}
}

func WithArenaChunkSize(size int) Option {
	return func(options *Options) {
		options.SetArenaChunkSize(size)
	}
}

func WithScratchArenaMax(max int) Option {
	return func(options *Options) {
		options.SetScratchArenaMax(max)
	}
}

func WithCustomData(key string, data any) Option {
	return func(options *Options) {
		options.SetCustomData(key, data)
	}
}
