package netpoll

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/control"
)

var (
	ErrBackendUnsupported = errors.New("mcnet: backend not supported on this platform")
	ErrBackendClosed      = errors.New("mcnet: backend closed")
	ErrNotListening       = errors.New("mcnet: backend is not listening")
	ErrForeignSocket      = errors.New("mcnet: socket belongs to another backend")
)

type BackendKind int8

const (
	BackendCompletion BackendKind = iota // 完成模型，可移植
	BackendReadiness                     // 就绪模型，epoll
)

func (k BackendKind) String() string {
	switch k {
	case BackendCompletion:
		return "completion"
	case BackendReadiness:
		return "readiness"
	}
	return "unknown"
}

func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(s) {
	case "completion", "iocp":
		return BackendCompletion, nil
	case "readiness", "epoll":
		return BackendReadiness, nil
	}
	return BackendCompletion, fmt.Errorf("mcnet: unknown backend %q", s)
}

type EventKind int8

const (
	EventAccept EventKind = iota
	EventRead
	EventWrite
	EventWake
)

func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "accept"
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventWake:
		return "wake"
	}
	return "unknown"
}

// Event one readiness or completion notification. Socket identifies the
// socket the event was produced for, an event whose socket is no longer
// attached under ID is stale.
type Event struct {
	Kind   EventKind
	ID     uint64
	Socket common.ISocket
}

// IBackend event loop backend. Wait is the only blocking call and must run
// on the network goroutine together with every other method except Wake.
type IBackend interface {
	Kind() BackendKind
	Listen(addr string, ctrl control.CtrlOptions) error
	Addr() net.Addr
	Wait(events []Event, timeout time.Duration) (int, error)
	Accept() (common.ISocket, common.IOCode)
	Attach(id uint64, sock common.ISocket) error
	Detach(id uint64, sock common.ISocket) error
	WantWrite(id uint64, sock common.ISocket, enable bool) error
	// 关闭中的连接不再读
	WantRead(id uint64, sock common.ISocket, enable bool) error
	// 可在任意协程调用，唤醒Wait
	Wake() error
	Close() error
}

func NewBackend(kind BackendKind) (IBackend, error) {
	switch kind {
	case BackendCompletion:
		return newCompletionBackend(), nil
	case BackendReadiness:
		return newReadinessBackend()
	}
	return nil, fmt.Errorf("%w: %v", ErrBackendUnsupported, kind)
}
