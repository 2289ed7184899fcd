package common

import (
	"errors"
)

var (
	ErrConnClosed         = errors.New("mcnet: connection is closed")
	ErrSendBufferFull     = errors.New("mcnet: send buffer full")
	ErrFrameTooLong       = errors.New("mcnet: frame length exceeds limit")
	ErrBadFrameLength     = errors.New("mcnet: frame length invalid")
	ErrBadCompressedLen   = errors.New("mcnet: compressed data length invalid")
	ErrBadVerifyToken     = errors.New("mcnet: verify token mismatch")
	ErrEncryptionEnabled  = errors.New("mcnet: encryption already enabled")
	ErrCompressionEnabled = errors.New("mcnet: compression already enabled")
	ErrUnexpectedPacket   = errors.New("mcnet: unexpected packet")
	ErrInvalidState       = errors.New("mcnet: invalid state transition")
	ErrKeepAliveTimeout   = errors.New("mcnet: keep alive timeout")
	ErrKeepAliveMismatch  = errors.New("mcnet: keep alive id mismatch")
	ErrServerShutdown     = errors.New("mcnet: server shutdown")
)

var noDisconnectErrMap = make(map[error]struct{})

func init() {
	noDisconnectErrMap[ErrSendBufferFull] = struct{}{}
}

func RegisterNoDisconnectError(err error) {
	noDisconnectErrMap[err] = struct{}{}
}

// IsNoDisconnectError errors a connection survives
func IsNoDisconnectError(err error) bool {
	for e := range noDisconnectErrMap {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
