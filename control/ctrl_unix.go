//go:build unix

package control

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// GetControl net.ListenConfig control applying options before bind
func GetControl(options CtrlOptions) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) (err error) {
		e := c.Control(func(fd uintptr) {
			err = SetSockopts(int(fd), options)
		})
		if e != nil {
			return e
		}
		return
	}
}

// SetSockopts apply options to a raw descriptor
func SetSockopts(fd int, options CtrlOptions) error {
	// SO_REUSEADDR
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, options.ReuseAddr); err != nil {
		return err
	}
	// SO_REUSEPORT
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, options.ReusePort); err != nil {
		return err
	}
	if options.RecvBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, options.RecvBuf); err != nil {
			return err
		}
	}
	if options.SendBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, options.SendBuf); err != nil {
			return err
		}
	}
	return nil
}

// SetNoDelay TCP_NODELAY on an accepted descriptor
func SetNoDelay(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}
