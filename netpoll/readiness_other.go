//go:build !linux

package netpoll

func newReadinessBackend() (IBackend, error) {
	return nil, ErrBackendUnsupported
}
