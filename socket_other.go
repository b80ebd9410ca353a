//go:build !linux

package framesock

import "net"

type listener struct {
	fd   int
	addr *net.TCPAddr
}

func listenTCP(addr *net.TCPAddr) (*listener, error) {
	return nil, ErrUnsupportedPlatform
}

func (l *listener) accept() (Socket, error) {
	return nil, ErrUnsupportedPlatform
}

func (l *listener) Close() error {
	return nil
}

func dialTCP(addr *net.TCPAddr) (Socket, error) {
	return nil, ErrUnsupportedPlatform
}
