//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package worker

import "net"

// listen binds without port sharing; only one worker per address can run.
func listen(network, addr string) (net.Listener, error) {
	return net.Listen(network, addr)
}
