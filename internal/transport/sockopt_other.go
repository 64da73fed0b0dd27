//go:build !unix

package transport

import "syscall"

// reuseAddrControl is a no-op where x/sys/unix does not apply.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
