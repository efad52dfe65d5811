//go:build unix

package transport

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func openSocketLink() (Link, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return Link{}, fmt.Errorf("transport: socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	localFile := os.NewFile(uintptr(fds[0]), "flexpipe-local")
	remoteFile := os.NewFile(uintptr(fds[1]), "flexpipe-remote")

	conn, err := net.FileConn(localFile)
	localFile.Close()
	if err != nil {
		remoteFile.Close()
		return Link{}, fmt.Errorf("transport: socketpair local conn: %w", err)
	}
	local, ok := conn.(Channel)
	if !ok {
		conn.Close()
		remoteFile.Close()
		return Link{}, fmt.Errorf("%w: %T has no half-close", ErrUnsupportedKind, conn)
	}
	return Link{
		Kind:   KindSocketPair,
		Local:  local,
		Remote: []*os.File{remoteFile},
	}, nil
}
