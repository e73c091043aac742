package daemon

import (
	"context"
	"net"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type peerPidKeyType struct{}

var peerPidKey peerPidKeyType

// connContext stamps each accepted unix socket connection with the pid of
// the connecting process, read from SO_PEERCRED. Listener registration is
// keyed on this pid, so "one battery listener per process" means exactly
// that.
func connContext(ctx context.Context, conn net.Conn) context.Context {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return ctx
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return ctx
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return ctx
	}
	if credErr != nil || cred == nil {
		logrus.Debugf("failed to read peer credentials: %v", credErr)
		return ctx
	}
	return context.WithValue(ctx, peerPidKey, cred.Pid)
}

// peerPid returns the caller's process id. It prefers the socket peer
// credentials; the "client" query parameter is a fallback for transports
// without them (TCP debugging, tests).
func peerPid(c *gin.Context) (int32, bool) {
	if pid, ok := c.Request.Context().Value(peerPidKey).(int32); ok {
		return pid, true
	}
	if raw := c.Query("client"); raw != "" {
		if pid, err := strconv.ParseInt(raw, 10, 32); err == nil {
			return int32(pid), true
		}
	}
	return 0, false
}
