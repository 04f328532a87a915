package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

const (
	// DefaultSocket is the qemu:///system daemon socket.
	DefaultSocket = "/var/run/libvirt/libvirt-sock"

	// DefaultTimeout bounds the socket dial.
	DefaultTimeout = 5 * time.Second
)

// Conn is a connection to the local libvirt daemon. One Conn is opened per
// process and shared by the gateway.
type Conn struct {
	libvirt *libvirt.Libvirt
	socket  string
}

// Connect dials the libvirt socket. Empty or zero arguments select
// DefaultSocket and DefaultTimeout. The dial is abandoned when ctx is done.
func Connect(ctx context.Context, socketPath string, timeout time.Duration) (*Conn, error) {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	type result struct {
		conn *Conn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		dialer := dialers.NewLocal(
			dialers.WithSocket(socketPath),
			dialers.WithLocalTimeout(timeout),
		)
		l := libvirt.NewWithDialer(dialer)
		if err := l.Connect(); err != nil {
			resultCh <- result{err: fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)}
			return
		}
		resultCh <- result{conn: &Conn{libvirt: l, socket: socketPath}}
	}()

	select {
	case <-ctx.Done():
		// Disconnect a late connection so the socket is not leaked.
		go func() {
			if res := <-resultCh; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.conn, res.err
	}
}

// Close disconnects. It is safe to call Close on a nil or closed Conn.
func (c *Conn) Close() error {
	if c == nil || c.libvirt == nil {
		return nil
	}
	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// Libvirt returns the underlying client. It satisfies Client.
func (c *Conn) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Socket returns the socket path the connection was made on.
func (c *Conn) Socket() string {
	return c.socket
}

// Ping verifies the connection is alive and returns the daemon's libvirt
// version as major.minor.micro.
func (c *Conn) Ping() (string, error) {
	if c == nil || c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}
	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return formatVersion(v), nil
}

func formatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}
