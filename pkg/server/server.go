package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mdlayher/vsock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// DefaultShutdownTimeout bounds how long in-flight requests may run after shutdown starts.
const DefaultShutdownTimeout = 10 * time.Second

// Runner serves fiber apps in one errgroup. Every app is shut down once the
// parent context is done or any app fails.
type Runner struct {
	ctx             context.Context
	group           *errgroup.Group
	shutdownTimeout time.Duration
}

// NewRunner creates a Runner bound to ctx.
func NewRunner(ctx context.Context) *Runner {
	group, groupCtx := errgroup.WithContext(ctx)
	return &Runner{ctx: groupCtx, group: group, shutdownTimeout: DefaultShutdownTimeout}
}

// Listen serves fiberApp on a TCP addr.
func (r *Runner) Listen(fiberApp *fiber.App, addr string) {
	r.run(fiberApp, func() error { return fiberApp.Listen(addr) })
}

// Serve serves fiberApp on listener. It is used for vsock, where fiber can not open the listener itself.
func (r *Runner) Serve(fiberApp *fiber.App, listener net.Listener) {
	r.run(fiberApp, func() error { return fiberApp.Listener(listener) })
}

// Wait blocks until every app has stopped and returns the first error.
func (r *Runner) Wait() error {
	return r.group.Wait()
}

func (r *Runner) run(fiberApp *fiber.App, serve func() error) {
	r.group.Go(func() error {
		if err := serve(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	r.group.Go(func() error {
		<-r.ctx.Done()
		if err := fiberApp.ShutdownWithTimeout(r.shutdownTimeout); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})
}

// ListenVSock listens on port for connections from any context id.
func ListenVSock(port uint32) (net.Listener, error) {
	listener, err := vsock.ListenContextID(unix.VMADDR_CID_ANY, port, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on vsock port %d: %w", port, err)
	}
	return listener, nil
}
