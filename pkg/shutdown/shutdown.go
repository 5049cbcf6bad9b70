package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CreateGracefulShutdownChannel returns a channel that receives SIGINT and
// SIGTERM.
func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives on gracefulShutdown, runs
// notify, then waits up to timeout for done before returning.
func ListenForShutdown(
	gracefulShutdown chan os.Signal,
	done chan bool,
	notify func(),
	timeout time.Duration,
	l *zap.Logger,
) {
	sig := <-gracefulShutdown
	l.Sugar().Infow("Received shutdown signal", zap.String("signal", sig.String()))

	notify()

	select {
	case <-done:
		l.Sugar().Infow("Shutdown complete")
	case <-time.After(timeout):
		l.Sugar().Warnw("Timed out waiting for shutdown", zap.Duration("timeout", timeout))
	}
}
