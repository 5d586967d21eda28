// Package service runs an HTTP handler as a worker with graceful shutdown.
package service

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"go-hotspot/log"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	tomb     tomb.Tomb
	srv      *http.Server
	listener net.Listener
	logger   *log.Logger
}

var _ worker.Worker = (*Server)(nil)

// Start listens on addr and serves handler until killed. The listener is
// opened before returning so a taken port is reported to the caller.
func Start(name, addr string, handler http.Handler, logger *log.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %s", addr)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: l,
		logger:   logger.Named(name),
	}
	s.logger.Infow("service started", "addr", l.Addr().String())

	s.tomb.Go(s.serve)
	s.tomb.Go(func() error {
		<-s.tomb.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Annotate(s.srv.Shutdown(ctx), "shutting down")
	})
	return s, nil
}

func (s *Server) serve() error {
	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Annotate(err, "serving")
}

// Addr is the address actually bound, useful with port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Kill() {
	s.tomb.Kill(nil)
}

func (s *Server) Wait() error {
	err := s.tomb.Wait()
	s.logger.Infow("service stopped", "err", err)
	return err
}
