// Package http expone la superficie operativa del servicio: health, métricas,
// auditoría (cacheada), reconciliación, verificación e inspección de personas.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/rebano/internal/observability/logger"
)

// Server envuelve http.Server con apagado por contexto.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewServer crea un server sobre addr.
func NewServer(addr string, h http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 15 * time.Second,
	}
}

// Run sirve hasta que ctx termine y después apaga esperando los requests en
// curso (una reconciliación en curso termina su registro actual).
func (s *Server) Run(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("http"))
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return s.srv.Shutdown(sctx)
}
