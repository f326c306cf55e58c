package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建 HTTP 服务；writeTimeout 需覆盖一次建议调用的耗时
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 阻塞直到服务停止；正常关闭时返回 nil
func (s *Server) Start() error {
	s.logger.Info("Starting wisefido-triage HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-triage HTTP server")
	return s.httpServer.Shutdown(ctx)
}
