package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jinford/knowledge-chat/internal/platform/container"
)

const shutdownTimeout = 10 * time.Second

// Server はHTTP APIサーバを表す
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New は新しい Server を作成する
func New(addr string, cont *container.ServiceContainer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	engine := newRouter(cont, logger)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run はサーバを起動し、ctx がキャンセルされるまでブロックする。
// キャンセル後はグレースフルシャットダウンを行う。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバを起動します", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバの停止に失敗: %w", err)
	}
	return nil
}
