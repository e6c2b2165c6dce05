package rpcserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/vane-network/vane-node/internal/vanelog"
)

// shutdownTimeout bounds how long Server.Close waits for in-flight HTTP
// requests to finish before forcing the listener closed.
const shutdownTimeout = 5 * time.Second

// Server is the RPC boundary's acceptor: it exposes the Service's methods
// over HTTP for plain request/response calls and over a websocket handler
// for the watch_transactions subscription, both bound to the same
// *rpc.Server.
type Server struct {
	rpcServer  *rpc.Server
	httpServer *http.Server
	listener   net.Listener
	logger     zerolog.Logger
}

// New builds a Server registering svc under the "vane" namespace and
// binding to addr (host:port). Call Serve to start accepting connections.
func New(addr string, svc *Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("vane", svc); err != nil {
		return nil, fmt.Errorf("failed to register vane RPC namespace: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", rpcServer)
	mux.Handle("/ws", rpcServer.WebsocketHandler([]string{"*"}))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind RPC listener on %s: %w", addr, err)
	}

	return &Server{
		rpcServer:  rpcServer,
		httpServer: &http.Server{Handler: mux},
		listener:   listener,
		logger:     vanelog.For("rpcserver"),
	}, nil
}

// Addr returns the bound listener address, useful when addr was given with
// a ":0" port for tests.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks accepting connections until Close is called; it always
// returns a non-nil error (http.ErrServerClosed on a clean shutdown).
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("RPC server listening (http on /, ws on /ws)")
	return s.httpServer.Serve(s.listener)
}

// Close stops accepting new RPC calls and tears down the subscription
// dispatcher.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.rpcServer.Stop()
	return err
}
