package controlsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/ehrlich-b/wormhole/internal/registry"
)

// Service is what the control socket drives; internal/daemon provides the
// concrete implementation wired to a Registry.
type Service interface {
	Open(name, directory string) (SessionInfo, error)
	Close(name string) error
	List() []SessionInfo
	Status() StatusResult
	ResolveAttach(name string) (string, error)
}

// Error codes returned in RPCError.Code, reusing the wire protocol's names
// where the underlying condition is the same one a websocket client could
// also hit.
const (
	ErrSessionExists   = "SESSION_EXISTS"
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInternal        = "INTERNAL_ERROR"
)

// Server accepts control-plane connections on a Unix domain socket.
type Server struct {
	socketPath string
	service    Service
	logger     *slog.Logger
}

func NewServer(socketPath string, service Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{socketPath: socketPath, service: service, logger: logger}
}

// ListenAndServe listens until ctx is cancelled, cleaning up the socket file
// both before binding (stale socket from a prior crash) and on exit.
func (s *Server) ListenAndServe(ctx context.Context) error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("controlsocket: listen unix %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controlsocket: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(Response{Error: &RPCError{Code: ErrInternal, Message: "invalid request: " + err.Error()}})
			continue
		}
		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Method {
	case "open":
		var p OpenParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(ErrInternal, err.Error())
		}
		info, err := s.service.Open(p.Name, p.Directory)
		if err != nil {
			return errorResponse(classify(err), err.Error())
		}
		return resultResponse(OpenResult{Name: info.Name})

	case "close":
		var p CloseParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(ErrInternal, err.Error())
		}
		if err := s.service.Close(p.Name); err != nil {
			return errorResponse(classify(err), err.Error())
		}
		return resultResponse(struct{}{})

	case "list":
		return resultResponse(s.service.List())

	case "status":
		return resultResponse(s.service.Status())

	case "resolve_attach":
		var p ResolveAttachParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(ErrInternal, err.Error())
		}
		driverID, err := s.service.ResolveAttach(p.Name)
		if err != nil {
			return errorResponse(classify(err), err.Error())
		}
		return resultResponse(ResolveAttachResult{DriverSessionID: driverID})

	default:
		return errorResponse(ErrInternal, "unknown method: "+req.Method)
	}
}

// classify maps a service error to a wire error code where the registry
// exposes sentinel errors; anything else is reported as an internal error.
func classify(err error) string {
	switch {
	case errors.Is(err, registry.ErrSessionExists):
		return ErrSessionExists
	case errors.Is(err, registry.ErrSessionNotFound):
		return ErrSessionNotFound
	default:
		return ErrInternal
	}
}

func resultResponse(v any) Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResponse(ErrInternal, err.Error())
	}
	return Response{Result: raw}
}

func errorResponse(code, message string) Response {
	return Response{Error: &RPCError{Code: code, Message: message}}
}
