package daemon

import (
	"errors"
	"os"

	"github.com/ehrlich-b/wormhole/internal/audit"
	"github.com/ehrlich-b/wormhole/internal/controlsocket"
	"github.com/ehrlich-b/wormhole/internal/registry"
	"github.com/ehrlich-b/wormhole/internal/session"
)

// errNoDriverSession is returned by ResolveAttach when the session has not
// yet received an init message from its driver (e.g. attach raced open).
var errNoDriverSession = errors.New("daemon: session has no driver session id yet")

// service adapts Registry to controlsocket.Service for the CLI's
// open/close/ls/status/attach commands.
type service struct {
	reg      *registry.Registry
	auditLog *audit.Log
	port     int
}

func newService(reg *registry.Registry, auditLog *audit.Log, port int) *service {
	return &service{reg: reg, auditLog: auditLog, port: port}
}

func (s *service) Open(name, directory string) (controlsocket.SessionInfo, error) {
	sess, err := s.reg.Open(name, directory)
	if err != nil {
		return controlsocket.SessionInfo{}, err
	}
	return toSessionInfo(sess), nil
}

func (s *service) Close(name string) error {
	if err := s.reg.Close(name); err != nil {
		return err
	}
	if s.auditLog != nil {
		s.auditLog.Append(name, audit.EventSessionClosed, "closed via control socket")
	}
	return nil
}

func (s *service) List() []controlsocket.SessionInfo {
	sessions := s.reg.List()
	out := make([]controlsocket.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionInfo(sess))
	}
	return out
}

func (s *service) Status() controlsocket.StatusResult {
	return controlsocket.StatusResult{
		Port:     s.port,
		PID:      os.Getpid(),
		Version:  ServerVersion,
		Sessions: s.reg.Count(),
	}
}

func (s *service) ResolveAttach(name string) (string, error) {
	sess, ok := s.reg.Get(name)
	if !ok {
		return "", registry.ErrSessionNotFound
	}
	summary := sess.Summary()
	if summary.DriverSessionID == nil {
		return "", errNoDriverSession
	}
	return *summary.DriverSessionID, nil
}

func toSessionInfo(sess *session.Session) controlsocket.SessionInfo {
	summary := sess.Summary()
	return controlsocket.SessionInfo{
		Name:            summary.Name,
		Directory:       summary.Directory,
		State:           summary.State,
		DriverSessionID: summary.DriverSessionID,
		CostUSD:         summary.CostUSD,
		LastActivity:    summary.LastActivity,
	}
}
