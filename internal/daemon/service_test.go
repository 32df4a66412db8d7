package daemon

import (
	"context"
	"testing"

	"github.com/ehrlich-b/wormhole/internal/audit"
	"github.com/ehrlich-b/wormhole/internal/driver/fake"
	"github.com/ehrlich-b/wormhole/internal/registry"
	"github.com/ehrlich-b/wormhole/internal/session"
)

func newTestService(t *testing.T) *service {
	t.Helper()
	store, err := audit.Open("")
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	auditLog := audit.NewLog(store, nil)
	t.Cleanup(func() { auditLog.Close() })

	reg := registry.New(func(name, directory string) (*session.Session, error) {
		return session.New(context.Background(), session.Options{
			Name:         name,
			Directory:    directory,
			Driver:       fake.New(),
			NewRequestID: func() string { return "req" },
		})
	})
	return newService(reg, auditLog, 7117)
}

func TestServiceOpenCloseAndList(t *testing.T) {
	svc := newTestService(t)

	info, err := svc.Open("demo", "/tmp/demo")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if info.Name != "demo" || info.Directory != "/tmp/demo" {
		t.Fatalf("unexpected session info: %+v", info)
	}

	if got := len(svc.List()); got != 1 {
		t.Fatalf("expected 1 session, got %d", got)
	}

	if err := svc.Close("demo"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(svc.List()); got != 0 {
		t.Fatalf("expected 0 sessions after close, got %d", got)
	}
}

func TestServiceStatusReportsSessionCount(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Open("a", "/tmp/a"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Open("b", "/tmp/b"); err != nil {
		t.Fatalf("open: %v", err)
	}

	status := svc.Status()
	if status.Sessions != 2 {
		t.Fatalf("expected 2 sessions in status, got %d", status.Sessions)
	}
	if status.Port != 7117 {
		t.Fatalf("expected port 7117, got %d", status.Port)
	}
}

func TestServiceResolveAttachBeforeInitReturnsError(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Open("demo", "/tmp/demo"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.ResolveAttach("demo"); err == nil {
		t.Fatalf("expected error before driver session id is known")
	}
}

func TestServiceResolveAttachUnknownSession(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.ResolveAttach("nope"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}
