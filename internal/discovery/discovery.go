// Package discovery advertises this daemon on the local network via
// mDNS/DNS-SD so a client can find it with zero configuration. The teacher
// has no discovery dependency of its own (its cross-machine story is the
// roost relay, not local-network advertisement), so this is grounded on the
// retrieval pack's own idiomatic choice for this concern,
// github.com/grandcat/zeroconf, used the same way other_examples'
// hieuntg81-alfred-ai wires it: register on start, shut down on stop.
package discovery

import (
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_wormhole._tcp"
const domain = "local."

// Advertiser registers and unregisters the daemon's mDNS service record. It
// is best-effort by design: a failure to advertise must never prevent the
// daemon from serving clients that already know its address.
type Advertiser struct {
	logger *slog.Logger
	server *zeroconf.Server
}

func New(logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{logger: logger}
}

// Start registers the service under instanceName, falling back to the
// machine's hostname when instanceName is empty (discovery.service_name
// unset). A failure here is logged and swallowed, never returned, so
// callers can invoke it fire-and-forget during daemon startup.
func (a *Advertiser) Start(port int, instanceName string) {
	instance := instanceName
	if instance == "" {
		var err error
		instance, err = os.Hostname()
		if err != nil || instance == "" {
			instance = "wormhole"
		}
	}

	server, err := zeroconf.Register(instance, serviceType, domain, port, nil, nil)
	if err != nil {
		a.logger.Warn("mdns advertise failed, continuing without discovery", "error", err)
		return
	}
	a.server = server
	a.logger.Info("advertising on local network", "instance", instance, "service", serviceType, "port", port)
}

// Stop unregisters the service, if it was ever registered.
func (a *Advertiser) Stop() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// Enabled is a small helper so callers can resolve the
// WORMHOLE_DISCOVERY_ENABLED / discovery.enabled toggle in one place.
func Enabled(configValue bool, envOverride *bool) bool {
	if envOverride != nil {
		return *envOverride
	}
	return configValue
}
