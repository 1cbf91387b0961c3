package multicast

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Locator identifies a reachable multicast address for a given protocol,
// e.g. "udp/239.0.0.1:7447".
type Locator string

// Endpoint is a protocol-qualified multicast address plus optional
// protocol-specific configuration.
type Endpoint struct {
	Protocol string
	Address  string
	Config   string
}

// Locator derives the Locator this Endpoint resolves to.
func (e Endpoint) Locator() Locator {
	return Locator(e.Protocol + "/" + e.Address)
}

// Transport is one live multicast channel for a Locator. Manager hands one
// back from OpenTransportMulticast; every Event or Digest exchange this
// system performs travels over one.
type Transport interface {
	Locator() Locator
	Send(Message) error
	Close() error
}

// LinkManager opens Transports for a single protocol. Implementations wrap
// whatever that protocol needs (e.g. a *net.UDPConn joined to a multicast
// group); Manager only ever calls NewLink and Close.
type LinkManager interface {
	NewLink(ctx context.Context, endpoint Endpoint) (Transport, error)
	Close() error
}

// LinkManagerFactory constructs the LinkManager for protocol, invoked
// lazily the first time that protocol is needed.
type LinkManagerFactory func(protocol string) (LinkManager, error)

// ManagerConfig lists the protocols a Manager will open transports for and,
// per protocol, a default endpoint configuration string merged under an
// endpoint's own config when the endpoint doesn't specify one.
type ManagerConfig struct {
	Protocols       []string
	EndpointConfigs map[string]string
}

func (c ManagerConfig) supports(protocol string) bool {
	for _, p := range c.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

// Manager owns the registry of per-protocol LinkManagers and the registry
// of live Transports keyed by Locator, both behind one mutex: nothing here
// ever needs to hold one registry's lock without the other.
type Manager struct {
	cfg        ManagerConfig
	newLinkMgr LinkManagerFactory

	mu         sync.Mutex
	protocols  map[string]LinkManager
	transports map[Locator]Transport
}

// NewManager builds a Manager. newLinkMgr is invoked lazily, whenever
// OpenTransportMulticast needs a protocol that has no registered
// LinkManager: the first time, and again after that protocol's LinkManager
// has been removed.
func NewManager(cfg ManagerConfig, newLinkMgr LinkManagerFactory) *Manager {
	return &Manager{
		cfg:        cfg,
		newLinkMgr: newLinkMgr,
		protocols:  make(map[string]LinkManager),
		transports: make(map[Locator]Transport),
	}
}

// OpenTransportMulticast validates that endpoint's protocol is configured
// and that its address is actually multicast, lazily creates (or reuses)
// the protocol's LinkManager, and opens (or reuses) the Transport for the
// resulting Locator.
func (m *Manager) OpenTransportMulticast(ctx context.Context, endpoint Endpoint) (Transport, error) {
	if !m.cfg.supports(endpoint.Protocol) {
		return nil, errors.Wrapf(ErrUnsupportedProtocol, "protocol %q", endpoint.Protocol)
	}
	if !isMulticastAddress(endpoint.Address) {
		return nil, errors.Wrapf(ErrNotMulticast, "endpoint %q", endpoint.Address)
	}

	locator := endpoint.Locator()

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.transports[locator]; ok {
		return t, nil
	}

	lm, ok := m.protocols[endpoint.Protocol]
	if !ok {
		var err error
		lm, err = m.newLinkMgr(endpoint.Protocol)
		if err != nil {
			return nil, errors.Wrap(err, "zreplog/multicast: constructing link manager")
		}
		m.protocols[endpoint.Protocol] = lm
	}

	if endpoint.Config == "" {
		if cfg, ok := m.cfg.EndpointConfigs[endpoint.Protocol]; ok {
			endpoint.Config = cfg
		}
	}

	transport, err := lm.NewLink(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "zreplog/multicast: opening link")
	}
	m.transports[locator] = transport
	return transport, nil
}

// CloseMulticast clears the protocol registry and closes and drains every
// live Transport.
func (m *Manager) CloseMulticast(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for protocol, lm := range m.protocols {
		lm.Close()
		delete(m.protocols, protocol)
	}
	for locator, t := range m.transports {
		t.Close()
		delete(m.transports, locator)
	}
}

// DelLinkManagerMulticast removes the LinkManager registered for protocol,
// closing it first. It returns ErrLinkManagerNotFound if none was
// registered.
func (m *Manager) DelLinkManagerMulticast(protocol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lm, ok := m.protocols[protocol]
	if !ok {
		return errors.Wrapf(ErrLinkManagerNotFound, "protocol %q", protocol)
	}
	lm.Close()
	delete(m.protocols, protocol)
	return nil
}

// CloseTransport tears down the Transport registered for locator, closing
// its protocol's LinkManager too if no other transport still uses it. It
// is a no-op if locator has no live Transport.
func (m *Manager) CloseTransport(locator Locator) {
	m.delTransport(locator)
}

// delTransport removes the Transport registered for locator, closing its
// protocol's LinkManager too if no other transport still uses it.
func (m *Manager) delTransport(locator Locator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transports[locator]
	if !ok {
		return
	}
	t.Close()
	delete(m.transports, locator)

	protocol := protocolOf(locator)
	for other := range m.transports {
		if protocolOf(other) == protocol {
			return
		}
	}
	if lm, ok := m.protocols[protocol]; ok {
		lm.Close()
		delete(m.protocols, protocol)
	}
}

func protocolOf(locator Locator) string {
	s := string(locator)
	if idx := strings.IndexByte(s, '/'); idx != -1 {
		return s[:idx]
	}
	return s
}

// isMulticastAddress reports whether address (host:port or bare host)
// names a multicast IP.
func isMulticastAddress(address string) bool {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsMulticast()
}
