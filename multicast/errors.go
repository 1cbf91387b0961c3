package multicast

import "github.com/pkg/errors"

// ErrLinkManagerNotFound is returned by Manager.DelLinkManagerMulticast when
// no link manager is registered for the given protocol.
var ErrLinkManagerNotFound = errors.New("zreplog/multicast: link manager not found for protocol")

// ErrUnsupportedProtocol is returned when an endpoint names a protocol the
// Manager was not configured with.
var ErrUnsupportedProtocol = errors.New("zreplog/multicast: unsupported protocol")

// ErrNotMulticast is returned when OpenTransportMulticast is given an
// endpoint whose address does not resolve to a multicast address.
var ErrNotMulticast = errors.New("zreplog/multicast: endpoint is not a multicast locator")
