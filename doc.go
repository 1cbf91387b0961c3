// Package zreplog implements the replication log of latest values for a
// Zenoh-style storage replica.
//
// A LogLatest keeps track of the single most recent publication (an Event)
// for each key expression handled by a storage that only retains
// History::Latest. Events are grouped by Timestamp into Intervals and
// SubIntervals so that two replicas can compare a compact three-era Digest
// (cold/warm/hot) instead of exchanging every Event they hold. A Bloom
// filter accelerates the "do I already have something for this key"
// check that insertion and lookup both need.
//
// This package does not open sockets, parse configuration files, or choose
// a command-line interface; it consumes an opaque StorageCapability and
// produces Events and Digests for a caller (the multicast transport layer,
// in the companion multicast package, or any other transport) to carry.
package zreplog
