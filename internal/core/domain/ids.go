package domain

// ConnectionID identifies one signaling connection on the relay. It is also
// the network identity a node publishes in the registry.
type ConnectionID string

// StreamID names a room. Opaque, chosen by the caller.
type StreamID string

// StableID is a long-lived identity (for example a wallet address) under
// which a publisher's current network identity is registered.
type StableID string

// NetworkID is the ephemeral, session-scoped identity used to address a node.
type NetworkID = ConnectionID
