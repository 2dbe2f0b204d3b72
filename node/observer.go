package node

// Observer receives the node's three status events (spec.md §7). Every
// method is invoked on the detecting task and must not block; a slow
// or panicking Observer would otherwise stall an accept loop or a
// connection's reader.
type Observer interface {
	// LocalStatus reports this node's own publish/unpublish lifecycle.
	LocalStatus(nodeName string, up bool, info string)
	// RemoteStatus reports a peer connection going up or down.
	RemoteStatus(peerName string, up bool, info string)
	// ConnAttempt reports the outcome of a handshake, successful or
	// not. err is nil on success.
	ConnAttempt(peerName string, incoming bool, err error)
}

// NopObserver discards every event. It is the default when no Observer
// is supplied to New.
type NopObserver struct{}

func (NopObserver) LocalStatus(string, bool, string)    {}
func (NopObserver) RemoteStatus(string, bool, string)   {}
func (NopObserver) ConnAttempt(string, bool, error)      {}
