package event

import "time"

// Topics published by network/link. The payload of each is a LinkEvent.
const (
	LinkConnected       = "LinkConnected"
	LinkDisconnected    = "LinkDisconnected"
	LinkClosed          = "LinkClosed"
	LinkRestoreFailed   = "LinkRestoreFailed"
	LinkHandshakeFailed = "LinkHandshakeFailed"
	LinkSessionReset    = "LinkSessionReset"
)

// LinkTopics lists every link topic, for NewLinkPublisher.
var LinkTopics = []string{
	LinkConnected,
	LinkDisconnected,
	LinkClosed,
	LinkRestoreFailed,
	LinkHandshakeFailed,
	LinkSessionReset,
}

// LinkEvent describes a lifecycle change of one link.
type LinkEvent struct {
	Name    string
	Session string
	Server  bool
	Forced  bool
	Err     error
}

// Subscriber receives the payload passed to Publish.
type Subscriber func(param any)

// Topic is the subscriber list of one topic.
type Topic struct {
	timeout     time.Duration // how long Publish waits for subscribers
	subscribers []Subscriber
}
