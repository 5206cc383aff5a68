package delivery

import "github.com/google/uuid"

// SessionID binds one send/receive machine pair to one logical connection attempt.
type SessionID uuid.UUID

// NilSessionID is the zero session, used before any session has been minted.
var NilSessionID SessionID

// NewSessionID mints a random session id.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// SessionIDFromBytes parses a 16 byte session id.
func SessionIDFromBytes(b []byte) (SessionID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return NilSessionID, err
	}
	return SessionID(id), nil
}

// Bytes returns the 16 byte form.
func (s SessionID) Bytes() []byte {
	b := make([]byte, len(s))
	copy(b, s[:])
	return b
}

// IsNil reports whether s is the zero session.
func (s SessionID) IsNil() bool {
	return s == NilSessionID
}

func (s SessionID) String() string {
	return uuid.UUID(s).String()
}
