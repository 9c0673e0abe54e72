package core

// Frame is a raw outbound payload, already encoded for the wire.
type Frame []byte

// ConnID identifies one live transport connection for its whole lifetime.
type ConnID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberDTO is a read-only view of a room member for clients
// (no transport fields).
type MemberDTO struct {
	ConnectionID ConnID `json:"connectionId"`
	UserID       string `json:"userId"`
	Name         string `json:"name,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
	Bio          string `json:"bio,omitempty"`
	Error        string `json:"error,omitempty"`
}

type RoomInfo struct {
	ID          string `json:"id"`
	MemberCount int    `json:"client_count"`
}
