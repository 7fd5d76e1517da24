package models

// KeyStatus mirrors the client-reported state of its key material.
type KeyStatus struct {
	PrivateKeyLoaded bool `json:"private_key_loaded"`
	PublicKeyLoaded  bool `json:"public_key_loaded"`
}

// Identity is the durable record behind one identity code. PublicKey is an
// opaque blob supplied by the owning client; the server never inspects it.
type Identity struct {
	Code      string
	PublicKey string
	Status    KeyStatus
	LastSeen  float64 // unix seconds, fractional
}

// FriendInfo is one entry of a friends_list event.
type FriendInfo struct {
	UserID    string  `json:"user_id"`
	PublicKey string  `json:"public_key"`
	LastSeen  float64 `json:"last_seen"`
	Online    bool    `json:"online"`
}

// PendingRequest sits in the recipient's queue until accepted or rejected.
type PendingRequest struct {
	SenderID  string  `json:"sender_id"`
	Timestamp float64 `json:"timestamp"`
}

// Message is one archived ciphertext relayed between two codes.
type Message struct {
	SenderID         string  `json:"sender_id"`
	TargetID         string  `json:"target_id"`
	EncryptedMessage string  `json:"encrypted_message"`
	Timestamp        float64 `json:"timestamp"`
}

// Snapshot is the durable subset of server state: public keys by code and
// the friend adjacency lists. Pending requests and conversation history are
// deliberately absent.
type Snapshot struct {
	PublicKeys map[string]string
	Friends    map[string][]string
}
