package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Event types pushed by the relay.
const (
	EventUserIDAssigned        = "user_id_assigned"
	EventPong                  = "pong"
	EventPublicKeySet          = "public_key_set"
	EventKeyStatusUpdated      = "key_status_updated"
	EventKeyStatus             = "key_status"
	EventFriendKeyUpdated      = "friend_key_updated"
	EventFriendRequestReceived = "friend_request_received"
	EventFriendRequestSent     = "friend_request_sent"
	EventFriendAdded           = "friend_added"
	EventFriendRequestRejected = "friend_request_rejected"
	EventMessageReceived       = "message_received"
	EventFriendsList           = "friends_list"
	EventConversationMessages  = "conversation_messages"
	EventError                 = "error"

	// EventDisconnected is synthesized locally when the connection drops.
	EventDisconnected = "disconnected"
)

// Actions sent to the relay.
const (
	ActionPing                 = "ping"
	ActionSetPublicKey         = "set_public_key"
	ActionSetKeyStatus         = "set_key_status"
	ActionResumeSession        = "resume_session"
	ActionSendFriendRequest    = "send_friend_request"
	ActionRespondFriendRequest = "respond_friend_request"
	ActionSendMessage          = "send_message"
	ActionGetFriends           = "get_friends"
	ActionGetMessages          = "get_messages"
	ActionGetKeyStatus         = "get_key_status"
)

// KeyStatus mirrors the relay's view of which keys a user has loaded.
type KeyStatus struct {
	PrivateKeyLoaded bool `json:"private_key_loaded"`
	PublicKeyLoaded  bool `json:"public_key_loaded"`
}

// Friend is one entry of a friends_list event.
type Friend struct {
	UserID    string  `json:"user_id"`
	PublicKey string  `json:"public_key"`
	LastSeen  float64 `json:"last_seen"`
	Online    bool    `json:"online"`
}

// Message is one archived ciphertext from a conversation_messages event.
type Message struct {
	SenderID         string  `json:"sender_id"`
	TargetID         string  `json:"target_id"`
	EncryptedMessage string  `json:"encrypted_message"`
	Timestamp        float64 `json:"timestamp"`
}

// Event is one inbound frame. Type selects which fields are meaningful;
// fields of other event types keep zero values.
type Event struct {
	Type             string    `json:"type"`
	UserID           string    `json:"user_id"`
	Success          bool      `json:"success"`
	KeyStatus        KeyStatus `json:"key_status"`
	FriendID         string    `json:"friend_id"`
	FriendPublicKey  string    `json:"friend_public_key"`
	SenderID         string    `json:"sender_id"`
	TargetID         string    `json:"target_id"`
	EncryptedMessage string    `json:"encrypted_message"`
	Timestamp        float64   `json:"timestamp"`
	Friends          []Friend  `json:"friends"`
	Messages         []Message `json:"messages"`
	MessageCount     int       `json:"message_count"`
	Message          string    `json:"message"`
}

// request is one outbound frame. Zero-valued optional fields are omitted;
// the relay treats absent fields as their zero values.
type request struct {
	Action           string `json:"action"`
	PublicKey        string `json:"public_key,omitempty"`
	UserID           string `json:"user_id,omitempty"`
	TargetID         string `json:"target_id,omitempty"`
	SenderID         string `json:"sender_id,omitempty"`
	Accepted         bool   `json:"accepted,omitempty"`
	EncryptedMessage string `json:"encrypted_message,omitempty"`
}

// keyStatusRequest always carries both flags explicitly.
type keyStatusRequest struct {
	Action           string `json:"action"`
	PrivateKeyLoaded bool   `json:"private_key_loaded"`
	PublicKeyLoaded  bool   `json:"public_key_loaded"`
}

// Client speaks the newline-delimited JSON protocol with the relay.
type Client struct {
	conn       net.Conn
	reader     *bufio.Reader
	mu         sync.Mutex
	sendMu     sync.Mutex
	handlers   map[string][]func(Event)
	pingTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
	connected  bool
	lastPong   time.Time
	pongMu     sync.RWMutex
}

// NewClient creates a new relay client.
func NewClient() *Client {
	return &Client{
		handlers: make(map[string][]func(Event)),
		done:     make(chan struct{}),
	}
}

// Connect connects to the relay server.
func (c *Client) Connect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true
	c.lastPong = time.Now()

	// Track last response time via pong
	c.OnEvent(EventPong, func(Event) {
		c.pongMu.Lock()
		c.lastPong = time.Now()
		c.pongMu.Unlock()
	})

	// Periodic ping keeps the idle timeout from closing the connection
	c.pingTicker = time.NewTicker(30 * time.Second)
	go c.pingLoop()

	go c.readLoop()

	return nil
}

// Disconnect closes the connection. Safe to call more than once.
func (c *Client) Disconnect() error {
	c.teardown()
	return nil
}

// teardown stops the ping loop and closes the socket exactly once, whether
// triggered by Disconnect or by a read error. Reports whether this call
// performed it.
func (c *Client) teardown() bool {
	did := false
	c.closeOnce.Do(func() {
		did = true
		c.connected = false
		close(c.done)
		if c.pingTicker != nil {
			c.pingTicker.Stop()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
	return did
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	return c.connected
}

// LastPongTime returns time since last pong response.
func (c *Client) LastPongTime() time.Duration {
	c.pongMu.RLock()
	defer c.pongMu.RUnlock()
	return time.Since(c.lastPong)
}

// pingLoop sends periodic pings.
func (c *Client) pingLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.pingTicker.C:
			if c.connected {
				c.Ping()
			}
		}
	}
}

// readLoop reads events from the relay.
func (c *Client) readLoop() {
	for c.connected {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			// Explicit Disconnect also lands here once the socket closes;
			// only an unexpected drop should surface as an event.
			if c.teardown() {
				c.notifyHandlers(EventDisconnected, Event{Type: EventDisconnected, Message: "connection lost"})
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			continue
		}
		c.notifyHandlers(ev.Type, ev)
	}
}

// notifyHandlers runs the handlers for one frame on the read goroutine, so
// frames of the same type are observed in arrival order. Handlers must not
// block on the relay.
func (c *Client) notifyHandlers(eventType string, ev Event) {
	c.mu.Lock()
	handlers := c.handlers[eventType]
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// OnEvent registers a handler for an event type.
func (c *Client) OnEvent(eventType string, handler func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// send marshals one frame and writes it with a trailing newline.
func (c *Client) send(v interface{}) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// Ping sends a keepalive probe.
func (c *Client) Ping() error {
	return c.send(request{Action: ActionPing})
}

// SetPublicKey publishes this session's public key.
func (c *Client) SetPublicKey(key string) error {
	return c.send(request{Action: ActionSetPublicKey, PublicKey: key})
}

// SetKeyStatus reports which keys are loaded locally.
func (c *Client) SetKeyStatus(privateLoaded, publicLoaded bool) error {
	return c.send(keyStatusRequest{
		Action:           ActionSetKeyStatus,
		PrivateKeyLoaded: privateLoaded,
		PublicKeyLoaded:  publicLoaded,
	})
}

// GetKeyStatus requests the relay's view of our key status.
func (c *Client) GetKeyStatus() error {
	return c.send(request{Action: ActionGetKeyStatus})
}

// ResumeSession claims a previous identity code.
func (c *Client) ResumeSession(userID string) error {
	return c.send(request{Action: ActionResumeSession, UserID: userID})
}

// SendFriendRequest asks another user to become friends.
func (c *Client) SendFriendRequest(targetID string) error {
	return c.send(request{Action: ActionSendFriendRequest, TargetID: targetID})
}

// RespondFriendRequest accepts or rejects a pending request.
func (c *Client) RespondFriendRequest(senderID string, accepted bool) error {
	return c.send(request{Action: ActionRespondFriendRequest, SenderID: senderID, Accepted: accepted})
}

// SendMessage relays one sealed ciphertext to a friend.
func (c *Client) SendMessage(targetID, ciphertext string) error {
	return c.send(request{Action: ActionSendMessage, TargetID: targetID, EncryptedMessage: ciphertext})
}

// GetFriends requests the current friends list.
func (c *Client) GetFriends() error {
	return c.send(request{Action: ActionGetFriends})
}

// GetMessages requests the archived conversation with one friend.
func (c *Client) GetMessages(targetID string) error {
	return c.send(request{Action: ActionGetMessages, TargetID: targetID})
}
