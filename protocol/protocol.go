package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"sechat/models"
)

var (
	ErrInvalidFrame = errors.New("invalid frame format")
)

// Inbound actions.
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

// Outbound event types.
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
)

// Request is one inbound frame. Action selects the handler; the remaining
// fields are read or ignored per action, absent fields keep zero values.
type Request struct {
	Action           string `json:"action"`
	PublicKey        string `json:"public_key"`
	PrivateKeyLoaded bool   `json:"private_key_loaded"`
	PublicKeyLoaded  bool   `json:"public_key_loaded"`
	UserID           string `json:"user_id"`
	TargetID         string `json:"target_id"`
	SenderID         string `json:"sender_id"`
	Accepted         bool   `json:"accepted"`
	EncryptedMessage string `json:"encrypted_message"`
}

// ParseRequest декодирует одну строку-фрейм в Request.
func ParseRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, ErrInvalidFrame
	}
	return &req, nil
}

// Encode сериализует событие в одну строку с завершающим '\n'.
func Encode(event interface{}) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

type UserIDAssigned struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func NewUserIDAssigned(userID string) UserIDAssigned {
	return UserIDAssigned{Type: EventUserIDAssigned, UserID: userID}
}

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong {
	return Pong{Type: EventPong}
}

type PublicKeySet struct {
	Type      string           `json:"type"`
	Success   bool             `json:"success"`
	KeyStatus models.KeyStatus `json:"key_status"`
}

func NewPublicKeySet(status models.KeyStatus) PublicKeySet {
	return PublicKeySet{Type: EventPublicKeySet, Success: true, KeyStatus: status}
}

type KeyStatusUpdated struct {
	Type      string           `json:"type"`
	KeyStatus models.KeyStatus `json:"key_status"`
}

func NewKeyStatusUpdated(status models.KeyStatus) KeyStatusUpdated {
	return KeyStatusUpdated{Type: EventKeyStatusUpdated, KeyStatus: status}
}

type KeyStatus struct {
	Type      string           `json:"type"`
	KeyStatus models.KeyStatus `json:"key_status"`
}

func NewKeyStatus(status models.KeyStatus) KeyStatus {
	return KeyStatus{Type: EventKeyStatus, KeyStatus: status}
}

type FriendKeyUpdated struct {
	Type            string `json:"type"`
	FriendID        string `json:"friend_id"`
	FriendPublicKey string `json:"friend_public_key"`
}

func NewFriendKeyUpdated(friendID, publicKey string) FriendKeyUpdated {
	return FriendKeyUpdated{Type: EventFriendKeyUpdated, FriendID: friendID, FriendPublicKey: publicKey}
}

type FriendRequestReceived struct {
	Type      string  `json:"type"`
	SenderID  string  `json:"sender_id"`
	Timestamp float64 `json:"timestamp"`
}

func NewFriendRequestReceived(senderID string, timestamp float64) FriendRequestReceived {
	return FriendRequestReceived{Type: EventFriendRequestReceived, SenderID: senderID, Timestamp: timestamp}
}

type FriendRequestSent struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

func NewFriendRequestSent(targetID string) FriendRequestSent {
	return FriendRequestSent{Type: EventFriendRequestSent, TargetID: targetID}
}

type FriendAdded struct {
	Type            string `json:"type"`
	FriendID        string `json:"friend_id"`
	FriendPublicKey string `json:"friend_public_key"`
}

func NewFriendAdded(friendID, publicKey string) FriendAdded {
	return FriendAdded{Type: EventFriendAdded, FriendID: friendID, FriendPublicKey: publicKey}
}

type FriendRequestRejected struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func NewFriendRequestRejected(userID string) FriendRequestRejected {
	return FriendRequestRejected{Type: EventFriendRequestRejected, UserID: userID}
}

type MessageReceived struct {
	Type string `json:"type"`
	models.Message
}

func NewMessageReceived(msg models.Message) MessageReceived {
	return MessageReceived{Type: EventMessageReceived, Message: msg}
}

type FriendsList struct {
	Type    string              `json:"type"`
	Friends []models.FriendInfo `json:"friends"`
}

func NewFriendsList(friends []models.FriendInfo) FriendsList {
	return FriendsList{Type: EventFriendsList, Friends: friends}
}

type ConversationMessages struct {
	Type         string           `json:"type"`
	TargetID     string           `json:"target_id"`
	Messages     []models.Message `json:"messages"`
	MessageCount int              `json:"message_count"`
}

func NewConversationMessages(targetID string, messages []models.Message) ConversationMessages {
	return ConversationMessages{
		Type:         EventConversationMessages,
		TargetID:     targetID,
		Messages:     messages,
		MessageCount: len(messages),
	}
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Type: EventError, Message: message}
}

// CanonicalCode нормализует код идентичности для любых операций сравнения.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
