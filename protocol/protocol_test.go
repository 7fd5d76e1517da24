package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sechat/models"
)

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"action":"send_message","target_id":"ABC123","encrypted_message":"ct"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionSendMessage, req.Action)
	assert.Equal(t, "ABC123", req.TargetID)
	assert.Equal(t, "ct", req.EncryptedMessage)

	// Лишние поля игнорируются, отсутствующие остаются нулевыми
	req, err = ParseRequest([]byte(`{"action":"ping","unknown_field":42}`))
	require.NoError(t, err)
	assert.Equal(t, ActionPing, req.Action)
	assert.Empty(t, req.TargetID)

	req, err = ParseRequest([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, req.Action)

	_, err = ParseRequest([]byte(`not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestEncodeAppendsNewline(t *testing.T) {
	data, err := Encode(NewPong())
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"pong\"}\n", string(data))
}

func TestMessageReceivedFlattensFields(t *testing.T) {
	event := NewMessageReceived(models.Message{
		SenderID:         "AAAAAA",
		TargetID:         "BBBBBB",
		EncryptedMessage: "ct",
		Timestamp:        1700000000.5,
	})

	data, err := Encode(event)
	require.NoError(t, err)

	// Поля вложенного сообщения лежат на верхнем уровне кадра
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, EventMessageReceived, decoded["type"])
	assert.Equal(t, "AAAAAA", decoded["sender_id"])
	assert.Equal(t, "BBBBBB", decoded["target_id"])
	assert.Equal(t, "ct", decoded["encrypted_message"])
	assert.Equal(t, 1700000000.5, decoded["timestamp"])
	assert.NotContains(t, decoded, "Message")
}

func TestEncodeEmptySlicesStayArrays(t *testing.T) {
	data, err := Encode(NewFriendsList([]models.FriendInfo{}))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"friends":[]`), "got %s", data)

	data, err = Encode(NewConversationMessages("ABC123", []models.Message{}))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"messages":[]`), "got %s", data)
	assert.True(t, strings.Contains(string(data), `"message_count":0`), "got %s", data)
}

func TestCanonicalCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"abc123", "ABC123"},
		{"  XYZ999  ", "XYZ999"},
		{"\tqwe456\n", "QWE456"},
		{"ALREADY", "ALREADY"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanonicalCode(tc.in), "input %q", tc.in)
	}
}
