package server

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"sechat/db"
	"sechat/models"
)

// setupTestServer создает тестовый сервер с временной базой данных
func setupTestServer(t *testing.T) (*Server, func()) {
	// Создаем временный файл для базы данных
	tmpfile, err := os.CreateTemp("", "sechat-test-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpfile.Close()
	os.Remove(tmpfile.Name()) // Удаляем файл, SQLite создаст его заново

	database, err := db.New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	config := &ServerConfig{
		Port:         0,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		RateLimit:    200,
		RateBurst:    400,
	}

	srv := New(database, config, logger)

	cleanup := func() {
		database.Close()
		os.Remove(tmpfile.Name())
	}

	return srv, cleanup
}

// testClient держит клиентскую половину net.Pipe и читает события построчно
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

// newTestClient подключает клиента к серверу через net.Pipe
func newTestClient(srv *Server) *testClient {
	serverConn, clientConn := net.Pipe()
	go srv.handleConnection(serverConn)
	return &testClient{conn: clientConn, reader: bufio.NewReader(clientConn)}
}

func (c *testClient) close() {
	c.conn.Close()
}

// sendAction сериализует запрос в одну JSON-строку
func (c *testClient) sendAction(t *testing.T, req map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
}

// readEvent читает одно событие сервера
func (c *testClient) readEvent(t *testing.T) map[string]interface{} {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("Failed to decode event %q: %v", line, err)
	}
	return event
}

// expectEvent читает событие и проверяет его тип
func (c *testClient) expectEvent(t *testing.T, eventType string) map[string]interface{} {
	t.Helper()
	event := c.readEvent(t)
	if event["type"] != eventType {
		t.Fatalf("Expected event %q, got %v", eventType, event)
	}
	return event
}

// expectError читает событие error и проверяет текст
func (c *testClient) expectError(t *testing.T, message string) {
	t.Helper()
	event := c.expectEvent(t, "error")
	if event["message"] != message {
		t.Fatalf("Expected error %q, got %q", message, event["message"])
	}
}

// connectClient подключает клиента и возвращает выданный код
func connectClient(t *testing.T, srv *Server) (*testClient, string) {
	t.Helper()
	c := newTestClient(srv)
	assigned := c.expectEvent(t, "user_id_assigned")
	code, ok := assigned["user_id"].(string)
	if !ok || code == "" {
		t.Fatalf("user_id_assigned without user_id: %v", assigned)
	}
	c.expectEvent(t, "friends_list")
	return c, code
}

// befriend проводит пару через полный цикл заявки и принятия
func befriend(t *testing.T, a *testClient, codeA string, b *testClient, codeB string) {
	t.Helper()
	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": codeB})
	b.expectEvent(t, "friend_request_received")
	a.expectEvent(t, "friend_request_sent")

	b.sendAction(t, map[string]interface{}{"action": "respond_friend_request", "sender_id": codeA, "accepted": true})
	b.expectEvent(t, "friend_added")
	b.expectEvent(t, "friends_list")
	a.expectEvent(t, "friend_added")
	a.expectEvent(t, "friends_list")
}

// friendEntry ищет запись друга в декодированном friends_list
func friendEntry(event map[string]interface{}, code string) (map[string]interface{}, bool) {
	friends, ok := event["friends"].([]interface{})
	if !ok {
		return nil, false
	}
	for _, raw := range friends {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if entry["user_id"] == code {
			return entry, true
		}
	}
	return nil, false
}

// TestPing проверяет ответ pong
func TestPing(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "ping"})
	c.expectEvent(t, "pong")
}

// TestUserIDAssigned проверяет выдачу кода при подключении
func TestUserIDAssigned(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, code := connectClient(t, srv)
	defer c.close()

	if len(code) != codeLength {
		t.Errorf("Expected %d-character code, got %q", codeLength, code)
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Errorf("Code %q contains unexpected character %q", code, r)
		}
	}

	c2, code2 := connectClient(t, srv)
	defer c2.close()

	if code2 == code {
		t.Errorf("Two connections received the same code %q", code)
	}
}

// TestGetFriendsEmpty проверяет пустой список друзей нового клиента
func TestGetFriendsEmpty(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "get_friends"})
	event := c.expectEvent(t, "friends_list")

	// Пустой список сериализуется как [], а не null
	friends, ok := event["friends"].([]interface{})
	if !ok {
		t.Fatalf("Expected friends array, got %v", event["friends"])
	}
	if len(friends) != 0 {
		t.Errorf("Expected empty friends list, got %v", friends)
	}
}

// TestSetPublicKey проверяет сохранение публичного ключа
func TestSetPublicKey(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "set_public_key", "public_key": "PEM-BLOB-A"})
	event := c.expectEvent(t, "public_key_set")
	if event["success"] != true {
		t.Errorf("Expected success=true, got %v", event["success"])
	}
	status, ok := event["key_status"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected key_status object, got %v", event["key_status"])
	}
	if status["public_key_loaded"] != true {
		t.Errorf("Expected public_key_loaded=true, got %v", status)
	}

	// Пустой ключ отклоняется
	c.sendAction(t, map[string]interface{}{"action": "set_public_key"})
	c.expectError(t, "Public key is required")
}

// TestSetPublicKeyNotifiesFriends проверяет рассылку нового ключа друзьям
func TestSetPublicKeyNotifiesFriends(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	befriend(t, a, codeA, b, codeB)

	a.sendAction(t, map[string]interface{}{"action": "set_public_key", "public_key": "PK-A2"})
	a.expectEvent(t, "public_key_set")

	event := b.expectEvent(t, "friend_key_updated")
	if event["friend_id"] != codeA {
		t.Errorf("Expected friend_id %q, got %v", codeA, event["friend_id"])
	}
	if event["friend_public_key"] != "PK-A2" {
		t.Errorf("Expected friend_public_key PK-A2, got %v", event["friend_public_key"])
	}
}

// TestKeyStatus проверяет обновление и чтение статуса ключей
func TestKeyStatus(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "set_key_status", "private_key_loaded": true, "public_key_loaded": true})
	event := c.expectEvent(t, "key_status_updated")
	status := event["key_status"].(map[string]interface{})
	if status["private_key_loaded"] != true || status["public_key_loaded"] != true {
		t.Errorf("Expected both flags true, got %v", status)
	}

	// Сброс public_key_loaded игнорируется, private применяется
	c.sendAction(t, map[string]interface{}{"action": "set_key_status", "private_key_loaded": false, "public_key_loaded": false})
	event = c.expectEvent(t, "key_status_updated")
	status = event["key_status"].(map[string]interface{})
	if status["private_key_loaded"] != false {
		t.Errorf("Expected private_key_loaded=false, got %v", status)
	}
	if status["public_key_loaded"] != true {
		t.Errorf("Expected public_key_loaded to stay true, got %v", status)
	}

	c.sendAction(t, map[string]interface{}{"action": "get_key_status"})
	event = c.expectEvent(t, "key_status")
	status = event["key_status"].(map[string]interface{})
	if status["public_key_loaded"] != true {
		t.Errorf("Expected persisted public_key_loaded=true, got %v", status)
	}
}

// TestFriendRequestFlow проверяет полный цикл заявки и принятия
func TestFriendRequestFlow(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": codeB})

	received := b.expectEvent(t, "friend_request_received")
	if received["sender_id"] != codeA {
		t.Errorf("Expected sender_id %q, got %v", codeA, received["sender_id"])
	}
	if ts, ok := received["timestamp"].(float64); !ok || ts <= 0 {
		t.Errorf("Expected positive timestamp, got %v", received["timestamp"])
	}

	sent := a.expectEvent(t, "friend_request_sent")
	if sent["target_id"] != codeB {
		t.Errorf("Expected target_id %q, got %v", codeB, sent["target_id"])
	}

	b.sendAction(t, map[string]interface{}{"action": "respond_friend_request", "sender_id": codeA, "accepted": true})

	addedB := b.expectEvent(t, "friend_added")
	if addedB["friend_id"] != codeA {
		t.Errorf("Expected friend_id %q, got %v", codeA, addedB["friend_id"])
	}
	listB := b.expectEvent(t, "friends_list")
	entryA, ok := friendEntry(listB, codeA)
	if !ok {
		t.Fatalf("Expected %q in friends list, got %v", codeA, listB)
	}
	if entryA["online"] != true {
		t.Errorf("Expected %q online, got %v", codeA, entryA)
	}

	addedA := a.expectEvent(t, "friend_added")
	if addedA["friend_id"] != codeB {
		t.Errorf("Expected friend_id %q, got %v", codeB, addedA["friend_id"])
	}
	listA := a.expectEvent(t, "friends_list")
	if _, ok := friendEntry(listA, codeB); !ok {
		t.Fatalf("Expected %q in friends list, got %v", codeB, listA)
	}

	// Повторная заявка между друзьями отклоняется
	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": codeB})
	a.expectError(t, "Already friends with this user")
}

// TestFriendRequestValidation проверяет отказы до принятия заявки
func TestFriendRequestValidation(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	// Неизвестный или оффлайн код
	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": "ZZZZZ9"})
	a.expectError(t, "User ID not found or offline")

	// Заявка самому себе
	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": codeA})
	a.expectError(t, "Cannot add yourself as friend")

	// Код неверного формата
	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": "abc"})
	a.expectError(t, "Invalid user ID format")

	// Повторная заявка, в том числе в другом регистре
	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": codeB})
	b.expectEvent(t, "friend_request_received")
	a.expectEvent(t, "friend_request_sent")

	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": " " + strings.ToLower(codeB) + " "})
	a.expectError(t, "Friend request already sent")
}

// TestRejectFriendRequest проверяет отклонение заявки
func TestRejectFriendRequest(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	a.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": codeB})
	b.expectEvent(t, "friend_request_received")
	a.expectEvent(t, "friend_request_sent")

	b.sendAction(t, map[string]interface{}{"action": "respond_friend_request", "sender_id": codeA, "accepted": false})

	rejected := a.expectEvent(t, "friend_request_rejected")
	if rejected["user_id"] != codeB {
		t.Errorf("Expected user_id %q, got %v", codeB, rejected["user_id"])
	}

	// Заявка снята, повторный ответ не находит её
	b.sendAction(t, map[string]interface{}{"action": "respond_friend_request", "sender_id": codeA, "accepted": true})
	b.expectError(t, "Friend request not found")

	// Дружба не возникла
	a.sendAction(t, map[string]interface{}{"action": "send_message", "target_id": codeB, "encrypted_message": "ct"})
	a.expectError(t, "Not friends with this user")
}

// TestRespondValidation проверяет обязательность sender_id
func TestRespondValidation(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "respond_friend_request", "accepted": true})
	c.expectError(t, "Sender ID is required")

	c.sendAction(t, map[string]interface{}{"action": "respond_friend_request", "sender_id": "GHOST1", "accepted": true})
	c.expectError(t, "Friend request not found")
}

// TestSendMessage проверяет доставку, эхо и историю переписки
func TestSendMessage(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	befriend(t, a, codeA, b, codeB)

	a.sendAction(t, map[string]interface{}{"action": "send_message", "target_id": codeB, "encrypted_message": "cipher-1"})

	delivered := b.expectEvent(t, "message_received")
	if delivered["sender_id"] != codeA || delivered["target_id"] != codeB {
		t.Errorf("Unexpected message addressing: %v", delivered)
	}
	if delivered["encrypted_message"] != "cipher-1" {
		t.Errorf("Expected ciphertext cipher-1, got %v", delivered["encrypted_message"])
	}
	if ts, ok := delivered["timestamp"].(float64); !ok || ts <= 0 {
		t.Errorf("Expected positive timestamp, got %v", delivered["timestamp"])
	}

	// Отправитель получает то же событие как подтверждение
	echo := a.expectEvent(t, "message_received")
	if echo["encrypted_message"] != "cipher-1" {
		t.Errorf("Expected echo of ciphertext, got %v", echo)
	}

	// История доступна обеим сторонам и содержит ровно одну запись
	a.sendAction(t, map[string]interface{}{"action": "get_messages", "target_id": codeB})
	histA := a.expectEvent(t, "conversation_messages")
	if histA["target_id"] != codeB {
		t.Errorf("Expected target_id %q, got %v", codeB, histA["target_id"])
	}
	if histA["message_count"] != float64(1) {
		t.Errorf("Expected message_count=1, got %v", histA["message_count"])
	}

	b.sendAction(t, map[string]interface{}{"action": "get_messages", "target_id": codeA})
	histB := b.expectEvent(t, "conversation_messages")
	messages, ok := histB["messages"].([]interface{})
	if !ok || len(messages) != 1 {
		t.Fatalf("Expected one archived message, got %v", histB["messages"])
	}
	archived := messages[0].(map[string]interface{})
	if archived["sender_id"] != codeA || archived["encrypted_message"] != "cipher-1" {
		t.Errorf("Unexpected archived message: %v", archived)
	}
}

// TestSendMessageValidation проверяет отказы при отправке сообщений
func TestSendMessageValidation(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, _ := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	// Не друзья
	a.sendAction(t, map[string]interface{}{"action": "send_message", "target_id": codeB, "encrypted_message": "ct"})
	a.expectError(t, "Not friends with this user")

	// Обязательные поля
	a.sendAction(t, map[string]interface{}{"action": "send_message", "encrypted_message": "ct"})
	a.expectError(t, "Target user ID is required")

	a.sendAction(t, map[string]interface{}{"action": "send_message", "target_id": codeB})
	a.expectError(t, "Encrypted message is required")
}

// TestGetMessagesEmptyHistory проверяет пустую историю между друзьями
func TestGetMessagesEmptyHistory(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	befriend(t, a, codeA, b, codeB)

	a.sendAction(t, map[string]interface{}{"action": "get_messages", "target_id": codeB})
	event := a.expectEvent(t, "conversation_messages")

	// Пустая история сериализуется как [], а не null
	messages, ok := event["messages"].([]interface{})
	if !ok {
		t.Fatalf("Expected messages array, got %v", event["messages"])
	}
	if len(messages) != 0 {
		t.Errorf("Expected empty history, got %v", messages)
	}
	if event["message_count"] != float64(0) {
		t.Errorf("Expected message_count=0, got %v", event["message_count"])
	}

	// История без поля target_id
	a.sendAction(t, map[string]interface{}{"action": "get_messages"})
	a.expectError(t, "Target user ID is required")

	// История с посторонним кодом
	c, codeC := connectClient(t, srv)
	defer c.close()
	a.sendAction(t, map[string]interface{}{"action": "get_messages", "target_id": codeC})
	a.expectError(t, "Not friends with this user")
}

// TestResumeSession проверяет присвоение нового кода и защиту занятого
func TestResumeSession(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, _ := connectClient(t, srv)
	defer a.close()

	a.sendAction(t, map[string]interface{}{"action": "resume_session", "user_id": "XYZ999"})
	assigned := a.expectEvent(t, "user_id_assigned")
	if assigned["user_id"] != "XYZ999" {
		t.Errorf("Expected user_id XYZ999, got %v", assigned["user_id"])
	}
	a.expectEvent(t, "friends_list")

	// Сессия остаётся рабочей после переезда
	a.sendAction(t, map[string]interface{}{"action": "ping"})
	a.expectEvent(t, "pong")

	// Код, занятый живой сессией, забрать нельзя
	b, codeB := connectClient(t, srv)
	defer b.close()

	b.sendAction(t, map[string]interface{}{"action": "resume_session", "user_id": "XYZ999"})
	b.expectError(t, "Requested ID is currently in use")

	// Проигравший остался на своём коде
	b.sendAction(t, map[string]interface{}{"action": "resume_session", "user_id": codeB})
	confirmed := b.expectEvent(t, "user_id_assigned")
	if confirmed["user_id"] != codeB {
		t.Errorf("Expected user_id %q, got %v", codeB, confirmed["user_id"])
	}

	// Повтор своего кода ничего не меняет: следующий ответ это pong
	b.sendAction(t, map[string]interface{}{"action": "ping"})
	b.expectEvent(t, "pong")

	// Победитель не пострадал
	a.sendAction(t, map[string]interface{}{"action": "ping"})
	a.expectEvent(t, "pong")
}

// TestResumeValidation проверяет формат и нормализацию кода
func TestResumeValidation(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "resume_session", "user_id": "abc"})
	c.expectError(t, "Invalid user ID format for resume")

	c.sendAction(t, map[string]interface{}{"action": "resume_session"})
	c.expectError(t, "Invalid user ID format for resume")

	// Код приводится к верхнему регистру и обрезается
	c.sendAction(t, map[string]interface{}{"action": "resume_session", "user_id": "  xyz999 "})
	assigned := c.expectEvent(t, "user_id_assigned")
	if assigned["user_id"] != "XYZ999" {
		t.Errorf("Expected canonical XYZ999, got %v", assigned["user_id"])
	}
	c.expectEvent(t, "friends_list")
}

// TestResumeAdoptionCarriesState проверяет полный переезд состояния на новый код
func TestResumeAdoptionCarriesState(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	befriend(t, a, codeA, b, codeB)

	a.sendAction(t, map[string]interface{}{"action": "send_message", "target_id": codeB, "encrypted_message": "hello-ct"})
	b.expectEvent(t, "message_received")
	a.expectEvent(t, "message_received")

	a.sendAction(t, map[string]interface{}{"action": "resume_session", "user_id": "RST789"})
	assigned := a.expectEvent(t, "user_id_assigned")
	if assigned["user_id"] != "RST789" {
		t.Fatalf("Expected user_id RST789, got %v", assigned["user_id"])
	}
	listA := a.expectEvent(t, "friends_list")
	if _, ok := friendEntry(listA, codeB); !ok {
		t.Errorf("Expected %q to survive adoption, got %v", codeB, listA)
	}

	// Список друга указывает на новый код
	b.sendAction(t, map[string]interface{}{"action": "get_friends"})
	listB := b.expectEvent(t, "friends_list")
	entry, ok := friendEntry(listB, "RST789")
	if !ok {
		t.Fatalf("Expected RST789 in friends list, got %v", listB)
	}
	if entry["online"] != true {
		t.Errorf("Expected RST789 online, got %v", entry)
	}
	if _, ok := friendEntry(listB, codeA); ok {
		t.Errorf("Old code %q still present in friends list: %v", codeA, listB)
	}

	// История переехала вместе с переписанными кодами
	b.sendAction(t, map[string]interface{}{"action": "get_messages", "target_id": "RST789"})
	hist := b.expectEvent(t, "conversation_messages")
	messages, ok := hist["messages"].([]interface{})
	if !ok || len(messages) != 1 {
		t.Fatalf("Expected one migrated message, got %v", hist["messages"])
	}
	migrated := messages[0].(map[string]interface{})
	if migrated["sender_id"] != "RST789" {
		t.Errorf("Expected rewritten sender RST789, got %v", migrated["sender_id"])
	}
	if migrated["encrypted_message"] != "hello-ct" {
		t.Errorf("Ciphertext changed during migration: %v", migrated)
	}

	// Старый код освобождён полностью
	b.sendAction(t, map[string]interface{}{"action": "send_friend_request", "target_id": codeA})
	b.expectError(t, "User ID not found or offline")

	// Сообщения продолжают ходить под новым кодом
	b.sendAction(t, map[string]interface{}{"action": "send_message", "target_id": "RST789", "encrypted_message": "reply-ct"})
	a.expectEvent(t, "message_received")
	b.expectEvent(t, "message_received")
}

// TestResumeRestoredIdentity проверяет возврат на код, поднятый из снимка
func TestResumeRestoredIdentity(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	srv.RestoreSnapshot(models.Snapshot{
		PublicKeys: map[string]string{"XYZ999": "PK-XYZ", "QWE456": "PK-QWE"},
		Friends: map[string][]string{
			"XYZ999": {"QWE456"},
			"QWE456": {"XYZ999"},
		},
	})

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "resume_session", "user_id": "XYZ999"})
	assigned := c.expectEvent(t, "user_id_assigned")
	if assigned["user_id"] != "XYZ999" {
		t.Fatalf("Expected user_id XYZ999, got %v", assigned["user_id"])
	}

	list := c.expectEvent(t, "friends_list")
	entry, ok := friendEntry(list, "QWE456")
	if !ok {
		t.Fatalf("Expected restored friend QWE456, got %v", list)
	}
	if entry["online"] != false {
		t.Errorf("Expected QWE456 offline, got %v", entry)
	}
	if entry["public_key"] != "PK-QWE" {
		t.Errorf("Expected restored key PK-QWE, got %v", entry["public_key"])
	}

	// Статус ключей восстановленной записи сохранился
	c.sendAction(t, map[string]interface{}{"action": "get_key_status"})
	event := c.expectEvent(t, "key_status")
	status := event["key_status"].(map[string]interface{})
	if status["public_key_loaded"] != true {
		t.Errorf("Expected public_key_loaded=true after restore, got %v", status)
	}
}

// TestDisconnectKeepsFriendRecord проверяет, что отключение не рвёт дружбу
func TestDisconnectKeepsFriendRecord(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	b, codeB := connectClient(t, srv)
	defer b.close()

	befriend(t, a, codeA, b, codeB)

	a.close()

	// Отвязка происходит в горутине соединения, дожидаемся её
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.sendAction(t, map[string]interface{}{"action": "get_friends"})
		list := b.expectEvent(t, "friends_list")
		entry, ok := friendEntry(list, codeA)
		if !ok {
			t.Fatalf("Friend record disappeared after disconnect: %v", list)
		}
		if entry["online"] == false {
			if ts, ok := entry["last_seen"].(float64); !ok || ts <= 0 {
				t.Errorf("Expected positive last_seen, got %v", entry["last_seen"])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Friend still online after disconnect: %v", entry)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestInvalidJSON проверяет ответ на неразборчивый фрейм
func TestInvalidJSON(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte("not-json\n")); err != nil {
		t.Fatalf("Failed to send raw line: %v", err)
	}
	c.expectError(t, "Invalid JSON format")

	// Соединение живо после ошибки
	c.sendAction(t, map[string]interface{}{"action": "ping"})
	c.expectEvent(t, "pong")
}

// TestUnknownAction проверяет ответ на неизвестное действие
func TestUnknownAction(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	c, _ := connectClient(t, srv)
	defer c.close()

	c.sendAction(t, map[string]interface{}{"action": "frobnicate"})
	c.expectError(t, "Unknown action: frobnicate")
}

// TestRateLimit проверяет отказ при превышении лимита запросов
func TestRateLimit(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := New(nil, &ServerConfig{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		RateLimit:    1,
		RateBurst:    2,
	}, logger)

	c, _ := connectClient(t, srv)
	defer c.close()

	for i := 0; i < 3; i++ {
		c.sendAction(t, map[string]interface{}{"action": "ping"})
	}

	c.expectEvent(t, "pong")
	c.expectEvent(t, "pong")
	c.expectError(t, "Rate limit exceeded")
}

// TestSnapshotPersistence проверяет финальный снимок при остановке
func TestSnapshotPersistence(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a, codeA := connectClient(t, srv)
	defer a.close()
	b, codeB := connectClient(t, srv)
	defer b.close()

	a.sendAction(t, map[string]interface{}{"action": "set_public_key", "public_key": "PK-A"})
	a.expectEvent(t, "public_key_set")

	befriend(t, a, codeA, b, codeB)

	srv.Shutdown()

	snap, err := srv.db.LoadSnapshot()
	if err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}

	if snap.PublicKeys[codeA] != "PK-A" {
		t.Errorf("Expected persisted key for %q, got %v", codeA, snap.PublicKeys)
	}
	if !hasFriendCode(snap.Friends[codeA], codeB) {
		t.Errorf("Expected edge %s -> %s, got %v", codeA, codeB, snap.Friends)
	}
	if !hasFriendCode(snap.Friends[codeB], codeA) {
		t.Errorf("Expected edge %s -> %s, got %v", codeB, codeA, snap.Friends)
	}

	// Ключи без значения не попадают в снимок
	if _, ok := snap.PublicKeys[codeB]; ok {
		t.Errorf("Unexpected key persisted for %q", codeB)
	}
}

func hasFriendCode(list []string, code string) bool {
	for _, friend := range list {
		if friend == code {
			return true
		}
	}
	return false
}
