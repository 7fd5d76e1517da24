package server

import (
	"sort"
	"strings"

	"sechat/models"
)

// ConversationStore keeps the append-only ciphertext log per pair of codes.
// The pair key is order-independent; history is in-memory only and does not
// survive restarts.
type ConversationStore struct {
	friends *FriendGraph
	logs    map[string][]models.Message
}

func NewConversationStore(friends *FriendGraph) *ConversationStore {
	return &ConversationStore{
		friends: friends,
		logs:    make(map[string][]models.Message),
	}
}

// pairKey строит канонический ключ пары: коды сортируются и склеиваются
// через '_', который в алфавите кодов не встречается.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// Append archives one ciphertext. Only friends may exchange messages; the
// check and the append are one step under the server mutex, so a racing
// un-accept cannot slip a message through.
func (cs *ConversationStore) Append(sender, target, ciphertext string) (models.Message, error) {
	if !cs.friends.AreFriends(sender, target) {
		return models.Message{}, notFriends("Not friends with this user")
	}
	message := models.Message{
		SenderID:         sender,
		TargetID:         target,
		EncryptedMessage: ciphertext,
		Timestamp:        nowUnix(),
	}
	key := pairKey(sender, target)
	cs.logs[key] = append(cs.logs[key], message)
	return message, nil
}

// History returns the ordered log for the pair, empty but non-nil when the
// pair has no messages yet.
func (cs *ConversationStore) History(requester, target string) ([]models.Message, error) {
	if !cs.friends.AreFriends(requester, target) {
		return nil, notFriends("Not friends with this user")
	}
	log := cs.logs[pairKey(requester, target)]
	if log == nil {
		return []models.Message{}, nil
	}
	return log, nil
}

// Counterparts возвращает отсортированный список собеседников кода.
func (cs *ConversationStore) Counterparts(code string) []string {
	var others []string
	for key := range cs.logs {
		parts := strings.SplitN(key, "_", 2)
		if parts[0] == code {
			others = append(others, parts[1])
		} else if parts[1] == code {
			others = append(others, parts[0])
		}
	}
	sort.Strings(others)
	return others
}

// Rekey перемещает журнал пары (old, other) под ключ (new, other) и
// переписывает старый код внутри записей: после адопции временный код не
// должен оставаться ни в ключах, ни в сообщениях. Если по новому ключу уже
// есть журнал, записи дописываются в конец.
func (cs *ConversationStore) Rekey(oldCode, newCode, other string) {
	oldKey := pairKey(oldCode, other)
	log, ok := cs.logs[oldKey]
	if !ok {
		return
	}
	delete(cs.logs, oldKey)
	// Журнал копируется: на исходный срез могут ещё ссылаться события,
	// собранные до переезда.
	moved := make([]models.Message, len(log))
	copy(moved, log)
	for i := range moved {
		if moved[i].SenderID == oldCode {
			moved[i].SenderID = newCode
		}
		if moved[i].TargetID == oldCode {
			moved[i].TargetID = newCode
		}
	}
	newKey := pairKey(newCode, other)
	cs.logs[newKey] = append(cs.logs[newKey], moved...)
}

// References reports whether the code occurs in any key or message.
func (cs *ConversationStore) References(code string) bool {
	for key, log := range cs.logs {
		parts := strings.SplitN(key, "_", 2)
		if parts[0] == code || parts[1] == code {
			return true
		}
		for _, message := range log {
			if message.SenderID == code || message.TargetID == code {
				return true
			}
		}
	}
	return false
}

// Count returns the total number of archived messages.
func (cs *ConversationStore) Count() int {
	total := 0
	for _, log := range cs.logs {
		total += len(log)
	}
	return total
}
