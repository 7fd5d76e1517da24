package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sechat/models"
	"sechat/protocol"
)

func newResumeFixture() (*IdentityStore, *ConnectionRegistry, *FriendGraph, *ConversationStore, *ResumeCoordinator) {
	identities := NewIdentityStore()
	registry := NewConnectionRegistry()
	friends := NewFriendGraph(identities, registry)
	conversations := NewConversationStore(friends)
	coordinator := NewResumeCoordinator(identities, registry, friends, conversations)
	return identities, registry, friends, conversations, coordinator
}

func bindSession(t *testing.T, identities *IdentityStore, registry *ConnectionRegistry, code string) *Session {
	t.Helper()
	identities.Ensure(code)
	sess := &Session{}
	require.NoError(t, registry.Bind(code, sess))
	return sess
}

func TestResumeNoopConfirmsCurrentCode(t *testing.T) {
	identities, registry, _, _, coordinator := newResumeFixture()
	sess := bindSession(t, identities, registry, "AAAAAA")

	o := newOutbox()
	outcome, err := coordinator.Resume(sess, " aaaaaa ", o)
	require.NoError(t, err)
	assert.Equal(t, ResumeNoop, outcome)
	assert.Equal(t, "AAAAAA", sess.Code)

	require.Len(t, o.items, 1)
	assigned, ok := o.items[0].event.(protocol.UserIDAssigned)
	require.True(t, ok)
	assert.Equal(t, "AAAAAA", assigned.UserID)
	assert.False(t, o.snapshot)
}

func TestResumeRejectsMalformedCode(t *testing.T) {
	identities, registry, _, _, coordinator := newResumeFixture()
	sess := bindSession(t, identities, registry, "AAAAAA")

	for _, requested := range []string{"", "abc", "ABCDEFG", "   "} {
		o := newOutbox()
		outcome, err := coordinator.Resume(sess, requested, o)
		require.Error(t, err, "requested %q", requested)
		assert.Equal(t, ResumeError, outcome)
		assert.Equal(t, KindInvalidInput, KindOf(err))
		assert.Empty(t, o.items)
	}

	assert.Equal(t, "AAAAAA", sess.Code)
}

func TestResumeCollisionLeavesStateUntouched(t *testing.T) {
	identities, registry, _, _, coordinator := newResumeFixture()
	sessA := bindSession(t, identities, registry, "AAAAAA")
	sessB := bindSession(t, identities, registry, "BBBBBB")

	o := newOutbox()
	outcome, err := coordinator.Resume(sessA, "BBBBBB", o)
	require.Error(t, err)
	assert.Equal(t, ResumeError, outcome)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.EqualError(t, err, "Requested ID is currently in use")

	// Обе сессии остались на своих кодах, запись цели не изменилась
	assert.Equal(t, "AAAAAA", sessA.Code)
	assert.Equal(t, "BBBBBB", sessB.Code)
	bound, ok := registry.Session("BBBBBB")
	require.True(t, ok)
	assert.Same(t, sessB, bound)
	assert.True(t, identities.Exists("AAAAAA"))
	assert.Empty(t, o.items)
}

func TestResumeRequiresBoundSession(t *testing.T) {
	_, _, _, _, coordinator := newResumeFixture()
	sess := &Session{Code: "GHOST1"}

	o := newOutbox()
	outcome, err := coordinator.Resume(sess, "TARGET", o)
	require.Error(t, err)
	assert.Equal(t, ResumeError, outcome)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestResumeMergeKeepsExistingKeyState(t *testing.T) {
	identities, registry, friends, _, coordinator := newResumeFixture()

	// Запись XYZ999 восстановлена из снимка вместе с другом
	identities.Restore(map[string]string{"XYZ999": "PK-XYZ"})
	identities.Ensure("QWE456")
	friends.AddEdge("XYZ999", "QWE456")

	sess := bindSession(t, identities, registry, "TTTTTT")
	_, err := identities.SetKeyStatus("TTTTTT", true, false)
	require.NoError(t, err)

	o := newOutbox()
	outcome, err := coordinator.Resume(sess, "XYZ999", o)
	require.NoError(t, err)
	assert.Equal(t, ResumeMerge, outcome)
	assert.Equal(t, "XYZ999", sess.Code)

	// Непустой статус записи не затирается статусом временного кода
	identity, ok := identities.Get("XYZ999")
	require.True(t, ok)
	assert.Equal(t, "PK-XYZ", identity.PublicKey)
	assert.Equal(t, models.KeyStatus{PublicKeyLoaded: true}, identity.Status)

	// Временный код исчез, дружба записи сохранилась
	assert.False(t, identities.Exists("TTTTTT"))
	assert.False(t, registry.IsOnline("TTTTTT"))
	assert.True(t, friends.AreFriends("XYZ999", "QWE456"))

	require.Len(t, o.items, 2)
	_, ok = o.items[0].event.(protocol.UserIDAssigned)
	assert.True(t, ok)
	list, ok := o.items[1].event.(protocol.FriendsList)
	require.True(t, ok)
	require.Len(t, list.Friends, 1)
	assert.Equal(t, "QWE456", list.Friends[0].UserID)
	assert.True(t, o.snapshot)
}

func TestResumeMergeCarriesStatusIntoEmptyRecord(t *testing.T) {
	identities, registry, _, _, coordinator := newResumeFixture()

	identities.Ensure("XYZ999")
	sess := bindSession(t, identities, registry, "TTTTTT")
	_, err := identities.SetKeyStatus("TTTTTT", true, true)
	require.NoError(t, err)

	o := newOutbox()
	outcome, err := coordinator.Resume(sess, "XYZ999", o)
	require.NoError(t, err)
	assert.Equal(t, ResumeMerge, outcome)

	identity, ok := identities.Get("XYZ999")
	require.True(t, ok)
	assert.Equal(t, models.KeyStatus{PrivateKeyLoaded: true, PublicKeyLoaded: true}, identity.Status)
}

func TestResumeAdoptMigratesEverything(t *testing.T) {
	identities, registry, friends, conversations, coordinator := newResumeFixture()

	sess := bindSession(t, identities, registry, "TTTTTT")
	for _, friend := range []string{"FFFFF1", "FFFFF2"} {
		identities.Ensure(friend)
		friends.AddEdge("TTTTTT", friend)
	}

	// Исходящая заявка от временного кода в чужой очереди
	bindSession(t, identities, registry, "FFFFF3")
	_, err := friends.Request("TTTTTT", "FFFFF3")
	require.NoError(t, err)

	// История с одним из друзей в обе стороны
	_, err = conversations.Append("TTTTTT", "FFFFF1", "ct-1")
	require.NoError(t, err)
	_, err = conversations.Append("FFFFF1", "TTTTTT", "ct-2")
	require.NoError(t, err)

	o := newOutbox()
	outcome, err := coordinator.Resume(sess, "RRRRRR", o)
	require.NoError(t, err)
	assert.Equal(t, ResumeAdopt, outcome)
	assert.Equal(t, "RRRRRR", sess.Code)

	// Рёбра переписаны в обе стороны
	assert.True(t, friends.AreFriends("RRRRRR", "FFFFF1"))
	assert.True(t, friends.AreFriends("FFFFF1", "RRRRRR"))
	assert.True(t, friends.AreFriends("RRRRRR", "FFFFF2"))
	assert.True(t, friends.AreFriends("FFFFF2", "RRRRRR"))

	// Отправитель ожидающей заявки переписан
	pending := friends.Pending("FFFFF3")
	require.Len(t, pending, 1)
	assert.Equal(t, "RRRRRR", pending[0].SenderID)

	// Журнал переехал, коды в сообщениях переписаны
	history, err := conversations.History("RRRRRR", "FFFFF1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "RRRRRR", history[0].SenderID)
	assert.Equal(t, "FFFFF1", history[0].TargetID)
	assert.Equal(t, "ct-1", history[0].EncryptedMessage)
	assert.Equal(t, "FFFFF1", history[1].SenderID)
	assert.Equal(t, "RRRRRR", history[1].TargetID)

	// Старый код не существует нигде
	assert.False(t, identities.Exists("TTTTTT"))
	assert.False(t, registry.IsOnline("TTTTTT"))
	assert.False(t, friends.References("TTTTTT"))
	assert.False(t, conversations.References("TTTTTT"))

	require.Len(t, o.items, 2)
	assert.True(t, o.snapshot)
}
