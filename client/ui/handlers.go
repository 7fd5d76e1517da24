package ui

import (
	"sechat-client/crypto"
	"sechat-client/protocol"
)

func (a *App) setupHandlers() {
	// Identity assignment, both the welcome and resume confirmations
	a.client.OnEvent(protocol.EventUserIDAssigned, func(ev protocol.Event) {
		a.mu.Lock()
		a.userID = ev.UserID
		a.mu.Unlock()
		a.app.QueueUpdateDraw(func() {
			a.updateMainTitle()
		})
	})

	// Full friends list snapshot
	a.client.OnEvent(protocol.EventFriendsList, func(ev protocol.Event) {
		a.mu.Lock()
		a.friends = ev.Friends
		for _, friend := range ev.Friends {
			if friend.PublicKey == "" {
				continue
			}
			if key, err := crypto.ParsePublicKey(friend.PublicKey); err == nil {
				a.friendKeys[friend.UserID] = key
			}
		}
		a.mu.Unlock()
		a.app.QueueUpdateDraw(func() {
			a.updateFriendsList()
			a.updateChatTitle()
		})
	})

	// A friend published a new key
	a.client.OnEvent(protocol.EventFriendKeyUpdated, func(ev protocol.Event) {
		key, err := crypto.ParsePublicKey(ev.FriendPublicKey)
		if err != nil {
			return
		}
		a.mu.Lock()
		a.friendKeys[ev.FriendID] = key
		for i := range a.friends {
			if a.friends[i].UserID == ev.FriendID {
				a.friends[i].PublicKey = ev.FriendPublicKey
			}
		}
		a.mu.Unlock()
		a.app.QueueUpdateDraw(func() {
			a.updateFriendsList()
			a.updateChatTitle()
		})
	})

	// Incoming friend request
	a.client.OnEvent(protocol.EventFriendRequestReceived, func(ev protocol.Event) {
		a.app.QueueUpdateDraw(func() {
			a.showFriendRequestPrompt(ev.SenderID)
		})
	})

	// Request accepted on either side; the relay follows up with a
	// fresh friends_list, so only a note is needed here
	a.client.OnEvent(protocol.EventFriendAdded, func(ev protocol.Event) {
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetText(" Now friends with " + ev.FriendID + " ")
		})
	})

	a.client.OnEvent(protocol.EventFriendRequestRejected, func(ev protocol.Event) {
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetText(" " + ev.UserID + " declined your friend request ")
		})
	})

	// One relayed message: either an incoming ciphertext or the echo of
	// a message this session sent
	a.client.OnEvent(protocol.EventMessageReceived, func(ev protocol.Event) {
		a.mu.Lock()
		me := a.userID
		var peer string
		var entry chatMessage
		if ev.SenderID == me {
			// Echo: adopt the relay's timestamp for the plaintext
			// queued at send time
			peer = ev.TargetID
			entry = chatMessage{Sender: me, Timestamp: ev.Timestamp, Encrypted: true}
			if queue := a.pendingSent[peer]; len(queue) > 0 {
				entry.Text = queue[0]
				entry.Encrypted = false
				a.pendingSent[peer] = queue[1:]
			}
		} else {
			peer = ev.SenderID
			entry = a.decryptLocked(peer, ev.EncryptedMessage, ev.Timestamp)
			if a.currentChat != peer {
				a.unreadCounts[peer]++
			}
		}
		a.messages[peer] = append(a.messages[peer], entry)
		current := a.currentChat
		a.mu.Unlock()

		a.app.QueueUpdateDraw(func() {
			if current == peer && a.chatView != nil {
				a.refreshChatView()
			}
			a.updateFriendsList()
		})
	})

	// Archived conversation history
	a.client.OnEvent(protocol.EventConversationMessages, func(ev protocol.Event) {
		a.mu.Lock()
		me := a.userID
		peer := ev.TargetID

		// Plaintexts already known this session survive the rebuild
		known := make(map[float64]string)
		for _, m := range a.messages[peer] {
			if !m.Encrypted {
				known[m.Timestamp] = m.Text
			}
		}

		history := make([]chatMessage, 0, len(ev.Messages))
		for _, msg := range ev.Messages {
			if text, ok := known[msg.Timestamp]; ok {
				history = append(history, chatMessage{Sender: msg.SenderID, Text: text, Timestamp: msg.Timestamp})
				continue
			}
			if msg.SenderID == me {
				// Our own archive entries are sealed for the peer
				// and cannot be opened without a local copy
				history = append(history, chatMessage{Sender: me, Timestamp: msg.Timestamp, Encrypted: true})
				continue
			}
			history = append(history, a.decryptLocked(peer, msg.EncryptedMessage, msg.Timestamp))
		}
		a.messages[peer] = history
		current := a.currentChat
		a.mu.Unlock()

		a.app.QueueUpdateDraw(func() {
			if current == peer && a.chatView != nil {
				a.refreshChatView()
			}
		})
	})

	// Relay-reported errors without a more specific consumer
	a.client.OnEvent(protocol.EventError, func(ev protocol.Event) {
		a.app.QueueUpdateDraw(func() {
			a.setConnectionError(ev.Message)
		})
	})

	// Connection dropped
	a.client.OnEvent(protocol.EventDisconnected, func(ev protocol.Event) {
		a.client = nil
		a.resetPresence()
		a.app.QueueUpdateDraw(func() {
			a.updateConnectionStatus()
			a.updateStatusBarText()
			a.updateFriendsList()
			a.showDisconnectNotification(ev.Message)
		})
	})
}

// decryptLocked opens one incoming ciphertext. Callers hold a.mu.
func (a *App) decryptLocked(peer, ciphertext string, timestamp float64) chatMessage {
	entry := chatMessage{Sender: peer, Timestamp: timestamp, Encrypted: true}
	key := a.friendKeys[peer]
	if key == nil || a.keys == nil {
		return entry
	}
	text, err := crypto.Open(ciphertext, key, a.keys)
	if err != nil {
		return entry
	}
	entry.Text = text
	entry.Encrypted = false
	return entry
}
