package ui

import (
	"fmt"
	"strings"

	"sechat-client/crypto"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const chatKeysHint = " Enter:Send | Tab:Scroll | F5:History | Esc:Back "

func (a *App) openChat(friendID string) {
	a.mu.Lock()
	a.currentChat = friendID
	// Reset unread count when opening chat
	a.unreadCounts[friendID] = 0
	a.mu.Unlock()

	chatPage := a.createChatPage(friendID)
	a.pages.AddPage("chat", chatPage, true, true)
	a.pages.SwitchToPage("chat")

	// Update friends list to reflect cleared unread count
	a.updateFriendsList()
	a.refreshChatView()

	// Load archived history
	a.loadHistory(friendID)
}

func (a *App) getChatTitle(friendID string) string {
	a.mu.RLock()
	online := false
	for _, f := range a.friends {
		if f.UserID == friendID {
			online = f.Online
			break
		}
	}
	hasKey := a.friendKeys[friendID] != nil
	a.mu.RUnlock()

	status := "○ offline"
	if online {
		status = "● online"
	}
	seal := "no key"
	if hasKey {
		seal = "⚿ e2e"
	}
	return fmt.Sprintf(" %s ─ %s ─ %s ", friendID, status, seal)
}

func (a *App) updateChatTitle() {
	if a.chatView != nil && a.currentChat != "" {
		a.chatView.SetTitle(a.getChatTitle(a.currentChat))
	}
}

func (a *App) createChatPage(friendID string) tview.Primitive {
	// Chat history view
	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(a.getChatTitle(friendID))
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)
	a.chatView.ScrollToEnd()

	// Message input
	a.messageInput = tview.NewInputField()
	a.messageInput.SetLabel("> ")
	a.messageInput.SetFieldWidth(0)
	a.messageInput.SetBackgroundColor(ColorBg)
	a.messageInput.SetFieldBackgroundColor(ColorField)
	a.messageInput.SetFieldTextColor(ColorFg)
	a.messageInput.SetLabelColor(ColorHighlight)
	a.messageInput.SetBorder(true)
	a.messageInput.SetBorderColor(ColorBorder)
	a.messageInput.SetTitle(" Message ")
	a.messageInput.SetTitleColor(ColorTitle)

	a.messageInput.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := a.messageInput.GetText()
			if text != "" {
				a.sendMessage(friendID, text)
				a.messageInput.SetText("")
			}
		}
	})

	// Status bar
	chatStatus := tview.NewTextView()
	chatStatus.SetBackgroundColor(ColorButton)
	chatStatus.SetTextColor(ColorTitle)
	chatStatus.SetTextAlign(tview.AlignCenter)
	chatStatus.SetText(chatKeysHint)
	a.chatStatus = chatStatus

	// Layout
	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.messageInput, 3, 0, true).
		AddItem(chatStatus, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	// Track focus on chat view for scrolling
	chatViewFocused := false

	// Handle keyboard
	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			if chatViewFocused {
				chatViewFocused = false
				a.app.SetFocus(a.messageInput)
				chatStatus.SetText(chatKeysHint)
				return nil
			}
			a.closeChat()
			return nil
		case tcell.KeyTab:
			chatViewFocused = !chatViewFocused
			if chatViewFocused {
				a.app.SetFocus(a.chatView)
				chatStatus.SetText(" ↑↓/PgUp/PgDn:Scroll | Home:Top | End:Bottom | Tab/Esc:Input ")
			} else {
				a.app.SetFocus(a.messageInput)
				chatStatus.SetText(chatKeysHint)
			}
			return nil
		case tcell.KeyF5:
			a.loadHistory(friendID)
			return nil
		case tcell.KeyPgUp:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row+10, col)
			return nil
		case tcell.KeyUp:
			if chatViewFocused {
				row, col := a.chatView.GetScrollOffset()
				a.chatView.ScrollTo(row-1, col)
				return nil
			}
		case tcell.KeyDown:
			if chatViewFocused {
				row, col := a.chatView.GetScrollOffset()
				a.chatView.ScrollTo(row+1, col)
				return nil
			}
		case tcell.KeyHome:
			if chatViewFocused {
				a.chatView.ScrollToBeginning()
				return nil
			}
		case tcell.KeyEnd:
			if chatViewFocused {
				a.chatView.ScrollToEnd()
				return nil
			}
		}
		return event
	})

	return mainFlex
}

func (a *App) loadHistory(friendID string) {
	if a.client == nil || !a.client.IsConnected() {
		return
	}
	a.client.GetMessages(friendID)
}

func (a *App) refreshChatView() {
	if a.chatView == nil {
		return
	}

	a.mu.RLock()
	me := a.userID
	messages := a.messages[a.currentChat]
	a.mu.RUnlock()

	// Get chat view width for the date separator
	_, _, width, _ := a.chatView.GetInnerRect()
	if width < 10 {
		width = 80
	}

	a.chatView.Clear()
	var sb strings.Builder
	var lastDate string

	for _, msg := range messages {
		// Insert date separator when date changes
		msgDate := formatDate(msg.Timestamp)
		if msgDate != "" && msgDate != lastDate {
			dateLabel := formatDateSeparator(msg.Timestamp)
			padding := (width - len(dateLabel)) / 2
			if padding < 0 {
				padding = 0
			}
			sb.WriteString(fmt.Sprintf("[gray]%s%s[-]\n", strings.Repeat(" ", padding), dateLabel))
			lastDate = msgDate
		}

		timeStr := formatTime(msg.Timestamp)

		text := msg.Text
		if msg.Encrypted {
			if msg.Sender == me {
				text = "[gray](sent earlier, no local copy)[-]"
			} else {
				text = "[red](unable to decrypt)[-]"
			}
		}

		// Outgoing = white, Incoming = yellow
		if msg.Sender == me {
			sb.WriteString(fmt.Sprintf("[gray]%s[-] [white]→ %s[-]\n", timeStr, text))
		} else {
			sb.WriteString(fmt.Sprintf("[gray]%s[-] [yellow]← %s[-]\n", timeStr, text))
		}
	}

	a.chatView.SetText(sb.String())
	a.chatView.ScrollToEnd()
}

func (a *App) sendMessage(friendID, text string) {
	if a.client == nil || !a.client.IsConnected() {
		a.chatStatus.SetText(" Not connected ")
		return
	}

	a.mu.RLock()
	key := a.friendKeys[friendID]
	keys := a.keys
	a.mu.RUnlock()

	if key == nil {
		a.chatStatus.SetText(" No published key for this friend yet, cannot encrypt ")
		return
	}

	ciphertext, err := crypto.Seal(text, key, keys)
	if err != nil {
		a.chatStatus.SetText(fmt.Sprintf(" Encryption failed: %v ", err))
		return
	}

	// The plaintext is queued until the relay echoes the archived
	// message back with its timestamp
	a.mu.Lock()
	a.pendingSent[friendID] = append(a.pendingSent[friendID], text)
	a.mu.Unlock()

	a.client.SendMessage(friendID, ciphertext)
	a.chatStatus.SetText(chatKeysHint)
}

func (a *App) closeChat() {
	a.mu.Lock()
	a.currentChat = ""
	a.mu.Unlock()
	a.chatView = nil
	a.messageInput = nil
	a.chatStatus = nil
	a.pages.RemovePage("chat")
	a.pages.SwitchToPage("main")
	a.app.SetFocus(a.friendsList)
}
