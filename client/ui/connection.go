package ui

import (
	"fmt"
	"time"

	"sechat-client/crypto"
	"sechat-client/protocol"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func (a *App) showConnectDialog() {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorField)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorButton)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" sechat ")
	form.SetTitleColor(ColorTitle)

	statusText := tview.NewTextView()
	statusText.SetBackgroundColor(ColorBg)
	statusText.SetTextColor(tcell.ColorRed)
	statusText.SetTextAlign(tview.AlignCenter)
	statusText.SetDynamicColors(true)

	codeField := tview.NewInputField()
	codeField.SetLabel("Identity code: ")
	codeField.SetFieldWidth(10)
	codeField.SetBackgroundColor(ColorBg)
	codeField.SetPlaceholder("blank = new")

	form.AddFormItem(codeField)

	form.AddButton("Connect", func() {
		statusText.SetText("Connecting...")
		go a.doConnect(codeField.GetText(), statusText)
	})

	form.AddButton("Quit", func() {
		a.app.Stop()
	})

	formFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusText, 1, 0, false)

	// Create modal-like container
	width := 54
	height := 10

	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(formFlex, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage("connect", modal, true, true)
	a.app.SetFocus(form)
}

// doConnect dials the relay, optionally resumes a previous identity, and
// publishes a fresh key pair. statusText is nil when called from reconnect;
// errors then go to the connection view instead.
func (a *App) doConnect(resumeCode string, statusText *tview.TextView) {
	report := func(msg string) {
		a.app.QueueUpdateDraw(func() {
			if statusText != nil {
				statusText.SetText(msg)
			} else {
				a.setConnectionError(msg)
				a.updateStatusBarText()
			}
		})
	}

	// Handlers are registered before dialing: the relay pushes the
	// welcome assignment unprompted, right after accepting.
	a.client = protocol.NewClient()

	// The welcome assignment and any resume confirmation both arrive as
	// user_id_assigned; errors have no correlation id, so a racing error
	// for another operation would surface here too.
	assigned := make(chan string, 2)
	failed := make(chan string, 2)
	a.client.OnEvent(protocol.EventUserIDAssigned, func(ev protocol.Event) {
		select {
		case assigned <- ev.UserID:
		default:
		}
	})
	a.client.OnEvent(protocol.EventError, func(ev protocol.Event) {
		select {
		case failed <- ev.Message:
		default:
		}
	})

	a.setupHandlers()

	if err := a.client.Connect(a.serverAddr); err != nil {
		a.client = nil
		report(fmt.Sprintf("Connection failed: %v", err))
		return
	}

	select {
	case id := <-assigned:
		a.mu.Lock()
		a.userID = id
		a.mu.Unlock()
	case <-time.After(10 * time.Second):
		report("Connection timeout")
		a.client.Disconnect()
		a.client = nil
		return
	}

	if resumeCode != "" {
		a.client.ResumeSession(resumeCode)
		select {
		case id := <-assigned:
			a.mu.Lock()
			a.userID = id
			a.mu.Unlock()
		case msg := <-failed:
			report(fmt.Sprintf("Resume failed: %s", msg))
			a.client.Disconnect()
			a.client = nil
			return
		case <-time.After(10 * time.Second):
			report("Resume timeout")
			a.client.Disconnect()
			a.client = nil
			return
		}
	}

	keys, err := crypto.NewKeyPair()
	if err != nil {
		report(fmt.Sprintf("Key generation failed: %v", err))
		a.client.Disconnect()
		a.client = nil
		return
	}
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()

	a.client.SetPublicKey(keys.PublicBase64())
	a.client.SetKeyStatus(true, true)

	a.app.QueueUpdateDraw(func() {
		if a.pages.HasPage("main") {
			a.updateConnectionStatus()
			a.updateStatusBarText()
			a.updateMainTitle()
			a.startStatusTicker()
			a.loadFriends()
		} else {
			a.showMainScreen()
		}
	})
}

func (a *App) updateConnectionStatus() {
	if a.connectionView == nil {
		return
	}
	if a.client != nil && a.client.IsConnected() {
		lastPong := a.client.LastPongTime()
		pingStr := formatDuration(lastPong)
		a.connectionView.SetText(fmt.Sprintf("[green]● Connected to %s[-] [gray]│ Last ping: %s ago[-]", a.serverAddr, pingStr))
	} else {
		a.connectionView.SetText(fmt.Sprintf("[red]○ Disconnected from %s[-]", a.serverAddr))
	}
}

func (a *App) startStatusTicker() {
	if a.statusTicker != nil {
		return
	}
	a.statusTickerDone = make(chan struct{})
	a.statusTicker = time.NewTicker(1 * time.Second)
	ticker := a.statusTicker
	done := a.statusTickerDone
	go func() {
		ticks := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if a.client != nil && a.client.IsConnected() {
					a.app.QueueUpdateDraw(func() {
						a.updateConnectionStatus()
						a.updateFriendsList() // Refresh last seen times
					})
					// The relay pushes no presence changes, so the
					// friends list is re-polled periodically
					ticks++
					if ticks%15 == 0 {
						a.client.GetFriends()
					}
				}
			}
		}
	}()
}

func (a *App) stopStatusTicker() {
	if a.statusTicker != nil {
		a.statusTicker.Stop()
		close(a.statusTickerDone)
		a.statusTicker = nil
	}
}

func (a *App) setConnectionError(err string) {
	if a.connectionView == nil {
		return
	}
	a.connectionView.SetText(fmt.Sprintf("[red]✗ Error: %s[-]", err))
}

// requireConnection reports whether the relay connection is up, showing a
// hint when it is not.
func (a *App) requireConnection() bool {
	if a.client == nil || !a.client.IsConnected() {
		a.setConnectionError("Not connected. Press F6 to connect.")
		return false
	}
	return true
}

func (a *App) updateStatusBarText() {
	if a.statusBar == nil {
		return
	}
	if a.client != nil && a.client.IsConnected() {
		a.statusBar.SetText(" F1:Help | F2:Add Friend | F3:Keys | F5:Refresh | F6:Disconnect | F7:Identity | F10:Quit ")
	} else {
		a.statusBar.SetText(" F1:Help | F6:Connect | F10:Quit ")
	}
}

func (a *App) resetPresence() {
	a.mu.Lock()
	for i := range a.friends {
		a.friends[i].Online = false
	}
	for k := range a.unreadCounts {
		delete(a.unreadCounts, k)
	}
	a.mu.Unlock()
}

func (a *App) toggleConnection() {
	if a.client != nil && a.client.IsConnected() {
		// Disconnect
		a.connectionView.SetText("[yellow]Disconnecting...[-]")
		a.stopStatusTicker()
		a.client.Disconnect()
		a.client = nil
		a.resetPresence()
		a.updateConnectionStatus()
		a.updateStatusBarText()
		a.updateFriendsList()
	} else {
		// Reconnect resuming the identity this session already holds
		a.connectionView.SetText("[yellow]Connecting...[-]")
		a.mu.RLock()
		resume := a.userID
		a.mu.RUnlock()
		go a.doConnect(resume, nil)
	}
}
