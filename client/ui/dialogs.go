package ui

import (
	"fmt"
	"strings"
	"time"

	"sechat-client/protocol"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// newDialogForm builds a form with the shared dialog styling.
func (a *App) newDialogForm(title string) *tview.Form {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorField)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorButton)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(title)
	form.SetTitleColor(ColorTitle)
	return form
}

// centerDialog wraps a form and its status label in a centered overlay.
func centerDialog(form *tview.Form, statusLabel *tview.TextView, width, height int) *tview.Flex {
	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(form, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(statusLabel, width, 0, false).
			AddItem(nil, 0, 1, false), 1, 0, false).
		AddItem(nil, 0, 1, false)
	flex.SetBackgroundColor(ColorBg)
	return flex
}

func (a *App) closeDialog() {
	a.pages.RemovePage("dialog")
	a.app.SetFocus(a.friendsList)
}

func (a *App) showAddFriendDialog() {
	form := a.newDialogForm(" Add Friend ")

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(tcell.ColorRed)

	codeField := tview.NewInputField()
	codeField.SetLabel("Friend code: ")
	codeField.SetFieldWidth(10)

	form.AddFormItem(codeField)

	form.AddButton("Send Request", func() {
		code := strings.TrimSpace(codeField.GetText())
		if code == "" {
			statusLabel.SetText("Friend code is required")
			return
		}
		if a.client == nil || !a.client.IsConnected() {
			statusLabel.SetText("Not connected")
			return
		}

		done := make(chan string, 1)

		a.client.OnEvent(protocol.EventFriendRequestSent, func(ev protocol.Event) {
			select {
			case done <- "":
			default:
			}
		})
		a.client.OnEvent(protocol.EventError, func(ev protocol.Event) {
			select {
			case done <- ev.Message:
			default:
			}
		})

		a.client.SendFriendRequest(code)

		go func() {
			select {
			case errMsg := <-done:
				a.app.QueueUpdateDraw(func() {
					if errMsg == "" {
						a.closeDialog()
						a.statusBar.SetText(" Friend request sent to " + strings.ToUpper(code) + " ")
					} else {
						statusLabel.SetText(errMsg)
					}
				})
			case <-time.After(5 * time.Second):
				a.app.QueueUpdateDraw(func() {
					statusLabel.SetText("Timeout")
				})
			}
		}()
	})

	form.AddButton("Cancel", func() {
		a.closeDialog()
	})

	a.pages.AddPage("dialog", centerDialog(form, statusLabel, 50, 9), true, true)
	a.app.SetFocus(form)
}

// showFriendRequestPrompt asks the user to accept or reject an incoming
// friend request.
func (a *App) showFriendRequestPrompt(senderID string) {
	form := a.newDialogForm(" Friend Request ")

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(tcell.ColorRed)

	info := tview.NewTextView()
	info.SetBackgroundColor(ColorBg)
	info.SetTextColor(ColorFg)
	info.SetText(fmt.Sprintf("%s wants to be friends", senderID))

	respond := func(accepted bool) {
		if a.client != nil && a.client.IsConnected() {
			a.client.RespondFriendRequest(senderID, accepted)
		}
		a.pages.RemovePage("request")
		a.app.SetFocus(a.friendsList)
	}

	form.AddButton("Accept", func() { respond(true) })
	form.AddButton("Reject", func() { respond(false) })
	form.AddButton("Later", func() {
		a.pages.RemovePage("request")
		a.app.SetFocus(a.friendsList)
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
				AddItem(info, 1, 0, false).
				AddItem(form, 0, 1, true), 50, 0, true).
			AddItem(nil, 0, 1, false), 8, 0, true).
		AddItem(nil, 0, 1, false)
	flex.SetBackgroundColor(ColorBg)

	a.pages.AddPage("request", flex, true, true)
	a.app.SetFocus(form)
}

// showResumeDialog claims a previous identity code over the live session.
func (a *App) showResumeDialog() {
	form := a.newDialogForm(" Change Identity ")

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(tcell.ColorRed)

	codeField := tview.NewInputField()
	codeField.SetLabel("Identity code: ")
	codeField.SetFieldWidth(10)

	form.AddFormItem(codeField)

	form.AddButton("Resume", func() {
		code := strings.TrimSpace(codeField.GetText())
		if code == "" {
			statusLabel.SetText("Identity code is required")
			return
		}
		if a.client == nil || !a.client.IsConnected() {
			statusLabel.SetText("Not connected")
			return
		}

		done := make(chan string, 1)

		a.client.OnEvent(protocol.EventUserIDAssigned, func(ev protocol.Event) {
			select {
			case done <- "":
			default:
			}
		})
		a.client.OnEvent(protocol.EventError, func(ev protocol.Event) {
			select {
			case done <- ev.Message:
			default:
			}
		})

		a.client.ResumeSession(code)

		go func() {
			select {
			case errMsg := <-done:
				a.app.QueueUpdateDraw(func() {
					if errMsg == "" {
						a.closeDialog()
						// The key pair is session-local, republish it
						// under the resumed identity
						a.mu.RLock()
						keys := a.keys
						a.mu.RUnlock()
						if keys != nil && a.client != nil {
							a.client.SetPublicKey(keys.PublicBase64())
						}
						a.updateMainTitle()
					} else {
						statusLabel.SetText(errMsg)
					}
				})
			case <-time.After(5 * time.Second):
				a.app.QueueUpdateDraw(func() {
					statusLabel.SetText("Timeout")
				})
			}
		}()
	})

	form.AddButton("Cancel", func() {
		a.closeDialog()
	})

	a.pages.AddPage("dialog", centerDialog(form, statusLabel, 50, 9), true, true)
	a.app.SetFocus(form)
}

// showKeyStatusDialog displays the relay's view of our keys next to the
// local fingerprint.
func (a *App) showKeyStatusDialog() {
	form := a.newDialogForm(" Key Status ")

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(ColorFg)
	statusLabel.SetDynamicColors(true)
	statusLabel.SetText("Querying...")

	done := make(chan protocol.KeyStatus, 1)
	a.client.OnEvent(protocol.EventKeyStatus, func(ev protocol.Event) {
		select {
		case done <- ev.KeyStatus:
		default:
		}
	})
	a.client.GetKeyStatus()

	go func() {
		select {
		case status := <-done:
			a.app.QueueUpdateDraw(func() {
				mark := func(ok bool) string {
					if ok {
						return "[green]yes[-]"
					}
					return "[red]no[-]"
				}
				fingerprint := "none"
				a.mu.RLock()
				if a.keys != nil {
					fingerprint = a.keys.Fingerprint() + "…"
				}
				a.mu.RUnlock()
				statusLabel.SetText(fmt.Sprintf("private loaded: %s  public loaded: %s  key: %s",
					mark(status.PrivateKeyLoaded), mark(status.PublicKeyLoaded), fingerprint))
			})
		case <-time.After(5 * time.Second):
			a.app.QueueUpdateDraw(func() {
				statusLabel.SetText("Timeout")
			})
		}
	}()

	form.AddButton("Close", func() {
		a.closeDialog()
	})

	a.pages.AddPage("dialog", centerDialog(form, statusLabel, 60, 7), true, true)
	a.app.SetFocus(form)
}

func (a *App) showDisconnectNotification(reason string) {
	form := a.newDialogForm(" Disconnected ")

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(ColorFg)
	if reason != "" {
		statusLabel.SetText("Reason: " + reason)
	}

	form.AddButton("OK", func() {
		a.closeDialog()
	})

	a.pages.AddPage("dialog", centerDialog(form, statusLabel, 44, 5), true, true)
	a.app.SetFocus(form)
}
