package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func (a *App) showMainScreen() {
	// Remove connect dialog and background
	a.pages.RemovePage("connect")
	a.pages.RemovePage("background")

	// Create and add main page
	mainPage := a.createMainPage()
	a.pages.AddPage("main", mainPage, true, true)

	a.updateMainTitle()

	// Start status ticker for ping display and presence polling
	a.startStatusTicker()

	a.updateConnectionStatus()
	a.updateStatusBarText()

	a.loadFriends()

	// Focus on friends list
	a.app.SetFocus(a.friendsList)
}

func (a *App) updateMainTitle() {
	if a.friendsList == nil {
		return
	}
	a.mu.RLock()
	code := a.userID
	a.mu.RUnlock()
	a.friendsList.SetTitle(fmt.Sprintf(" Friends [%s] ", code))
}

func (a *App) createMainPage() tview.Primitive {
	// Friends list on the left
	a.friendsList = tview.NewList()
	a.friendsList.SetBorder(true)
	a.friendsList.SetBorderColor(ColorBorder)
	a.friendsList.SetBackgroundColor(ColorBg)
	a.friendsList.SetTitle(" Friends ")
	a.friendsList.SetTitleColor(ColorTitle)
	a.friendsList.SetMainTextColor(ColorFg)
	a.friendsList.SetMainTextStyle(tcell.StyleDefault.Foreground(ColorFg).Background(ColorBg))
	a.friendsList.SetSelectedTextColor(ColorTitle)
	a.friendsList.SetSelectedBackgroundColor(ColorButton)
	a.friendsList.SetHighlightFullLine(true)
	a.friendsList.ShowSecondaryText(false)

	a.friendsList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		if !a.requireConnection() {
			return
		}
		a.mu.RLock()
		if index < len(a.friends) {
			friend := a.friends[index]
			a.mu.RUnlock()
			a.openChat(friend.UserID)
		} else {
			a.mu.RUnlock()
		}
	})

	// Connection status view
	a.connectionView = tview.NewTextView()
	a.connectionView.SetBorder(true)
	a.connectionView.SetBorderColor(ColorBorder)
	a.connectionView.SetBackgroundColor(ColorBg)
	a.connectionView.SetTitle(" Connection ")
	a.connectionView.SetTitleColor(ColorTitle)
	a.connectionView.SetTextColor(ColorFg)
	a.connectionView.SetDynamicColors(true)
	a.connectionView.SetTextAlign(tview.AlignCenter)
	a.updateConnectionStatus()

	// Status bar at bottom
	a.statusBar = tview.NewTextView()
	a.statusBar.SetBackgroundColor(ColorButton)
	a.statusBar.SetTextColor(ColorTitle)
	a.statusBar.SetTextAlign(tview.AlignCenter)
	a.updateStatusBarText()

	// Main layout
	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.friendsList, 0, 1, true).
		AddItem(a.connectionView, 3, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	// Handle keyboard
	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			a.showHelp()
			return nil
		case tcell.KeyF2:
			if a.requireConnection() {
				a.showAddFriendDialog()
			}
			return nil
		case tcell.KeyF3:
			if a.requireConnection() {
				a.showKeyStatusDialog()
			}
			return nil
		case tcell.KeyF5:
			a.loadFriends()
			return nil
		case tcell.KeyF6:
			a.toggleConnection()
			return nil
		case tcell.KeyF7:
			if a.requireConnection() {
				a.showResumeDialog()
			}
			return nil
		case tcell.KeyF10:
			a.quit()
			return nil
		case tcell.KeyEsc:
			a.quit()
			return nil
		}
		return event
	})

	return mainFlex
}
