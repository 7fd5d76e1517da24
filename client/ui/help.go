package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func (a *App) showHelp() {
	helpText := `
 [yellow]Main Screen[-]
 ───────────────────────────────────────────────────────────────
   [white]F1[-]       Show this help
   [white]F2[-]       Send a friend request
   [white]F3[-]       Show key status
   [white]F5[-]       Refresh friends list
   [white]F6[-]       Connect / Disconnect
   [white]F7[-]       Change identity (resume a saved code)
   [white]F10/Esc[-]  Quit application
   [white]Enter[-]    Open chat with friend
   [white]↑ ↓[-]      Navigate friends

 [yellow]Chat Screen[-]
 ───────────────────────────────────────────────────────────────
   [white]Enter[-]    Send message
   [white]Tab[-]      Switch between input and scroll mode
   [white]F5[-]       Reload archived history
   [white]Esc[-]      Back to friends (from input mode)

 [yellow]Scroll Mode (after pressing Tab)[-]
 ───────────────────────────────────────────────────────────────
   [white]↑ ↓[-]      Scroll one line
   [white]PgUp/Dn[-]  Scroll page (10 lines)
   [white]Home[-]     Scroll to beginning
   [white]End[-]      Scroll to end
   [white]Tab/Esc[-]  Return to input mode

 [yellow]Status Icons[-]
 ───────────────────────────────────────────────────────────────
   [green]●[-] online   Friend is connected
   [gray]○[-] offline  Friend is disconnected
   [cyan]⚿[-]          Friend's key is known, chat is end-to-end

 [yellow]Identity and Encryption[-]
 ───────────────────────────────────────────────────────────────
   The relay assigns a random 6-character code per connection.
   Save your code and enter it on the next connect (or press F7)
   to keep your friends and conversations.
   Messages are sealed locally with NaCl box; the relay only ever
   sees ciphertext. Archived copies of your own messages cannot
   be re-read after a restart since the plaintext never leaves
   this machine.
   The connection is kept alive with an automatic ping every 30s.
`

	helpView := tview.NewTextView()
	helpView.SetText(helpText)
	helpView.SetBackgroundColor(ColorBg)
	helpView.SetTextColor(ColorFg)
	helpView.SetDynamicColors(true)
	helpView.SetBorder(true)
	helpView.SetBorderColor(ColorBorder)
	helpView.SetTitle(" Help ")
	helpView.SetTitleColor(ColorTitle)

	helpView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyF1, tcell.KeyEnter:
			a.pages.RemovePage("help")
			a.app.SetFocus(a.friendsList)
			return nil
		}
		return event
	})

	a.pages.AddPage("help", helpView, true, true)
	a.app.SetFocus(helpView)
}
