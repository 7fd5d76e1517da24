package ui

import "fmt"

// loadFriends asks the relay for a fresh friends list. The response is
// handled by the global friends_list handler.
func (a *App) loadFriends() {
	if a.client == nil || !a.client.IsConnected() {
		return
	}
	a.client.GetFriends()
}

func (a *App) updateFriendsList() {
	if a.friendsList == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	currentIdx := a.friendsList.GetCurrentItem()
	a.friendsList.Clear()

	for _, friend := range a.friends {
		unread := a.unreadCounts[friend.UserID]

		// The lock marks friends whose published key we hold, so
		// messages to them can be sealed
		keyMark := ""
		if a.friendKeys[friend.UserID] != nil {
			keyMark = " [cyan]⚿[-]"
		}

		var mainText string
		if friend.Online {
			if unread > 0 {
				mainText = fmt.Sprintf("[green]●[white] %s%s [red](%d)", friend.UserID, keyMark, unread)
			} else {
				mainText = fmt.Sprintf("[green]●[white] %s%s", friend.UserID, keyMark)
			}
		} else {
			lastSeenStr := ""
			if friend.LastSeen > 0 {
				if formatted := formatLastSeen(friend.LastSeen); formatted != "" {
					lastSeenStr = fmt.Sprintf(" [gray]%s", formatted)
				}
			}

			if unread > 0 {
				mainText = fmt.Sprintf("[gray]○[white] %s%s%s [red](%d)", friend.UserID, keyMark, lastSeenStr, unread)
			} else {
				mainText = fmt.Sprintf("[gray]○[white] %s%s%s", friend.UserID, keyMark, lastSeenStr)
			}
		}

		a.friendsList.AddItem(mainText, "", 0, nil)
	}

	if currentIdx >= 0 && currentIdx < a.friendsList.GetItemCount() {
		a.friendsList.SetCurrentItem(currentIdx)
	}
}
