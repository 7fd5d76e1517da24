package ui

import (
	"sync"
	"time"

	"sechat-client/crypto"
	"sechat-client/protocol"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// chatMessage is one rendered message. Encrypted marks entries whose
// plaintext is unavailable: incoming ciphertext we could not open, or our
// own archived messages with no local copy.
type chatMessage struct {
	Sender    string
	Text      string
	Timestamp float64
	Encrypted bool
}

// App is the main application
type App struct {
	app        *tview.Application
	pages      *tview.Pages
	client     *protocol.Client
	serverAddr string

	keys   *crypto.KeyPair
	userID string

	friends      []protocol.Friend
	friendKeys   map[string]*[32]byte
	unreadCounts map[string]int
	messages     map[string][]chatMessage
	pendingSent  map[string][]string
	currentChat  string
	mu           sync.RWMutex

	friendsList    *tview.List
	chatView       *tview.TextView
	chatStatus     *tview.TextView
	messageInput   *tview.InputField
	statusBar      *tview.TextView
	connectionView *tview.TextView

	statusTicker     *time.Ticker
	statusTickerDone chan struct{}
}

// NewApp creates a new application instance
func NewApp(serverAddr string) *App {
	return &App{
		serverAddr:   serverAddr,
		friendKeys:   make(map[string]*[32]byte),
		unreadCounts: make(map[string]int),
		messages:     make(map[string][]chatMessage),
		pendingSent:  make(map[string][]string),
	}
}

// Run starts the application
func (a *App) Run() error {
	a.app = tview.NewApplication()
	a.pages = tview.NewPages()

	// Create empty background
	background := tview.NewBox()
	background.SetBackgroundColor(tcell.NewRGBColor(64, 64, 64))
	a.pages.AddPage("background", background, true, true)

	// Show connect dialog on top
	a.showConnectDialog()

	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

// quit exits the application
func (a *App) quit() {
	a.stopStatusTicker()
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect()
	}
	a.app.Stop()
}
