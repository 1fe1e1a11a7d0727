package client

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

const chatHistoryDepth = 20 // сколько последних сообщений показывать в окне чата

// Render печатает текущее состояние всех видимых окон. Вызывается из цикла
// приложения после каждого сигнала Updates; сам ничего не мутирует.
func Render(c *Coordinator) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))

	if text := c.ErrorText(); text != "" {
		renderErrorWindow(text)
	}

	if c.LoginWindowVisible() {
		renderLoginWindow()
		return
	}

	if c.BuddyListVisible() {
		renderBuddyList(c)
	}
	renderChatWindows(c)
	renderTaskbar(c)
}

func renderErrorWindow(text string) {
	fmt.Println("  !! " + text)
	fmt.Println("  (type 'dismiss' to close this message)")
	fmt.Println(strings.Repeat("-", 60))
}

func renderLoginWindow() {
	fmt.Println("  Sign On")
	fmt.Println("  Usage: signon <screen name> <password>")
}

func renderBuddyList(c *Coordinator) {
	user := c.CurrentUser()
	if user == nil {
		return
	}
	fmt.Printf("  Buddy List - %s\n", c.Screenname())
	fmt.Println(strings.Repeat("-", 60))

	for _, group := range c.BuddyGroups() {
		total := len(group.Online) + len(group.Offline)
		fmt.Printf("  %s (%d/%d)\n", capitalize(group.Category), len(group.Online), total)
		for _, row := range group.Online {
			marker := ""
			if row.RecentlySignedIn {
				marker = " *on*"
			} else if row.RecentlySignedOut {
				marker = " *off*"
			}
			fmt.Printf("    %s%s\n", row.Screenname, marker)
		}
		for _, row := range group.Offline {
			suffix := ""
			if row.LastSeen > 0 {
				suffix = " (last seen " + time.UnixMilli(row.LastSeen).Format("Jan 2 15:04") + ")"
			}
			fmt.Printf("    %s (offline)%s\n", row.Screenname, suffix)
		}
	}
}

func renderChatWindows(c *Coordinator) {
	windows := c.ChatWindows()
	if len(windows) == 0 {
		return
	}
	// Видимые окна рисуются в порядке наложения, активное - последним.
	sort.Slice(windows, func(i, j int) bool {
		return c.WindowZOrder(windows[i].ID) < c.WindowZOrder(windows[j].ID)
	})

	active := c.ActiveWindowID()
	for _, w := range windows {
		if !w.Visible {
			continue
		}
		fmt.Println(strings.Repeat("-", 60))
		title := "Chat with " + w.PeerScreenname
		if w.ID == active {
			title += "  [active]"
		}
		fmt.Println("  " + title)

		view, ok := c.ConversationViewFor(w.ID)
		if !ok {
			continue
		}
		for _, m := range tailMessages(view.Messages(), chatHistoryDepth) {
			fmt.Printf("  [%s] %s: %s\n",
				time.UnixMilli(m.Timestamp).Format("15:04"), m.SenderScreenname, m.Text)
		}
	}
}

func renderTaskbar(c *Coordinator) {
	windows := c.ChatWindows()
	if len(windows) == 0 {
		return
	}
	active := c.ActiveWindowID()
	var parts []string
	for _, w := range windows {
		label := w.PeerScreenname
		if !w.Visible {
			label = "(" + label + ")"
		}
		if w.ID == active {
			label = "[" + label + "]"
		}
		parts = append(parts, label)
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println("  Windows: " + strings.Join(parts, "  "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func tailMessages(messages []protocol.StoredMessage, n int) []protocol.StoredMessage {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
