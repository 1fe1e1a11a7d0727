package client

import (
	"testing"
)

func TestOpenChatReusesExistingWindow(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	signOnTest(t, c, backend)

	w1 := c.OpenChat("Bob", "bob-uid")
	c.SetVisible(w1.ID, false)

	w2 := c.OpenChat("Bob", "bob-uid")
	if w2.ID != w1.ID {
		t.Fatalf("expected the same window, got %s and %s", w1.ID, w2.ID)
	}
	if !w2.Visible {
		t.Fatal("reopening a minimized window must make it visible")
	}
	if got := len(c.ChatWindows()); got != 1 {
		t.Fatalf("expected 1 chat window, got %d", got)
	}
	if c.ActiveWindowID() != w1.ID {
		t.Fatal("reopened window must become active")
	}
}

func TestCloseThenOpenCreatesFreshWindow(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	signOnTest(t, c, backend)

	w1 := c.OpenChat("Bob", "bob-uid")
	c.CloseChat(w1.ID)
	if got := len(c.ChatWindows()); got != 0 {
		t.Fatalf("expected no chat windows after close, got %d", got)
	}

	w2 := c.OpenChat("Bob", "bob-uid")
	if w2.ID == w1.ID {
		t.Fatal("a closed window must not be resurrected with the same id")
	}
}

func TestCloseRevertsFocusToPreviousWindow(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	signOnTest(t, c, backend)

	wa := c.OpenChat("Alice", "a-uid")
	wb := c.OpenChat("Bob", "b-uid")
	if c.ActiveWindowID() != wb.ID {
		t.Fatal("last opened window must be active")
	}

	c.CloseChat(wb.ID)
	if c.ActiveWindowID() != wa.ID {
		t.Fatalf("focus must revert to %s, got %s", wa.ID, c.ActiveWindowID())
	}
}

func TestRestorePreviousFocus(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	signOnTest(t, c, backend)

	wa := c.OpenChat("Alice", "a-uid")
	wb := c.OpenChat("Bob", "b-uid")

	c.RestorePreviousFocus()
	if c.ActiveWindowID() != wa.ID {
		t.Fatalf("expected focus on %s, got %s", wa.ID, c.ActiveWindowID())
	}

	// Повторный подъем не плодит дублей в истории фокуса.
	c.BringToFront(wb.ID)
	c.BringToFront(wb.ID)
	c.RestorePreviousFocus()
	if c.ActiveWindowID() != wa.ID {
		t.Fatalf("expected focus on %s after dedup, got %s", wa.ID, c.ActiveWindowID())
	}
}

func TestMinimizePreservesWindowState(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	signOnTest(t, c, backend)

	w := c.OpenChat("Bob", "bob-uid")
	c.SetVisible(w.ID, false)

	windows := c.ChatWindows()
	if len(windows) != 1 {
		t.Fatalf("minimized window must survive, got %d windows", len(windows))
	}
	if windows[0].Visible {
		t.Fatal("window must be hidden after minimize")
	}

	c.SetVisible(w.ID, true)
	if c.ActiveWindowID() != w.ID {
		t.Fatal("restored window must come to front")
	}
}

func TestZOrderStrictlyIncreases(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	signOnTest(t, c, backend)

	wa := c.OpenChat("Alice", "a-uid")
	za := c.WindowZOrder(wa.ID)
	if za <= baseZOrder {
		t.Fatalf("focused window must be above the base, got %d", za)
	}

	wb := c.OpenChat("Bob", "b-uid")
	zb := c.WindowZOrder(wb.ID)
	if zb <= za {
		t.Fatalf("new focus must be above %d, got %d", za, zb)
	}

	c.BringToFront(wa.ID)
	if z := c.WindowZOrder(wa.ID); z <= zb {
		t.Fatalf("refocused window must be above %d, got %d", zb, z)
	}
}

func TestFailedSignOnShowsErrorWindow(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	backend.failSignUp = true

	c.SignOn("nobody@example.com", "pw")
	if c.CurrentUser() != nil {
		t.Fatal("sign-on must not succeed")
	}
	if c.ErrorText() == "" {
		t.Fatal("failed sign-on must surface an error window")
	}
	if c.ActiveWindowID() != windowIDError {
		t.Fatal("error window must take focus")
	}

	c.DismissError()
	if c.ErrorText() != "" {
		t.Fatal("dismiss must clear the error text")
	}
}

func TestSignOffClosesChatWindows(t *testing.T) {
	c, backend, _, _ := newTestCoordinator(t)
	signOnTest(t, c, backend)

	c.OpenChat("Bob", "bob-uid")
	c.SignOff()

	if got := len(c.ChatWindows()); got != 0 {
		t.Fatalf("chat windows must close on sign-off, got %d", got)
	}
	if !c.LoginWindowVisible() {
		t.Fatal("login window must reappear after sign-off")
	}
	if c.BuddyListVisible() {
		t.Fatal("buddy list must hide after sign-off")
	}
}
