package client

import (
	"fmt"

	"github.com/google/uuid"
)

// WindowKind - вид плавающего окна.
type WindowKind string

const (
	WindowLogin     WindowKind = "login"
	WindowBuddyList WindowKind = "buddy-list"
	WindowChat      WindowKind = "chat"
	WindowError     WindowKind = "error"
)

// Фиксированные идентификаторы одиночных окон.
const (
	windowIDLogin     = "login"
	windowIDBuddyList = "buddylist"
	windowIDError     = "error"
)

// Базовое значение z-order; окно в фокусе всегда получает max+1.
const baseZOrder = 50

// Window - единица плавающего UI. Окно существует не больше чем в одном
// экземпляре на id; для окон чата id выводится из uid собеседника.
type Window struct {
	ID             string
	Kind           WindowKind
	Visible        bool
	PeerUID        string // только для WindowChat
	PeerScreenname string // только для WindowChat
}

// OpenChat открывает окно чата с собеседником. Если окно для этого uid уже
// существует, оно становится видимым и поднимается наверх - второй экземпляр
// не создается. Закрытое окно не воскресает: повторное открытие после
// closeChat дает новое окно с новым id.
func (c *Coordinator) OpenChat(peerScreenname, peerUID string) *Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openChatLocked(peerScreenname, peerUID)
}

func (c *Coordinator) openChatLocked(peerScreenname, peerUID string) *Window {
	if id, ok := c.chatByPeer[peerUID]; ok {
		w := c.windows[id]
		w.Visible = true
		c.bringToFrontLocked(id)
		c.notifyLocked()
		return w
	}

	w := &Window{
		ID:             fmt.Sprintf("%s-%s", peerUID, uuid.NewString()),
		Kind:           WindowChat,
		Visible:        true,
		PeerUID:        peerUID,
		PeerScreenname: peerScreenname,
	}
	c.windows[w.ID] = w
	c.order = append(c.order, w.ID)
	c.chatByPeer[peerUID] = w.ID
	c.openConversationLocked(w)
	c.bringToFrontLocked(w.ID)
	c.notifyLocked()
	return w
}

// CloseChat уничтожает окно чата. Если окно было в фокусе, фокус возвращается
// к предыдущей записи истории фокуса.
func (c *Coordinator) CloseChat(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeChatLocked(id)
	c.notifyLocked()
}

func (c *Coordinator) closeChatLocked(id string) {
	w, ok := c.windows[id]
	if !ok || w.Kind != WindowChat {
		return
	}
	delete(c.windows, id)
	delete(c.chatByPeer, w.PeerUID)
	c.order = removeString(c.order, id)
	c.closeConversationLocked(id)

	wasActive := c.active == id
	c.focusHistory = removeString(c.focusHistory, id)
	delete(c.zOrder, id)
	if wasActive {
		if n := len(c.focusHistory); n > 0 {
			c.active = c.focusHistory[n-1]
		} else {
			c.active = ""
		}
	}
}

// SetVisible сворачивает или разворачивает окно, не уничтожая его.
// Состояние окна переживает сворачивание; разворачивание поднимает наверх.
func (c *Coordinator) SetVisible(id string, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[id]
	if !ok {
		return
	}
	w.Visible = visible
	if visible {
		c.bringToFrontLocked(id)
	}
	c.notifyLocked()
}

// BringToFront делает окно активным: переносит id в конец истории фокуса
// (без дублей) и выдает z-order строго больше текущего максимума.
func (c *Coordinator) BringToFront(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.windows[id]; !ok {
		return
	}
	c.bringToFrontLocked(id)
	c.notifyLocked()
}

func (c *Coordinator) bringToFrontLocked(id string) {
	c.active = id
	c.focusHistory = append(removeString(c.focusHistory, id), id)

	max := baseZOrder
	for _, z := range c.zOrder {
		if z > max {
			max = z
		}
	}
	// z-order только растет; счетчик живет в рамках сессии, компактизации нет.
	c.zOrder[id] = max + 1
}

// RestorePreviousFocus снимает текущую запись истории фокуса; активным
// становится предыдущее окно, либо никакое, если история опустела.
func (c *Coordinator) RestorePreviousFocus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.focusHistory); n > 0 {
		c.focusHistory = c.focusHistory[:n-1]
	}
	if n := len(c.focusHistory); n > 0 {
		c.active = c.focusHistory[n-1]
	} else {
		c.active = ""
	}
	c.notifyLocked()
}

// ActiveWindowID возвращает id окна в фокусе, либо пустую строку.
func (c *Coordinator) ActiveWindowID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// WindowZOrder возвращает z-order окна (baseZOrder, если окно еще не фокусировалось).
func (c *Coordinator) WindowZOrder(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if z, ok := c.zOrder[id]; ok {
		return z
	}
	return baseZOrder
}

// ChatWindows возвращает копии окон чата в порядке создания.
func (c *Coordinator) ChatWindows() []Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Window
	for _, id := range c.order {
		if w, ok := c.windows[id]; ok && w.Kind == WindowChat {
			out = append(out, *w)
		}
	}
	return out
}

// ChatWindowForPeer возвращает открытое окно чата для uid, если оно есть.
func (c *Coordinator) ChatWindowForPeer(peerUID string) (Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.chatByPeer[peerUID]; ok {
		return *c.windows[id], true
	}
	return Window{}, false
}

// LoginWindowVisible сообщает, показано ли окно входа.
func (c *Coordinator) LoginWindowVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[windowIDLogin]; ok {
		return w.Visible
	}
	return false
}

// BuddyListVisible сообщает, показан ли список контактов.
func (c *Coordinator) BuddyListVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[windowIDBuddyList]; ok {
		return w.Visible
	}
	return false
}

// ErrorText возвращает текст окна ошибки (пустая строка - окно скрыто).
func (c *Coordinator) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorText
}

// DismissError скрывает окно ошибки.
func (c *Coordinator) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorText = ""
	if w, ok := c.windows[windowIDError]; ok {
		w.Visible = false
	}
	c.notifyLocked()
}

func (c *Coordinator) showErrorLocked(text string) {
	c.errorText = text
	if w, ok := c.windows[windowIDError]; ok {
		w.Visible = true
	}
	c.bringToFrontLocked(windowIDError)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
