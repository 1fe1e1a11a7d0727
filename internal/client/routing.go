package client

import (
	"github.com/vladimirruppel/retroim/internal/protocol"
)

// handleConversationFeed решает по снимку переписки, нужно ли автоматически
// открыть окно чата. Снимок приходит целиком; интересует только самое свежее
// сообщение.
//
// Окно открывается, только если одновременно: получатель - текущий
// пользователь; сообщение новее последнего обработанного по этой переписке
// (монотонная де-дупликация); сообщение отправлено после начала сессии, чтобы
// при входе не проигрывалась история. Если окно для отправителя уже открыто,
// ничего не происходит - собственный слушатель окна чата сам дорисует
// сообщение и сыграет сигнал.
func (c *Coordinator) handleConversationFeed(conversationID string, messages []protocol.StoredMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.user == nil || len(messages) == 0 {
		return
	}

	latest := messages[0]
	for _, m := range messages[1:] {
		if m.Timestamp > latest.Timestamp {
			latest = m
		}
	}

	if latest.RecipientID != c.user.UID {
		return
	}
	if last, ok := c.lastProcessed[conversationID]; ok && latest.Timestamp <= last {
		return
	}
	if latest.Timestamp <= c.sessionStart {
		return
	}

	c.lastProcessed[conversationID] = latest.Timestamp

	if _, open := c.chatByPeer[latest.SenderID]; open {
		return
	}
	c.openChatLocked(latest.SenderScreenname, latest.SenderID)
}

// resetRoutingLocked сбрасывает состояние автооткрытия. Вызывается при любой
// смене сессии: после выхода чужая история не должна считаться обработанной.
func (c *Coordinator) resetRoutingLocked() {
	c.lastProcessed = make(map[string]int64)
	c.sessionStart = 0
}
