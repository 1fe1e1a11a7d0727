package client

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vladimirruppel/retroim/internal/protocol"
)

// ConversationView - представление одной переписки для открытого окна чата.
// Подписывается на снимки переписки, фильтрует их до сообщений с собеседником
// и держит список отсортированным по времени для отрисовки.
type ConversationView struct {
	mu sync.Mutex

	backend Backend
	sounds  CuePlayer

	selfUID        string
	selfScreenname string
	peerUID        string
	conversationID string

	// Сообщения старше cutoff не показываются. Запас назад нужен, чтобы не
	// потерять сообщение, из-за которого окно и открылось: часы записи и
	// подписки могут расходиться.
	cutoff int64

	messages    []protocol.StoredMessage
	seen        map[string]bool
	unsubscribe func()
	notify      func()
}

func newConversationView(backend Backend, sounds CuePlayer, selfUID, selfScreenname, peerUID string, openedAt time.Time, backfill time.Duration, notify func()) *ConversationView {
	conversationID, err := protocol.ConversationID(selfUID, peerUID)
	if err != nil {
		log.Printf("Conversation view: bad peer pair (%s, %s): %v", selfUID, peerUID, err)
	}
	return &ConversationView{
		backend:        backend,
		sounds:         sounds,
		selfUID:        selfUID,
		selfScreenname: selfScreenname,
		peerUID:        peerUID,
		conversationID: conversationID,
		cutoff:         openedAt.Add(-backfill).UnixMilli(),
		seen:           make(map[string]bool),
		notify:         notify,
	}
}

// subscribe устанавливает подписку на снимки переписки.
// Ошибка подписки логируется; поток считается заглохшим, переподключения нет.
func (v *ConversationView) subscribe() {
	if v.conversationID == "" {
		return
	}
	unsubscribe, err := v.backend.SubscribeToConversation(v.conversationID, v.handleSnapshot)
	if err != nil {
		log.Printf("Conversation view %s: subscribe failed: %v", v.conversationID, err)
		return
	}
	v.mu.Lock()
	v.unsubscribe = unsubscribe
	v.mu.Unlock()
}

// handleSnapshot принимает ПОЛНЫЙ снимок переписки, фильтрует и пересортирует.
// Порядок прихода снимков значения не имеет - порядок задают таймстемпы.
func (v *ConversationView) handleSnapshot(messages []protocol.StoredMessage) {
	v.mu.Lock()

	filtered := make([]protocol.StoredMessage, 0, len(messages))
	added := make(map[string]bool, len(messages))
	incoming := false
	for _, m := range messages {
		if !v.betweenPair(m) || m.Timestamp < v.cutoff {
			continue
		}
		// Де-дупликация по id: при доставке дельтами сообщение не должно
		// попасть в список дважды.
		if added[m.MessageID] {
			continue
		}
		added[m.MessageID] = true
		filtered = append(filtered, m)

		if !v.seen[m.MessageID] {
			v.seen[m.MessageID] = true
			if m.SenderID == v.peerUID {
				incoming = true
			}
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Timestamp < filtered[j].Timestamp })
	v.messages = filtered
	v.mu.Unlock()

	if incoming {
		v.sounds.Play(CueReceive)
	}
	if v.notify != nil {
		v.notify()
	}
}

func (v *ConversationView) betweenPair(m protocol.StoredMessage) bool {
	return (m.SenderID == v.selfUID && m.RecipientID == v.peerUID) ||
		(m.SenderID == v.peerUID && m.RecipientID == v.selfUID)
}

// Send добавляет сообщение в переписку. Идентификатор генерирует клиент,
// таймстемп проставит сервер. Ошибка записи не фатальна: сообщение просто
// не появится, очереди повторов нет.
func (v *ConversationView) Send(text string) {
	if v.conversationID == "" {
		return
	}
	msg := protocol.StoredMessage{
		ConversationID:   v.conversationID,
		MessageID:        uuid.NewString(),
		SenderID:         v.selfUID,
		RecipientID:      v.peerUID,
		SenderScreenname: v.selfScreenname,
		Text:             text,
	}
	if err := v.backend.AppendMessage(v.conversationID, msg); err != nil {
		log.Printf("Conversation view %s: append failed: %v", v.conversationID, err)
		return
	}
	v.sounds.Play(CueSend)
}

// Messages возвращает копию текущего списка, по возрастанию таймстемпа.
func (v *ConversationView) Messages() []protocol.StoredMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]protocol.StoredMessage, len(v.messages))
	copy(out, v.messages)
	return out
}

// Close снимает подписку. Обязателен при закрытии окна - иначе слушатель
// течет и сигналы начинают дублироваться.
func (v *ConversationView) Close() {
	v.mu.Lock()
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
