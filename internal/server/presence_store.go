package server

import (
	"sync"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

// PresenceStore - realtime-дерево статусов: запись на uid, last-write-wins.
// Подписчики получают запись целиком при каждом изменении.
type PresenceStore struct {
	mu          sync.RWMutex
	records     map[string]protocol.PresenceRecord
	subscribers map[string]map[int]func(uid string, rec protocol.PresenceRecord)
	nextSubID   int
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		records:     make(map[string]protocol.PresenceRecord),
		subscribers: make(map[string]map[int]func(string, protocol.PresenceRecord)),
	}
}

// Write сохраняет запись uid и уведомляет подписчиков.
// Последняя запись побеждает безусловно - никакого сравнения версий нет.
func (p *PresenceStore) Write(uid string, rec protocol.PresenceRecord) {
	p.mu.Lock()
	p.records[uid] = rec
	// Срез колбэков под локом, вызов - снаружи
	var fns []func(string, protocol.PresenceRecord)
	for _, fn := range p.subscribers[uid] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(uid, rec)
	}
}

// Get возвращает текущую запись uid, если она есть.
func (p *PresenceStore) Get(uid string) (protocol.PresenceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[uid]
	return rec, ok
}

// Subscribe регистрирует подписку на изменения записи uid. Если запись уже
// существует, подписчик сразу получает ее текущее значение. Возвращает
// функцию отписки; вызывать ее обязан владелец подписки.
func (p *PresenceStore) Subscribe(uid string, fn func(uid string, rec protocol.PresenceRecord)) func() {
	p.mu.Lock()
	if p.subscribers[uid] == nil {
		p.subscribers[uid] = make(map[int]func(string, protocol.PresenceRecord))
	}
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[uid][id] = fn
	rec, ok := p.records[uid]
	p.mu.Unlock()

	if ok {
		fn(uid, rec)
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if subs, exists := p.subscribers[uid]; exists {
			delete(subs, id)
			if len(subs) == 0 {
				delete(p.subscribers, uid)
			}
		}
	}
}
