package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

// BuddyStore хранит список контактов каждого пользователя:
// категория (buddies/family/coworkers) -> набор записей {uid, screenname, addedAt}.
// Список владельца лежит целиком в json-файле <uid>.json и переписывается при изменении.
type BuddyStore struct {
	dir string

	mu          sync.Mutex
	lists       map[string]map[string][]protocol.BuddyEntry // владелец -> категория -> записи
	loaded      map[string]bool
	subscribers map[string]map[int]func(uid string, categories map[string][]protocol.BuddyEntry)
	nextSubID   int
}

func NewBuddyStore(dir string) (*BuddyStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create buddy list directory %s: %w", dir, err)
	}
	return &BuddyStore{
		dir:         dir,
		lists:       make(map[string]map[string][]protocol.BuddyEntry),
		loaded:      make(map[string]bool),
		subscribers: make(map[string]map[int]func(string, map[string][]protocol.BuddyEntry)),
	}, nil
}

func (s *BuddyStore) filePath(uid string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", uid))
}

func (s *BuddyStore) loadLocked(uid string) error {
	if s.loaded[uid] {
		return nil
	}
	s.loaded[uid] = true

	data, err := os.ReadFile(s.filePath(uid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var categories map[string][]protocol.BuddyEntry
	if err := json.Unmarshal(data, &categories); err != nil {
		log.Printf("Error unmarshalling buddy list for %s: %v", uid, err)
		return err
	}
	s.lists[uid] = categories
	return nil
}

func (s *BuddyStore) persistLocked(uid string) error {
	data, err := json.Marshal(s.lists[uid])
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath(uid), data, 0644)
}

// Add добавляет контакт в категорию списка владельца. Повторное добавление
// того же uid в ту же категорию заменяет запись (обновляет screenname).
func (s *BuddyStore) Add(uid, category string, entry protocol.BuddyEntry) error {
	if uid == "" || entry.UID == "" {
		return fmt.Errorf("uid and entry uid cannot be empty")
	}

	s.mu.Lock()
	if err := s.loadLocked(uid); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.lists[uid] == nil {
		s.lists[uid] = make(map[string][]protocol.BuddyEntry)
	}

	entries := s.lists[uid][category]
	replaced := false
	for i := range entries {
		if entries[i].UID == entry.UID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	s.lists[uid][category] = entries

	if err := s.persistLocked(uid); err != nil {
		s.mu.Unlock()
		log.Printf("Error persisting buddy list for %s: %v", uid, err)
		return err
	}
	snapshot := snapshotCategories(s.lists[uid])
	fns := s.subscriberFnsLocked(uid)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(uid, snapshot)
	}
	return nil
}

// Remove убирает контакт из категории. Отсутствие записи - не ошибка.
func (s *BuddyStore) Remove(uid, category, buddyUID string) error {
	s.mu.Lock()
	if err := s.loadLocked(uid); err != nil {
		s.mu.Unlock()
		return err
	}

	entries := s.lists[uid][category]
	filtered := entries[:0]
	for _, e := range entries {
		if e.UID != buddyUID {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == len(entries) {
		s.mu.Unlock()
		return nil
	}
	s.lists[uid][category] = filtered

	if err := s.persistLocked(uid); err != nil {
		s.mu.Unlock()
		log.Printf("Error persisting buddy list for %s: %v", uid, err)
		return err
	}
	snapshot := snapshotCategories(s.lists[uid])
	fns := s.subscriberFnsLocked(uid)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(uid, snapshot)
	}
	return nil
}

// Snapshot возвращает копию списка владельца по категориям.
func (s *BuddyStore) Snapshot(uid string) (map[string][]protocol.BuddyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(uid); err != nil {
		return nil, err
	}
	return snapshotCategories(s.lists[uid]), nil
}

// Subscribe регистрирует подписку на список владельца с немедленной доставкой
// текущего снимка.
func (s *BuddyStore) Subscribe(uid string, fn func(uid string, categories map[string][]protocol.BuddyEntry)) (func(), error) {
	s.mu.Lock()
	if err := s.loadLocked(uid); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.subscribers[uid] == nil {
		s.subscribers[uid] = make(map[int]func(string, map[string][]protocol.BuddyEntry))
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[uid][id] = fn
	snapshot := snapshotCategories(s.lists[uid])
	s.mu.Unlock()

	fn(uid, snapshot)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, exists := s.subscribers[uid]; exists {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subscribers, uid)
			}
		}
	}, nil
}

func (s *BuddyStore) subscriberFnsLocked(uid string) []func(string, map[string][]protocol.BuddyEntry) {
	var fns []func(string, map[string][]protocol.BuddyEntry)
	for _, fn := range s.subscribers[uid] {
		fns = append(fns, fn)
	}
	return fns
}

func snapshotCategories(categories map[string][]protocol.BuddyEntry) map[string][]protocol.BuddyEntry {
	out := make(map[string][]protocol.BuddyEntry, len(categories))
	for cat, entries := range categories {
		cp := make([]protocol.BuddyEntry, len(entries))
		copy(cp, entries)
		out[cat] = cp
	}
	return out
}
