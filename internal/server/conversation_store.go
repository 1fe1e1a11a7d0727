package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

// ConversationStore - append-only список сообщений на переписку.
// Каждая переписка лежит в отдельном jsonl-файле и кэшируется в памяти.
// Подписчики при каждом изменении получают ПОЛНЫЙ снимок списка.
type ConversationStore struct {
	dir string

	mu          sync.Mutex
	cache       map[string][]protocol.StoredMessage
	loaded      map[string]bool
	subscribers map[string]map[int]func(conversationID string, messages []protocol.StoredMessage)
	nextSubID   int
}

func NewConversationStore(dir string) (*ConversationStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", dir, err)
	}
	log.Printf("Conversation history will be stored in: %s", dir)
	return &ConversationStore{
		dir:         dir,
		cache:       make(map[string][]protocol.StoredMessage),
		loaded:      make(map[string]bool),
		subscribers: make(map[string]map[int]func(string, []protocol.StoredMessage)),
	}, nil
}

func (s *ConversationStore) filePath(conversationID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.jsonl", conversationID))
}

// loadLocked читает файл переписки в кэш, если он еще не загружен.
// Вызывается только под s.mu.
func (s *ConversationStore) loadLocked(conversationID string) error {
	if s.loaded[conversationID] {
		return nil
	}
	s.loaded[conversationID] = true

	file, err := os.Open(s.filePath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Нет истории - это не ошибка
		}
		return err
	}
	defer file.Close()

	var messages []protocol.StoredMessage
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var msg protocol.StoredMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			// Пропускаем поврежденную строку
			log.Printf("Error unmarshalling stored message from %s: %v. Line: %s", conversationID, err, scanner.Text())
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.cache[conversationID] = messages
	return nil
}

// Append сохраняет сообщение, проставляя серверный timestamp, и рассылает
// подписчикам полный снимок переписки.
func (s *ConversationStore) Append(conversationID string, msg protocol.StoredMessage) (*protocol.StoredMessage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID cannot be empty")
	}

	msg.ConversationID = conversationID
	msg.Timestamp = time.Now().UnixMilli()

	s.mu.Lock()
	if err := s.loadLocked(conversationID); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	file, err := os.OpenFile(s.filePath(conversationID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		s.mu.Unlock()
		log.Printf("Error opening history file for %s: %v", conversationID, err)
		return nil, err
	}

	messageBytes, err := json.Marshal(&msg)
	if err != nil {
		file.Close()
		s.mu.Unlock()
		return nil, err
	}
	if _, err := file.Write(append(messageBytes, '\n')); err != nil {
		file.Close()
		s.mu.Unlock()
		log.Printf("Error writing to history file for %s: %v", conversationID, err)
		return nil, err
	}
	file.Close()

	s.cache[conversationID] = append(s.cache[conversationID], msg)
	snapshot := snapshotMessages(s.cache[conversationID])
	fns := s.subscriberFnsLocked(conversationID)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(conversationID, snapshot)
	}
	return &msg, nil
}

// Snapshot возвращает копию текущего списка сообщений переписки.
func (s *ConversationStore) Snapshot(conversationID string) ([]protocol.StoredMessage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(conversationID); err != nil {
		return nil, err
	}
	return snapshotMessages(s.cache[conversationID]), nil
}

// Subscribe регистрирует подписку на переписку. Текущий снимок доставляется
// сразу, даже если переписка пуста - клиент должен знать, что подписка жива.
func (s *ConversationStore) Subscribe(conversationID string, fn func(conversationID string, messages []protocol.StoredMessage)) (func(), error) {
	s.mu.Lock()
	if err := s.loadLocked(conversationID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.subscribers[conversationID] == nil {
		s.subscribers[conversationID] = make(map[int]func(string, []protocol.StoredMessage))
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[conversationID][id] = fn
	snapshot := snapshotMessages(s.cache[conversationID])
	s.mu.Unlock()

	fn(conversationID, snapshot)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, exists := s.subscribers[conversationID]; exists {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subscribers, conversationID)
			}
		}
	}, nil
}

func (s *ConversationStore) subscriberFnsLocked(conversationID string) []func(string, []protocol.StoredMessage) {
	var fns []func(string, []protocol.StoredMessage)
	for _, fn := range s.subscribers[conversationID] {
		fns = append(fns, fn)
	}
	return fns
}

func snapshotMessages(messages []protocol.StoredMessage) []protocol.StoredMessage {
	out := make([]protocol.StoredMessage, len(messages))
	copy(out, messages)
	return out
}
