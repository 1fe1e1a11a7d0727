package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

const requestTimeout = 15 * time.Second

// wsBackend реализует Backend поверх одного websocket-соединения с сервером.
//
// Запись в сокет сериализуется мьютексом. Чтение живет в одной горутине
// (readPump): она раскладывает push-сообщения по локальным подписчикам и
// отвечает ожидающим запросам по requestId. Подписки поэтому отправляются
// без ожидания подтверждения - ждать ответа из горутины, которая сама его
// читает, нельзя.
type wsBackend struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu            sync.Mutex
	pending       map[string]chan protocol.WebSocketMessage
	subscribers   map[string]map[int]func(json.RawMessage)
	lastPayload   map[string]json.RawMessage // последний push на тему, для поздних подписчиков
	nextSubID     int
	authListeners map[int]func(*AuthUser)
	nextAuthID    int
	currentUser   *AuthUser
	closed        bool
}

// Dial устанавливает соединение с сервером и запускает цикл чтения.
func Dial(addr string) (*wsBackend, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	b := &wsBackend{
		conn:          conn,
		pending:       make(map[string]chan protocol.WebSocketMessage),
		subscribers:   make(map[string]map[int]func(json.RawMessage)),
		lastPayload:   make(map[string]json.RawMessage),
		authListeners: make(map[int]func(*AuthUser)),
	}
	go b.readPump()
	return b, nil
}

func (b *wsBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.conn.Close()
}

func (b *wsBackend) readPump() {
	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			for id, ch := range b.pending {
				close(ch)
				delete(b.pending, id)
			}
			b.mu.Unlock()
			if !closed {
				log.Printf("Connection to server lost: %v", err)
			}
			return
		}

		var msg protocol.WebSocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("Malformed message from server: %v", err)
			continue
		}

		// Ответ на запрос по requestId имеет приоритет над раскладкой push.
		if msg.RequestID != "" {
			b.mu.Lock()
			ch, ok := b.pending[msg.RequestID]
			if ok {
				delete(b.pending, msg.RequestID)
			}
			b.mu.Unlock()
			if ok {
				ch <- msg
				continue
			}
			// Подтверждения подписок никто не ждет; интересны только отказы.
			if msg.Type == protocol.MsgTypeAck {
				var ack protocol.AckPayload
				if json.Unmarshal(msg.Payload, &ack) == nil && !ack.Success {
					log.Printf("Server rejected a request: %s", ack.ErrorMessage)
				}
				continue
			}
		}

		b.dispatchPush(msg)
	}
}

// dispatchPush раскладывает серверный push по локальным подписчикам темы.
func (b *wsBackend) dispatchPush(msg protocol.WebSocketMessage) {
	var topic string
	switch msg.Type {
	case protocol.MsgTypePresenceUpdate:
		var p protocol.PresenceUpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("Malformed presence update: %v", err)
			return
		}
		topic = "presence:" + p.UID
	case protocol.MsgTypeConversationSnapshot:
		var p protocol.ConversationSnapshotPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("Malformed conversation snapshot: %v", err)
			return
		}
		topic = "conversation:" + p.ConversationID
	case protocol.MsgTypeBuddySnapshot:
		var p protocol.BuddySnapshotPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("Malformed buddy snapshot: %v", err)
			return
		}
		topic = "buddies:" + p.UID
	case protocol.MsgTypeErrorNotify:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			log.Printf("Server error: %s (%s)", p.ErrorMessage, p.ErrorCode)
		}
		return
	default:
		log.Printf("Unexpected message type from server: %s", msg.Type)
		return
	}

	b.mu.Lock()
	b.lastPayload[topic] = msg.Payload
	var callbacks []func(json.RawMessage)
	for _, cb := range b.subscribers[topic] {
		callbacks = append(callbacks, cb)
	}
	b.mu.Unlock()
	for _, cb := range callbacks {
		cb(msg.Payload)
	}
}

func (b *wsBackend) writeMessage(msgType, requestID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(protocol.WebSocketMessage{
		Type:      msgType,
		RequestID: requestID,
		Payload:   raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// request отправляет запрос и ждет ответ с тем же requestId.
func (b *wsBackend) request(msgType string, payload interface{}) (protocol.WebSocketMessage, error) {
	requestID := uuid.NewString()
	ch := make(chan protocol.WebSocketMessage, 1)

	b.mu.Lock()
	b.pending[requestID] = ch
	b.mu.Unlock()

	if err := b.writeMessage(msgType, requestID, payload); err != nil {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
		return protocol.WebSocketMessage{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.WebSocketMessage{}, errors.New("connection closed")
		}
		return resp, nil
	case <-time.After(requestTimeout):
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
		return protocol.WebSocketMessage{}, fmt.Errorf("%s: request timed out", msgType)
	}
}

// requestAck выполняет запрос, от которого ожидается только подтверждение.
func (b *wsBackend) requestAck(msgType string, payload interface{}) error {
	resp, err := b.request(msgType, payload)
	if err != nil {
		return err
	}
	var ack protocol.AckPayload
	if err := json.Unmarshal(resp.Payload, &ack); err != nil {
		return fmt.Errorf("unmarshal %s ack: %w", msgType, err)
	}
	if !ack.Success {
		return errors.New(ack.ErrorMessage)
	}
	return nil
}

// authResponse разбирает ответ входа или регистрации: формы payload совпадают.
func (b *wsBackend) authResponse(resp protocol.WebSocketMessage, identifier string) (*AuthUser, error) {
	var p protocol.SignInResponsePayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return nil, fmt.Errorf("unmarshal auth response: %w", err)
	}
	if !p.Success {
		return nil, errors.New(p.ErrorMessage)
	}
	user := &AuthUser{UID: p.UserID, Identifier: identifier, Screenname: p.Screenname}
	b.setCurrentUser(user)
	return user, nil
}

// setCurrentUser запоминает пользователя и оповещает слушателей смены сессии.
func (b *wsBackend) setCurrentUser(user *AuthUser) {
	b.mu.Lock()
	b.currentUser = user
	var listeners []func(*AuthUser)
	for _, fn := range b.authListeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(user)
	}
}

func (b *wsBackend) SignIn(identifier, secret string) (*AuthUser, error) {
	resp, err := b.request(protocol.MsgTypeSignInRequest, protocol.SignInRequestPayload{
		Identifier: identifier,
		Secret:     secret,
	})
	if err != nil {
		return nil, err
	}
	return b.authResponse(resp, identifier)
}

func (b *wsBackend) SignUp(identifier, secret, screenname string) (*AuthUser, error) {
	resp, err := b.request(protocol.MsgTypeSignUpRequest, protocol.SignUpRequestPayload{
		Identifier: identifier,
		Secret:     secret,
		Screenname: screenname,
	})
	if err != nil {
		return nil, err
	}
	return b.authResponse(resp, identifier)
}

func (b *wsBackend) SignOut() error {
	if err := b.requestAck(protocol.MsgTypeSignOutRequest, struct{}{}); err != nil {
		return err
	}
	b.setCurrentUser(nil)
	return nil
}

func (b *wsBackend) OnAuthStateChange(fn func(*AuthUser)) func() {
	b.mu.Lock()
	b.nextAuthID++
	id := b.nextAuthID
	b.authListeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.authListeners, id)
		b.mu.Unlock()
	}
}

// subscribe регистрирует локального подписчика темы. Запрос подписки уходит
// на сервер только для первого подписчика; отписка - когда уходит последний.
// Поздний подписчик уже подписанной темы получает последний push сразу:
// сервер свое состояние повторно не присылает.
func (b *wsBackend) subscribe(topic, subMsgType, unsubMsgType string, payload interface{}, cb func(json.RawMessage)) (func(), error) {
	b.mu.Lock()
	first := len(b.subscribers[topic]) == 0
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]func(json.RawMessage))
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[topic][id] = cb
	cached, hasCached := b.lastPayload[topic]
	b.mu.Unlock()

	if first {
		if err := b.writeMessage(subMsgType, uuid.NewString(), payload); err != nil {
			b.mu.Lock()
			delete(b.subscribers[topic], id)
			b.mu.Unlock()
			return nil, err
		}
	} else if hasCached {
		cb(cached)
	}

	return func() {
		b.mu.Lock()
		delete(b.subscribers[topic], id)
		last := len(b.subscribers[topic]) == 0
		if last {
			delete(b.subscribers, topic)
			delete(b.lastPayload, topic)
		}
		b.mu.Unlock()
		if last {
			if err := b.writeMessage(unsubMsgType, uuid.NewString(), payload); err != nil {
				log.Printf("Failed to unsubscribe from %s: %v", topic, err)
			}
		}
	}, nil
}

func (b *wsBackend) SubscribeToPresence(uid string, onChange func(protocol.PresenceRecord)) (func(), error) {
	payload := protocol.SubscribePresencePayload{UID: uid}
	return b.subscribe("presence:"+uid, protocol.MsgTypeSubscribePresence, protocol.MsgTypeUnsubscribePresence, payload,
		func(raw json.RawMessage) {
			var p protocol.PresenceUpdatePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				log.Printf("Malformed presence update for %s: %v", uid, err)
				return
			}
			onChange(p.Record)
		})
}

func (b *wsBackend) WritePresence(uid string, rec protocol.PresenceRecord) error {
	return b.requestAck(protocol.MsgTypeWritePresence, protocol.WritePresencePayload{
		UID:    uid,
		Record: rec,
	})
}

func (b *wsBackend) RegisterDisconnectAction(uid string, rec protocol.PresenceRecord) error {
	return b.requestAck(protocol.MsgTypeDisconnectAction, protocol.DisconnectActionPayload{
		UID:    uid,
		Record: rec,
	})
}

func (b *wsBackend) SubscribeToConversation(conversationID string, onSnapshot func([]protocol.StoredMessage)) (func(), error) {
	payload := protocol.SubscribeConversationPayload{ConversationID: conversationID}
	return b.subscribe("conversation:"+conversationID, protocol.MsgTypeSubscribeConversation, protocol.MsgTypeUnsubscribeConversation, payload,
		func(raw json.RawMessage) {
			var p protocol.ConversationSnapshotPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				log.Printf("Malformed snapshot of %s: %v", conversationID, err)
				return
			}
			onSnapshot(p.Messages)
		})
}

func (b *wsBackend) AppendMessage(conversationID string, msg protocol.StoredMessage) error {
	return b.requestAck(protocol.MsgTypeAppendMessage, protocol.AppendMessagePayload{
		ConversationID: conversationID,
		Message:        msg,
	})
}

func (b *wsBackend) SubscribeToBuddyRelationships(uid string, onSnapshot func(map[string][]protocol.BuddyEntry)) (func(), error) {
	payload := protocol.SubscribeBuddiesPayload{UID: uid}
	return b.subscribe("buddies:"+uid, protocol.MsgTypeSubscribeBuddies, protocol.MsgTypeUnsubscribeBuddies, payload,
		func(raw json.RawMessage) {
			var p protocol.BuddySnapshotPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				log.Printf("Malformed buddy snapshot for %s: %v", uid, err)
				return
			}
			onSnapshot(p.Categories)
		})
}

func (b *wsBackend) AddBuddyRelationship(ownerUID, category string, entry protocol.BuddyEntry) error {
	return b.requestAck(protocol.MsgTypeAddBuddy, protocol.AddBuddyPayload{
		UID:      ownerUID,
		Category: category,
		Entry:    entry,
	})
}

func (b *wsBackend) RemoveBuddyRelationship(ownerUID, category, uid string) error {
	return b.requestAck(protocol.MsgTypeRemoveBuddy, protocol.RemoveBuddyPayload{
		UID:      ownerUID,
		Category: category,
		BuddyUID: uid,
	})
}
