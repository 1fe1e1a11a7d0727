package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vladimirruppel/retroim/internal/protocol"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second

	// Время, разрешенное для чтения следующего pong-сообщения от клиента.
	pongWait = 60 * time.Second

	// Отправлять pings клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 1024 * 10
)

// Client представляет одного подключенного пользователя через WebSocket.
type Client struct {
	hub *Hub
	srv *Server

	conn *websocket.Conn

	// Буферизованный канал для исходящих сообщений этому клиенту.
	send chan []byte

	UserID          string
	Screenname      string
	IsAuthenticated bool

	mu                sync.Mutex
	cancels           map[string]func() // ключ подписки -> функция отписки
	disconnectActions []protocol.DisconnectActionPayload
}

func newClient(hub *Hub, srv *Server, conn *websocket.Conn) *Client {
	return &Client{
		hub:     hub,
		srv:     srv,
		conn:    conn,
		send:    make(chan []byte, 64),
		cancels: make(map[string]func()),
	}
}

// readPump читает запросы клиента и обрабатывает их.
// Запускается в отдельной горутине для каждого клиента.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("Unexpected close error for client %s: %v", c.UserID, err)
			} else {
				log.Printf("Read error for client %s: %v", c.UserID, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var wsMsg protocol.WebSocketMessage
		if err := json.Unmarshal(messageBytes, &wsMsg); err != nil {
			log.Printf("Client %s: failed to unmarshal message: %v. Raw: %s", c.UserID, err, string(messageBytes))
			continue
		}
		c.dispatch(wsMsg)
	}
}

// writePump отправляет сообщения из канала send в WebSocket соединение.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Хаб закрыл канал send.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendResponse сериализует и ставит сообщение в очередь отправки клиенту.
// Очередь переполнена - сообщение отбрасывается, обрыв заметит ping/pong.
func (c *Client) sendResponse(msgType, requestID string, payloadData interface{}) {
	payloadBytes, err := json.Marshal(payloadData)
	if err != nil {
		log.Printf("Error marshalling payload for type %s: %v", msgType, err)
		return
	}
	messageBytes, err := json.Marshal(protocol.WebSocketMessage{
		Type:      msgType,
		RequestID: requestID,
		Payload:   payloadBytes,
	})
	if err != nil {
		log.Printf("Error marshalling WebSocket message for type %s: %v", msgType, err)
		return
	}
	select {
	case c.send <- messageBytes:
	default:
		log.Printf("Client %s: send queue full, dropping %s", c.UserID, msgType)
	}
}

func (c *Client) sendAck(requestID string, err error) {
	payload := protocol.AckPayload{Success: err == nil}
	if err != nil {
		payload.ErrorMessage = err.Error()
	}
	c.sendResponse(protocol.MsgTypeAck, requestID, payload)
}

func (c *Client) sendError(requestID, code, message string) {
	c.sendResponse(protocol.MsgTypeErrorNotify, requestID, protocol.ErrorPayload{
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

// addCancel запоминает функцию отписки под ключом. Повторная подписка с тем же
// ключом сначала снимает старую - дублей слушателей быть не должно.
func (c *Client) addCancel(key string, cancel func()) {
	c.mu.Lock()
	old := c.cancels[key]
	c.cancels[key] = cancel
	c.mu.Unlock()
	if old != nil {
		old()
	}
}

func (c *Client) removeCancel(key string) {
	c.mu.Lock()
	cancel := c.cancels[key]
	delete(c.cancels, key)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// teardown снимает все подписки клиента. Вызывается хабом при отключении
// и самим клиентом при выходе из учетной записи.
func (c *Client) teardown() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = make(map[string]func())
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Client) addDisconnectAction(action protocol.DisconnectActionPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Новая регистрация для того же uid заменяет старую.
	for i := range c.disconnectActions {
		if c.disconnectActions[i].UID == action.UID {
			c.disconnectActions[i] = action
			return
		}
	}
	c.disconnectActions = append(c.disconnectActions, action)
}

func (c *Client) takeDisconnectActions() []protocol.DisconnectActionPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	actions := c.disconnectActions
	c.disconnectActions = nil
	return actions
}
