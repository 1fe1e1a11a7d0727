package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Клиенты подключаются откуда угодно, происхождение не проверяем.
		return true
	},
}

// Server связывает хранилища и принимает WebSocket-подключения.
type Server struct {
	hub           *Hub
	auth          *AuthStore
	presence      *PresenceStore
	conversations *ConversationStore
	buddies       *BuddyStore
}

func NewServer(auth *AuthStore, presence *PresenceStore, conversations *ConversationStore, buddies *BuddyStore) *Server {
	return &Server{
		hub:           NewHub(presence),
		auth:          auth,
		presence:      presence,
		conversations: conversations,
		buddies:       buddies,
	}
}

// Run запускает цикл хаба. Вызывать один раз, в отдельной горутине.
func (s *Server) Run() {
	s.hub.Run()
}

// HandleWebSocket апгрейдит HTTP-запрос и запускает насосы клиента.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := newClient(s.hub, s, conn)
	s.hub.register <- client

	go client.writePump()
	client.readPump()
}
