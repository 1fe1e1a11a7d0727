package server

import "log"

// Hub управляет набором активных клиентов.
// Рассылка данных идет через подписки хранилищ, а не через хаб; хаб нужен,
// чтобы при обрыве соединения снять подписки клиента и применить его
// зарегистрированные disconnect-действия к дереву статусов.
type Hub struct {
	clients    map[*Client]bool // Зарегистрированные клиенты
	register   chan *Client     // Канал для регистрации клиентов
	unregister chan *Client     // Канал для отмены регистрации клиентов

	presence *PresenceStore
}

func NewHub(presence *PresenceStore) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   presence,
	}
}

// Run запускает основной цикл хаба в отдельной горутине.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("Hub: client registered (conn: %p). Total clients: %d", client.conn, len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			delete(h.clients, client)
			// Закрываем канал send, чтобы writePump этого клиента завершился.
			close(client.send)

			// Снимаем подписки клиента и применяем его disconnect-действия.
			client.teardown()
			for _, action := range client.takeDisconnectActions() {
				log.Printf("Hub: applying disconnect action for uid %s", action.UID)
				h.presence.Write(action.UID, action.Record)
			}

			if client.IsAuthenticated {
				log.Printf("Hub: client %s (ID: %s) unregistered. Total clients: %d", client.Screenname, client.UserID, len(h.clients))
			} else {
				log.Printf("Hub: client (conn: %p) unregistered. Total clients: %d", client.conn, len(h.clients))
			}
		}
	}
}
