package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter собирает HTTP-поверхность сервера: живость, WebSocket и
// read-only доступ к истории переписки (для отладки и наблюдения).
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")

	r.HandleFunc("/ws", s.HandleWebSocket)

	r.HandleFunc("/history/{conversation_id}", func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["conversation_id"]
		messages, err := s.conversations.Snapshot(conversationID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messages)
	}).Methods("GET")

	return r
}
