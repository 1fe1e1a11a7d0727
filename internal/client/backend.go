package client

import (
	"github.com/vladimirruppel/retroim/internal/protocol"
)

// AuthUser - текущий аутентифицированный пользователь.
type AuthUser struct {
	UID        string
	Identifier string
	Screenname string
}

// Backend - абстракция над SDK внешнего сервиса: аутентификация,
// realtime-дерево статусов, хранилище сообщений и список контактов.
// Координатор видит только этот интерфейс; в тестах его заменяет заглушка.
//
// Все Subscribe* возвращают функцию отписки. Владелец подписки обязан
// вызвать ее, когда подписка больше не нужна - иначе слушатели дублируются.
type Backend interface {
	SignIn(identifier, secret string) (*AuthUser, error)
	SignUp(identifier, secret, screenname string) (*AuthUser, error)
	SignOut() error
	// OnAuthStateChange вызывает fn при каждой смене сессии: с пользователем
	// после входа, с nil после выхода.
	OnAuthStateChange(fn func(user *AuthUser)) (unsubscribe func())

	SubscribeToPresence(uid string, onChange func(rec protocol.PresenceRecord)) (unsubscribe func(), err error)
	WritePresence(uid string, rec protocol.PresenceRecord) error
	// RegisterDisconnectAction регистрирует запись, которую сервис применит
	// сам при обрыве соединения. Не заменяет явную запись при выходе.
	RegisterDisconnectAction(uid string, rec protocol.PresenceRecord) error

	SubscribeToConversation(conversationID string, onSnapshot func(messages []protocol.StoredMessage)) (unsubscribe func(), err error)
	AppendMessage(conversationID string, msg protocol.StoredMessage) error

	SubscribeToBuddyRelationships(uid string, onSnapshot func(categories map[string][]protocol.BuddyEntry)) (unsubscribe func(), err error)
	AddBuddyRelationship(uid, category string, entry protocol.BuddyEntry) error
	RemoveBuddyRelationship(uid, category, buddyUID string) error
}
