package protocol

import (
	"encoding/json"
)

// WebSocketMessage - общий конверт для всех сообщений между клиентом и сервером.
// RequestID заполняется клиентом для запросов, на которые он ждет ответ;
// сервер копирует его в ответ, чтобы клиент мог сопоставить запрос и ответ.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	// Аутентификация
	MsgTypeSignInRequest  = "SIGN_IN_REQUEST"
	MsgTypeSignInResponse = "SIGN_IN_RESPONSE"
	MsgTypeSignUpRequest  = "SIGN_UP_REQUEST"
	MsgTypeSignUpResponse = "SIGN_UP_RESPONSE"
	MsgTypeSignOutRequest = "SIGN_OUT_REQUEST"

	// Присутствие (realtime-дерево статусов)
	MsgTypeSubscribePresence   = "SUBSCRIBE_PRESENCE"
	MsgTypeUnsubscribePresence = "UNSUBSCRIBE_PRESENCE"
	MsgTypeWritePresence       = "WRITE_PRESENCE"
	MsgTypeDisconnectAction    = "REGISTER_DISCONNECT_ACTION"
	MsgTypePresenceUpdate      = "PRESENCE_UPDATE"

	// Переписка (хранилище сообщений)
	MsgTypeSubscribeConversation   = "SUBSCRIBE_CONVERSATION"
	MsgTypeUnsubscribeConversation = "UNSUBSCRIBE_CONVERSATION"
	MsgTypeAppendMessage           = "APPEND_MESSAGE"
	MsgTypeConversationSnapshot    = "CONVERSATION_SNAPSHOT"

	// Список контактов
	MsgTypeSubscribeBuddies   = "SUBSCRIBE_BUDDIES"
	MsgTypeUnsubscribeBuddies = "UNSUBSCRIBE_BUDDIES"
	MsgTypeAddBuddy           = "ADD_BUDDY"
	MsgTypeRemoveBuddy        = "REMOVE_BUDDY"
	MsgTypeBuddySnapshot      = "BUDDY_SNAPSHOT"

	// Общие
	MsgTypeAck         = "ACK"
	MsgTypeErrorNotify = "ERROR_NOTIFY"
)

///
/// PAYLOAD STRUCTURES
///

// SignInRequestPayload содержит данные для запроса входа.
type SignInRequestPayload struct {
	Identifier string `json:"identifier"` // screen name либо email-подобный идентификатор
	Secret     string `json:"secret"`     // Клиент отправляет секрет, сервер проверяет хеш
}

// SignInResponsePayload содержит данные для ответа на вход.
type SignInResponsePayload struct {
	Success      bool   `json:"success"`
	UserID       string `json:"user_id,omitempty"`    // omitempty если ошибка
	Screenname   string `json:"screenname,omitempty"` // каноническое написание с сервера
	ErrorMessage string `json:"error_message,omitempty"`
}

// SignUpRequestPayload содержит данные для запроса регистрации.
type SignUpRequestPayload struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	Screenname string `json:"screenname"`
}

// SignUpResponsePayload содержит данные для ответа на регистрацию.
type SignUpResponsePayload struct {
	Success      bool   `json:"success"`
	UserID       string `json:"user_id,omitempty"`
	Screenname   string `json:"screenname,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PresenceRecord - запись в realtime-дереве статусов. Ключ - uid пользователя.
// Семантика last-write-wins: сервер хранит последнюю принятую запись целиком.
type PresenceRecord struct {
	Online     bool   `json:"online"`
	LastSeen   int64  `json:"last_seen"` // миллисекунды Unix
	Screenname string `json:"screenname"`
}

type SubscribePresencePayload struct {
	UID string `json:"uid"`
}

type WritePresencePayload struct {
	UID    string         `json:"uid"`
	Record PresenceRecord `json:"record"`
}

// DisconnectActionPayload регистрирует запись, которую сервер применит сам,
// когда живое соединение этого клиента оборвется. Это не замена явной записи
// при выходе - обнаружение обрыва может запаздывать.
type DisconnectActionPayload struct {
	UID    string         `json:"uid"`
	Record PresenceRecord `json:"record"`
}

// PresenceUpdatePayload - push от сервера при каждом изменении записи uid.
type PresenceUpdatePayload struct {
	UID    string         `json:"uid"`
	Record PresenceRecord `json:"record"`
}

// StoredMessage - одно сообщение в переписке, как оно хранится и отдается клиентам.
type StoredMessage struct {
	ConversationID   string `json:"conversation_id"`
	MessageID        string `json:"message_id"` // uuid, генерируется клиентом
	SenderID         string `json:"sender_id"`
	RecipientID      string `json:"recipient_id"`
	SenderScreenname string `json:"sender_screenname"`
	Text             string `json:"text"`
	Timestamp        int64  `json:"timestamp"` // миллисекунды Unix, проставляет сервер
}

type SubscribeConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type AppendMessagePayload struct {
	ConversationID string        `json:"conversation_id"`
	Message        StoredMessage `json:"message"`
}

// ConversationSnapshotPayload - сервер отдает ПОЛНЫЙ текущий список сообщений
// переписки при каждом изменении, а не дельту. Сортировка - забота клиента.
type ConversationSnapshotPayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []StoredMessage `json:"messages"`
}

// BuddyEntry - один контакт в категории списка.
type BuddyEntry struct {
	UID        string `json:"uid"`
	Screenname string `json:"screenname"`
	AddedAt    int64  `json:"added_at"` // миллисекунды Unix
}

// Категории списка контактов. Хранятся и передаются как строки.
const (
	CategoryBuddies   = "buddies"
	CategoryFamily    = "family"
	CategoryCoworkers = "coworkers"
)

type SubscribeBuddiesPayload struct {
	UID string `json:"uid"`
}

type AddBuddyPayload struct {
	UID      string     `json:"uid"` // владелец списка
	Category string     `json:"category"`
	Entry    BuddyEntry `json:"entry"`
}

type RemoveBuddyPayload struct {
	UID      string `json:"uid"`
	Category string `json:"category"`
	BuddyUID string `json:"buddy_uid"`
}

// BuddySnapshotPayload - полный срез списка контактов владельца по категориям.
type BuddySnapshotPayload struct {
	UID        string                  `json:"uid"`
	Categories map[string][]BuddyEntry `json:"categories"`
}

// AckPayload - общий ответ на запросы, у которых нет собственного ответа
// (запись статуса, добавление сообщения и т.п.).
type AckPayload struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ErrorPayload - сообщение об ошибке от сервера вне контекста конкретного запроса.
type ErrorPayload struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}
