package server

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

// dispatch обрабатывает один запрос клиента.
// Все запросы, кроме аутентификационных, требуют выполненного входа.
func (c *Client) dispatch(wsMsg protocol.WebSocketMessage) {
	switch wsMsg.Type {
	case protocol.MsgTypeSignInRequest:
		c.handleSignIn(wsMsg)
		return
	case protocol.MsgTypeSignUpRequest:
		c.handleSignUp(wsMsg)
		return
	}

	if !c.IsAuthenticated {
		c.sendError(wsMsg.RequestID, "UNAUTHORIZED", "Please sign in first.")
		return
	}

	switch wsMsg.Type {
	case protocol.MsgTypeSignOutRequest:
		c.handleSignOut(wsMsg)

	case protocol.MsgTypeWritePresence:
		var payload protocol.WritePresencePayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		c.srv.presence.Write(payload.UID, payload.Record)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeDisconnectAction:
		var payload protocol.DisconnectActionPayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		c.addDisconnectAction(payload)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeSubscribePresence:
		var payload protocol.SubscribePresencePayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		cancel := c.srv.presence.Subscribe(payload.UID, func(uid string, rec protocol.PresenceRecord) {
			c.sendResponse(protocol.MsgTypePresenceUpdate, "", protocol.PresenceUpdatePayload{UID: uid, Record: rec})
		})
		c.addCancel("presence:"+payload.UID, cancel)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeUnsubscribePresence:
		var payload protocol.SubscribePresencePayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		c.removeCancel("presence:" + payload.UID)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeSubscribeConversation:
		var payload protocol.SubscribeConversationPayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		cancel, err := c.srv.conversations.Subscribe(payload.ConversationID, func(conversationID string, messages []protocol.StoredMessage) {
			c.sendResponse(protocol.MsgTypeConversationSnapshot, "", protocol.ConversationSnapshotPayload{
				ConversationID: conversationID,
				Messages:       messages,
			})
		})
		if err != nil {
			c.sendAck(wsMsg.RequestID, err)
			return
		}
		c.addCancel("conversation:"+payload.ConversationID, cancel)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeUnsubscribeConversation:
		var payload protocol.SubscribeConversationPayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		c.removeCancel("conversation:" + payload.ConversationID)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeAppendMessage:
		var payload protocol.AppendMessagePayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		if payload.Message.SenderID != c.UserID {
			c.sendAck(wsMsg.RequestID, errors.New("sender does not match authenticated user"))
			return
		}
		_, err := c.srv.conversations.Append(payload.ConversationID, payload.Message)
		c.sendAck(wsMsg.RequestID, err)

	case protocol.MsgTypeSubscribeBuddies:
		var payload protocol.SubscribeBuddiesPayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		cancel, err := c.srv.buddies.Subscribe(payload.UID, func(uid string, categories map[string][]protocol.BuddyEntry) {
			c.sendResponse(protocol.MsgTypeBuddySnapshot, "", protocol.BuddySnapshotPayload{
				UID:        uid,
				Categories: categories,
			})
		})
		if err != nil {
			c.sendAck(wsMsg.RequestID, err)
			return
		}
		c.addCancel("buddies:"+payload.UID, cancel)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeUnsubscribeBuddies:
		var payload protocol.SubscribeBuddiesPayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		c.removeCancel("buddies:" + payload.UID)
		c.sendAck(wsMsg.RequestID, nil)

	case protocol.MsgTypeAddBuddy:
		var payload protocol.AddBuddyPayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		c.sendAck(wsMsg.RequestID, c.srv.buddies.Add(payload.UID, payload.Category, payload.Entry))

	case protocol.MsgTypeRemoveBuddy:
		var payload protocol.RemoveBuddyPayload
		if !c.unmarshalPayload(wsMsg, &payload) {
			return
		}
		c.sendAck(wsMsg.RequestID, c.srv.buddies.Remove(payload.UID, payload.Category, payload.BuddyUID))

	default:
		log.Printf("Received unknown message type: %s", wsMsg.Type)
		c.sendError(wsMsg.RequestID, "UNKNOWN_MESSAGE_TYPE", "The server does not understand this message type.")
	}
}

func (c *Client) handleSignIn(wsMsg protocol.WebSocketMessage) {
	var payload protocol.SignInRequestPayload
	if !c.unmarshalPayload(wsMsg, &payload) {
		return
	}

	user, err := c.srv.auth.SignIn(payload.Identifier, payload.Secret)
	if err != nil {
		log.Printf("Authentication failed for %s: %v", payload.Identifier, err)
		c.sendResponse(protocol.MsgTypeSignInResponse, wsMsg.RequestID, protocol.SignInResponsePayload{
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return
	}

	c.UserID = user.ID
	c.Screenname = user.Screenname
	c.IsAuthenticated = true
	c.sendResponse(protocol.MsgTypeSignInResponse, wsMsg.RequestID, protocol.SignInResponsePayload{
		Success:    true,
		UserID:     user.ID,
		Screenname: user.Screenname,
	})
}

func (c *Client) handleSignUp(wsMsg protocol.WebSocketMessage) {
	var payload protocol.SignUpRequestPayload
	if !c.unmarshalPayload(wsMsg, &payload) {
		return
	}

	user, err := c.srv.auth.SignUp(payload.Identifier, payload.Secret, payload.Screenname)
	if err != nil {
		log.Printf("Registration failed for %s: %v", payload.Identifier, err)
		c.sendResponse(protocol.MsgTypeSignUpResponse, wsMsg.RequestID, protocol.SignUpResponsePayload{
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return
	}

	// Регистрация сразу считается входом - клиент ведет себя так же.
	c.UserID = user.ID
	c.Screenname = user.Screenname
	c.IsAuthenticated = true
	c.sendResponse(protocol.MsgTypeSignUpResponse, wsMsg.RequestID, protocol.SignUpResponsePayload{
		Success:    true,
		UserID:     user.ID,
		Screenname: user.Screenname,
	})
}

// handleSignOut снимает подписки и сбрасывает аутентификацию, не разрывая
// соединение. Зарегистрированные disconnect-действия при явном выходе
// отменяются - клиент уже записал offline-статус сам.
func (c *Client) handleSignOut(wsMsg protocol.WebSocketMessage) {
	log.Printf("Client %s (ID: %s) signing out", c.Screenname, c.UserID)
	c.teardown()
	c.takeDisconnectActions()
	c.UserID = ""
	c.Screenname = ""
	c.IsAuthenticated = false
	c.sendAck(wsMsg.RequestID, nil)
}

func (c *Client) unmarshalPayload(wsMsg protocol.WebSocketMessage, out interface{}) bool {
	if err := json.Unmarshal(wsMsg.Payload, out); err != nil {
		log.Printf("Client %s: failed to unmarshal %s payload: %v", c.UserID, wsMsg.Type, err)
		c.sendError(wsMsg.RequestID, "INVALID_PAYLOAD", "Could not parse request payload.")
		return false
	}
	return true
}
