package client

import (
	"testing"
	"time"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

func newTestView(t *testing.T) (*ConversationView, *fakeBackend, *cueRecorder, time.Time) {
	t.Helper()
	backend := newFakeBackend()
	cues := &cueRecorder{}
	openedAt := time.UnixMilli(1_000_000_000)
	v := newConversationView(backend, cues, "alice", "Alice", "bob", openedAt, 10*time.Second, nil)
	v.subscribe()
	return v, backend, cues, openedAt
}

func pairMessage(id, sender, recipient string, ts int64) protocol.StoredMessage {
	return protocol.StoredMessage{
		MessageID:        id,
		SenderID:         sender,
		RecipientID:      recipient,
		SenderScreenname: sender,
		Text:             "text " + id,
		Timestamp:        ts,
	}
}

func TestViewFiltersMessagesOfOtherPairs(t *testing.T) {
	v, _, _, openedAt := newTestView(t)
	base := openedAt.UnixMilli()

	v.handleSnapshot([]protocol.StoredMessage{
		pairMessage("m1", "bob", "alice", base+100),
		pairMessage("m2", "alice", "bob", base+200),
		pairMessage("m3", "carol", "alice", base+300),
		pairMessage("m4", "bob", "carol", base+400),
	})

	messages := v.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages of the pair, got %d", len(messages))
	}
	for _, m := range messages {
		if m.MessageID == "m3" || m.MessageID == "m4" {
			t.Fatalf("message %s does not belong to the pair", m.MessageID)
		}
	}
}

func TestViewCutoffKeepsBackfillWindow(t *testing.T) {
	v, _, _, openedAt := newTestView(t)
	base := openedAt.UnixMilli()

	v.handleSnapshot([]protocol.StoredMessage{
		// За пять секунд до открытия - в пределах запаса, остается.
		pairMessage("recent", "bob", "alice", base-5000),
		// За пятнадцать секунд - старая история, отсекается.
		pairMessage("old", "bob", "alice", base-15000),
	})

	messages := v.Messages()
	if len(messages) != 1 || messages[0].MessageID != "recent" {
		t.Fatalf("expected only the recent message, got %+v", messages)
	}
}

func TestViewSortsByTimestampRegardlessOfArrival(t *testing.T) {
	v, _, _, openedAt := newTestView(t)
	base := openedAt.UnixMilli()

	v.handleSnapshot([]protocol.StoredMessage{
		pairMessage("m3", "bob", "alice", base+300),
		pairMessage("m1", "alice", "bob", base+100),
		pairMessage("m2", "bob", "alice", base+200),
	})

	messages := v.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i-1].Timestamp > messages[i].Timestamp {
			t.Fatalf("messages out of order: %d before %d", messages[i-1].Timestamp, messages[i].Timestamp)
		}
	}
}

func TestViewDeduplicatesByMessageID(t *testing.T) {
	v, _, _, openedAt := newTestView(t)
	base := openedAt.UnixMilli()

	m := pairMessage("dup", "bob", "alice", base+100)
	v.handleSnapshot([]protocol.StoredMessage{m, m})

	if got := len(v.Messages()); got != 1 {
		t.Fatalf("duplicate id must collapse to one message, got %d", got)
	}
}

func TestViewPlaysReceiveCueOncePerIncomingMessage(t *testing.T) {
	v, _, cues, openedAt := newTestView(t)
	base := openedAt.UnixMilli()

	snapshot := []protocol.StoredMessage{pairMessage("m1", "bob", "alice", base+100)}
	v.handleSnapshot(snapshot)
	if n := cues.Count(CueReceive); n != 1 {
		t.Fatalf("expected one receive cue, got %d", n)
	}

	// Повторная доставка того же снимка - сигнал не дублируется.
	v.handleSnapshot(snapshot)
	if n := cues.Count(CueReceive); n != 1 {
		t.Fatalf("repeated snapshot must stay silent, got %d cues", n)
	}

	// Собственные сообщения сигнал получения не играют.
	v.handleSnapshot(append(snapshot, pairMessage("m2", "alice", "bob", base+200)))
	if n := cues.Count(CueReceive); n != 1 {
		t.Fatalf("own message must not play the receive cue, got %d", n)
	}
}

func TestViewSendAppendsThroughBackend(t *testing.T) {
	v, backend, cues, _ := newTestView(t)

	v.Send("hello there")

	backend.mu.Lock()
	appended := append([]protocol.StoredMessage(nil), backend.appended...)
	backend.mu.Unlock()
	if len(appended) != 1 {
		t.Fatalf("expected one appended message, got %d", len(appended))
	}
	m := appended[0]
	if m.SenderID != "alice" || m.RecipientID != "bob" || m.Text != "hello there" {
		t.Fatalf("unexpected appended message: %+v", m)
	}
	if m.MessageID == "" {
		t.Fatal("the client must assign a message id")
	}
	if m.SenderScreenname != "Alice" {
		t.Fatalf("expected sender screenname Alice, got %s", m.SenderScreenname)
	}
	if n := cues.Count(CueSend); n != 1 {
		t.Fatalf("expected one send cue, got %d", n)
	}
}
