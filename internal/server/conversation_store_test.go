package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

func testMessage(id, sender, recipient, text string) protocol.StoredMessage {
	return protocol.StoredMessage{
		MessageID:        id,
		SenderID:         sender,
		RecipientID:      recipient,
		SenderScreenname: sender,
		Text:             text,
	}
}

func TestConversationAppendAndSnapshot(t *testing.T) {
	store, err := NewConversationStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewConversationStore failed: %v", err)
	}

	stored, err := store.Append("alice-bob", testMessage("m1", "alice", "bob", "hi"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if stored.Timestamp == 0 {
		t.Fatal("the server must assign a timestamp")
	}
	if stored.ConversationID != "alice-bob" {
		t.Fatalf("conversation id must be stamped, got %s", stored.ConversationID)
	}

	if _, err := store.Append("alice-bob", testMessage("m2", "bob", "alice", "hey")); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	snapshot, err := store.Snapshot("alice-bob")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snapshot))
	}
}

func TestConversationSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := NewConversationStore(dir)
	if err != nil {
		t.Fatalf("NewConversationStore failed: %v", err)
	}
	if _, err := store.Append("alice-bob", testMessage("m1", "alice", "bob", "hi")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reopened, err := NewConversationStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	snapshot, err := reopened.Snapshot("alice-bob")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].MessageID != "m1" {
		t.Fatalf("expected the persisted message, got %+v", snapshot)
	}
}

func TestConversationSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"conversation_id":"alice-bob","message_id":"m1","sender_id":"alice","recipient_id":"bob","sender_screenname":"alice","text":"hi","timestamp":123}
not a json line
{"conversation_id":"alice-bob","message_id":"m2","sender_id":"bob","recipient_id":"alice","sender_screenname":"bob","text":"hey","timestamp":456}
`
	if err := os.WriteFile(filepath.Join(dir, "alice-bob.jsonl"), []byte(content), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	store, err := NewConversationStore(dir)
	if err != nil {
		t.Fatalf("NewConversationStore failed: %v", err)
	}
	snapshot, err := store.Snapshot("alice-bob")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected the 2 valid messages, got %d", len(snapshot))
	}
}

func TestConversationSubscribeDeliversFullSnapshots(t *testing.T) {
	store, err := NewConversationStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewConversationStore failed: %v", err)
	}
	if _, err := store.Append("alice-bob", testMessage("m1", "alice", "bob", "hi")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var snapshots [][]protocol.StoredMessage
	cancel, err := store.Subscribe("alice-bob", func(_ string, messages []protocol.StoredMessage) {
		snapshots = append(snapshots, messages)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Текущее состояние приходит сразу.
	if len(snapshots) != 1 || len(snapshots[0]) != 1 {
		t.Fatalf("expected an immediate snapshot with 1 message, got %+v", snapshots)
	}

	if _, err := store.Append("alice-bob", testMessage("m2", "bob", "alice", "hey")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(snapshots) != 2 || len(snapshots[1]) != 2 {
		t.Fatalf("expected a full snapshot with 2 messages, got %+v", snapshots)
	}

	cancel()
	if _, err := store.Append("alice-bob", testMessage("m3", "alice", "bob", "again")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("cancelled subscriber must not receive snapshots, got %d", len(snapshots))
	}
}
