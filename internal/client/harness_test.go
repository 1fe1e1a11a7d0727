package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladimirruppel/retroim/internal/config"
	"github.com/vladimirruppel/retroim/internal/protocol"
)

// fakeClock - управляемые часы для проверки протухания записей статуса.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// cueRecorder записывает сыгранные сигналы вместо воспроизведения.
type cueRecorder struct {
	mu   sync.Mutex
	cues []string
}

func (r *cueRecorder) Play(cue string) {
	r.mu.Lock()
	r.cues = append(r.cues, cue)
	r.mu.Unlock()
}

func (r *cueRecorder) Played() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.cues))
	copy(out, r.cues)
	return out
}

func (r *cueRecorder) Count(cue string) int {
	n := 0
	for _, c := range r.Played() {
		if c == cue {
			n++
		}
	}
	return n
}

type fakeUser struct {
	uid        string
	secret     string
	screenname string
}

// fakeBackend - синхронная заглушка бэкенда. Подписки доставляют текущее
// состояние сразу, как это делают серверные хранилища. Колбэки всегда
// вызываются без удержания мьютекса заглушки.
type fakeBackend struct {
	mu sync.Mutex

	users         map[string]fakeUser
	authListeners map[int]func(*AuthUser)
	nextID        int
	failSignUp    bool

	presence     map[string]protocol.PresenceRecord
	presenceSubs map[string]map[int]func(protocol.PresenceRecord)

	convs    map[string][]protocol.StoredMessage
	convSubs map[string]map[int]func([]protocol.StoredMessage)
	appended []protocol.StoredMessage

	buddies   map[string]map[string][]protocol.BuddyEntry
	buddySubs map[string]map[int]func(map[string][]protocol.BuddyEntry)

	disconnectActions map[string]protocol.PresenceRecord
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:             make(map[string]fakeUser),
		authListeners:     make(map[int]func(*AuthUser)),
		presence:          make(map[string]protocol.PresenceRecord),
		presenceSubs:      make(map[string]map[int]func(protocol.PresenceRecord)),
		convs:             make(map[string][]protocol.StoredMessage),
		convSubs:          make(map[string]map[int]func([]protocol.StoredMessage)),
		buddies:           make(map[string]map[string][]protocol.BuddyEntry),
		buddySubs:         make(map[string]map[int]func(map[string][]protocol.BuddyEntry)),
		disconnectActions: make(map[string]protocol.PresenceRecord),
	}
}

func (b *fakeBackend) addUser(identifier, secret, screenname string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	uid := uuid.NewString()
	b.users[identifier] = fakeUser{uid: uid, secret: secret, screenname: screenname}
	return uid
}

func (b *fakeBackend) fireAuth(user *AuthUser) {
	b.mu.Lock()
	var listeners []func(*AuthUser)
	for _, fn := range b.authListeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(user)
	}
}

func (b *fakeBackend) SignIn(identifier, secret string) (*AuthUser, error) {
	b.mu.Lock()
	u, ok := b.users[identifier]
	b.mu.Unlock()
	if !ok || u.secret != secret {
		return nil, errors.New("invalid credentials")
	}
	user := &AuthUser{UID: u.uid, Identifier: identifier, Screenname: u.screenname}
	b.fireAuth(user)
	return user, nil
}

func (b *fakeBackend) SignUp(identifier, secret, screenname string) (*AuthUser, error) {
	b.mu.Lock()
	if b.failSignUp {
		b.mu.Unlock()
		return nil, errors.New("identifier already taken")
	}
	uid := uuid.NewString()
	b.users[identifier] = fakeUser{uid: uid, secret: secret, screenname: screenname}
	b.mu.Unlock()
	user := &AuthUser{UID: uid, Identifier: identifier, Screenname: screenname}
	b.fireAuth(user)
	return user, nil
}

func (b *fakeBackend) SignOut() error {
	b.fireAuth(nil)
	return nil
}

func (b *fakeBackend) OnAuthStateChange(fn func(*AuthUser)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.authListeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.authListeners, id)
		b.mu.Unlock()
	}
}

func (b *fakeBackend) SubscribeToPresence(uid string, onChange func(protocol.PresenceRecord)) (func(), error) {
	b.mu.Lock()
	if b.presenceSubs[uid] == nil {
		b.presenceSubs[uid] = make(map[int]func(protocol.PresenceRecord))
	}
	b.nextID++
	id := b.nextID
	b.presenceSubs[uid][id] = onChange
	rec, ok := b.presence[uid]
	b.mu.Unlock()
	if ok {
		onChange(rec)
	}
	return func() {
		b.mu.Lock()
		delete(b.presenceSubs[uid], id)
		b.mu.Unlock()
	}, nil
}

func (b *fakeBackend) WritePresence(uid string, rec protocol.PresenceRecord) error {
	b.pushPresence(uid, rec)
	return nil
}

func (b *fakeBackend) pushPresence(uid string, rec protocol.PresenceRecord) {
	b.mu.Lock()
	b.presence[uid] = rec
	var callbacks []func(protocol.PresenceRecord)
	for _, fn := range b.presenceSubs[uid] {
		callbacks = append(callbacks, fn)
	}
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(rec)
	}
}

func (b *fakeBackend) RegisterDisconnectAction(uid string, rec protocol.PresenceRecord) error {
	b.mu.Lock()
	b.disconnectActions[uid] = rec
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) SubscribeToConversation(conversationID string, onSnapshot func([]protocol.StoredMessage)) (func(), error) {
	b.mu.Lock()
	if b.convSubs[conversationID] == nil {
		b.convSubs[conversationID] = make(map[int]func([]protocol.StoredMessage))
	}
	b.nextID++
	id := b.nextID
	b.convSubs[conversationID][id] = onSnapshot
	snapshot := append([]protocol.StoredMessage(nil), b.convs[conversationID]...)
	b.mu.Unlock()
	onSnapshot(snapshot)
	return func() {
		b.mu.Lock()
		delete(b.convSubs[conversationID], id)
		b.mu.Unlock()
	}, nil
}

func (b *fakeBackend) AppendMessage(conversationID string, msg protocol.StoredMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	b.mu.Lock()
	b.appended = append(b.appended, msg)
	b.mu.Unlock()
	b.pushConversation(conversationID, append(b.snapshotConv(conversationID), msg))
	return nil
}

func (b *fakeBackend) snapshotConv(conversationID string) []protocol.StoredMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.StoredMessage(nil), b.convs[conversationID]...)
}

func (b *fakeBackend) pushConversation(conversationID string, messages []protocol.StoredMessage) {
	b.mu.Lock()
	b.convs[conversationID] = messages
	var callbacks []func([]protocol.StoredMessage)
	for _, fn := range b.convSubs[conversationID] {
		callbacks = append(callbacks, fn)
	}
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(messages)
	}
}

func (b *fakeBackend) SubscribeToBuddyRelationships(uid string, onSnapshot func(map[string][]protocol.BuddyEntry)) (func(), error) {
	b.mu.Lock()
	if b.buddySubs[uid] == nil {
		b.buddySubs[uid] = make(map[int]func(map[string][]protocol.BuddyEntry))
	}
	b.nextID++
	id := b.nextID
	b.buddySubs[uid][id] = onSnapshot
	categories, ok := b.buddies[uid]
	b.mu.Unlock()
	if ok {
		onSnapshot(categories)
	}
	return func() {
		b.mu.Lock()
		delete(b.buddySubs[uid], id)
		b.mu.Unlock()
	}, nil
}

func (b *fakeBackend) AddBuddyRelationship(uid, category string, entry protocol.BuddyEntry) error {
	b.mu.Lock()
	if b.buddies[uid] == nil {
		b.buddies[uid] = make(map[string][]protocol.BuddyEntry)
	}
	b.buddies[uid][category] = append(b.buddies[uid][category], entry)
	categories := b.buddies[uid]
	b.mu.Unlock()
	b.pushBuddies(uid, categories)
	return nil
}

func (b *fakeBackend) RemoveBuddyRelationship(uid, category, buddyUID string) error {
	b.mu.Lock()
	entries := b.buddies[uid][category]
	out := entries[:0]
	for _, e := range entries {
		if e.UID != buddyUID {
			out = append(out, e)
		}
	}
	if b.buddies[uid] != nil {
		b.buddies[uid][category] = out
	}
	categories := b.buddies[uid]
	b.mu.Unlock()
	b.pushBuddies(uid, categories)
	return nil
}

func (b *fakeBackend) pushBuddies(uid string, categories map[string][]protocol.BuddyEntry) {
	b.mu.Lock()
	b.buddies[uid] = categories
	var callbacks []func(map[string][]protocol.BuddyEntry)
	for _, fn := range b.buddySubs[uid] {
		callbacks = append(callbacks, fn)
	}
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(categories)
	}
}

// newTestCoordinator собирает координатор на заглушках с управляемыми часами.
func newTestCoordinator(t *testing.T) (*Coordinator, *fakeBackend, *cueRecorder, *fakeClock) {
	t.Helper()
	backend := newFakeBackend()
	cues := &cueRecorder{}
	clk := newFakeClock()

	c := NewCoordinator(backend, cues, config.Default())
	c.now = clk.Now
	c.Start()
	t.Cleanup(c.Stop)
	return c, backend, cues, clk
}

// signOnTest регистрирует пользователя и выполняет вход. Возвращает uid.
func signOnTest(t *testing.T, c *Coordinator, backend *fakeBackend) string {
	t.Helper()
	uid := backend.addUser("alice@example.com", "secret", "Alice")
	c.SignOn("alice@example.com", "secret")
	if got := c.CurrentUser(); got == nil || got.UID != uid {
		t.Fatalf("expected signed-in user %s, got %+v", uid, got)
	}
	return uid
}
