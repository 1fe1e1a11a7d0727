package client

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/vladimirruppel/retroim/internal/config"
	"github.com/vladimirruppel/retroim/internal/protocol"
)

// Coordinator владеет всем состоянием сеанса и окон: какие окна существуют,
// их видимость и порядок, кэш статусов контактов, транзиентные метки и
// состояние автооткрытия чатов. Презентационный слой читает состояние через
// геттеры и меняет его только через операции координатора.
//
// Все мутации идут последовательно под одним мьютексом; колбэки бэкенда и
// таймеры - единственные точки, где управление возвращается в координатор.
type Coordinator struct {
	mu sync.Mutex

	backend Backend
	sounds  CuePlayer
	now     func() time.Time

	staleThreshold    time.Duration
	presenceTick      time.Duration
	transientDuration time.Duration
	keepalivePeriod   time.Duration
	backfillBuffer    time.Duration

	// Текущая сессия
	user         *AuthUser
	screenname   string
	sessionStart int64 // миллисекунды Unix; 0 - сессии нет

	// Окна
	windows      map[string]*Window
	order        []string // порядок создания, для отрисовки
	chatByPeer   map[string]string
	zOrder       map[string]int
	focusHistory []string
	active       string
	errorText    string
	views        map[string]*ConversationView // id окна чата -> представление

	// Кэш статусов и транзиентные метки
	presence  map[string]protocol.PresenceRecord
	signedIn  map[string]*time.Timer
	signedOut map[string]*time.Timer

	// Автооткрытие: последний обработанный таймстемп на переписку
	lastProcessed map[string]int64

	// Список контактов (последний снимок)
	buddies map[string][]protocol.BuddyEntry

	// Подписки и фоновые задачи текущей сессии
	presenceUnsubs map[string]func()
	feedUnsubs     map[string]func()
	buddiesUnsub   func()
	selfUnsub      func()
	authUnsub      func()
	sessionStop    chan struct{}

	updates chan struct{}
}

func NewCoordinator(backend Backend, sounds CuePlayer, cfg config.Config) *Coordinator {
	c := &Coordinator{
		backend:           backend,
		sounds:            sounds,
		now:               time.Now,
		staleThreshold:    cfg.StaleThreshold,
		presenceTick:      cfg.PresenceTick,
		transientDuration: cfg.TransientDuration,
		keepalivePeriod:   cfg.KeepalivePeriod,
		backfillBuffer:    cfg.BackfillBuffer,
		windows:           make(map[string]*Window),
		chatByPeer:        make(map[string]string),
		zOrder:            make(map[string]int),
		views:             make(map[string]*ConversationView),
		presence:          make(map[string]protocol.PresenceRecord),
		signedIn:          make(map[string]*time.Timer),
		signedOut:         make(map[string]*time.Timer),
		lastProcessed:     make(map[string]int64),
		buddies:           make(map[string][]protocol.BuddyEntry),
		presenceUnsubs:    make(map[string]func()),
		feedUnsubs:        make(map[string]func()),
		updates:           make(chan struct{}, 1),
	}

	// Одиночные окна существуют всегда; меняется только видимость.
	for _, w := range []*Window{
		{ID: windowIDLogin, Kind: WindowLogin, Visible: true},
		{ID: windowIDBuddyList, Kind: WindowBuddyList},
		{ID: windowIDError, Kind: WindowError},
	} {
		c.windows[w.ID] = w
		c.order = append(c.order, w.ID)
	}
	c.bringToFrontLocked(windowIDLogin)
	return c
}

// Start подписывает координатор на смену сессии. Вызывать один раз.
func (c *Coordinator) Start() {
	c.authUnsub = c.backend.OnAuthStateChange(c.handleAuthChange)
}

// Stop завершает сеанс и снимает подписку на смену сессии.
func (c *Coordinator) Stop() {
	c.endSession()
	if c.authUnsub != nil {
		c.authUnsub()
		c.authUnsub = nil
	}
}

// Updates - канал уведомлений "состояние изменилось, пора перерисоваться".
// Канал буферизован на один элемент; пропущенные сигналы схлопываются.
func (c *Coordinator) Updates() <-chan struct{} {
	return c.updates
}

func (c *Coordinator) notifyLocked() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// notify - то же, что notifyLocked, но без требования держать мьютекс:
// отправка в канал сама по себе потокобезопасна.
func (c *Coordinator) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// CurrentUser возвращает пользователя текущей сессии, либо nil.
func (c *Coordinator) CurrentUser() *AuthUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Screenname возвращает производное имя текущего пользователя.
func (c *Coordinator) Screenname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenname
}

// ConversationViewFor возвращает представление переписки окна чата.
func (c *Coordinator) ConversationViewFor(windowID string) (*ConversationView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[windowID]
	return v, ok
}

// SignOn выполняет вход; при неудаче пробует создать учетную запись с тем же
// идентификатором. Неудача создания показывается окном ошибки - единственная
// ошибка бэкенда, которую видит пользователь.
func (c *Coordinator) SignOn(identifier, secret string) {
	if _, err := c.backend.SignIn(identifier, secret); err == nil {
		return
	} else {
		log.Printf("Sign-in failed for %s: %v. Trying to create an account...", identifier, err)
	}

	if _, err := c.backend.SignUp(identifier, secret, localPart(identifier)); err != nil {
		log.Printf("Sign-up failed for %s: %v", identifier, err)
		c.mu.Lock()
		c.showErrorLocked("Sign-on failed. Try a different screen name.")
		c.notifyLocked()
		c.mu.Unlock()
	}
}

// SignOff явно записывает offline-статус и завершает сессию на бэкенде.
// Явная запись обязательна: disconnect-действие срабатывает с запозданием.
func (c *Coordinator) SignOff() {
	c.mu.Lock()
	user := c.user
	screenname := c.screenname
	c.mu.Unlock()
	if user == nil {
		return
	}

	if err := c.backend.WritePresence(user.UID, protocol.PresenceRecord{
		Online:     false,
		LastSeen:   c.now().UnixMilli(),
		Screenname: screenname,
	}); err != nil {
		log.Printf("Failed to write offline presence for %s: %v", user.UID, err)
	}
	if err := c.backend.SignOut(); err != nil {
		log.Printf("Sign-out failed: %v", err)
	}
}

// AddBuddy добавляет контакт в категорию списка текущего пользователя.
func (c *Coordinator) AddBuddy(category, uid, screenname string) {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	if user == nil {
		return
	}
	entry := protocol.BuddyEntry{UID: uid, Screenname: screenname, AddedAt: c.now().UnixMilli()}
	if err := c.backend.AddBuddyRelationship(user.UID, category, entry); err != nil {
		log.Printf("Failed to add buddy %s: %v", uid, err)
	}
}

// RemoveBuddy убирает контакт из категории списка текущего пользователя.
func (c *Coordinator) RemoveBuddy(category, uid string) {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	if user == nil {
		return
	}
	if err := c.backend.RemoveBuddyRelationship(user.UID, category, uid); err != nil {
		log.Printf("Failed to remove buddy %s: %v", uid, err)
	}
}

func (c *Coordinator) handleAuthChange(user *AuthUser) {
	if user == nil {
		c.endSession()
		return
	}
	// Вход поверх активной сессии: сервер принимает SIGN_IN_REQUEST в любой
	// момент, промежуточного nil не будет. Старая сессия разбирается целиком,
	// иначе ее keepalive и подписки переживут смену пользователя.
	c.mu.Lock()
	active := c.user != nil
	c.mu.Unlock()
	if active {
		c.endSession()
	}
	c.beginSession(user)
}

func (c *Coordinator) beginSession(user *AuthUser) {
	c.mu.Lock()
	c.user = user
	c.screenname = user.Screenname
	if c.screenname == "" {
		c.screenname = localPart(user.Identifier)
	}
	c.sessionStart = c.now().UnixMilli()
	c.lastProcessed = make(map[string]int64)

	c.windows[windowIDLogin].Visible = false
	c.windows[windowIDBuddyList].Visible = true
	c.bringToFrontLocked(windowIDBuddyList)

	c.sessionStop = make(chan struct{})
	stop := c.sessionStop
	uid := user.UID
	screenname := c.screenname
	c.notifyLocked()
	c.mu.Unlock()

	// Начальная запись статуса и disconnect-действие. Ошибки записи только
	// логируются - с точки зрения пользователя операция просто не происходит.
	if err := c.backend.WritePresence(uid, protocol.PresenceRecord{
		Online:     true,
		LastSeen:   c.now().UnixMilli(),
		Screenname: screenname,
	}); err != nil {
		log.Printf("Failed to write presence for %s: %v", uid, err)
	}
	if err := c.backend.RegisterDisconnectAction(uid, protocol.PresenceRecord{
		Online:     false,
		LastSeen:   c.now().UnixMilli(),
		Screenname: screenname,
	}); err != nil {
		log.Printf("Failed to register disconnect action for %s: %v", uid, err)
	}

	go c.runKeepalive(uid, stop)
	go c.runStalenessTicker(stop)

	// Собственная запись статуса - источник канонического написания имени.
	selfUnsub, err := c.backend.SubscribeToPresence(uid, c.handleSelfPresence)
	if err != nil {
		log.Printf("Failed to subscribe to own presence: %v", err)
	}
	buddiesUnsub, err := c.backend.SubscribeToBuddyRelationships(uid, c.handleBuddySnapshot)
	if err != nil {
		log.Printf("Failed to subscribe to buddy relationships: %v", err)
	}

	c.mu.Lock()
	c.selfUnsub = selfUnsub
	c.buddiesUnsub = buddiesUnsub
	c.mu.Unlock()
}

// endSession разбирает сеанс целиком: окна чата, подписки, таймеры, кэш
// статусов и состояние автооткрытия. После него координатор выглядит как
// до входа.
func (c *Coordinator) endSession() {
	c.mu.Lock()
	stop := c.sessionStop
	c.sessionStop = nil

	var unsubs []func()
	for _, u := range c.presenceUnsubs {
		unsubs = append(unsubs, u)
	}
	for _, u := range c.feedUnsubs {
		unsubs = append(unsubs, u)
	}
	if c.buddiesUnsub != nil {
		unsubs = append(unsubs, c.buddiesUnsub)
	}
	if c.selfUnsub != nil {
		unsubs = append(unsubs, c.selfUnsub)
	}
	c.presenceUnsubs = make(map[string]func())
	c.feedUnsubs = make(map[string]func())
	c.buddiesUnsub = nil
	c.selfUnsub = nil

	var views []*ConversationView
	for _, v := range c.views {
		views = append(views, v)
	}
	c.views = make(map[string]*ConversationView)

	// Все окна чата закрываются при выходе.
	for id, w := range c.windows {
		if w.Kind == WindowChat {
			delete(c.windows, id)
			c.order = removeString(c.order, id)
			c.focusHistory = removeString(c.focusHistory, id)
			delete(c.zOrder, id)
		}
	}
	c.chatByPeer = make(map[string]string)

	for uid, t := range c.signedIn {
		t.Stop()
		delete(c.signedIn, uid)
	}
	for uid, t := range c.signedOut {
		t.Stop()
		delete(c.signedOut, uid)
	}
	c.presence = make(map[string]protocol.PresenceRecord)
	c.buddies = make(map[string][]protocol.BuddyEntry)
	c.resetRoutingLocked()

	c.user = nil
	c.screenname = ""
	c.windows[windowIDLogin].Visible = true
	c.windows[windowIDBuddyList].Visible = false
	c.bringToFrontLocked(windowIDLogin)
	c.notifyLocked()
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, u := range unsubs {
		u()
	}
	for _, v := range views {
		v.Close()
	}
}

// handleSelfPresence обновляет производное имя текущего пользователя:
// написание из записи статуса предпочтительнее сохраненного.
func (c *Coordinator) handleSelfPresence(rec protocol.PresenceRecord) {
	c.mu.Lock()
	if c.user != nil && rec.Screenname != "" && rec.Screenname != c.screenname {
		c.screenname = rec.Screenname
		c.notifyLocked()
	}
	c.mu.Unlock()
}

// handleBuddySnapshot принимает полный срез списка контактов и выравнивает
// подписки: на каждого контакта - одна подписка на статус и одна на
// переписку (лента автооткрытия). Исчезнувшие контакты отписываются.
func (c *Coordinator) handleBuddySnapshot(categories map[string][]protocol.BuddyEntry) {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return
	}
	selfUID := c.user.UID
	c.buddies = categories

	current := make(map[string]bool)
	for _, entries := range categories {
		for _, e := range entries {
			current[e.UID] = true
		}
	}

	var toAdd []string
	for uid := range current {
		if _, ok := c.presenceUnsubs[uid]; !ok {
			toAdd = append(toAdd, uid)
		}
	}
	var toRemove []func()
	for uid, unsub := range c.presenceUnsubs {
		if !current[uid] {
			toRemove = append(toRemove, unsub)
			delete(c.presenceUnsubs, uid)
		}
	}
	for uid, unsub := range c.feedUnsubs {
		if !current[uid] {
			toRemove = append(toRemove, unsub)
			delete(c.feedUnsubs, uid)
		}
	}
	c.notifyLocked()
	c.mu.Unlock()

	for _, unsub := range toRemove {
		unsub()
	}

	for _, uid := range toAdd {
		buddyUID := uid
		presUnsub, err := c.backend.SubscribeToPresence(buddyUID, func(rec protocol.PresenceRecord) {
			c.handlePresence(buddyUID, rec)
		})
		if err != nil {
			log.Printf("Failed to subscribe to presence of %s: %v", buddyUID, err)
			continue
		}

		var feedUnsub func()
		if conversationID, err := protocol.ConversationID(selfUID, buddyUID); err == nil {
			feedUnsub, err = c.backend.SubscribeToConversation(conversationID, func(messages []protocol.StoredMessage) {
				c.handleConversationFeed(conversationID, messages)
			})
			if err != nil {
				log.Printf("Failed to subscribe to conversation with %s: %v", buddyUID, err)
			}
		}

		c.mu.Lock()
		// Снимок мог смениться, пока мы подписывались без лока.
		if c.user == nil || c.user.UID != selfUID {
			c.mu.Unlock()
			presUnsub()
			if feedUnsub != nil {
				feedUnsub()
			}
			continue
		}
		c.presenceUnsubs[buddyUID] = presUnsub
		if feedUnsub != nil {
			c.feedUnsubs[buddyUID] = feedUnsub
		}
		c.mu.Unlock()
	}
}

// runKeepalive периодически обновляет lastSeen текущего пользователя, чтобы
// его запись не протухала у остальных.
func (c *Coordinator) runKeepalive(uid string, stop <-chan struct{}) {
	ticker := time.NewTicker(c.keepalivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			screenname := c.screenname
			c.mu.Unlock()
			if err := c.backend.WritePresence(uid, protocol.PresenceRecord{
				Online:     true,
				LastSeen:   c.now().UnixMilli(),
				Screenname: screenname,
			}); err != nil {
				log.Printf("Keepalive presence write failed for %s: %v", uid, err)
			}
		}
	}
}

// openConversationLocked создает представление переписки для нового окна чата.
func (c *Coordinator) openConversationLocked(w *Window) {
	if c.user == nil {
		return
	}
	v := newConversationView(c.backend, c.sounds, c.user.UID, c.screenname, w.PeerUID, c.now(), c.backfillBuffer, c.notify)
	c.views[w.ID] = v
	v.subscribe()
}

func (c *Coordinator) closeConversationLocked(windowID string) {
	if v, ok := c.views[windowID]; ok {
		delete(c.views, windowID)
		v.Close()
	}
}

// localPart выделяет имя из email-подобного идентификатора.
func localPart(identifier string) string {
	if i := strings.IndexByte(identifier, '@'); i > 0 {
		return identifier[:i]
	}
	return identifier
}
