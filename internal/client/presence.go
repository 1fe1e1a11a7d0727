package client

import (
	"sort"
	"strings"
	"time"

	"github.com/vladimirruppel/retroim/internal/protocol"
)

// handlePresence принимает очередное изменение записи uid из дерева статусов.
//
// Первая запись для uid в рамках сессии фиксируется молча - иначе при загрузке
// списка контактов прозвучал бы шквал сигналов за каждого уже входившего.
// Дальше каждый переворот online порождает транзиентную метку и звуковой
// сигнал; display-поля (screenname, lastSeen) обновляются в любом случае.
func (c *Coordinator) handlePresence(uid string, rec protocol.PresenceRecord) {
	c.mu.Lock()
	prev, seen := c.presence[uid]
	c.presence[uid] = rec

	var cue string
	if seen && rec.Online != prev.Online {
		if rec.Online {
			c.markTransientLocked(uid, c.signedIn, c.signedOut)
			cue = CueSignOn
		} else {
			c.markTransientLocked(uid, c.signedOut, c.signedIn)
			cue = CueSignOff
		}
	}
	c.notifyLocked()
	c.mu.Unlock()

	if cue != "" {
		c.sounds.Play(cue)
	}
}

// markTransientLocked помещает uid в набор into и выселяет его из противоположного
// набора, отменяя тамошний таймер: uid не может быть в обоих наборах сразу.
func (c *Coordinator) markTransientLocked(uid string, into, opposite map[string]*time.Timer) {
	if t, ok := opposite[uid]; ok {
		t.Stop()
		delete(opposite, uid)
	}
	if t, ok := into[uid]; ok {
		// Повторный переворот в ту же сторону продлевает метку заново.
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.transientDuration, func() {
		c.expireTransient(into, uid, timer)
	})
	into[uid] = timer
}

// expireTransient снимает истекшую метку. Сравнение с текущим таймером
// отсекает гонку: метка могла быть пересоздана, пока таймер срабатывал.
func (c *Coordinator) expireTransient(set map[string]*time.Timer, uid string, timer *time.Timer) {
	c.mu.Lock()
	cur, ok := set[uid]
	if !ok || cur != timer {
		c.mu.Unlock()
		return
	}
	delete(set, uid)
	c.notifyLocked()
	c.mu.Unlock()
}

// RecentlySignedIn сообщает, помечен ли uid как "только что вошел".
func (c *Coordinator) RecentlySignedIn(uid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.signedIn[uid]
	return ok
}

// RecentlySignedOut сообщает, помечен ли uid как "только что вышел".
func (c *Coordinator) RecentlySignedOut(uid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.signedOut[uid]
	return ok
}

// effectivelyOnline: запись считается действующей, только если online И она
// не протухла. Порог компенсирует ненадежный disconnect-сигнал хранилища.
func effectivelyOnline(rec protocol.PresenceRecord, now time.Time, staleThreshold time.Duration) bool {
	if !rec.Online {
		return false
	}
	return now.Sub(time.UnixMilli(rec.LastSeen)) < staleThreshold
}

// BuddyRow - контакт, соединенный с его записью статуса для отображения.
type BuddyRow struct {
	UID               string
	Screenname        string
	Online            bool // effective-online с учетом протухания
	LastSeen          int64
	RecentlySignedIn  bool
	RecentlySignedOut bool
}

// BuddyGroup - категория списка, разбитая на online/offline секции.
type BuddyGroup struct {
	Category string
	Online   []BuddyRow
	Offline  []BuddyRow
}

// категории в порядке отображения
var categoryOrder = []string{
	protocol.CategoryBuddies,
	protocol.CategoryFamily,
	protocol.CategoryCoworkers,
}

// BuddyGroups собирает список контактов для отрисовки.
//
// Контакт попадает в online-секцию категории, если он effective-online ЛИБО
// помечен "только что вышел" - вышедший короткое время остается в верхней
// секции, как в ожидаемом UX сигн-оффа, и на это же время исключен из
// offline-секции. Внутри секции сортировка по screenname без учета регистра.
func (c *Coordinator) BuddyGroups() []BuddyGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	var groups []BuddyGroup
	for _, category := range c.buddyCategoriesLocked() {
		group := BuddyGroup{Category: category}
		for _, entry := range c.buddies[category] {
			row := BuddyRow{
				UID:        entry.UID,
				Screenname: entry.Screenname,
			}
			if rec, ok := c.presence[entry.UID]; ok {
				// Каноническое написание имени берем из записи статуса.
				if rec.Screenname != "" {
					row.Screenname = rec.Screenname
				}
				row.Online = effectivelyOnline(rec, now, c.staleThreshold)
				row.LastSeen = rec.LastSeen
			}
			_, row.RecentlySignedIn = c.signedIn[entry.UID]
			_, row.RecentlySignedOut = c.signedOut[entry.UID]

			if row.Online || row.RecentlySignedOut {
				group.Online = append(group.Online, row)
			} else {
				group.Offline = append(group.Offline, row)
			}
		}
		sortRows(group.Online)
		sortRows(group.Offline)
		groups = append(groups, group)
	}
	return groups
}

// buddyCategoriesLocked возвращает известные категории в порядке отображения,
// затем остальные по алфавиту.
func (c *Coordinator) buddyCategoriesLocked() []string {
	known := make(map[string]bool, len(categoryOrder))
	var out []string
	for _, cat := range categoryOrder {
		known[cat] = true
		out = append(out, cat)
	}
	var extra []string
	for cat := range c.buddies {
		if !known[cat] {
			extra = append(extra, cat)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func sortRows(rows []BuddyRow) {
	sort.Slice(rows, func(i, j int) bool {
		return strings.ToLower(rows[i].Screenname) < strings.ToLower(rows[j].Screenname)
	})
}

// runStalenessTicker периодически дергает пересчет effective-online: протухание
// зависит от настенных часов, а не от прихода нового события.
func (c *Coordinator) runStalenessTicker(stop <-chan struct{}) {
	ticker := time.NewTicker(c.presenceTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.notifyLocked()
			c.mu.Unlock()
		}
	}
}
