package protocol

import (
	"errors"
	"fmt"
	"sort"
)

// ConversationID строит идентификатор переписки из пары uid.
// Пара сортируется, чтобы обе стороны получили один и тот же идентификатор.
func ConversationID(uid1, uid2 string) (string, error) {
	if uid1 == "" || uid2 == "" {
		return "", errors.New("user IDs cannot be empty for generating conversation ID")
	}
	ids := []string{uid1, uid2}
	sort.Strings(ids)
	return fmt.Sprintf("%s-%s", ids[0], ids[1]), nil
}
