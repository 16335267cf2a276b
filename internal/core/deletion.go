package core

import (
	"strings"

	"github.com/vovakirdan/voicechat/internal/proto"
)

// Visibility is how a message renders for one viewer.
type Visibility int

const (
	Shown Visibility = iota
	Hidden
	Tombstoned
)

func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Tombstoned:
		return "tombstone"
	default:
		return "shown"
	}
}

// Render applies the deletion rule: deleted for everyone wins over hidden for me.
func Render(m proto.Message, viewer string) Visibility {
	switch {
	case m.IsDeleted:
		return Tombstoned
	case m.HiddenFor(viewer):
		return Hidden
	default:
		return Shown
	}
}

// Item is one rendered row of the conversation view.
type Item struct {
	Message   proto.Message
	Tombstone bool
}

// Project drops messages hidden for viewer and flags tombstones.
func Project(msgs []proto.Message, viewer string) []Item {
	items := make([]Item, 0, len(msgs))
	for _, m := range msgs {
		switch Render(m, viewer) {
		case Hidden:
			continue
		case Tombstoned:
			items = append(items, Item{Message: m, Tombstone: true})
		default:
			items = append(items, Item{Message: m})
		}
	}
	return items
}

func normalizeScope(scope string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case proto.ScopeMe:
		return proto.ScopeMe, nil
	case proto.ScopeEveryone:
		return proto.ScopeEveryone, nil
	}
	return "", ErrInvalidScope
}

// beginDelete performs the local half of a delete. For scope me the message is hidden
// immediately and stays hidden whatever the request outcome; for everyone nothing changes
// until the collaborator confirms.
func beginDelete(store *Store, messageID, scope, viewer string) error {
	if _, ok := store.Get(messageID); !ok {
		return ErrUnknownMessage
	}
	if scope == proto.ScopeMe {
		store.Hide(messageID, viewer)
	}
	return nil
}

// confirmDelete applies a successful delete response.
func confirmDelete(store *Store, messageID, scope string) bool {
	if scope == proto.ScopeEveryone {
		return store.Tombstone(messageID)
	}
	return false
}
