// Package thread keeps the in-memory, ordered message list of one
// conversation as seen by a local user, reconciling optimistic sends with
// messages delivered by the server.
package thread

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"fund-connect/internal/model"
)

// Entry is a message in the list. Pending entries were sent locally and are
// not yet confirmed by the server; their ID is a temporary one.
type Entry struct {
	model.Message
	Pending bool `json:"pending"`
}

type Thread struct {
	conversationID string
	localUserID    string

	mu      sync.Mutex
	entries []Entry
	nextTmp int
	now     func() time.Time
}

func New(conversationID, localUserID string) *Thread {
	return &Thread{conversationID: conversationID, localUserID: localUserID, now: time.Now}
}

// Load replaces the confirmed history, keeping pending sends at the end.
func (t *Thread) Load(msgs []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(msgs)+len(t.entries))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ConversationID != t.conversationID {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		entries = append(entries, Entry{Message: m})
	}
	for _, e := range t.entries {
		if e.Pending {
			entries = append(entries, e)
		}
	}
	t.entries = entries
	t.sortLocked()
}

// SendOptimistic appends a pending message from the local user and returns
// its temporary id.
func (t *Thread) SendOptimistic(content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextTmp++
	id := "temp-" + strconv.Itoa(t.nextTmp)
	t.entries = append(t.entries, Entry{
		Message: model.Message{
			ID:             id,
			ConversationID: t.conversationID,
			SenderID:       t.localUserID,
			Content:        content,
			CreatedAt:      t.now().UTC(),
		},
		Pending: true,
	})
	return id
}

// Confirm replaces the pending entry tempID with the persisted message. If
// the persisted message already arrived through the live channel the pending
// entry is simply dropped. A push can claim a different pending entry with
// the same content; when tempID is gone the persisted message is still added
// unless the list already holds it.
func (t *Thread) Confirm(tempID string, persisted model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if persisted.ConversationID != t.conversationID {
		return
	}
	idx := t.indexLocked(tempID, true)
	if idx < 0 {
		if t.indexLocked(persisted.ID, false) < 0 {
			t.entries = append(t.entries, Entry{Message: persisted})
			t.sortLocked()
		}
		return
	}
	if t.indexLocked(persisted.ID, false) >= 0 {
		t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
		return
	}
	t.entries[idx] = Entry{Message: persisted}
	t.sortLocked()
}

// Fail removes the pending entry tempID and returns its content so the input
// can be restored.
func (t *Thread) Fail(tempID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexLocked(tempID, true)
	if idx < 0 {
		return "", false
	}
	content := t.entries[idx].Content
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	return content, true
}

// Apply merges a message pushed by the server. Messages already in the list
// are ignored. A message matching a pending local send by sender and content
// replaces it instead of being added. needsRead reports a newly added message
// from the other participant, after which the caller marks the conversation
// read.
func (t *Thread) Apply(msg model.Message) (added, needsRead bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ConversationID != t.conversationID {
		return false, false
	}
	if t.indexLocked(msg.ID, false) >= 0 {
		return false, false
	}

	for i, e := range t.entries {
		if e.Pending && e.SenderID == msg.SenderID && e.Content == msg.Content {
			t.entries[i] = Entry{Message: msg}
			t.sortLocked()
			return false, false
		}
	}

	t.entries = append(t.entries, Entry{Message: msg})
	t.sortLocked()
	return true, msg.SenderID != t.localUserID
}

// Messages returns a copy of the list in display order.
func (t *Thread) Messages() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// LastSeq is the highest confirmed sequence number, for catching up after a
// reconnect.
func (t *Thread) LastSeq() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var last int64
	for _, e := range t.entries {
		if !e.Pending && e.Seq > last {
			last = e.Seq
		}
	}
	return last
}

func (t *Thread) indexLocked(id string, pending bool) int {
	for i, e := range t.entries {
		if e.ID == id && e.Pending == pending {
			return i
		}
	}
	return -1
}

// sortLocked orders confirmed messages by seq and keeps pending sends after
// them in send order.
func (t *Thread) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Pending {
			return false
		}
		return a.Seq < b.Seq
	})
}
