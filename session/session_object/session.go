package session_object

import (
	"sync"
	"time"

	"github.com/mohammad-safakhou/glance/session/session_models"
)

// Session owns the ordered message history for one conversation and the
// prompt-cache state derived from it.
//
// Callers must hold the session lock (Lock/Unlock) for the whole turn:
// read history -> append user message -> await completion -> append response.
// Interleaved turns on the same session would corrupt both message order and
// the single-cache-breakpoint invariant, so individual accessors do not lock.
type Session struct {
	id              string
	messages        []session_models.Message
	systemWrittenAt time.Time
	lastActivity    time.Time
	mu              sync.Mutex
}

// Snapshot is the serializable form of a session used by persistent backends.
type Snapshot struct {
	ID              string                   `json:"id"`
	Messages        []session_models.Message `json:"messages"`
	SystemWrittenAt time.Time                `json:"system_written_at"`
	LastActivity    time.Time                `json:"last_activity"`
}

func New(id string) *Session {
	return &Session{id: id, lastActivity: time.Now()}
}

// FromSnapshot rebuilds a session from its persisted form.
func FromSnapshot(snap Snapshot) *Session {
	return &Session{
		id:              snap.ID,
		messages:        snap.Messages,
		systemWrittenAt: snap.SystemWrittenAt,
		lastActivity:    snap.LastActivity,
	}
}

func (s *Session) ID() string { return s.id }

// Lock serializes turns on this session. It is held across the LLM call.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// History returns a copy of the ordered message sequence.
func (s *Session) History() []session_models.Message {
	out := make([]session_models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Append adds a message to the end of the history.
func (s *Session) Append(msg session_models.Message) {
	s.messages = append(s.messages, msg)
	s.lastActivity = time.Now()
}

// HasSystemPrompt reports whether a system message exists in history.
func (s *Session) HasSystemPrompt() bool {
	for _, m := range s.messages {
		if m.Role == session_models.RoleSystem {
			return true
		}
	}
	return false
}

// ShouldWriteSystemPrompt reports whether the next turn must (re)write the
// cache-marked system prompt: either none exists yet, or the cache validity
// window elapsed since it was last written.
func (s *Session) ShouldWriteSystemPrompt(now time.Time, validity time.Duration) bool {
	if !s.HasSystemPrompt() {
		return true
	}
	return now.Sub(s.systemWrittenAt) > validity
}

// WriteSystemPrompt installs content as the session's single cache-marked
// system message. The first write inserts it as the first message ever; a
// rewrite after cache expiry replaces it in place so that at most one
// cache-marked message exists at any time.
func (s *Session) WriteSystemPrompt(content string, now time.Time) {
	for i, m := range s.messages {
		if m.Role == session_models.RoleSystem && m.CacheControl {
			s.messages[i].Content = content
			s.systemWrittenAt = now
			return
		}
	}
	msg := session_models.Message{Role: session_models.RoleSystem, Content: content, CacheControl: true}
	s.messages = append([]session_models.Message{msg}, s.messages...)
	s.systemWrittenAt = now
}

// SystemWrittenAt returns when the cache-marked system prompt was last written.
func (s *Session) SystemWrittenAt() time.Time { return s.systemWrittenAt }

// SetSystemWrittenAt backdates the cache timestamp; used by tests and by
// backends restoring persisted state.
func (s *Session) SetSystemWrittenAt(t time.Time) { s.systemWrittenAt = t }

// LastActivity returns the time of the most recent append.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// CacheMarkedCount returns how many messages carry the cache-control marker.
func (s *Session) CacheMarkedCount() int {
	n := 0
	for _, m := range s.messages {
		if m.CacheControl {
			n++
		}
	}
	return n
}

// Snapshot captures the session for persistence.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:              s.id,
		Messages:        s.History(),
		SystemWrittenAt: s.systemWrittenAt,
		LastActivity:    s.lastActivity,
	}
}
