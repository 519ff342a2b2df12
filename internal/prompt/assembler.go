package prompt

import (
	"errors"
	"log"
	"time"

	"github.com/mohammad-safakhou/glance/internal/telemetry"
	"github.com/mohammad-safakhou/glance/session/session_models"
	"github.com/mohammad-safakhou/glance/session/session_object"
)

// ErrNoSystemPrompt indicates a turn cannot be assembled: no system prompt is
// configured and the session history does not contain one either.
var ErrNoSystemPrompt = errors.New("no system prompt configured and none present in history")

// Assembler builds the outbound message sequence for a turn, deciding whether
// the cache-marked system prompt must be (re)written or whether the session
// can rely on the provider's already-cached prefix. A cached system prompt is
// reused byte-for-byte: any edit would invalidate the provider's cache match.
type Assembler struct {
	systemPrompt string
	validity     time.Duration
	logger       *log.Logger
	telemetry    *telemetry.Telemetry
}

func NewAssembler(systemPrompt string, validity time.Duration, logger *log.Logger, tele *telemetry.Telemetry) *Assembler {
	if logger == nil {
		logger = log.New(log.Writer(), "[PROMPT] ", log.LstdFlags)
	}
	return &Assembler{systemPrompt: systemPrompt, validity: validity, logger: logger, telemetry: tele}
}

// Build appends the user turn to the session history and returns the full
// ordered message sequence for the provider call. The caller must hold the
// session's turn lock.
func (a *Assembler) Build(sess *session_object.Session, userTurn string) ([]session_models.Message, error) {
	if a.systemPrompt == "" && !sess.HasSystemPrompt() {
		return nil, ErrNoSystemPrompt
	}

	now := time.Now()
	if a.systemPrompt != "" && sess.ShouldWriteSystemPrompt(now, a.validity) {
		sess.WriteSystemPrompt(a.systemPrompt, now)
		a.logger.Printf("session %s: writing new cached system prompt", sess.ID())
		if a.telemetry != nil {
			a.telemetry.RecordCacheDecision(true)
		}
	} else {
		a.logger.Printf("session %s: system prompt already in history, reusing cached version", sess.ID())
		if a.telemetry != nil {
			a.telemetry.RecordCacheDecision(false)
		}
	}

	sess.Append(session_models.Message{Role: session_models.RoleUser, Content: userTurn})
	return sess.History(), nil
}
