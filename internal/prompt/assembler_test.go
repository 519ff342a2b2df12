package prompt

import (
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/glance/session/session_models"
	"github.com/mohammad-safakhou/glance/session/session_object"
)

func TestBuildWritesSystemPromptOnFirstTurn(t *testing.T) {
	a := NewAssembler("analyst instructions", 5*time.Minute, nil, nil)
	sess := session_object.New("s1")

	messages, err := a.Build(sess, "how were sales")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected system + user, got %d messages", len(messages))
	}
	if messages[0].Role != session_models.RoleSystem || !messages[0].CacheControl {
		t.Fatalf("first message must be the cache-marked system prompt: %+v", messages[0])
	}
	if messages[1].Role != session_models.RoleUser || messages[1].Content != "how were sales" {
		t.Fatalf("user turn not appended: %+v", messages[1])
	}
}

func TestBuildReusesPromptByteForByteWithinWindow(t *testing.T) {
	a := NewAssembler("analyst instructions", 5*time.Minute, nil, nil)
	sess := session_object.New("s1")

	first, err := a.Build(sess, "turn one")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sess.Append(session_models.Message{Role: session_models.RoleAssistant, Content: "answer one"})

	second, err := a.Build(sess, "turn two")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if second[0].Content != first[0].Content {
		t.Fatalf("cached prompt changed between turns")
	}
	if sess.CacheMarkedCount() != 1 {
		t.Fatalf("expected a single cache-marked message, got %d", sess.CacheMarkedCount())
	}
	if len(second) != 4 {
		t.Fatalf("expected full history, got %d messages", len(second))
	}
}

func TestBuildRewritesAfterExpiry(t *testing.T) {
	a := NewAssembler("analyst instructions", 5*time.Minute, nil, nil)
	sess := session_object.New("s1")

	if _, err := a.Build(sess, "turn one"); err != nil {
		t.Fatalf("Build: %v", err)
	}
	wrote := sess.SystemWrittenAt()
	sess.SetSystemWrittenAt(time.Now().Add(-10 * time.Minute))

	if _, err := a.Build(sess, "turn two"); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !sess.SystemWrittenAt().After(wrote) {
		t.Fatalf("expired prompt was not rewritten")
	}
	if sess.CacheMarkedCount() != 1 {
		t.Fatalf("rewrite must keep a single cache-marked message, got %d", sess.CacheMarkedCount())
	}
}

func TestBuildFailsWithoutAnyPrompt(t *testing.T) {
	a := NewAssembler("", 5*time.Minute, nil, nil)
	sess := session_object.New("s1")

	if _, err := a.Build(sess, "question"); !errors.Is(err, ErrNoSystemPrompt) {
		t.Fatalf("expected ErrNoSystemPrompt, got %v", err)
	}
}

func TestBuildAcceptsHistoryPromptWhenUnconfigured(t *testing.T) {
	a := NewAssembler("", 5*time.Minute, nil, nil)
	sess := session_object.New("s1")
	sess.WriteSystemPrompt("carried over", time.Now())

	messages, err := a.Build(sess, "question")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if messages[0].Content != "carried over" {
		t.Fatalf("existing prompt must be kept: %+v", messages[0])
	}
}
