package session_object

import (
	"testing"
	"time"

	"github.com/mohammad-safakhou/glance/session/session_models"
)

func TestWriteSystemPromptInsertsFirst(t *testing.T) {
	sess := New("s1")
	sess.Append(session_models.Message{Role: session_models.RoleUser, Content: "hello"})

	now := time.Now()
	sess.WriteSystemPrompt("instructions", now)

	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != session_models.RoleSystem || !history[0].CacheControl {
		t.Fatalf("system message must be first and cache-marked: %+v", history[0])
	}
	if !sess.SystemWrittenAt().Equal(now) {
		t.Fatalf("write time not recorded")
	}
}

func TestWriteSystemPromptRewritesInPlace(t *testing.T) {
	sess := New("s1")
	first := time.Now()
	sess.WriteSystemPrompt("v1", first)
	sess.Append(session_models.Message{Role: session_models.RoleUser, Content: "q"})
	sess.Append(session_models.Message{Role: session_models.RoleAssistant, Content: "a"})

	later := first.Add(10 * time.Minute)
	sess.WriteSystemPrompt("v2", later)

	history := sess.History()
	if len(history) != 3 {
		t.Fatalf("rewrite must not add a message, got %d", len(history))
	}
	if history[0].Content != "v2" {
		t.Fatalf("rewrite must replace content in place: %q", history[0].Content)
	}
	if sess.CacheMarkedCount() != 1 {
		t.Fatalf("expected exactly one cache-marked message, got %d", sess.CacheMarkedCount())
	}
	if !sess.SystemWrittenAt().Equal(later) {
		t.Fatalf("write time not refreshed")
	}
}

func TestShouldWriteSystemPromptWindow(t *testing.T) {
	sess := New("s1")
	now := time.Now()
	validity := 5 * time.Minute

	if !sess.ShouldWriteSystemPrompt(now, validity) {
		t.Fatalf("empty session must require a write")
	}
	sess.WriteSystemPrompt("instructions", now)

	if sess.ShouldWriteSystemPrompt(now.Add(validity), validity) {
		t.Fatalf("prompt still valid exactly at the window edge")
	}
	if !sess.ShouldWriteSystemPrompt(now.Add(validity+time.Second), validity) {
		t.Fatalf("prompt must be rewritten after the window")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	sess := New("s1")
	now := time.Now()
	sess.WriteSystemPrompt("instructions", now)
	sess.Append(session_models.Message{Role: session_models.RoleUser, Content: "q"})

	restored := FromSnapshot(sess.Snapshot())
	if restored.ID() != "s1" {
		t.Fatalf("id lost: %s", restored.ID())
	}
	if len(restored.History()) != 2 {
		t.Fatalf("messages lost")
	}
	if !restored.SystemWrittenAt().Equal(now) {
		t.Fatalf("write time lost")
	}
	if restored.ShouldWriteSystemPrompt(now.Add(time.Minute), 5*time.Minute) {
		t.Fatalf("restored session must keep the cache window")
	}
}
