package conversation

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	c := New("session-1")

	if c.SessionID != "session-1" {
		t.Errorf("SessionID = %q", c.SessionID)
	}
	if c.StartTime.IsZero() {
		t.Error("StartTime not set")
	}
	if !c.EndTime.IsZero() {
		t.Error("EndTime set on new conversation")
	}
	if len(c.Messages) != 0 {
		t.Errorf("new conversation has %d messages", len(c.Messages))
	}
}

func TestAppendTurn_PreservesOrder(t *testing.T) {
	c := New("session-1")

	c.AppendTurn("first question", "first answer", nil)
	c.AppendTurn("second question", "second answer", &Confidence{Score: 0.8, ChunksUsed: 2, ChunksRetrieved: 5, HasContext: true, Reranked: true})

	if len(c.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(c.Messages))
	}

	wantRoles := []Role{RoleUser, RoleAssistant, RoleUser, RoleAssistant}
	for i, want := range wantRoles {
		if c.Messages[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, c.Messages[i].Role, want)
		}
	}

	if c.Messages[1].Confidence != nil {
		t.Error("first assistant turn should have nil confidence")
	}
	conf := c.Messages[3].Confidence
	if conf == nil {
		t.Fatal("second assistant turn missing confidence")
	}
	if !conf.HasContext || !conf.Reranked || conf.ChunksUsed != 2 {
		t.Errorf("confidence = %+v", conf)
	}
}

func TestEnd_Idempotent(t *testing.T) {
	c := New("session-1")

	c.End()
	first := c.EndTime
	if first.IsZero() {
		t.Fatal("End did not set EndTime")
	}

	time.Sleep(time.Millisecond)
	c.End()
	if !c.EndTime.Equal(first) {
		t.Errorf("second End changed EndTime: %v -> %v", first, c.EndTime)
	}
}

func TestEnded(t *testing.T) {
	c := New("session-1")
	if c.Ended() {
		t.Error("new conversation reports ended")
	}
	c.End()
	if !c.Ended() {
		t.Error("ended conversation reports live")
	}
}

func TestDuration_EndedConversation(t *testing.T) {
	c := New("session-1")
	c.StartTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c.EndTime = time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)

	if got := c.Duration(); got != 15*time.Minute {
		t.Errorf("Duration() = %v, want 15m", got)
	}
}
