package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateConversationCreated(t *testing.T) {
	data := []byte(`{"conversation_id":"c1","user_label":"alice","title":"Budget Q3","start_timestamp":"2026-01-02T15:04:05Z"}`)
	if err := Validate(SubjectConversationCreated, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConversationEnded(t *testing.T) {
	data := []byte(`{"conversation_id":"c1","end_timestamp":"2026-01-02T16:00:00Z","summary":"done"}`)
	if err := Validate(SubjectConversationEnded, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMessageSaved(t *testing.T) {
	data := []byte(`{"conversation_id":"c1","message_id":"m1","sender":"USER","timestamp":"2026-01-02T15:05:00Z"}`)
	if err := Validate(SubjectMessageSaved, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubjectPasses(t *testing.T) {
	if err := Validate("unknown.subject", []byte(`{"foo":"bar"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectConversationCreated, []byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateWrongShape(t *testing.T) {
	err := Validate(SubjectMessageSaved, []byte(`"just a string"`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}
