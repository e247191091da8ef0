package queue

import (
	"errors"
	"testing"
	"time"

	"cognicity-rem/internal/domain"
)

func TestStateChangeRoundTrip(t *testing.T) {
	change := &domain.StateChange{
		ID:        "c0ffee",
		Layer:     "jkt_rw_boundary",
		AreaID:    2841,
		State:     domain.FloodStateSevere,
		Username:  "operator",
		ChangedAt: time.Date(2016, 2, 16, 3, 36, 50, 0, time.UTC),
	}

	msg, err := EncodeStateChange(change)
	if err != nil {
		t.Fatalf("EncodeStateChange error: %v", err)
	}
	if string(msg.Key) != "2841" {
		t.Errorf("Key = %q, want area id", msg.Key)
	}
	if msg.Headers[HeaderEventType] != EventTypeStateChange {
		t.Errorf("event type header = %q", msg.Headers[HeaderEventType])
	}

	decoded, err := DecodeStateChange(msg)
	if err != nil {
		t.Fatalf("DecodeStateChange error: %v", err)
	}
	if decoded.AreaID != change.AreaID || decoded.State != change.State || !decoded.ChangedAt.Equal(change.ChangedAt) {
		t.Errorf("decoded = %+v, want %+v", decoded, change)
	}
}

func TestDecodeStateChange_Errors(t *testing.T) {
	_, err := DecodeStateChange(&Message{
		Value:   []byte(`{}`),
		Headers: map[string]string{HeaderEventType: "something.else"},
	})
	if !errors.Is(err, ErrUnexpectedEventType) {
		t.Errorf("error = %v, want %v", err, ErrUnexpectedEventType)
	}

	if _, err := DecodeStateChange(&Message{Value: []byte(`not json`)}); err == nil {
		t.Error("Expected error for malformed payload")
	}
}
