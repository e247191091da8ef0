package memory

import (
	"context"
	"testing"
	"time"

	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/store"
)

func TestDispatchStore_Operations(t *testing.T) {
	s := NewDispatchStore()
	ctx := context.Background()

	// Test GetDispatched on empty store
	record, err := s.GetDispatched(ctx, "jkt_rw_boundary", 7)
	if err != nil {
		t.Fatalf("GetDispatched error: %v", err)
	}
	if record != nil {
		t.Error("Expected nil for area without a dispatch")
	}

	// Test SetDispatched
	err = s.SetDispatched(ctx, &store.DispatchRecord{
		Layer:        "jkt_rw_boundary",
		AreaID:       7,
		State:        domain.FloodStateMinor,
		Identifier:   "bar.foo.2016-02-16T10%3A36%3A50%2B07%3A00",
		DispatchedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SetDispatched error: %v", err)
	}

	record, err = s.GetDispatched(ctx, "jkt_rw_boundary", 7)
	if err != nil {
		t.Fatalf("GetDispatched error: %v", err)
	}
	if record == nil {
		t.Fatal("Expected record to be found")
	}
	if record.State != domain.FloodStateMinor {
		t.Errorf("State = %v, want %v", record.State, domain.FloodStateMinor)
	}

	// Records are scoped by layer
	other, _ := s.GetDispatched(ctx, "jkt_village_boundary", 7)
	if other != nil {
		t.Error("Record should not be visible in another layer")
	}

	// Modifying the returned copy must not change the store
	record.State = domain.FloodStateSevere
	again, _ := s.GetDispatched(ctx, "jkt_rw_boundary", 7)
	if again.State != domain.FloodStateMinor {
		t.Errorf("State = %v after modifying copy, want %v", again.State, domain.FloodStateMinor)
	}

	// Test DeleteDispatched
	if err := s.DeleteDispatched(ctx, "jkt_rw_boundary", 7); err != nil {
		t.Fatalf("DeleteDispatched error: %v", err)
	}
	record, _ = s.GetDispatched(ctx, "jkt_rw_boundary", 7)
	if record != nil {
		t.Error("Record should be deleted")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
}
