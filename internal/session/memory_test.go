package session

import (
	"context"
	"testing"
)

func TestMemory_GetOrCreate_StableAcrossCalls(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "client-a")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if first == "" {
		t.Fatal("GetOrCreate() returned empty session id")
	}

	second, err := m.GetOrCreate(ctx, "client-a")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if second != first {
		t.Errorf("GetOrCreate() = %s on second call, want %s (stable id)", second, first)
	}
}

func TestMemory_GetOrCreate_DistinctClients(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, _ := m.GetOrCreate(ctx, "client-a")
	b, _ := m.GetOrCreate(ctx, "client-b")
	if a == b {
		t.Errorf("distinct client keys got the same session id %s", a)
	}
}
