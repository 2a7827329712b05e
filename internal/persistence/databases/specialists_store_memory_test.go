package databases

import (
	"context"
	"testing"

	"weavechat/internal/persistence"
)

func TestMemorySpecialistsStore_UpsertAssignsIDOncePerName(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySpecialistsStore()

	uid := int64(3)
	first, err := s.Upsert(ctx, uid, specialistFixture("researcher"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected a non-zero assigned ID")
	}

	updated := specialistFixture("researcher")
	updated.Description = "updated description"
	second, err := s.Upsert(ctx, uid, updated)
	if err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable ID across updates, got %d then %d", first.ID, second.ID)
	}
	if second.Description != "updated description" {
		t.Fatalf("expected updated description to persist, got %q", second.Description)
	}
}

func TestMemorySpecialistsStore_ScopedPerUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySpecialistsStore()

	if _, err := s.Upsert(ctx, 1, specialistFixture("a")); err != nil {
		t.Fatalf("Upsert user1: %v", err)
	}
	if _, err := s.Upsert(ctx, 2, specialistFixture("b")); err != nil {
		t.Fatalf("Upsert user2: %v", err)
	}

	list1, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List user1: %v", err)
	}
	if len(list1) != 1 || list1[0].Name != "a" {
		t.Fatalf("expected user1 to see only its own specialist, got %+v", list1)
	}

	if _, ok, err := s.GetByName(ctx, 1, "b"); err != nil || ok {
		t.Fatalf("expected user1 not to see user2's specialist, ok=%v err=%v", ok, err)
	}
}

func TestMemorySpecialistsStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySpecialistsStore()
	uid := int64(1)

	if _, err := s.Upsert(ctx, uid, specialistFixture("researcher")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, uid, "researcher"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.GetByName(ctx, uid, "researcher"); err != nil || ok {
		t.Fatalf("expected specialist gone after delete, ok=%v err=%v", ok, err)
	}
}

func specialistFixture(name string) persistence.Specialist {
	return persistence.Specialist{Name: name, Description: "desc", Provider: "openai", Model: "gpt-4o-mini"}
}
