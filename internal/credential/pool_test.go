package credential

import (
	"sync"
	"testing"

	"multiapi-go/internal/provider"
)

func poolRecord(t *testing.T, id string, limit int) *Record {
	t.Helper()
	r, err := FromState(State{Identifier: id, Provider: "openai", DailyLimit: limit})
	if err != nil {
		t.Fatalf("FromState(%s): %v", id, err)
	}
	return r
}

func TestPoolAddRejectsDuplicatesAndWrongProvider(t *testing.T) {
	p := NewPool(provider.OpenAI)
	if err := p.Add(poolRecord(t, "sk-alpha-0123456789", 10)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := p.Add(poolRecord(t, "sk-alpha-0123456789", 10)); err == nil {
		t.Error("duplicate identifier accepted")
	}
	other, err := FromState(State{Identifier: "sk-ant-0123456789", Provider: "anthropic"})
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}
	if err := p.Add(other); err == nil {
		t.Error("record for another provider accepted")
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestPoolRemoveBySuffixAdjustsCursor(t *testing.T) {
	p := NewPool(provider.OpenAI)
	ids := []string{"sk-aaaa-11111111", "sk-bbbb-22222222", "sk-cccc-33333333"}
	for _, id := range ids {
		if err := p.Add(poolRecord(t, id, 10)); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	// Move the cursor past the first two entries.
	p.Update(func(records []*Record, cursor int) int { return 2 })

	st, ok := p.RemoveBySuffix("22222222")
	if !ok {
		t.Fatal("suffix not found")
	}
	if st.Identifier != ids[1] {
		t.Errorf("removed %s, want %s", st.Identifier, ids[1])
	}
	// Cursor pointed at index 2; after removing index 1 it must track
	// the same record, now at index 1.
	p.Update(func(records []*Record, cursor int) int {
		if cursor != 1 {
			t.Errorf("cursor = %d after removal, want 1", cursor)
		}
		if records[cursor].Identifier != ids[2] {
			t.Errorf("cursor points at %s, want %s", records[cursor].Identifier, ids[2])
		}
		return cursor
	})

	if _, ok := p.RemoveBySuffix("nope"); ok {
		t.Error("unknown suffix reported as removed")
	}
}

func TestPoolRemoveByIdentifierExactMatch(t *testing.T) {
	p := NewPool(provider.OpenAI)
	// The first identifier ends with the second one, so a suffix scan
	// would hit it first.
	ids := []string{"team-sk-shared-1111", "sk-shared-1111"}
	for _, id := range ids {
		if err := p.Add(poolRecord(t, id, 10)); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	st, ok := p.RemoveByIdentifier("sk-shared-1111")
	if !ok {
		t.Fatal("identifier not found")
	}
	if st.Identifier != "sk-shared-1111" {
		t.Errorf("removed %s, want sk-shared-1111", st.Identifier)
	}
	snap := p.Snapshot()
	if len(snap) != 1 || snap[0].Identifier != "team-sk-shared-1111" {
		t.Errorf("surviving records = %+v, want only team-sk-shared-1111", snap)
	}

	if _, ok := p.RemoveByIdentifier("shared-1111"); ok {
		t.Error("partial identifier removed a record")
	}
}

func TestPoolSetActiveBySuffix(t *testing.T) {
	p := NewPool(provider.OpenAI)
	if err := p.Add(poolRecord(t, "sk-aaaa-11111111", 10)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	st, ok := p.SetActiveBySuffix("11111111", false)
	if !ok {
		t.Fatal("suffix not found")
	}
	if st.IsActive == nil || *st.IsActive {
		t.Error("record still active after disable")
	}
	snap := p.Snapshot()
	if len(snap) != 1 || snap[0].IsActive == nil || *snap[0].IsActive {
		t.Errorf("snapshot does not reflect disable: %+v", snap)
	}
}

func TestPoolUpdateSerializesMutation(t *testing.T) {
	p := NewPool(provider.OpenAI)
	if err := p.Add(poolRecord(t, "sk-aaaa-11111111", 1000)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	const workers = 32
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				p.Update(func(records []*Record, cursor int) int {
					records[0].CurrentUsage++
					return cursor + 1
				})
			}
		}()
	}
	wg.Wait()
	snap := p.Snapshot()
	if snap[0].CurrentUsage != workers*perWorker {
		t.Errorf("CurrentUsage = %d, want %d (lost updates)", snap[0].CurrentUsage, workers*perWorker)
	}
}

func TestPoolsDeclaredOrder(t *testing.T) {
	ps := NewPools([]provider.Provider{provider.DeepSeek, provider.OpenAI, provider.DeepSeek})
	order := ps.Order()
	if len(order) != 2 || order[0] != provider.DeepSeek || order[1] != provider.OpenAI {
		t.Errorf("Order = %v", order)
	}
	if _, ok := ps.Get(provider.Google); ok {
		t.Error("unconfigured provider has a pool")
	}
	pool, ok := ps.Get(provider.OpenAI)
	if !ok || pool.Provider() != provider.OpenAI {
		t.Error("configured provider missing")
	}
}
