package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kamiyo/x402/store"
	"github.com/kamiyo/x402/types"
)

func record(chain types.Chain, txID string) store.ConsumptionRecord {
	return store.ConsumptionRecord{
		Chain:        chain,
		TxID:         txID,
		CredentialID: "cred-1",
		Principal:    "payer",
		Amount:       "0.01",
		ConsumedAt:   time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestConsumeOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Consume(ctx, record(types.ChainBase, "0xtx")); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	err := s.Consume(ctx, record(types.ChainBase, "0xtx"))
	if !errors.Is(err, store.ErrAlreadyConsumed) {
		t.Fatalf("second Consume error = %v, want ErrAlreadyConsumed", err)
	}

	// Same txID on a different chain is a different key.
	if err := s.Consume(ctx, record(types.ChainEthereum, "0xtx")); err != nil {
		t.Fatalf("Consume on other chain: %v", err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	const n = 64

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Consume(ctx, record(types.ChainBase, "0xcontended"))
		}()
	}
	wg.Wait()
	close(results)

	var wins, replays int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrAlreadyConsumed):
			replays++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || replays != n-1 {
		t.Fatalf("wins = %d, replays = %d, want 1 and %d", wins, replays, n-1)
	}
}

func TestGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.Get(ctx, types.ChainBase, "0xmissing")
	if err != nil || got != nil {
		t.Fatalf("Get missing = %v, %v, want nil, nil", got, err)
	}

	rec := record(types.ChainBase, "0xtx")
	if err := s.Consume(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get(ctx, types.ChainBase, "0xtx")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.CredentialID != rec.CredentialID {
		t.Fatalf("Get = %+v, want record with credential %s", got, rec.CredentialID)
	}
}

func TestPurge(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	expired := record(types.ChainBase, "0xold")
	expired.ExpiresAt = now.Add(-time.Hour)
	live := record(types.ChainBase, "0xnew")
	live.ExpiresAt = now.Add(time.Hour)

	for _, r := range []store.ConsumptionRecord{expired, live} {
		if err := s.Consume(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Purge(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d after purge, want 1", s.Len())
	}
	// The purged key is consumable again only after its horizon, which is
	// by construction past the credential TTL.
	if err := s.Consume(ctx, record(types.ChainBase, "0xold")); err != nil {
		t.Errorf("Consume after purge: %v", err)
	}
}
