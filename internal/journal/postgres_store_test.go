package journal

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	ref := fmt.Sprintf("0xtest-%d", time.Now().UnixNano())
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := Record{Reference: ref, Backend: "web3", Operation: "pay", LoanID: ref + "-loan", Status: StatusSubmitted, CreatedAt: now, UpdatedAt: now}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec.Status = StatusFailed
	rec.Error = "reverted"
	rec.UpdatedAt = now.Add(time.Second)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(ctx, ref)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "reverted" {
		t.Fatalf("unexpected record: %+v", got)
	}

	recs, err := store.ByLoan(ctx, ref+"-loan")
	if err != nil || len(recs) != 1 {
		t.Fatalf("by loan: %v %+v", err, recs)
	}
}
