package claimable_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpPools/internal/claimable"
)

// ============================================================================
// Test: BucketFor
// ============================================================================

func TestBucketFor_Window(t *testing.T) {
	if got := claimable.BucketFor(7_200, 3_600); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := claimable.BucketFor(7_199, 3_600); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestBucketFor_SameWindowMerges(t *testing.T) {
	a := claimable.BucketFor(3_600, 3_600)
	b := claimable.BucketFor(7_199, 3_600)
	if a != b {
		t.Errorf("timestamps in one window should share a bucket: %d vs %d", a, b)
	}
}

func TestBucketFor_ZeroWindow(t *testing.T) {
	if got := claimable.BucketFor(12_345, 0); got != 12_345 {
		t.Errorf("zero window should bucket per timestamp, got %d", got)
	}
}

// ============================================================================
// Test: Credit / Claim
// ============================================================================

func TestBuffer_CreditAndClaim(t *testing.T) {
	b := claimable.NewBuffer()
	key := claimable.EntryKey{Token: "USDC", Owner: uuid.New(), Bucket: 1}

	if err := b.Credit(key, 500); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := b.Credit(key, 250); err != nil {
		t.Fatalf("second Credit failed: %v", err)
	}
	if got := b.Amount(key); got != 750 {
		t.Errorf("amount got %d, want 750", got)
	}

	amount, err := b.Claim(key)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if amount != 750 {
		t.Errorf("claimed %d, want 750", amount)
	}
	if b.Len() != 0 {
		t.Errorf("entry should be deleted after claim, len=%d", b.Len())
	}
}

func TestBuffer_ClaimEmpty(t *testing.T) {
	b := claimable.NewBuffer()
	key := claimable.EntryKey{Token: "USDC", Owner: uuid.New(), Bucket: 1}

	_, err := b.Claim(key)
	if !errors.Is(err, claimable.ErrNothingToClaim) {
		t.Errorf("got %v, want ErrNothingToClaim", err)
	}
}

func TestBuffer_ClaimIsSingleUse(t *testing.T) {
	b := claimable.NewBuffer()
	key := claimable.EntryKey{Token: "USDC", Owner: uuid.New(), Bucket: 1}

	if err := b.Credit(key, 100); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if _, err := b.Claim(key); err != nil {
		t.Fatalf("first Claim failed: %v", err)
	}
	if _, err := b.Claim(key); !errors.Is(err, claimable.ErrNothingToClaim) {
		t.Errorf("second claim got %v, want ErrNothingToClaim", err)
	}
}

func TestBuffer_CreditNonPositive(t *testing.T) {
	b := claimable.NewBuffer()
	key := claimable.EntryKey{Token: "USDC", Owner: uuid.New(), Bucket: 1}

	if err := b.Credit(key, 0); err == nil {
		t.Error("zero credit should be rejected")
	}
	if err := b.Credit(key, -5); err == nil {
		t.Error("negative credit should be rejected")
	}
}

func TestBuffer_SeparateBucketsDoNotMerge(t *testing.T) {
	b := claimable.NewBuffer()
	owner := uuid.New()

	k1 := claimable.EntryKey{Token: "USDC", Owner: owner, Bucket: 1}
	k2 := claimable.EntryKey{Token: "USDC", Owner: owner, Bucket: 2}
	if err := b.Credit(k1, 100); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := b.Credit(k2, 200); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if b.Len() != 2 {
		t.Errorf("len got %d, want 2", b.Len())
	}
	if got := b.Amount(k1); got != 100 {
		t.Errorf("bucket 1 got %d, want 100", got)
	}
}

// ============================================================================
// Test: queries and persistence
// ============================================================================

func TestBuffer_ByOwner(t *testing.T) {
	b := claimable.NewBuffer()
	alice, bob := uuid.New(), uuid.New()

	if err := b.Credit(claimable.EntryKey{Token: "USDC", Owner: alice, Bucket: 1}, 100); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := b.Credit(claimable.EntryKey{Token: "WETH", Owner: alice, Bucket: 1}, 200); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := b.Credit(claimable.EntryKey{Token: "USDC", Owner: bob, Bucket: 1}, 300); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	got := b.ByOwner(alice)
	if len(got) != 2 {
		t.Errorf("alice should have 2 entries, got %d", len(got))
	}
}

func TestBuffer_SnapshotRestore(t *testing.T) {
	b := claimable.NewBuffer()
	key := claimable.EntryKey{Token: "USDC", Owner: uuid.New(), Bucket: 5}
	if err := b.Credit(key, 900); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	restored := claimable.NewBuffer()
	restored.Restore(b.Snapshot())
	if got := restored.Amount(key); got != 900 {
		t.Errorf("restored amount got %d, want 900", got)
	}
	if restored.Len() != 1 {
		t.Errorf("restored len got %d, want 1", restored.Len())
	}
}
