package repo

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelforge/internal/domain"
)

// Ledger tests run against a real database because the contract under test is
// row-level atomicity, which an in-memory fake cannot demonstrate. Set
// TEST_DATABASE_URL to enable them.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	const ddl = `
CREATE TABLE IF NOT EXISTS credit_accounts (
    owner_id          TEXT PRIMARY KEY,
    image_credits     INTEGER NOT NULL DEFAULT 0 CHECK (image_credits >= 0),
    image_max         INTEGER NOT NULL DEFAULT 0,
    video_credits     INTEGER NOT NULL DEFAULT 0 CHECK (video_credits >= 0),
    video_max         INTEGER NOT NULL DEFAULT 0,
    slideshow_credits INTEGER NOT NULL DEFAULT 0 CHECK (slideshow_credits >= 0),
    slideshow_max     INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return pool
}

func createTestAccount(t *testing.T, pool *pgxpool.Pool, videoCredits, videoMax int) string {
	t.Helper()
	ownerID := "test-" + uuid.NewString()
	_, err := pool.Exec(context.Background(), `
INSERT INTO credit_accounts (owner_id, video_credits, video_max)
VALUES ($1, $2, $3);
`, ownerID, videoCredits, videoMax)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM credit_accounts WHERE owner_id = $1;`, ownerID)
	})
	return ownerID
}

func TestDebitConcurrentSingleWinner(t *testing.T) {
	pool := testPool(t)
	ledger := NewCreditLedger(pool)
	ctx := context.Background()
	ownerID := createTestAccount(t, pool, 1, 10)

	const concurrency = 8
	results := make(chan error, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.Debit(ctx, ownerID, domain.CreditVideo)
		}()
	}
	wg.Wait()
	close(results)

	var won, insufficient int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrInsufficientCredit):
			insufficient++
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("debit winners = %d, want exactly 1", won)
	}
	if insufficient != concurrency-1 {
		t.Fatalf("insufficient-credit results = %d, want %d", insufficient, concurrency-1)
	}

	account, err := ledger.Account(ctx, ownerID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.VideoCredits != 0 {
		t.Fatalf("balance = %d, want 0", account.VideoCredits)
	}
}

func TestDebitMissingAccount(t *testing.T) {
	pool := testPool(t)
	ledger := NewCreditLedger(pool)

	err := ledger.Debit(context.Background(), "test-"+uuid.NewString(), domain.CreditVideo)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRefundCapsAtPlanMax(t *testing.T) {
	pool := testPool(t)
	ledger := NewCreditLedger(pool)
	ctx := context.Background()
	ownerID := createTestAccount(t, pool, 5, 5)

	if err := ledger.Refund(ctx, ownerID, domain.CreditVideo); err != nil {
		t.Fatalf("refund: %v", err)
	}
	account, err := ledger.Account(ctx, ownerID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.VideoCredits != 5 {
		t.Fatalf("balance = %d, want 5 (capped at plan max)", account.VideoCredits)
	}
}
