package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelforge/internal/domain"
)

// CreditLedgerPG implements domain.CreditLedger on PostgreSQL. Debit is a
// single conditional UPDATE so two concurrent attempts against a balance of
// one can never both succeed, and no negative balance ever persists.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

// NewCreditLedger creates a new ledger backed by PostgreSQL.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

type creditColumns struct {
	balance string
	max     string
}

func columnsFor(kind domain.CreditKind) (creditColumns, error) {
	switch kind {
	case domain.CreditImage:
		return creditColumns{"image_credits", "image_max"}, nil
	case domain.CreditVideo:
		return creditColumns{"video_credits", "video_max"}, nil
	case domain.CreditSlideshow:
		return creditColumns{"slideshow_credits", "slideshow_max"}, nil
	default:
		return creditColumns{}, fmt.Errorf("%w: unknown credit kind %q", domain.ErrConfiguration, kind)
	}
}

// Debit atomically decrements one unit of the given credit kind. It returns
// domain.ErrInsufficientCredit, leaving the balance untouched, when the
// balance is already zero.
func (l *CreditLedgerPG) Debit(ctx context.Context, ownerID string, kind domain.CreditKind) error {
	cols, err := columnsFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE credit_accounts
SET %[1]s = %[1]s - 1, updated_at = NOW()
WHERE owner_id = $1 AND %[1]s > 0
RETURNING %[1]s;
`, cols.balance)

	var remaining int
	if err := l.pool.QueryRow(ctx, query, ownerID).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return l.classifyDebitMiss(ctx, ownerID)
		}
		return fmt.Errorf("debit %s credit: %w", kind, err)
	}
	return nil
}

// classifyDebitMiss distinguishes a missing account from an exhausted one.
func (l *CreditLedgerPG) classifyDebitMiss(ctx context.Context, ownerID string) error {
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credit_accounts WHERE owner_id = $1);`, ownerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check credit account: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInsufficientCredit
}

// Refund adds one unit back, capped at the plan maximum. It is safe to call
// more than once for the same logical refund; the cap bounds the damage of a
// duplicate delivery.
func (l *CreditLedgerPG) Refund(ctx context.Context, ownerID string, kind domain.CreditKind) error {
	cols, err := columnsFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE credit_accounts
SET %[1]s = LEAST(%[1]s + 1, %[2]s), updated_at = NOW()
WHERE owner_id = $1;
`, cols.balance, cols.max)

	tag, err := l.pool.Exec(ctx, query, ownerID)
	if err != nil {
		return fmt.Errorf("refund %s credit: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Account returns the full credit account for an owner.
func (l *CreditLedgerPG) Account(ctx context.Context, ownerID string) (*domain.CreditAccount, error) {
	query := `
SELECT owner_id, image_credits, image_max, video_credits, video_max, slideshow_credits, slideshow_max
FROM credit_accounts
WHERE owner_id = $1;
`
	var acct domain.CreditAccount
	if err := l.pool.QueryRow(ctx, query, ownerID).Scan(
		&acct.OwnerID,
		&acct.ImageCredits,
		&acct.ImageMax,
		&acct.VideoCredits,
		&acct.VideoMax,
		&acct.SlideshowCredits,
		&acct.SlideshowMax,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &acct, nil
}
