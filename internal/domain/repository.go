package domain

import "context"

// JobStore defines durable persistence for jobs. Transition applies fn inside
// the same atomic read-modify-write that loads the job, so concurrent or
// duplicate task deliveries cannot interleave blind overwrites.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Transition(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
}

// CreditLedger performs atomic quota mutations. Debit fails with
// ErrInsufficientCredit, leaving the balance untouched, when it is already
// zero; Refund adds one unit back up to the plan maximum.
type CreditLedger interface {
	Debit(ctx context.Context, ownerID string, kind CreditKind) error
	Refund(ctx context.Context, ownerID string, kind CreditKind) error
	Account(ctx context.Context, ownerID string) (*CreditAccount, error)
}

// TaskQueue provides durable at-least-once task delivery with scheduled
// execution times.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}
