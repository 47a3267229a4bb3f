package domain

// CreditKind identifies one of the per-owner quota counters.
type CreditKind string

const (
	CreditImage     CreditKind = "image"
	CreditVideo     CreditKind = "video"
	CreditSlideshow CreditKind = "slideshow"
)

// CreditAccount holds the three independent balances for one owner together
// with their plan-defined maxima. Balances are mutated only through the
// ledger's atomic operations; no negative balance ever persists.
type CreditAccount struct {
	OwnerID          string
	ImageCredits     int
	ImageMax         int
	VideoCredits     int
	VideoMax         int
	SlideshowCredits int
	SlideshowMax     int
}

// Balance returns the current balance for the given kind.
func (a *CreditAccount) Balance(kind CreditKind) int {
	switch kind {
	case CreditImage:
		return a.ImageCredits
	case CreditSlideshow:
		return a.SlideshowCredits
	default:
		return a.VideoCredits
	}
}
