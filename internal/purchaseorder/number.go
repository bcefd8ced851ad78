package purchaseorder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SequencePort hands out the next serial for a calendar day. The production
// implementation is an atomic Redis counter; implementations may fail, in
// which case the generator falls back to counting existing orders.
type SequencePort interface {
	Next(ctx context.Context, day time.Time) (int64, error)
}

// NumberGenerator derives business-facing order numbers of the shape
// <org>-<principal>-<ddMMyy>/<3-digit daily serial>.
type NumberGenerator struct {
	orgPrefix string
	sequence  SequencePort
	repo      RepositoryPort
	now       func() time.Time
}

// NewNumberGenerator constructs a generator. sequence may be nil; counting
// same-day orders is then the only source of serials, which is racy under
// concurrent creators and is backstopped by the unique index on po_number.
func NewNumberGenerator(orgPrefix string, sequence SequencePort, repo RepositoryPort) *NumberGenerator {
	if orgPrefix == "" {
		orgPrefix = "MM"
	}
	return &NumberGenerator{orgPrefix: orgPrefix, sequence: sequence, repo: repo, now: time.Now}
}

// Generate produces the next order number for the principal. principalName
// must already be resolved; the first three characters, uppercased, become
// the principal code.
func (g *NumberGenerator) Generate(ctx context.Context, principalName string) (string, error) {
	now := g.now()
	serial, err := g.nextSerial(ctx, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s/%03d", g.orgPrefix, principalCode(principalName), now.Format("020106"), serial), nil
}

func (g *NumberGenerator) nextSerial(ctx context.Context, now time.Time) (int64, error) {
	if g.sequence != nil {
		serial, err := g.sequence.Next(ctx, now)
		if err == nil {
			return serial, nil
		}
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := g.repo.CountCreatedBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	return int64(count) + 1, nil
}

func principalCode(name string) string {
	code := strings.ToUpper(strings.TrimSpace(name))
	if len(code) > 3 {
		code = code[:3]
	}
	return code
}
