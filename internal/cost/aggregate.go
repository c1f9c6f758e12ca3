package cost

import "github.com/joseph-ayodele/docflow/internal/entity"

// Bucket sums usage of one provenance.
type Bucket struct {
	Jobs         int
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	DurationMs   int64
}

func (b *Bucket) add(u *entity.UsageStats) {
	b.Jobs++
	b.InputTokens += u.InputTokens
	b.OutputTokens += u.OutputTokens
	b.TotalTokens += u.TotalTokens
	b.CostUSD += u.CostUSD
	b.DurationMs += u.DurationMs
}

// Totals keeps measured and estimated usage apart.
type Totals struct {
	Measured  Bucket
	Estimated Bucket
	Missing   int // records with no usage at all
}

// Mixed reports whether a combined figure would blend measured and estimated numbers.
func (t Totals) Mixed() bool {
	return t.Measured.Jobs > 0 && t.Estimated.Jobs > 0
}

// CostUSD is the combined cost. Check Mixed before presenting it as exact.
func (t Totals) CostUSD() float64 {
	return t.Measured.CostUSD + t.Estimated.CostUSD
}

// Aggregate sums usage; nil entries count as missing.
func Aggregate(usages []*entity.UsageStats) Totals {
	var t Totals
	for _, u := range usages {
		switch {
		case u == nil:
			t.Missing++
		case u.Estimated:
			t.Estimated.add(u)
		default:
			t.Measured.add(u)
		}
	}
	return t
}

// AggregateRecords sums the usage attached to records.
func AggregateRecords(records []*entity.JobRecord) Totals {
	usages := make([]*entity.UsageStats, 0, len(records))
	for _, r := range records {
		usages = append(usages, r.Usage)
	}
	return Aggregate(usages)
}
