package restore

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/objstore"
)

// TierInfo describes the latency and relative price of a retrieval tier.
// CostRank 1 is the cheapest.
type TierInfo struct {
	Tier      objstore.Tier
	MinWindow time.Duration
	MaxWindow time.Duration
	CostRank  int
}

var tiers = []TierInfo{
	{Tier: objstore.TierBulk, MinWindow: 5 * time.Hour, MaxWindow: 12 * time.Hour, CostRank: 1},
	{Tier: objstore.TierStandard, MinWindow: 3 * time.Hour, MaxWindow: 5 * time.Hour, CostRank: 2},
	{Tier: objstore.TierExpedited, MinWindow: time.Minute, MaxWindow: 5 * time.Minute, CostRank: 3},
}

// Tiers lists the retrieval tiers from cheapest to most expensive.
func Tiers() []TierInfo {
	return append([]TierInfo(nil), tiers...)
}

func Info(t objstore.Tier) (TierInfo, bool) {
	for _, ti := range tiers {
		if ti.Tier == t {
			return ti, true
		}
	}
	return TierInfo{}, false
}

// ParseTier accepts a tier name in any case. An empty name selects Standard.
func ParseTier(s string) (objstore.Tier, error) {
	if strings.TrimSpace(s) == "" {
		return objstore.TierStandard, nil
	}
	for _, ti := range tiers {
		if strings.EqualFold(string(ti.Tier), strings.TrimSpace(s)) {
			return ti.Tier, nil
		}
	}
	return "", fmt.Errorf("unknown retrieval tier %q", s)
}

// simulatedProgress estimates completion of an ongoing restore from the
// elapsed time against the upper end of the tier window, capped at 95%.
func simulatedProgress(t objstore.Tier, elapsed time.Duration) float64 {
	ti, ok := Info(t)
	if !ok || ti.MaxWindow <= 0 || elapsed <= 0 {
		return 0
	}
	p := float64(elapsed) / float64(ti.MaxWindow)
	if p > 0.95 {
		return 0.95
	}
	return p
}
