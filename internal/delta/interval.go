package delta

import (
	"time"

	"github.com/playrank/playrank/internal/types"
)

// MinPollInterval is the floor for the advisory poll hint, in ms.
// Implementations must never recommend anything faster.
const MinPollInterval = 2000

const (
	webBaseInterval    = 5000
	mobileBaseInterval = 10000
)

func basePollInterval(clientType types.ClientType) int {
	if clientType == types.ClientMobile {
		return mobileBaseInterval
	}
	return webBaseInterval
}

// RecommendPollInterval computes the advisory poll interval in ms from
// the size of the last batch and how long the user had been idle.
// Busy streams poll faster, idle users back off.
func RecommendPollInterval(changeCount int, clientType types.ClientType, lastActiveAt time.Time, now time.Time) int {
	base := basePollInterval(clientType)

	switch {
	case changeCount > 5:
		if half := base / 2; half > MinPollInterval {
			return half
		}
		return MinPollInterval
	case changeCount > 2:
		return base
	}

	hoursSinceActive := now.Sub(lastActiveAt).Hours()
	switch {
	case hoursSinceActive > 4:
		return base * 4
	case hoursSinceActive > 1:
		return base * 2
	}
	return base
}
