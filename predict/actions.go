package predict

import "fmt"

// RecommendedActions derives retention suggestions from the risk bucket
// and the top factors. The rules are fixed so identical predictions always
// yield identical advice.
func RecommendedActions(risk string, factors []Factor) []string {
	var actions []string
	switch risk {
	case RiskHigh:
		actions = append(actions,
			"Reach out within 48 hours with a personal retention offer.",
			"Escalate the account to the retention team.",
		)
	case RiskMedium:
		actions = append(actions,
			"Schedule a check-in call within the next two weeks.",
			"Offer a plan review to confirm the current plan still fits.",
		)
	default:
		actions = append(actions,
			"No immediate action needed; keep the regular engagement cadence.",
		)
	}

	for _, f := range factors {
		if f.Direction != DirectionIncreases {
			continue
		}
		actions = append(actions, fmt.Sprintf("Investigate %q, the strongest driver of this prediction.", f.Feature))
		break
	}
	return actions
}
