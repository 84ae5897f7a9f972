package model

// Tier is the coarse priority bucket derived from the total score.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Tiers lists every tier from best to worst.
var Tiers = []Tier{TierA, TierB, TierC, TierD}

// IndependenceClass is the label classification behind the independence sub-score.
type IndependenceClass string

const (
	IndependenceMajor        IndependenceClass = "major"
	IndependenceSelfReleased IndependenceClass = "self_released"
	IndependenceDistributor  IndependenceClass = "distributor"
	IndependenceIndieLabel   IndependenceClass = "independent_label"
)

// ScoreFactors holds the human-readable rules that fired per sub-score.
type ScoreFactors struct {
	Independence []string `json:"independence"`
	Opportunity  []string `json:"opportunity"`
	Geographic   []string `json:"geographic"`
}

// ScoreBreakdown is the immutable result of scoring one merged profile.
type ScoreBreakdown struct {
	Independence      float64           `json:"independence"`
	Opportunity       float64           `json:"opportunity"`
	Geographic        float64           `json:"geographic"`
	Total             float64           `json:"total"`
	Tier              Tier              `json:"tier"`
	Confidence        int               `json:"confidence"`
	IndependenceClass IndependenceClass `json:"independence_class"`
	Region            string            `json:"region"`
	Factors           ScoreFactors      `json:"factors"`
}
