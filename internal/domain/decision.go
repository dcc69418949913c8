package domain

// DuplicateReason names the tier that matched.
type DuplicateReason string

const (
	ReasonURLAttempted  DuplicateReason = "url-already-attempted"
	ReasonExactContent  DuplicateReason = "exact-content-match"
	ReasonEmbedding     DuplicateReason = "embedding-similarity"
	ReasonRaceDuplicate DuplicateReason = "race-duplicate"
)

// Decision is the verdict of the duplicate resolver for one candidate.
//
// A Novel decision carries the artifacts computed while resolving so the
// admission step does not recompute them. Embedding is nil when tier 3
// could not be evaluated and the optimistic policy admitted anyway.
type Decision struct {
	Duplicate         bool
	Reason            DuplicateReason
	MatchedID         string
	Similarity        float64
	Fingerprint       string
	NormalizedContent string
	Embedding         []float32
}

// Novel reports whether the candidate passed all tiers.
func (d Decision) Novel() bool {
	return !d.Duplicate
}
