package types

// MatchResult is the outcome of comparing two attribute sets: how many
// attributes of the "query" set matched, the match ratio, and whether the
// match is vetoed by a NoMatchWeight attribute (spec.md §4.3).
type MatchResult struct {
	Count        int
	RatioPercent uint32
	Weight       uint64
	Disqualified bool
}

// MatchCount compares the query set A (e.g. a filter or a node's interest)
// against a target set B (e.g. a data object's attributes), counting how
// many attributes in A are satisfied by some attribute in B with the same
// name and an equal or wildcard value. Used by match_filter_to_dataobject
// and match_filter_to_node (spec.md §4.3).
func MatchCount(query, target AttributeSet) MatchResult {
	count := 0
	for _, qa := range query.All() {
		if attributeSatisfiedBy(qa, target) {
			count++
		}
	}
	var ratio uint32
	if query.Len() > 0 {
		ratio = uint32(100 * count / query.Len())
	}
	return MatchResult{Count: count, RatioPercent: ratio}
}

// attributeSatisfiedBy reports whether some attribute in target shares
// name with qa and either equals its value or qa is a wildcard.
func attributeSatisfiedBy(qa Attribute, target AttributeSet) bool {
	for _, ta := range target.ByName(qa.Name()) {
		if qa.MatchesValue(ta) {
			return true
		}
	}
	return false
}

// MatchWeight compares a data object's attributes against a node's
// weighted interest set, summing the node's attribute weights for every
// interest attribute matched by the object. A matched interest attribute
// carrying NoMatchWeight disqualifies the node outright regardless of any
// other match (match_dataobject_to_node, spec.md §3 invariants, §4.3).
func MatchWeight(nodeInterest, objectAttrs AttributeSet) MatchResult {
	var weight uint64
	count := 0
	disqualified := false
	for _, interest := range nodeInterest.All() {
		if !attributeSatisfiedBy(interest, objectAttrs) {
			continue
		}
		count++
		if interest.Weight() == NoMatchWeight {
			disqualified = true
			continue
		}
		weight += uint64(interest.Weight())
	}
	total := nodeInterest.SumWeights()
	var ratio uint32
	if total > 0 {
		ratio = uint32(100 * weight / total)
	}
	return MatchResult{Count: count, RatioPercent: ratio, Weight: weight, Disqualified: disqualified}
}
