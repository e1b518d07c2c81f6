package types

import "testing"

// TestMatchCountWildcard covers the spec.md §8 testable property 2 and the
// E6 scenario: a wildcard-valued filter attribute matches any value under
// the same name, and a filter ratio of 100% fires while an unrelated
// attribute name does not satisfy it at all.
func TestMatchCountWildcard(t *testing.T) {
	filter := NewAttributeSet(NewAttribute("Topic", WildcardValue))

	sports := NewAttributeSet(NewAttribute("Topic", "sports"))
	if r := MatchCount(filter, sports); r.Count != 1 || r.RatioPercent != 100 {
		t.Errorf("wildcard filter vs matching topic: got %+v, want count=1 ratio=100", r)
	}

	oslo := NewAttributeSet(NewAttribute("City", "Oslo"))
	if r := MatchCount(filter, oslo); r.Count != 0 || r.RatioPercent != 0 {
		t.Errorf("wildcard filter vs unrelated name: got %+v, want count=0 ratio=0", r)
	}
}

func TestMatchCountPartialRatio(t *testing.T) {
	filter := NewAttributeSet(
		NewAttribute("Topic", "weather"),
		NewAttribute("City", "Stockholm"),
	)
	obj := NewAttributeSet(NewAttribute("Topic", "weather"))
	r := MatchCount(filter, obj)
	if r.Count != 1 {
		t.Errorf("Count = %d, want 1", r.Count)
	}
	if r.RatioPercent != 50 {
		t.Errorf("RatioPercent = %d, want 50", r.RatioPercent)
	}
}

func TestMatchWeightDisqualifiesOnNoMatch(t *testing.T) {
	interest := NewAttributeSet(
		NewWeightedAttribute("Topic", "weather", 10),
		NewWeightedAttribute("Banned", "x", NoMatchWeight),
	)
	obj := NewAttributeSet(
		NewAttribute("Topic", "weather"),
		NewAttribute("Banned", "x"),
	)
	r := MatchWeight(interest, obj)
	if !r.Disqualified {
		t.Error("node matching a NoMatchWeight interest attribute must be disqualified")
	}
}

func TestMatchWeightRatio(t *testing.T) {
	interest := NewAttributeSet(
		NewWeightedAttribute("Topic", "weather", 3),
		NewWeightedAttribute("City", "Oslo", 1),
	)
	obj := NewAttributeSet(NewAttribute("Topic", "weather"))
	r := MatchWeight(interest, obj)
	if r.Weight != 3 {
		t.Errorf("Weight = %d, want 3", r.Weight)
	}
	if r.RatioPercent != 75 {
		t.Errorf("RatioPercent = %d, want 75 (3/4)", r.RatioPercent)
	}
	if r.Disqualified {
		t.Error("no NoMatchWeight attribute present, must not be disqualified")
	}
}
