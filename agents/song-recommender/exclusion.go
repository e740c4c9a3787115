package songrecommender

import "sort"

// ExclusionSet holds video IDs that must not be returned to a caller.
type ExclusionSet map[string]struct{}

// NewExclusionSet builds a set from any number of ID lists. Empty IDs are ignored.
func NewExclusionSet(lists ...[]string) ExclusionSet {
	set := make(ExclusionSet)
	for _, ids := range lists {
		set.Add(ids...)
	}
	return set
}

func (s ExclusionSet) Add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

func (s ExclusionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy of s.
func (s ExclusionSet) Clone() ExclusionSet {
	out := make(ExclusionSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the members of s in sorted order.
func (s ExclusionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
