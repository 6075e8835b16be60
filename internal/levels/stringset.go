package levels

// StringSet is a small unordered set of strings, used for group identifiers
// (audio/text group ids) attached to a Level.
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from the given members.
func NewStringSet(members ...string) StringSet {
	s := make(StringSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Add inserts member into the set.
func (s StringSet) Add(member string) { s[member] = struct{}{} }

// Has reports whether member is present.
func (s StringSet) Has(member string) bool {
	_, ok := s[member]
	return ok
}
