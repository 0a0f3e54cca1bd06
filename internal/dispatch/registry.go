package dispatch

// Lookup resolves a service name to its handle. Matching is exact and
// case-sensitive; the first configured match wins.
func (t *Table) Lookup(name string) (Handle, bool) {
	for i := range t.slots {
		if t.slots[i].name == name {
			return handleOf(i), true
		}
	}
	return 0, false
}
