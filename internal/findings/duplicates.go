package findings

import "fmt"

// DuplicateRegistry tracks which (class, url) pairs have already been
// validated in this run (spec.md §4.2). It is owned by one validation and
// requires no locking.
type DuplicateRegistry struct {
	seen map[string]bool
}

func NewDuplicateRegistry() *DuplicateRegistry {
	return &DuplicateRegistry{seen: make(map[string]bool)}
}

// Check returns true the first time (class, url) is seen this run, false
// thereafter. The registry itself is not opinionated about what a
// duplicate should mean to the caller; the caller decides the finding kind
// via a `dupe` option (spec.md §4.2, §4.6).
func (d *DuplicateRegistry) Check(class Class, url string) bool {
	key := key(class, url)
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func key(class Class, url string) string {
	return fmt.Sprintf("%s\x00%s", class, url)
}
