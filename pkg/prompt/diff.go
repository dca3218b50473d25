package prompt

import (
	"fmt"
	"strings"
)

// UnifiedDiff returns a single-hunk line diff between a and b: the common
// leading and trailing lines are dropped and the changed middle is printed
// as removals followed by additions. Equal inputs give "".
func UnifiedDiff(a, b string) string {
	if a == b {
		return ""
	}
	al := strings.Split(a, "\n")
	bl := strings.Split(b, "\n")
	pre := 0
	for pre < len(al) && pre < len(bl) && al[pre] == bl[pre] {
		pre++
	}
	suf := 0
	for suf < len(al)-pre && suf < len(bl)-pre && al[len(al)-1-suf] == bl[len(bl)-1-suf] {
		suf++
	}
	removed := al[pre : len(al)-suf]
	added := bl[pre : len(bl)-suf]

	var sb strings.Builder
	sb.WriteString("--- a\n+++ b\n")
	fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", pre+1, len(removed), pre+1, len(added))
	for _, l := range removed {
		sb.WriteString("-" + l + "\n")
	}
	for _, l := range added {
		sb.WriteString("+" + l + "\n")
	}
	return sb.String()
}

// Diff returns the diff between two versions of a prompt, or "" if either is missing.
func (s *Store) Diff(name string, v1, v2 int) string {
	p1, ok1 := s.Get(name, v1)
	p2, ok2 := s.Get(name, v2)
	if !ok1 || !ok2 {
		return ""
	}
	return UnifiedDiff(p1.Body, p2.Body)
}
