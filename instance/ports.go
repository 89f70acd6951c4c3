package instance

import "sort"

// NextFreePort returns the lowest port >= base not present in used. The
// caller is responsible for holding whatever lock makes the used set stable;
// see Manager.Create.
func NextFreePort(used []int, base int) int {
	taken := make([]int, 0, len(used))
	for _, p := range used {
		if p >= base {
			taken = append(taken, p)
		}
	}
	sort.Ints(taken)
	candidate := base
	for _, p := range taken {
		if p > candidate {
			break
		}
		if p == candidate {
			candidate++
		}
	}
	return candidate
}
