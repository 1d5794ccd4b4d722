package settle

import "math/bits"

// A plan that splits n parties into k zero-sum groups, each settled on its
// own, needs exactly n−k transfers (a group of size s needs s−1). Minimising
// transfers is therefore maximising the number of disjoint zero-sum groups.

type exactResult struct {
	groups    []uint64 // nil when no partition beat the starting bound
	nodes     int
	exhausted bool
}

type searcher struct {
	amounts []int64
	budget  int
	nodes   int

	best       int
	bestGroups []uint64
	cur        []uint64
	exhausted  bool
}

// searchExact looks for a partition of parties into more than floor zero-sum
// groups. floor is the group count equivalent of the greedy plan, so any
// partition found strictly improves on it. Every recursive call and every
// candidate subset counts as one node.
func searchExact(parties []party, floor, budget int) exactResult {
	s := &searcher{
		amounts: make([]int64, len(parties)),
		budget:  budget,
		best:    floor,
	}
	for i, p := range parties {
		s.amounts[i] = p.amount
	}

	all := uint64(1)<<uint(len(parties)) - 1
	s.dfs(all)

	return exactResult{groups: s.bestGroups, nodes: s.nodes, exhausted: s.exhausted}
}

func (s *searcher) visit() bool {
	s.nodes++
	if s.nodes > s.budget {
		s.exhausted = true
		return false
	}
	return true
}

func (s *searcher) dfs(remaining uint64) {
	if !s.visit() {
		return
	}
	if remaining == 0 {
		if len(s.cur) > s.best {
			s.best = len(s.cur)
			s.bestGroups = append([]uint64(nil), s.cur...)
		}
		return
	}

	// Every further group holds at least one creditor and one debtor.
	if len(s.cur)+bits.OnesCount64(remaining)/2 <= s.best {
		return
	}

	// The lowest remaining party must belong to some group; try each subset
	// of the others that balances it.
	pivot := remaining & -remaining
	rest := remaining &^ pivot
	need := -s.amounts[bits.TrailingZeros64(pivot)]

	for sub := rest; sub != 0; sub = (sub - 1) & rest {
		if !s.visit() {
			return
		}
		if s.sum(sub) != need {
			continue
		}
		s.cur = append(s.cur, sub|pivot)
		s.dfs(rest &^ sub)
		s.cur = s.cur[:len(s.cur)-1]
		if s.exhausted {
			return
		}
		if len(s.cur)+bits.OnesCount64(remaining)/2 <= s.best {
			return
		}
	}
}

func (s *searcher) sum(mask uint64) int64 {
	var total int64
	for mask != 0 {
		i := bits.TrailingZeros64(mask)
		total += s.amounts[i]
		mask &= mask - 1
	}
	return total
}
