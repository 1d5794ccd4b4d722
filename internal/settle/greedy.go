package settle

import (
	"container/heap"

	"github.com/goker/goker-ledger/internal/model"
)

// partyHeap is a max-heap on magnitude with ascending participant id as the
// tie-break, so equal magnitudes are always extracted in the same order.
// Magnitudes stored here are always positive.
type partyHeap []party

func (h partyHeap) Len() int { return len(h) }

func (h partyHeap) Less(i, j int) bool {
	if h[i].amount != h[j].amount {
		return h[i].amount > h[j].amount
	}
	return h[i].id < h[j].id
}

func (h partyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *partyHeap) Push(x any) { *h = append(*h, x.(party)) }

func (h *partyHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	*h = old[:n-1]
	return p
}

// greedy settles a zero-sum set of nonzero parties by repeatedly matching the
// largest creditor with the largest debtor. Each step zeroes at least one of
// the two, so at most len(parties)−1 transfers are emitted.
func greedy(parties []party) []model.Transfer {
	creditors := make(partyHeap, 0, len(parties))
	debtors := make(partyHeap, 0, len(parties))
	for _, p := range parties {
		switch {
		case p.amount > 0:
			creditors = append(creditors, p)
		case p.amount < 0:
			debtors = append(debtors, party{id: p.id, amount: -p.amount})
		}
	}
	heap.Init(&creditors)
	heap.Init(&debtors)

	transfers := make([]model.Transfer, 0, max(len(parties)-1, 0))
	for creditors.Len() > 0 && debtors.Len() > 0 {
		c := heap.Pop(&creditors).(party)
		d := heap.Pop(&debtors).(party)

		t := min(c.amount, d.amount)
		transfers = append(transfers, model.Transfer{From: d.id, To: c.id, Amount: t})

		c.amount -= t
		d.amount -= t
		if c.amount > 0 {
			heap.Push(&creditors, c)
		}
		if d.amount > 0 {
			heap.Push(&debtors, d)
		}
	}
	return transfers
}
