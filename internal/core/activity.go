package core

import (
	"sort"
	"time"
)

// DayActivity groups the transactions that happened on one calendar day.
type DayActivity struct {
	Day          Date          `json:"day"`
	Transactions []Transaction `json:"transactions"`
}

// Summary aggregates the goals of a partnership.
type Summary struct {
	TotalSaved     Money `json:"totalSaved"`
	ActiveGoals    int   `json:"activeGoals"`
	PausedGoals    int   `json:"pausedGoals"`
	CompletedGoals int   `json:"completedGoals"`
}

// SortNewestFirst orders transactions by timestamp descending. Equal timestamps keep their relative order.
func SortNewestFirst(txns []Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Timestamp.After(txns[j].Timestamp)
	})
}

// FilterTransactions keeps the transactions of type t. An empty t keeps everything.
func FilterTransactions(txns []Transaction, t TransactionType) []Transaction {
	if t == "" {
		return txns
	}
	out := make([]Transaction, 0, len(txns))
	for _, tx := range txns {
		if tx.Type == t {
			out = append(out, tx)
		}
	}
	return out
}

// GroupByDay buckets transactions by calendar day in loc, preserving input order
// both across and within days.
func GroupByDay(txns []Transaction, loc *time.Location) []DayActivity {
	if loc == nil {
		loc = time.UTC
	}
	var out []DayActivity
	index := map[string]int{}
	for _, tx := range txns {
		ts := tx.Timestamp.In(loc)
		key := ts.Format(DateLayout)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, DayActivity{Day: NewDate(ts.Year(), int(ts.Month()), ts.Day())})
		}
		out[i].Transactions = append(out[i].Transactions, tx)
	}
	return out
}

// Summarize computes totals over goals.
func Summarize(goals []Goal) Summary {
	var s Summary
	for _, g := range goals {
		s.TotalSaved = s.TotalSaved.Add(g.CurrentAmount)
		switch g.Status {
		case GoalActive:
			s.ActiveGoals++
		case GoalPaused:
			s.PausedGoals++
		case GoalCompleted:
			s.CompletedGoals++
		}
	}
	return s
}

// FirstActive returns the first active goal in slice order.
func FirstActive(goals []Goal) (Goal, bool) {
	for _, g := range goals {
		if g.Status == GoalActive {
			return g, true
		}
	}
	return Goal{}, false
}
