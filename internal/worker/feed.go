package worker

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Entry is one line of the activity feed.
type Entry struct {
	Type          string    `json:"type"`
	Reference     string    `json:"reference,omitempty"`
	GoalID        string    `json:"goalId,omitempty"`
	PartnershipID string    `json:"partnershipId,omitempty"`
	InvitationID  string    `json:"invitationId,omitempty"`
	AmountCents   int64     `json:"amountCents,omitempty"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}

// Feed keeps the most recent entries in memory.
type Feed struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

func NewFeed(max int) *Feed {
	if max <= 0 {
		max = 500
	}
	return &Feed{max: max}
}

func (f *Feed) Append(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	if over := len(f.entries) - f.max; over > 0 {
		f.entries = append(f.entries[:0:0], f.entries[over:]...)
	}
}

// Recent returns up to limit entries, newest first. A non-positive limit returns all of them.
func (f *Feed) Recent(limit int) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, f.entries[i])
	}
	return out
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Handler serves the feed as JSON. The optional "limit" query caps the entries returned.
func (f *Feed) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Entries []Entry `json:"entries"`
		}{Entries: f.Recent(limit)})
	})
}
