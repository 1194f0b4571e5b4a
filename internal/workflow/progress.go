package workflow

import (
	"encoding/json"
	"time"

	"bookdrop/internal/cache"
	"bookdrop/internal/catalog"
	"bookdrop/internal/wishlist"
)

// Progress is the JSON payload stored in the cache entry of each item.
// Completed names the last stage that finished, so a failed entry still
// records how far the item got.
type Progress struct {
	Item        wishlist.Item      `json:"item"`
	Completed   cache.Status       `json:"completed"`
	Query       string             `json:"query,omitempty"`
	Candidate   *catalog.Candidate `json:"candidate,omitempty"`
	LocalPath   string             `json:"local_path,omitempty"`
	FailedStage string             `json:"failed_stage,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Detail      string             `json:"detail,omitempty"`
	Attempts    int                `json:"attempts"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// DecodeProgress parses a cache payload. Empty or unreadable payloads yield a
// zero Progress and false, which restarts the item from the beginning.
func DecodeProgress(payload []byte) (Progress, bool) {
	var p Progress
	if len(payload) == 0 {
		return p, false
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return Progress{}, false
	}
	return p, true
}

func (p Progress) encode() ([]byte, error) {
	return json.Marshal(p)
}

func (p *Progress) clearFailure() {
	p.FailedStage = ""
	p.Reason = ""
	p.Detail = ""
}
