package cache

import "time"

// Status is the last pipeline stage a fingerprint reached.
type Status string

const (
	StatusPending    Status = "pending"
	StatusResolved   Status = "resolved"
	StatusDownloaded Status = "downloaded"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusResolved,
	StatusDownloaded,
	StatusDelivered,
	StatusFailed,
}

// Statuses returns every status in pipeline order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Entry is one cached metadata record.
type Entry struct {
	Fingerprint string
	Payload     []byte
	Status      Status
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the metadata TTL elapsed at now. Delivered entries
// never expire.
func (e Entry) Expired(now time.Time) bool {
	if e.Status == StatusDelivered {
		return false
	}
	return !now.Before(e.ExpiresAt)
}

// Stats summarises store contents.
type Stats struct {
	Path       string
	Entries    map[Status]int
	Total      int
	Expired    int
	Delivered  int
	Signatures int
}

// Signature is one stored client signature. Expired signatures are listed so
// callers can show when they went stale.
type Signature struct {
	Name      string
	Value     string
	ExpiresAt time.Time
}

// Fresh reports whether the signature is still served by GetSignature at now.
func (s Signature) Fresh(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
