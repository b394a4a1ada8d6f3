// Package common contains utility methods used by all adapters.
package common

import (
	"sort"

	t "github.com/cosmopolite/cosmopolite/server/store/types"
)

// BackfillReader reads parts of a subject's history for ReadBackfill. The adapter
// binds it to its current transaction.
type BackfillReader struct {
	Pins   func() ([]t.Pin, error)
	Recent func(n int) ([]t.Message, error)
	Since  func(id int64) ([]t.Message, error)
}

// ReadBackfill collects the history described by opt: current pins if requested,
// opt.Messages most recent messages (all of them if negative) and everything after opt.SinceId.
func ReadBackfill(opt *t.BackfillOpt, r BackfillReader) (*t.Backfill, error) {
	bf := &t.Backfill{}
	if opt == nil {
		return bf, nil
	}

	var err error
	if opt.Pins {
		if bf.Pins, err = r.Pins(); err != nil {
			return nil, err
		}
	}

	var recent, since []t.Message
	if opt.Messages != 0 {
		n := opt.Messages
		if n < 0 {
			n = 0
		}
		if recent, err = r.Recent(n); err != nil {
			return nil, err
		}
	}
	if opt.SinceId != nil {
		if since, err = r.Since(*opt.SinceId); err != nil {
			return nil, err
		}
	}
	bf.Messages = MergeMessages(recent, since)

	return bf, nil
}

// MergeMessages returns the union of two message lists ordered by ascending id.
func MergeMessages(a, b []t.Message) []t.Message {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]t.Message, 0, len(a)+len(b))
	for _, list := range [][]t.Message{a, b} {
		for _, m := range list {
			if !seen[m.Id] {
				seen[m.Id] = true
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// Reversed returns messages in reverse order. Used by adapters which read the newest messages first.
func Reversed(msgs []t.Message) []t.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// AckSet converts a list of acknowledged event ids into a set.
func AckSet(acks []string) map[string]bool {
	set := make(map[string]bool, len(acks))
	for _, id := range acks {
		set[id] = true
	}
	return set
}
