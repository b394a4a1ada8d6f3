package common

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cosmopolite/cosmopolite/server/store/types"
)

func msgs(ids ...int64) []types.Message {
	out := make([]types.Message, len(ids))
	for i, id := range ids {
		out[i] = types.Message{Id: id}
	}
	return out
}

func ids(list []types.Message) []int64 {
	out := make([]int64, len(list))
	for i, m := range list {
		out[i] = m.Id
	}
	return out
}

func TestMergeMessages(t *testing.T) {
	got := ids(MergeMessages(msgs(4, 5), msgs(3, 4, 5, 6)))
	if diff := cmp.Diff([]int64{3, 4, 5, 6}, got); diff != "" {
		t.Errorf("MergeMessages mismatch (-want +got):\n%s", diff)
	}
	if got := MergeMessages(nil, msgs(1)); len(got) != 1 {
		t.Errorf("expected single message, got %v", got)
	}
}

func TestReadBackfill(t *testing.T) {
	var recentArg int
	var sinceArg int64 = -1
	reader := BackfillReader{
		Pins: func() ([]types.Pin, error) { return []types.Pin{{Message: "top"}}, nil },
		Recent: func(n int) ([]types.Message, error) {
			recentArg = n
			return msgs(4, 5), nil
		},
		Since: func(id int64) ([]types.Message, error) {
			sinceArg = id
			return msgs(3, 4, 5), nil
		},
	}

	since := int64(2)
	bf, err := ReadBackfill(&types.BackfillOpt{Messages: 2, SinceId: &since, Pins: true}, reader)
	if err != nil {
		t.Fatal(err)
	}
	if recentArg != 2 || sinceArg != 2 {
		t.Errorf("unexpected reader arguments: recent=%d since=%d", recentArg, sinceArg)
	}
	if len(bf.Pins) != 1 {
		t.Errorf("expected one pin, got %d", len(bf.Pins))
	}
	if diff := cmp.Diff([]int64{3, 4, 5}, ids(bf.Messages)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	// Negative means all messages.
	if _, err := ReadBackfill(&types.BackfillOpt{Messages: -1}, reader); err != nil || recentArg != 0 {
		t.Errorf("expected Recent(0), got Recent(%d), err=%v", recentArg, err)
	}

	// Nothing requested, nothing read.
	recentArg = 99
	bf, err = ReadBackfill(&types.BackfillOpt{}, reader)
	if err != nil || len(bf.Messages) != 0 || len(bf.Pins) != 0 || recentArg != 99 {
		t.Errorf("empty options must not read anything: %+v %v", bf, err)
	}

	failing := reader
	failing.Pins = func() ([]types.Pin, error) { return nil, errors.New("boom") }
	if _, err := ReadBackfill(&types.BackfillOpt{Pins: true}, failing); err == nil {
		t.Error("expected pin read error to propagate")
	}
}

func TestAckSet(t *testing.T) {
	set := AckSet([]string{"a", "b", "a"})
	if len(set) != 2 || !set["a"] || !set["b"] || set["c"] {
		t.Errorf("unexpected ack set %v", set)
	}
}
