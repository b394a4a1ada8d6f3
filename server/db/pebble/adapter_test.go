package pebble

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/cosmopolite/cosmopolite/server/db/common/testsuite"
)

func openMem(t *testing.T) *adapter {
	t.Helper()
	adp := &adapter{}
	if err := adp.Open(json.RawMessage(`{"in_memory": true, "fsync": false}`)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { adp.Close() })
	return adp
}

func TestConformance(t *testing.T) {
	testsuite.Run(t, openMem(t))
}

func TestOpenInMemoryDir(t *testing.T) {
	for _, conf := range []string{
		`{"in_memory": true}`,
		`{"in_memory": true, "dir": "./data/../cosmo"}`,
	} {
		adp := &adapter{}
		if err := adp.Open(json.RawMessage(conf)); err != nil {
			t.Errorf("%s: %v", conf, err)
			continue
		}
		if err := adp.CheckDbVersion(); err != nil {
			t.Errorf("%s: %v", conf, err)
		}
		adp.Close()
	}
}

func TestDbVersion(t *testing.T) {
	adp := openMem(t)
	if err := adp.CheckDbVersion(); err != nil {
		t.Fatal(err)
	}
	if err := adp.CreateDb(false); err == nil {
		t.Error("initializing an existing database must fail")
	}
	if err := adp.CreateDb(true); err != nil {
		t.Fatal(err)
	}
	if v, err := adp.GetDbVersion(); err != nil || v != adpVersion {
		t.Errorf("GetDbVersion = %d, %v", v, err)
	}
	if err := adp.UpgradeDb(); err != nil {
		t.Error(err)
	}
}

func TestOpenTwice(t *testing.T) {
	adp := openMem(t)
	if err := adp.Open(nil); err == nil {
		t.Error("second Open must fail")
	}
	if !adp.IsOpen() {
		t.Error("adapter must stay open")
	}
}

func TestPrefixEnd(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte("m/abc/"), []byte("m/abc0")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tc := range cases {
		if got := prefixEnd(tc.in); !bytes.Equal(got, tc.want) {
			t.Errorf("prefixEnd(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeysSortBySequence(t *testing.T) {
	if bytes.Compare(messageKey("s", 255), messageKey("s", 256)) >= 0 {
		t.Error("message keys must sort by id")
	}
	early := pollIndexKey(time.Unix(100, 0), "zzz")
	late := pollIndexKey(time.Unix(200, 0), "aaa")
	if bytes.Compare(early, late) >= 0 {
		t.Error("poll index must sort by time before instance")
	}
	if got := seqFromKey(eventKey("sub", 42)); got != 42 {
		t.Errorf("seqFromKey = %d", got)
	}
}

func TestKeyPartsEscapesIds(t *testing.T) {
	k := pinByInstanceKey("inst/with/slashes", "subj", "pin")
	parts := keyParts(k, pfxPinByInst, false)
	if len(parts) != 3 || parts[1] != "subj" || parts[2] != "pin" {
		t.Errorf("unexpected parts %q", parts)
	}
}
