package types

import (
	"encoding/base64"
	"testing"
)

var testKey = []byte("testkey1testkey2")

func newTestGenerator(t testing.TB, worker uint) *UidGenerator {
	ug := &UidGenerator{}
	if err := ug.Init(worker, testKey); err != nil {
		t.Fatalf("Failed to initialize generator: %v", err)
	}
	return ug
}

func TestUidGeneratorInit(t *testing.T) {
	ug := newTestGenerator(t, 1)
	if ug.seq == nil || ug.cipher == nil {
		t.Fatal("generator should be fully initialized")
	}

	// Repeated Init keeps the existing state.
	oldSeq, oldCipher := ug.seq, ug.cipher
	if err := ug.Init(3, testKey); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ug.seq != oldSeq || ug.cipher != oldCipher {
		t.Error("generator should not be reinitialized")
	}
}

func TestUidGeneratorInitInvalid(t *testing.T) {
	testCases := []struct {
		name   string
		worker uint
		key    []byte
	}{
		{"nil key", 1, nil},
		{"empty key", 1, []byte{}},
		{"15 byte key", 1, []byte("testkey1testkey")},
		{"17 byte key", 1, []byte("testkey1testkey22")},
		{"worker ID 1024", 1024, testKey},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ug := &UidGenerator{}
			if err := ug.Init(tc.worker, tc.key); err == nil {
				t.Errorf("Expected error for %s, but got none", tc.name)
			}
		})
	}
}

func TestUidGeneratorUninitialized(t *testing.T) {
	ug := &UidGenerator{}
	if uid := ug.Get(); uid != ZeroUid {
		t.Error("Expected ZeroUid from uninitialized generator")
	}
	if str := ug.GetStr(); str != "" {
		t.Error("Expected empty string from uninitialized generator")
	}
}

func TestUidGeneratorUnique(t *testing.T) {
	ug := newTestGenerator(t, 1)

	const numGoroutines = 10
	const uidsPerGoroutine = 100

	uidChan := make(chan Uid, numGoroutines*uidsPerGoroutine)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			for j := 0; j < uidsPerGoroutine; j++ {
				uidChan <- ug.Get()
			}
		}()
	}

	uids := make(map[Uid]bool)
	for i := 0; i < numGoroutines*uidsPerGoroutine; i++ {
		uid := <-uidChan
		if uid == ZeroUid {
			t.Fatal("Generated UID should not be zero")
		}
		if uids[uid] {
			t.Fatalf("Duplicate UID generated: %v", uid)
		}
		uids[uid] = true
	}
}

func TestUidGeneratorGetStr(t *testing.T) {
	ug := newTestGenerator(t, 1)

	str := ug.GetStr()
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(str)
	if err != nil {
		t.Fatalf("Generated UID string should be valid base64: %v", err)
	}
	if len(decoded) != 8 {
		t.Errorf("Decoded UID should be 8 bytes, got %d", len(decoded))
	}
	if uid := ParseUid(str); uid.IsZero() || uid.String() != str {
		t.Errorf("GetStr() result %q does not parse back into the same Uid", str)
	}
}

func TestUidGeneratorEncodeDecode(t *testing.T) {
	ug := newTestGenerator(t, 1)

	for _, val := range []int64{0, 1, 42, 12345, 1000000, 9223372036854775807} {
		if decoded := ug.DecodeUid(ug.EncodeInt64(val)); decoded != val {
			t.Errorf("Roundtrip failed for %d: got %d", val, decoded)
		}
	}

	uid := ug.Get()
	decoded := ug.DecodeUid(uid)
	if decoded < 0 {
		t.Errorf("Decoded UID should be non-negative, got %d", decoded)
	}
	if ug.EncodeInt64(decoded) != uid {
		t.Error("Generated UID roundtrip failed")
	}
}

func BenchmarkUidGeneratorGet(b *testing.B) {
	ug := newTestGenerator(b, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ug.Get()
	}
}
