package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestUidText(t *testing.T) {
	uid := Uid(0x1234567890abcdef)
	str := uid.String()
	if len(str) != uidBase64Unpadded {
		t.Fatalf("unexpected length of %q", str)
	}
	if got := ParseUid(str); got != uid {
		t.Errorf("ParseUid(%q) = %v, want %v", str, got, uid)
	}
	if ParseUid("not-a-uid") != ZeroUid {
		t.Error("invalid string must parse into ZeroUid")
	}
	if ZeroUid.String() != "" {
		t.Error("ZeroUid must render as an empty string")
	}
}

func TestUidJSON(t *testing.T) {
	type wrapper struct {
		Who Uid `json:"who"`
	}
	in := wrapper{Who: Uid(987654321)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Who != in.Who {
		t.Errorf("got %v, want %v", out.Who, in.Who)
	}
}

func TestObjHeaderUid(t *testing.T) {
	var h ObjHeader
	h.SetUid(Uid(42))
	var h2 = ObjHeader{Id: h.Id}
	if h2.Uid() != Uid(42) {
		t.Errorf("Uid() = %v, want 42", h2.Uid())
	}
	h2.InitTimes()
	if h2.CreatedAt.IsZero() || !h2.UpdatedAt.Equal(h2.CreatedAt) {
		t.Error("InitTimes must set both timestamps")
	}
}

func TestSubjectAccess(t *testing.T) {
	owner := Uid(1001)
	stranger := Uid(2002)

	cases := []struct {
		name     string
		restrict string
		who      Uid
		admin    bool
		allowed  bool
	}{
		{"unrestricted anonymous", "", ZeroUid, false, true},
		{"unrestricted stranger", "", stranger, false, true},
		{"unrestricted admin", "", stranger, true, true},
		{"owner only, owner", owner.String(), owner, false, true},
		{"owner only, stranger", owner.String(), stranger, false, false},
		{"owner only, anonymous", owner.String(), ZeroUid, false, false},
		{"owner only, admin", owner.String(), stranger, true, true},
		{"admin only, stranger", AdminOwner, stranger, false, false},
		{"admin only, admin", AdminOwner, stranger, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Subject{Name: "room", ReadableOnlyBy: tc.restrict, WritableOnlyBy: tc.restrict}
			for op, err := range map[string]error{
				"read":  s.VerifyReadable(tc.who, tc.admin),
				"write": s.VerifyWritable(tc.who, tc.admin),
			} {
				if tc.allowed && err != nil {
					t.Errorf("%s: expected access, got %v", op, err)
				}
				if !tc.allowed && !errors.Is(err, ErrAccessDenied) {
					t.Errorf("%s: expected ErrAccessDenied, got %v", op, err)
				}
			}
		})
	}
}

func TestSubjectOwnership(t *testing.T) {
	owner := Uid(7)
	s := &Subject{ReadableOnlyBy: owner.String(), WritableOnlyBy: AdminOwner}
	if !s.IsReadableOnlyBy(owner) {
		t.Error("owner must be recognized as the read restriction")
	}
	if s.IsWritableOnlyBy(owner) {
		t.Error("admin restriction must not match a profile")
	}
	if s.IsReadableOnlyBy(ZeroUid) {
		t.Error("anonymous caller never owns a restriction")
	}
}
