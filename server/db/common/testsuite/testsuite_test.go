package testsuite

import (
	"encoding/base64"
	"testing"

	"github.com/cosmopolite/cosmopolite/server/store/types"
)

func TestUidKeyIsUsable(t *testing.T) {
	key, err := base64.StdEncoding.DecodeString(testUidKey)
	if err != nil {
		t.Fatal(err)
	}
	var ugen types.UidGenerator
	if err := ugen.Init(7, key); err != nil {
		t.Fatal(err)
	}
	if ugen.Get().IsZero() {
		t.Error("generator returned zero uid")
	}
}
