package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cosmopolite/cosmopolite/server/store/types"
)

func TestLoadSampleData(t *testing.T) {
	data, err := loadData("data.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Subjects) != 3 || len(data.Messages) != 4 {
		t.Errorf("unexpected sample data: %d subjects, %d messages", len(data.Subjects), len(data.Messages))
	}
}

func TestValidateData(t *testing.T) {
	cases := []struct {
		name string
		data Data
		want string
	}{
		{"admin profile", Data{Profiles: []string{"admin"}}, "invalid profile"},
		{"empty subject", Data{Subjects: []Subject{{Name: "  "}}}, "invalid subject"},
		{"unknown owner", Data{Subjects: []Subject{{Name: "s", ReadableOnlyBy: "eve@example.com"}}}, "unknown account"},
		{"unknown subject", Data{Messages: []Message{{Subject: "s"}}}, "unknown subject"},
		{"unknown sender", Data{
			Subjects: []Subject{{Name: "s"}},
			Messages: []Message{{Subject: "s", From: "eve@example.com"}},
		}, "unknown account"},
	}
	for _, tc := range cases {
		err := tc.data.validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestResolveOwner(t *testing.T) {
	uid := types.Uid(12345)
	profiles := map[string]types.Uid{"alice@example.com": uid}
	if got := resolveOwner("", profiles); got != "" {
		t.Errorf("unrestricted: got %q", got)
	}
	if got := resolveOwner(types.AdminOwner, profiles); got != types.AdminOwner {
		t.Errorf("admin: got %q", got)
	}
	if got := resolveOwner("alice@example.com", profiles); got != uid.String() {
		t.Errorf("account: got %q, want %q", got, uid.String())
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cosmo.conf")
	conf := `{
	// Comments are allowed.
	"store_config": {"use_adapter": "pebble"}
}`
	if err := os.WriteFile(path, []byte(conf), 0o600); err != nil {
		t.Fatal(err)
	}
	config, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(config.StoreConfig), "pebble") {
		t.Errorf("unexpected store config %s", config.StoreConfig)
	}
}
