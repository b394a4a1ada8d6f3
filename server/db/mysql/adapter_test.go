package mysql

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cosmopolite/cosmopolite/server/db/common/testsuite"
	t "github.com/cosmopolite/cosmopolite/server/store/types"
)

// TestConformance runs against the server in COSMO_TEST_MYSQL, e.g.
// "root:@tcp(localhost:3306)/cosmo_test". The database is dropped and recreated.
func TestConformance(tt *testing.T) {
	dsn := os.Getenv("COSMO_TEST_MYSQL")
	if dsn == "" {
		tt.Skip("COSMO_TEST_MYSQL is not set")
	}
	conf, _ := json.Marshal(map[string]string{"dsn": dsn})

	adp := &adapter{}
	if err := adp.Open(conf); err != nil {
		tt.Fatal(err)
	}
	defer adp.Close()
	if err := adp.CreateDb(true); err != nil {
		tt.Fatal(err)
	}
	if err := adp.CheckDbVersion(); err != nil {
		tt.Fatal(err)
	}
	testsuite.Run(tt, adp)
}

func TestInstanceUpdate(tt *testing.T) {
	cols, args, err := instanceUpdate(map[string]interface{}{"Active": true})
	if err != nil {
		tt.Fatal(err)
	}
	if diff := cmp.Diff([]string{"active=?"}, cols); diff != "" {
		tt.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]interface{}{true}, args); diff != "" {
		tt.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := instanceUpdate(map[string]interface{}{"Id": "x"}); err != t.ErrMalformed {
		tt.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestNullable(tt *testing.T) {
	if nullable("") != nil {
		tt.Error("empty account must be stored as NULL")
	}
	if nullable("a@example.com") != "a@example.com" {
		tt.Error("account must be stored as is")
	}
}

func TestOpenBadDSN(tt *testing.T) {
	adp := &adapter{}
	if err := adp.Open(json.RawMessage(`{"dsn": "not a dsn"}`)); err == nil {
		tt.Error("Open with malformed DSN must fail")
	}
	if adp.IsOpen() {
		tt.Error("adapter must not be open")
	}
}
