package mongodb

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/cosmopolite/cosmopolite/server/db/common/testsuite"
	t "github.com/cosmopolite/cosmopolite/server/store/types"
)

// TestConformance runs against the server in COSMO_TEST_MONGODB, e.g. "localhost:27017".
// Set COSMO_TEST_MONGODB_REPLICA_SET to run with transactions. The test database is dropped.
func TestConformance(tt *testing.T) {
	addr := os.Getenv("COSMO_TEST_MONGODB")
	if addr == "" {
		tt.Skip("COSMO_TEST_MONGODB is not set")
	}
	conf, _ := json.Marshal(map[string]string{
		"addresses":   addr,
		"database":    "cosmo_test",
		"replica_set": os.Getenv("COSMO_TEST_MONGODB_REPLICA_SET"),
	})

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
	if adp.Stats() == nil {
		tt.Error("dbStats must be available")
	}
	testsuite.Run(tt, adp)
}

func TestOpenBadAddresses(tt *testing.T) {
	adp := &adapter{}
	if err := adp.Open(json.RawMessage(`{"addresses": 27017}`)); err == nil {
		tt.Error("Open with numeric address must fail")
	}
	if err := adp.Open(json.RawMessage(`{"addresses": ["localhost", 1]}`)); err == nil {
		tt.Error("Open with non-string address must fail")
	}
	if adp.IsOpen() {
		tt.Error("adapter must not be open")
	}
}

func TestInstanceUpdateMalformed(tt *testing.T) {
	// Validation happens before the database is touched.
	adp := &adapter{}
	for _, bad := range []map[string]interface{}{
		{},
		{"Active": 1},
		{"Polling": true},
	} {
		if err := adp.InstanceUpdate("x", bad); err != t.ErrMalformed {
			tt.Errorf("update %v: expected ErrMalformed, got %v", bad, err)
		}
	}
}
