package utils

import (
	"testing"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
)

func loadTestConfig(t *testing.T) (*config.Config, *config.Tables) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DB_TYPE", "memory")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	tables, err := config.LoadTables(config.TablesConfig{})
	if err != nil {
		t.Fatalf("load tables: %v", err)
	}
	return cfg, tables
}
