package database

import (
	"context"
	"fmt"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
)

// Connect establishes database connection based on config
func Connect(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Database.Type {
	case "memory":
		return NewMemoryStores(cfg.Triage.SessionTTL), nil
	case "mongodb":
		return ConnectMongoDB(ctx, cfg)
	case "postgresql":
		return ConnectPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
}
