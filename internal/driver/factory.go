package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/catalog-dedup/internal/config"
)

// NewRecordStore opens the backend named in cfg.
func NewRecordStore(ctx context.Context, cfg config.StoreConfig, idField string) (RecordStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "bigquery":
		return NewBigQueryStore(ctx, cfg.ProjectID, idField)
	case "sqlite", "":
		return NewSQLiteStore(cfg.SQLitePath, idField)
	case "memgraph":
		d, err := NewMemgraphDriver(ctx, cfg.MemgraphURI, cfg.MemgraphUser, cfg.MemgraphPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to memgraph: %w", err)
		}
		if err := d.BuildIndices(ctx); err != nil {
			return nil, err
		}
		return NewMemgraphStore(d, idField), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
