package sqlexec

import (
	"context"
	"database/sql"

	_ "github.com/microsoft/go-mssqldb"

	"pipesync/internal/dialect"
)

func openMSSQL(ctx context.Context, d *dialect.Dialect, dsn string) (DB, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	// Conservative defaults for bursty sync loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stdDB{db: db, d: d}, nil
}
