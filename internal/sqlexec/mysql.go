package sqlexec

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"

	"pipesync/internal/dialect"
)

func openMySQL(ctx context.Context, d *dialect.Dialect, dsn string) (DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stdDB{db: db, d: d}, nil
}
