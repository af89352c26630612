package sqlexec

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"pipesync/internal/dialect"
)

func openSQLite(ctx context.Context, d *dialect.Dialect, dsn string) (DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY on concurrent statements and makes
	// in-memory DSNs behave (each connection would otherwise get its own
	// database).
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stdDB{db: db, d: d}, nil
}
