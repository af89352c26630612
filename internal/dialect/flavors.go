package dialect

// catalog holds one entry per supported flavor. DuckDB and Oracle are
// catalog-only: their statement templates are exercised by planners and
// tests, but no Executor ships for them.
var catalog = map[Flavor]*Dialect{
	Postgres:    postgresDialect(Postgres),
	TimescaleDB: timescaleDialect(),
	Citus:       citusDialect(),
	MSSQL:       mssqlDialect(),
	SQLite:      sqliteDialect(),
	DuckDB:      duckdbDialect(),
	MySQL:       mysqlDialect(),
	Oracle:      oracleDialect(),
}

func postgresDialect(f Flavor) *Dialect {
	return &Dialect{
		Flavor:             f,
		SupportsNullsFirst: true,
		Bulk:               BulkCopy,
		Placeholder:        PlaceholderDollar,
		quoteOpen:          `"`,
		quoteClose:         `"`,
		autoIncPK:          "%s BIGSERIAL PRIMARY KEY",
		dateAddFormat:      dateAddInterval,
		nativeTypes: map[Type]string{
			TypeText:        "TEXT",
			TypeInteger:     "BIGINT",
			TypeFloat:       "DOUBLE PRECISION",
			TypeBool:        "BOOLEAN",
			TypeTimestamp:   "TIMESTAMP",
			TypeTimestampTZ: "TIMESTAMPTZ",
			TypeJSON:        "JSONB",
			TypeNumeric:     "NUMERIC",
		},
	}
}

func timescaleDialect() *Dialect {
	d := postgresDialect(TimescaleDB)
	d.SupportsHypertables = true
	return d
}

func citusDialect() *Dialect {
	d := postgresDialect(Citus)
	d.SupportsDistributedTables = true
	return d
}

func mssqlDialect() *Dialect {
	return &Dialect{
		Flavor:        MSSQL,
		Bulk:          BulkBatch,
		Placeholder:   PlaceholderAt,
		quoteOpen:     "[",
		quoteClose:    "]",
		autoIncPK:     "%s BIGINT IDENTITY(1,1) PRIMARY KEY",
		dateAddFormat: dateAddFunc,
		nativeTypes: map[Type]string{
			TypeText:        "NVARCHAR(MAX)",
			TypeInteger:     "BIGINT",
			TypeFloat:       "FLOAT",
			TypeBool:        "BIT",
			TypeTimestamp:   "DATETIME2",
			TypeTimestampTZ: "DATETIMEOFFSET",
			TypeJSON:        "NVARCHAR(MAX)",
			TypeNumeric:     "NUMERIC(38, 10)",
		},
	}
}

func sqliteDialect() *Dialect {
	return &Dialect{
		Flavor:      SQLite,
		Bulk:        BulkBatch,
		Placeholder: PlaceholderQuestion,
		// SQLite has no real timestamp type; values are stored as text in
		// the same layout DATETIME() emits so that range comparisons collate.
		TimeLayout:    "2006-01-02 15:04:05",
		quoteOpen:     `"`,
		quoteClose:    `"`,
		autoIncPK:     "%s INTEGER PRIMARY KEY AUTOINCREMENT",
		dateAddFormat: dateAddModifier,
		nativeTypes: map[Type]string{
			TypeText:        "TEXT",
			TypeInteger:     "INTEGER",
			TypeFloat:       "REAL",
			TypeBool:        "INTEGER",
			TypeTimestamp:   "TEXT",
			TypeTimestampTZ: "TEXT",
			TypeJSON:        "TEXT",
			TypeNumeric:     "TEXT",
		},
	}
}

func duckdbDialect() *Dialect {
	return &Dialect{
		Flavor:                   DuckDB,
		SupportsNullsFirst:       true,
		AddColumnRebuildsIndexes: true,
		Bulk:                     BulkBatch,
		Placeholder:              PlaceholderQuestion,
		quoteOpen:                `"`,
		quoteClose:               `"`,
		autoIncPK:                "%s BIGINT PRIMARY KEY",
		dateAddFormat:            dateAddInterval,
		nativeTypes: map[Type]string{
			TypeText:        "VARCHAR",
			TypeInteger:     "BIGINT",
			TypeFloat:       "DOUBLE",
			TypeBool:        "BOOLEAN",
			TypeTimestamp:   "TIMESTAMP",
			TypeTimestampTZ: "TIMESTAMPTZ",
			TypeJSON:        "JSON",
			TypeNumeric:     "NUMERIC",
		},
	}
}

func mysqlDialect() *Dialect {
	return &Dialect{
		Flavor:        MySQL,
		Bulk:          BulkBatch,
		Placeholder:   PlaceholderQuestion,
		quoteOpen:     "`",
		quoteClose:    "`",
		autoIncPK:     "%s BIGINT AUTO_INCREMENT PRIMARY KEY",
		dateAddFormat: dateAddMySQL,
		nativeTypes: map[Type]string{
			TypeText:        "TEXT",
			TypeInteger:     "BIGINT",
			TypeFloat:       "DOUBLE",
			TypeBool:        "BOOLEAN",
			TypeTimestamp:   "DATETIME",
			TypeTimestampTZ: "DATETIME",
			TypeJSON:        "JSON",
			TypeNumeric:     "DECIMAL(38, 10)",
		},
	}
}

func oracleDialect() *Dialect {
	return &Dialect{
		Flavor:        Oracle,
		Bulk:          BulkBatch,
		Placeholder:   PlaceholderColon,
		quoteOpen:     `"`,
		quoteClose:    `"`,
		autoIncPK:     "%s NUMBER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
		dateAddFormat: dateAddOracle,
		nativeTypes: map[Type]string{
			TypeText:        "NVARCHAR2(2000)",
			TypeInteger:     "NUMBER(19)",
			TypeFloat:       "BINARY_DOUBLE",
			TypeBool:        "NUMBER(1)",
			TypeTimestamp:   "TIMESTAMP",
			TypeTimestampTZ: "TIMESTAMP WITH TIME ZONE",
			TypeJSON:        "CLOB",
			TypeNumeric:     "NUMBER",
		},
	}
}
