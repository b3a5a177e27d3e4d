package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const columnsQuery = `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

// Catalog reads the live schema: table name to column name to data type.
type Catalog interface {
	Columns(ctx context.Context, schema string) (map[string]map[string]string, error)
	Close(ctx context.Context) error
}

// Opener connects to the database identified by dsn.
type Opener func(ctx context.Context, dsn string) (Catalog, error)

type pgxCatalog struct {
	conn *pgx.Conn
}

// OpenPostgres is the default Opener.
func OpenPostgres(ctx context.Context, dsn string) (Catalog, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, transportError(err)
	}
	return &pgxCatalog{conn: conn}, nil
}

func (c *pgxCatalog) Columns(ctx context.Context, schema string) (map[string]map[string]string, error) {
	rows, err := c.conn.Query(ctx, columnsQuery, schema)
	if err != nil {
		return nil, transportError(err)
	}
	defer rows.Close()

	tables := make(map[string]map[string]string)
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, reconerrors.NewTransportError(desired.SystemDatabase, reconerrors.TransportDecode, 0, err)
		}
		if tables[table] == nil {
			tables[table] = make(map[string]string)
		}
		tables[table][column] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, transportError(err)
	}
	return tables, nil
}

func (c *pgxCatalog) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return reconerrors.NewTransportError(desired.SystemDatabase, reconerrors.TransportTimeout, 0, err)
	}
	return reconerrors.NewTransportError(desired.SystemDatabase, reconerrors.TransportNetwork, 0, fmt.Errorf("postgres: %w", err))
}
