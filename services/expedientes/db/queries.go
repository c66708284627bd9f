package db

import (
	"context"
	"database/sql"
	"strings"
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Expediente struct {
	ID           int64
	SourceSystem string
	Number       string
	Caption      string
	Office       string
	Jurisdiction string
	Status       string
	UpdatedAt    int64
}

type Movimiento struct {
	ID            int64
	ExpedienteID  int64
	Fecha         string
	FechaOriginal string
	Tipo          string
	Descripcion   string
	Oficina       string
	Folio         string
	UrlDocumento  string
	CreatedAt     int64
}

const upsertExpediente = `
INSERT INTO expedientes (source_system, number, caption, office, jurisdiction, status, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_system, number) DO UPDATE SET
    caption = excluded.caption,
    office = excluded.office,
    jurisdiction = excluded.jurisdiction,
    status = excluded.status,
    updated_at = excluded.updated_at
RETURNING id
`

type UpsertExpedienteParams struct {
	SourceSystem string
	Number       string
	Caption      string
	Office       string
	Jurisdiction string
	Status       string
	UpdatedAt    int64
}

func (q *Queries) UpsertExpediente(ctx context.Context, arg UpsertExpedienteParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertExpediente,
		arg.SourceSystem,
		arg.Number,
		arg.Caption,
		arg.Office,
		arg.Jurisdiction,
		arg.Status,
		arg.UpdatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getExpediente = `
SELECT id, source_system, number, caption, office, jurisdiction, status, updated_at
FROM expedientes
WHERE source_system = ? AND number = ?
`

type GetExpedienteParams struct {
	SourceSystem string
	Number       string
}

func (q *Queries) GetExpediente(ctx context.Context, arg GetExpedienteParams) (Expediente, error) {
	row := q.db.QueryRowContext(ctx, getExpediente, arg.SourceSystem, arg.Number)
	var e Expediente
	err := row.Scan(
		&e.ID,
		&e.SourceSystem,
		&e.Number,
		&e.Caption,
		&e.Office,
		&e.Jurisdiction,
		&e.Status,
		&e.UpdatedAt,
	)
	return e, err
}

const insertMovimiento = `
INSERT OR IGNORE INTO movimientos (expediente_id, fecha, fecha_original, tipo, descripcion, oficina, folio, url_documento, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertMovimientoParams struct {
	ExpedienteID  int64
	Fecha         string
	FechaOriginal string
	Tipo          string
	Descripcion   string
	Oficina       string
	Folio         string
	UrlDocumento  string
	CreatedAt     int64
}

// InsertMovimiento reports whether the row was actually inserted; replays
// of already-stored movements are ignored by the natural-key constraint.
func (q *Queries) InsertMovimiento(ctx context.Context, arg InsertMovimientoParams) (bool, error) {
	result, err := q.db.ExecContext(ctx, insertMovimiento,
		arg.ExpedienteID,
		arg.Fecha,
		arg.FechaOriginal,
		arg.Tipo,
		arg.Descripcion,
		arg.Oficina,
		arg.Folio,
		arg.UrlDocumento,
		arg.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const listMovimientos = `
SELECT id, expediente_id, fecha, fecha_original, tipo, descripcion, oficina, folio, url_documento, created_at
FROM movimientos
WHERE expediente_id = ?
ORDER BY fecha DESC, id DESC
`

func (q *Queries) ListMovimientos(ctx context.Context, expedienteID int64) ([]Movimiento, error) {
	rows, err := q.db.QueryContext(ctx, listMovimientos, expedienteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Movimiento
	for rows.Next() {
		var m Movimiento
		err := rows.Scan(
			&m.ID,
			&m.ExpedienteID,
			&m.Fecha,
			&m.FechaOriginal,
			&m.Tipo,
			&m.Descripcion,
			&m.Oficina,
			&m.Folio,
			&m.UrlDocumento,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const countMovimientos = `
SELECT COUNT(*) FROM movimientos WHERE expediente_id = ?
`

func (q *Queries) CountMovimientos(ctx context.Context, expedienteID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, countMovimientos, expedienteID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const listExpedientes = `
SELECT id, source_system, number, caption, office, jurisdiction, status, updated_at
FROM expedientes
WHERE (? = '' OR source_system = ?)
  AND (? = '' OR jurisdiction = ?)
  AND (? = 0 OR id IN (/*SLICE:ids*/?))
ORDER BY source_system, number
LIMIT ?
`

type ListExpedientesParams struct {
	SourceSystem string
	Jurisdiction string
	IDs          []int64
	// Limit <= 0 means no limit
	Limit int64
}

func (q *Queries) ListExpedientes(ctx context.Context, arg ListExpedientesParams) ([]Expediente, error) {
	query := listExpedientes
	var queryParams []any
	queryParams = append(queryParams,
		arg.SourceSystem, arg.SourceSystem,
		arg.Jurisdiction, arg.Jurisdiction,
		len(arg.IDs),
	)
	if len(arg.IDs) > 0 {
		query = strings.Replace(query, "/*SLICE:ids*/?", strings.Repeat(",?", len(arg.IDs))[1:], 1)
		for _, id := range arg.IDs {
			queryParams = append(queryParams, id)
		}
	} else {
		query = strings.Replace(query, "/*SLICE:ids*/?", "NULL", 1)
	}
	limit := arg.Limit
	if limit <= 0 {
		limit = -1
	}
	queryParams = append(queryParams, limit)

	rows, err := q.db.QueryContext(ctx, query, queryParams...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Expediente
	for rows.Next() {
		var e Expediente
		err := rows.Scan(
			&e.ID,
			&e.SourceSystem,
			&e.Number,
			&e.Caption,
			&e.Office,
			&e.Jurisdiction,
			&e.Status,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
