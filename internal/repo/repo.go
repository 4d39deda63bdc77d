package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"leasetrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStale signals a version mismatch on an optimistic update: someone
// else committed first and the caller must refetch.
var ErrStale = errors.New("stale lead version")

func (r Repo) InsertLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leads(id,title,stage,sub_status,status,current_step,version,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Title, l.Stage, l.SubStatus, l.Status, l.CurrentStep, l.Version, l.CreatedBy, l.CreatedAt, l.UpdatedAt)
	return err
}

func scanLead(row *sql.Row) (domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(&l.ID, &l.Title, &l.Stage, &l.SubStatus, &l.Status, &l.CurrentStep, &l.Version, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

const leadColumns = `id,title,stage,sub_status,status,current_step,version,created_by,created_at,updated_at`

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id))
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	return scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id))
}

// UpdateLeadTx writes the lead's mutable columns, conditioned on the
// version the caller read. Zero rows affected means a concurrent writer
// won; the caller's transaction must roll back.
func (r Repo) UpdateLeadTx(ctx context.Context, tx *sql.Tx, l domain.Lead, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET stage=?, sub_status=?, status=?, current_step=?, version=?, updated_at=? WHERE id=? AND version=?`,
		l.Stage, l.SubStatus, l.Status, l.CurrentStep, l.Version, l.UpdatedAt, l.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

type LeadFilters struct {
	Stage           string
	Status          string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.LeadSummary, error) {
	var clauses []string
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT id,title,stage,sub_status,status,created_by,created_at FROM leads`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadSummary
	for rows.Next() {
		var l domain.LeadSummary
		if err := rows.Scan(&l.ID, &l.Title, &l.Stage, &l.SubStatus, &l.Status, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) InsertLedgerEntry(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO lead_ledger(id,lead_id,step_marker,target_stage,target_sub_status,data_json,status,remarks,submitted_by,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.LeadID, e.StepMarker, nullable(e.TargetStage), nullable(e.TargetSubStatus), nullableStringPtr(e.DataJSON), e.Status, nullable(e.Remarks), e.SubmittedBy, e.CreatedAt)
	return err
}

// ListLedgerEntries returns a lead's history oldest first.
func (r Repo) ListLedgerEntries(ctx context.Context, leadID string) ([]domain.LedgerEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,lead_id,step_marker,COALESCE(target_stage,''),COALESCE(target_sub_status,''),data_json,status,COALESCE(remarks,''),submitted_by,created_at FROM lead_ledger WHERE lead_id=? ORDER BY created_at ASC, id ASC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.LeadID, &e.StepMarker, &e.TargetStage, &e.TargetSubStatus, &data, &e.Status, &e.Remarks, &e.SubmittedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		if data.Valid {
			e.DataJSON = &data.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with id greater than afterID, oldest first.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(lead_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id > ? ORDER BY id ASC`
	args := []any{afterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the highest event id, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// LatestEvents returns the most recent events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(lead_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.LeadID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
