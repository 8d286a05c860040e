package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"grantdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional transition matched no row in
	// the expected prior status.
	ErrConflict = errors.New("status conflict")
)

const requestColumns = `id,client_name,client_email,grant_name,applicant,purpose,use_of_funds,deadline,jurisdiction,status,artifact_path,created_at,report_at,delivered_at,archived_at`

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.ClientName, req.ClientEmail, req.GrantName,
		nullable(req.Applicant), nullable(req.Purpose), nullable(req.UseOfFunds), nullable(req.Deadline), nullable(req.Jurisdiction),
		req.Status, nullableStringPtr(req.ArtifactPath), req.CreatedAt,
		nullableStringPtr(req.ReportAt), nullableStringPtr(req.DeliveredAt), nullableStringPtr(req.ArchivedAt))
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequestRow(row)
}

type RequestFilters struct {
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListRequests returns requests newest first with composite cursor paging.
func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRequest(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// timestampColumn maps a target status to the lifecycle timestamp recorded
// when a request first reaches it.
func timestampColumn(status string) string {
	switch status {
	case domain.StatusReportReady:
		return "report_at"
	case domain.StatusDelivered:
		return "delivered_at"
	case domain.StatusArchived:
		return "archived_at"
	}
	return ""
}

// Transition advances a request to status `to` in one atomic conditional
// update keyed on the expected prior statuses. The guard and the write are a
// single statement, so two concurrent operator actions cannot both pass.
// Returns ErrNotFound if the id does not exist and ErrConflict if the row
// exists but is not in one of the expected statuses.
func (r Repo) Transition(ctx context.Context, tx *sql.Tx, id, ts, to string, from ...string) error {
	if len(from) == 0 {
		return fmt.Errorf("transition to %s: expected prior statuses required", to)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	set := "status=?"
	args := []any{to}
	if col := timestampColumn(to); col != "" {
		set += ", " + col + "=?"
		args = append(args, ts)
	}
	args = append(args, id)
	for _, s := range from {
		args = append(args, s)
	}
	res, err := exec(ctx, r.DB, tx, `UPDATE requests SET `+set+` WHERE id=? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Disambiguate through the caller's transaction: a read on another
		// connection would wait on the write lock this transaction holds.
		var one int
		err := queryRow(ctx, r.DB, tx, `SELECT 1 FROM requests WHERE id=?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// SetArtifact records the rendered report path for a request.
func (r Repo) SetArtifact(ctx context.Context, tx *sql.Tx, id, path string) error {
	res, err := exec(ctx, r.DB, tx, `UPDATE requests SET artifact_path=? WHERE id=?`, path, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func exec(ctx context.Context, db *sql.DB, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func queryRow(ctx context.Context, db *sql.DB, tx *sql.Tx, query string, args ...any) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return db.QueryRowContext(ctx, query, args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequestRow(row *sql.Row) (domain.Request, error) {
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	return req, err
}

func scanRequest(row rowScanner) (domain.Request, error) {
	var req domain.Request
	var applicant, purpose, useOfFunds, deadline, jurisdiction sql.NullString
	var artifactPath, reportAt, deliveredAt, archivedAt sql.NullString
	err := row.Scan(&req.ID, &req.ClientName, &req.ClientEmail, &req.GrantName,
		&applicant, &purpose, &useOfFunds, &deadline, &jurisdiction,
		&req.Status, &artifactPath, &req.CreatedAt, &reportAt, &deliveredAt, &archivedAt)
	if err != nil {
		return req, err
	}
	req.Applicant = applicant.String
	req.Purpose = purpose.String
	req.UseOfFunds = useOfFunds.String
	req.Deadline = deadline.String
	req.Jurisdiction = jurisdiction.String
	if artifactPath.Valid {
		req.ArtifactPath = &artifactPath.String
	}
	if reportAt.Valid {
		req.ReportAt = &reportAt.String
	}
	if deliveredAt.Valid {
		req.DeliveredAt = &deliveredAt.String
	}
	if archivedAt.Valid {
		req.ArchivedAt = &archivedAt.String
	}
	return req, nil
}

func (r Repo) ListGrants(ctx context.Context) ([]domain.Grant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,organization,min_amount,max_amount,locations_json,applicant_types_json,sectors_json,required_sections_json,deadline,source_url,last_verified_at FROM grants ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) GetGrant(ctx context.Context, id string) (domain.Grant, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,organization,min_amount,max_amount,locations_json,applicant_types_json,sectors_json,required_sections_json,deadline,source_url,last_verified_at FROM grants WHERE id=?`, id)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func scanGrant(row rowScanner) (domain.Grant, error) {
	var g domain.Grant
	var locations, applicantTypes, sectors, sections string
	var sourceURL, lastVerified sql.NullString
	err := row.Scan(&g.ID, &g.Name, &g.Organization, &g.MinAmount, &g.MaxAmount,
		&locations, &applicantTypes, &sectors, &sections, &g.Deadline, &sourceURL, &lastVerified)
	if err != nil {
		return g, err
	}
	for _, pair := range []struct {
		raw  string
		dest *[]string
	}{
		{locations, &g.Locations},
		{applicantTypes, &g.ApplicantTypes},
		{sectors, &g.Sectors},
		{sections, &g.RequiredSections},
	} {
		if pair.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return g, fmt.Errorf("grant %s: %w", g.ID, err)
		}
	}
	g.SourceURL = sourceURL.String
	g.LastVerifiedAt = lastVerified.String
	return g, nil
}

// LatestEvents returns up to n events newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, requestID string) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if requestID != "" {
		clauses = append(clauses, "request_id=?")
		args = append(args, requestID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	if n <= 0 {
		n = 50
	}
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(request_id,''),actor_id,payload_json FROM events `+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RequestID, &e.ActorID, &e.Payload); err != nil {
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
