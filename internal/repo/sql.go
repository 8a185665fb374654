package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"bankintake/internal/domain"
	"bankintake/internal/events"
)

const applicationColumns = `id,reference_number,family,product_type,applicant_name,fields_json,status,submitted_at,decided_at,decided_by,updated_at`

// SQL stores applications in one table on SQLite or PostgreSQL.
type SQL struct {
	DB    *sqlx.DB
	Audit events.Writer
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{DB: db}
}

type applicationRow struct {
	ID              string         `db:"id"`
	ReferenceNumber string         `db:"reference_number"`
	Family          string         `db:"family"`
	ProductType     string         `db:"product_type"`
	ApplicantName   string         `db:"applicant_name"`
	FieldsJSON      string         `db:"fields_json"`
	Status          string         `db:"status"`
	SubmittedAt     string         `db:"submitted_at"`
	DecidedAt       sql.NullString `db:"decided_at"`
	DecidedBy       sql.NullString `db:"decided_by"`
	UpdatedAt       string         `db:"updated_at"`
}

func (r applicationRow) application() (domain.Application, error) {
	app := domain.Application{
		ID:              r.ID,
		ReferenceNumber: r.ReferenceNumber,
		Family:          domain.Family(r.Family),
		ProductType:     domain.ProductType(r.ProductType),
		ApplicantName:   r.ApplicantName,
		Status:          domain.Status(r.Status),
		DecidedBy:       r.DecidedBy.String,
	}
	if err := json.Unmarshal([]byte(r.FieldsJSON), &app.Fields); err != nil {
		return app, err
	}
	var err error
	if app.SubmittedAt, err = events.ParseTime(r.SubmittedAt); err != nil {
		return app, err
	}
	if app.UpdatedAt, err = events.ParseTime(r.UpdatedAt); err != nil {
		return app, err
	}
	if r.DecidedAt.Valid && r.DecidedAt.String != "" {
		t, err := events.ParseTime(r.DecidedAt.String)
		if err != nil {
			return app, err
		}
		app.DecidedAt = &t
	}
	return app, nil
}

func (s *SQL) Create(ctx context.Context, app domain.Application, evt domain.Event) error {
	fieldsJSON, err := json.Marshal(app.Fields)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	var decidedAt any
	if app.DecidedAt != nil {
		decidedAt = events.FormatTime(*app.DecidedAt)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO applications(`+applicationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		app.ID, app.ReferenceNumber, string(app.Family), string(app.ProductType), app.ApplicantName, string(fieldsJSON),
		string(app.Status), events.FormatTime(app.SubmittedAt), decidedAt, nullable(app.DecidedBy), events.FormatTime(app.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateReference
		}
		return unavailable(err)
	}
	if err := s.Audit.Append(ctx, tx, evt); err != nil {
		return unavailable(err)
	}
	return unavailable(tx.Commit())
}

func (s *SQL) FindByToken(ctx context.Context, family domain.Family, token string) (domain.Application, error) {
	var row applicationRow
	query := s.DB.Rebind(`SELECT ` + applicationColumns + ` FROM applications
WHERE family=? AND (id=? OR reference_number=?)
ORDER BY CASE WHEN id=? THEN 0 ELSE 1 END
LIMIT 1`)
	err := s.DB.GetContext(ctx, &row, query, string(family), token, token, token)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Application{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Application{}, unavailable(err)
	}
	app, err := row.application()
	if err != nil {
		return domain.Application{}, unavailable(err)
	}
	return app, nil
}

func where(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Family != "" {
		clauses = append(clauses, "family=?")
		args = append(args, string(f.Family))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.ProductType != "" {
		clauses = append(clauses, "product_type=?")
		args = append(args, string(f.ProductType))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := likePattern(q)
		clauses = append(clauses, `(LOWER(reference_number) LIKE ? ESCAPE '\' OR LOWER(applicant_name) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}

func (s *SQL) Find(ctx context.Context, f Filter) ([]domain.Application, error) {
	clause, args := where(f)
	query := `SELECT ` + applicationColumns + ` FROM applications` + clause + ` ORDER BY submitted_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Skip)
	}
	var rows []applicationRow
	if err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(query), args...); err != nil {
		return nil, unavailable(err)
	}
	out := make([]domain.Application, 0, len(rows))
	for _, r := range rows {
		app, err := r.application()
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, app)
	}
	return out, nil
}

func (s *SQL) Count(ctx context.Context, f Filter) (int64, error) {
	clause, args := where(f)
	var n int64
	if err := s.DB.GetContext(ctx, &n, s.DB.Rebind(`SELECT COUNT(*) FROM applications`+clause), args...); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *SQL) UpdateStatus(ctx context.Context, u StatusUpdate, evt domain.Event) (int64, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, unavailable(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE applications SET status=?, decided_at=?, decided_by=?, updated_at=?
WHERE id=? AND family=? AND status=?`),
		string(u.New), events.FormatTime(u.DecidedAt), nullable(u.ActorID), events.FormatTime(u.UpdatedAt),
		u.ID, string(u.Family), string(u.Expected))
	if err != nil {
		return 0, unavailable(err)
	}
	matched, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	if matched == 0 {
		return 0, nil
	}
	if err := s.Audit.Append(ctx, tx, evt); err != nil {
		return 0, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err)
	}
	return matched, nil
}

func (s *SQL) Events(ctx context.Context, applicationID string) ([]domain.Event, error) {
	evts, err := events.List(ctx, s.DB, applicationID)
	if err != nil {
		return nil, unavailable(err)
	}
	return evts, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return unavailable(s.DB.PingContext(ctx))
}

func (s *SQL) Close() error {
	return s.DB.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
