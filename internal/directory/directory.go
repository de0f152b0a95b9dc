// Package directory serves the booking wizard from Postgres: it lists
// patients, departments, doctors, working dates and time slots, and books
// appointments.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/booking-wizard/internal/wizard"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

var tracer = otel.Tracer("booking.internal.directory")

// DB is the subset of pgxpool.Pool the directory uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config tunes a Directory.
type Config struct {
	// Location is the clinic time zone. Dates and slots are computed in it.
	Location *time.Location
	// DateWindow is how many days ahead the date stage lists.
	DateWindow int
	// PatientLimit caps patient listings and searches.
	PatientLimit int
	Clock        func() time.Time
	Logger       *logging.Logger
}

// Directory implements wizard.LookupService, wizard.Searcher and
// wizard.SubmissionService.
type Directory struct {
	db           DB
	loc          *time.Location
	window       int
	patientLimit int
	now          func() time.Time
	logger       *logging.Logger
}

var (
	_ wizard.LookupService     = (*Directory)(nil)
	_ wizard.Searcher          = (*Directory)(nil)
	_ wizard.SubmissionService = (*Directory)(nil)
)

// New creates a directory over db.
func New(db DB, cfg Config) *Directory {
	if db == nil {
		panic("directory: db required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DateWindow <= 0 {
		cfg.DateWindow = 14
	}
	if cfg.PatientLimit <= 0 {
		cfg.PatientLimit = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Directory{
		db:           db,
		loc:          cfg.Location,
		window:       cfg.DateWindow,
		patientLimit: cfg.PatientLimit,
		now:          cfg.Clock,
		logger:       cfg.Logger,
	}
}

// ErrUnsupportedStage is returned for stages the directory has no data for.
var ErrUnsupportedStage = errors.New("directory: unsupported stage")

// FetchCandidates lists the options of stage given the upstream selections.
func (d *Directory) FetchCandidates(ctx context.Context, stage wizard.Stage, up wizard.Upstream) ([]wizard.Candidate, error) {
	ctx, span := tracer.Start(ctx, "directory.fetch_candidates")
	defer span.End()
	span.SetAttributes(attribute.String("wizard.stage", stage.Name))

	var (
		items []wizard.Candidate
		err   error
	)
	switch stage.Name {
	case "patient":
		items, err = d.patients(ctx, "")
	case "department":
		items, err = d.departments(ctx)
	case "doctor":
		items, err = d.doctors(ctx, up.Value("department"))
	case "date":
		items, err = d.dates(ctx, up.Value("doctor"))
	case "slot":
		items, err = d.slots(ctx, up.Value("doctor"), up.Value("date"))
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedStage, stage.Name)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return items, nil
}

// SearchCandidates runs a patient name search. Other stages are small enough
// to filter in memory.
func (d *Directory) SearchCandidates(ctx context.Context, stage wizard.Stage, up wizard.Upstream, query string) ([]wizard.Candidate, error) {
	if stage.Name == "patient" {
		ctx, span := tracer.Start(ctx, "directory.search_patients")
		defer span.End()
		return d.patients(ctx, query)
	}
	items, err := d.FetchCandidates(ctx, stage, up)
	if err != nil {
		return nil, err
	}
	list := &wizard.CandidateList{Items: items}
	return list.Filter(query).Items, nil
}

func (d *Directory) patients(ctx context.Context, query string) ([]wizard.Candidate, error) {
	sql := `
		SELECT id, full_name, email
		FROM patients
		WHERE $1 = '' OR full_name ILIKE '%' || $1 || '%' OR CAST(id AS TEXT) = $1
		ORDER BY full_name, id
		LIMIT $2
	`
	rows, err := d.db.Query(ctx, sql, query, d.patientLimit)
	if err != nil {
		return nil, fmt.Errorf("directory: list patients: %w", err)
	}
	defer rows.Close()

	items := []wizard.Candidate{}
	for rows.Next() {
		var (
			id          int64
			name, email string
		)
		if err := rows.Scan(&id, &name, &email); err != nil {
			return nil, fmt.Errorf("directory: scan patient: %w", err)
		}
		c := wizard.Candidate{Value: strconv.FormatInt(id, 10), Label: name}
		if email != "" {
			c.Meta = map[string]string{"email": email}
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (d *Directory) departments(ctx context.Context) ([]wizard.Candidate, error) {
	rows, err := d.db.Query(ctx, `SELECT id, name FROM departments ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("directory: list departments: %w", err)
	}
	defer rows.Close()

	items := []wizard.Candidate{}
	for rows.Next() {
		var c wizard.Candidate
		if err := rows.Scan(&c.Value, &c.Label); err != nil {
			return nil, fmt.Errorf("directory: scan department: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (d *Directory) doctors(ctx context.Context, department string) ([]wizard.Candidate, error) {
	if department == "" {
		return nil, errors.New("directory: department required")
	}
	sql := `
		SELECT id, full_name
		FROM doctors
		WHERE department_id = $1 AND active
		ORDER BY full_name
	`
	rows, err := d.db.Query(ctx, sql, department)
	if err != nil {
		return nil, fmt.Errorf("directory: list doctors: %w", err)
	}
	defer rows.Close()

	items := []wizard.Candidate{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("directory: scan doctor: %w", err)
		}
		items = append(items, wizard.Candidate{Value: strconv.FormatInt(id, 10), Label: name})
	}
	return items, rows.Err()
}

func parseDoctor(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("directory: invalid doctor id %q", value)
	}
	return id, nil
}
