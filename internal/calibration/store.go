package calibration

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/geometry"
	"github.com/banshee-data/irmarker/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one stored calibration.
type Entry struct {
	Device      blob.DeviceID
	Calibration geometry.Calibration
	Notes       string
	UpdatedAt   time.Time
}

// Store is a SQLite-backed calibration store.
type Store struct {
	*sql.DB
	path string
	now  func() time.Time
}

// OpenStore opens (creating if needed) the store at path and migrates it to
// the latest schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	s := &Store{DB: db, path: path, now: time.Now}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file the store was opened from.
func (s *Store) Path() string { return s.path }

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version. It is 0 when no
// migration has been applied.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Put validates and stores e, replacing any previous calibration for the
// same device.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if _, err := geometry.NewCamera(e.Calibration); err != nil {
		return fmt.Errorf("calibration for %s: %w", e.Device, err)
	}
	cols := make([]any, 0, 4)
	for _, m := range [][][]float64{
		e.Calibration.CameraMatrix,
		e.Calibration.DistortionCoefficients,
		e.Calibration.RotationMatrix,
		e.Calibration.TranslationVector,
	} {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		cols = append(cols, string(b))
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO calibrations (
			device, camera_matrix, distortion_coefficients, rotation_matrix,
			translation_vector, notes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device) DO UPDATE SET
			camera_matrix = excluded.camera_matrix,
			distortion_coefficients = excluded.distortion_coefficients,
			rotation_matrix = excluded.rotation_matrix,
			translation_vector = excluded.translation_vector,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		blob.CanonicalDevice(e.Device).String(), cols[0], cols[1], cols[2], cols[3], e.Notes,
		s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store calibration for %s: %w", e.Device, err)
	}
	return nil
}

// PutSet stores every calibration of set.
func (s *Store) PutSet(ctx context.Context, set Set) error {
	for dev, cal := range set {
		if err := s.Put(ctx, Entry{Device: dev, Calibration: cal}); err != nil {
			return err
		}
	}
	return nil
}

const selectEntry = `
	SELECT device, camera_matrix, distortion_coefficients, rotation_matrix,
		translation_vector, notes, updated_at
	FROM calibrations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e       Entry
		dev     string
		k, d, r string
		t       string
		updated int64
	)
	if err := row.Scan(&dev, &k, &d, &r, &t, &e.Notes, &updated); err != nil {
		return e, err
	}
	e.UpdatedAt = time.Unix(0, updated)
	var err error
	if e.Device, err = blob.ParseDevice(dev); err != nil {
		return e, err
	}
	if e.Calibration.CameraMatrix, err = Reshape("camera_matrix", json.RawMessage(k), 3, 3); err != nil {
		return e, err
	}
	if e.Calibration.DistortionCoefficients, err = Reshape("distortion_coefficients", json.RawMessage(d), 1, 5); err != nil {
		return e, err
	}
	if e.Calibration.RotationMatrix, err = Reshape("rotation_matrix", json.RawMessage(r), 3, 3); err != nil {
		return e, err
	}
	if e.Calibration.TranslationVector, err = Reshape("translation_vector", json.RawMessage(t), 3, 1); err != nil {
		return e, err
	}
	return e, nil
}

// Get returns the calibration of dev, or ErrUnknownDevice.
func (s *Store) Get(ctx context.Context, dev blob.DeviceID) (Entry, error) {
	row := s.QueryRowContext(ctx, selectEntry+` WHERE device = ?`, blob.CanonicalDevice(dev).String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w %s", ErrUnknownDevice, dev)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to load calibration for %s: %w", dev, err)
	}
	return e, nil
}

// List returns every stored calibration ordered by device.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.QueryContext(ctx, selectEntry+` ORDER BY device`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibrations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calibration: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Set returns the stored calibrations as a Set.
func (s *Store) Set(ctx context.Context) (Set, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	set := make(Set, len(entries))
	for _, e := range entries {
		set[e.Device] = e.Calibration
	}
	return set, nil
}

// Delete removes the calibration of dev. Deleting an unknown device
// returns ErrUnknownDevice.
func (s *Store) Delete(ctx context.Context, dev blob.DeviceID) error {
	res, err := s.ExecContext(ctx, `DELETE FROM calibrations WHERE device = ?`, blob.CanonicalDevice(dev).String())
	if err != nil {
		return fmt.Errorf("failed to delete calibration for %s: %w", dev, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w %s", ErrUnknownDevice, dev)
	}
	return nil
}
