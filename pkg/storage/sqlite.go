package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on top of a SQLite database, migrated to
// the latest schema on open.
type SQLiteStore struct {
	db *sql.DB
	tx *sql.Tx
}

// dbtx is the subset of *sql.DB and *sql.Tx every query method needs. A
// SQLiteStore with tx set runs against that transaction instead of the
// pooled connection, so the same method bodies work standalone or inside
// WithTx without being duplicated.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) conn() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// NewSQLiteStore opens (creating if necessary) the database at
// <dataDir>/conary.db and brings it up to the latest schema version.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataDir, "conary.db")

	if err := runMigrations(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY from concurrent goroutines inside this process.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn against a single SQLite transaction: every store call fn
// makes through the Store it receives commits atomically together, or not
// at all if fn returns an error. This is the commit point spec §5 requires
// for a changeset's writes (one changeset row, its trove row, its file
// rows), matching the all-or-nothing guarantee the journal's DbCommitIntent/
// DbApplied barriers assume is available on the database side.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin changeset transaction: %w", err)
	}

	if err := fn(ctx, &SQLiteStore{db: s.db, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit changeset transaction: %w", err)
	}
	return nil
}

// ErrNotFound is wrapped into every not-found error this store returns, so
// callers that need to branch on absence (rather than just propagate the
// error) can use errors.Is(err, storage.ErrNotFound).
var ErrNotFound = errors.New("not found")

func errNotFound(kind string, key any) error {
	return fmt.Errorf("%s not found: %v: %w", kind, key, ErrNotFound)
}

// Troves

func (s *SQLiteStore) CreateTrove(ctx context.Context, t *Trove) (int64, error) {
	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO troves (name, version, type, architecture, description,
			installed_by_changeset_id, install_source, install_reason,
			selection_reason, flavor_spec, pinned, label_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Version, t.Type, nullStr(t.Architecture), nullStr(t.Description),
		nullID(t.InstalledByChangesetID), nullStr(t.InstallSource), t.InstallReason,
		nullStr(t.SelectionReason), nullStr(t.FlavorSpec), boolToInt(t.Pinned), nullID(t.LabelID))
	if err != nil {
		return 0, fmt.Errorf("creating trove %s: %w", t.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (s *SQLiteStore) GetTrove(ctx context.Context, id int64) (*Trove, error) {
	row := s.conn().QueryRowContext(ctx, troveSelectColumns+" FROM troves WHERE id = ?", id)
	return scanTrove(row, "trove", id)
}

func (s *SQLiteStore) GetTroveByName(ctx context.Context, name, version, architecture string) (*Trove, error) {
	row := s.conn().QueryRowContext(ctx,
		troveSelectColumns+" FROM troves WHERE name = ? AND version = ? AND architecture IS ?",
		name, version, nullStr(architecture))
	return scanTrove(row, "trove", name+" "+version)
}

func (s *SQLiteStore) ListTroves(ctx context.Context) ([]*Trove, error) {
	rows, err := s.conn().QueryContext(ctx, troveSelectColumns+" FROM troves ORDER BY name, version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTroves(rows)
}

func (s *SQLiteStore) ListTrovesByName(ctx context.Context, name string) ([]*Trove, error) {
	rows, err := s.conn().QueryContext(ctx, troveSelectColumns+" FROM troves WHERE name = ? ORDER BY version", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTroves(rows)
}

func (s *SQLiteStore) UpdateTrove(ctx context.Context, t *Trove) error {
	_, err := s.conn().ExecContext(ctx, `
		UPDATE troves SET description = ?, install_reason = ?, selection_reason = ?,
			flavor_spec = ?, pinned = ?, label_id = ?
		WHERE id = ?`,
		nullStr(t.Description), t.InstallReason, nullStr(t.SelectionReason),
		nullStr(t.FlavorSpec), boolToInt(t.Pinned), nullID(t.LabelID), t.ID)
	if err != nil {
		return fmt.Errorf("updating trove %d: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTrove(ctx context.Context, id int64) error {
	_, err := s.conn().ExecContext(ctx, "DELETE FROM troves WHERE id = ?", id)
	return err
}

const troveSelectColumns = `SELECT id, name, version, type, COALESCE(architecture, ''),
	COALESCE(description, ''), installed_at, COALESCE(installed_by_changeset_id, 0),
	COALESCE(install_source, ''), install_reason, COALESCE(selection_reason, ''),
	COALESCE(flavor_spec, ''), pinned, COALESCE(label_id, 0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrove(row rowScanner, kind string, key any) (*Trove, error) {
	var t Trove
	var pinned int
	err := row.Scan(&t.ID, &t.Name, &t.Version, &t.Type, &t.Architecture,
		&t.Description, &t.InstalledAt, &t.InstalledByChangesetID,
		&t.InstallSource, &t.InstallReason, &t.SelectionReason,
		&t.FlavorSpec, &pinned, &t.LabelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound(kind, key)
	}
	if err != nil {
		return nil, err
	}
	t.Pinned = pinned != 0
	return &t, nil
}

func scanTroves(rows *sql.Rows) ([]*Trove, error) {
	var out []*Trove
	for rows.Next() {
		t, err := scanTrove(rows, "trove", nil)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Files

func (s *SQLiteStore) CreateFile(ctx context.Context, f *File) (int64, error) {
	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO files (path, sha256_hash, size, permissions, owner, group_name, trove_id, component_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Path, f.SHA256Hash, f.Size, f.Permissions, nullStr(f.Owner), nullStr(f.GroupName),
		f.TroveID, nullID(f.ComponentID))
	if err != nil {
		return 0, fmt.Errorf("creating file %s: %w", f.Path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*File, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, path, sha256_hash, size, permissions, COALESCE(owner, ''),
			COALESCE(group_name, ''), trove_id, COALESCE(component_id, 0), installed_at
		FROM files WHERE path = ?`, path)
	var f File
	err := row.Scan(&f.ID, &f.Path, &f.SHA256Hash, &f.Size, &f.Permissions, &f.Owner,
		&f.GroupName, &f.TroveID, &f.ComponentID, &f.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("file", path)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) ListFilesByTrove(ctx context.Context, troveID int64) ([]*File, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, path, sha256_hash, size, permissions, COALESCE(owner, ''),
			COALESCE(group_name, ''), trove_id, COALESCE(component_id, 0), installed_at
		FROM files WHERE trove_id = ? ORDER BY path`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Path, &f.SHA256Hash, &f.Size, &f.Permissions, &f.Owner,
			&f.GroupName, &f.TroveID, &f.ComponentID, &f.InstalledAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteFilesByTrove(ctx context.Context, troveID int64) error {
	_, err := s.conn().ExecContext(ctx, "DELETE FROM files WHERE trove_id = ?", troveID)
	return err
}

// Flavors

func (s *SQLiteStore) CreateFlavor(ctx context.Context, f *Flavor) (int64, error) {
	res, err := s.conn().ExecContext(ctx,
		"INSERT INTO flavors (trove_id, key, value) VALUES (?, ?, ?)", f.TroveID, f.Key, f.Value)
	if err != nil {
		return 0, fmt.Errorf("creating flavor %s for trove %d: %w", f.Key, f.TroveID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

func (s *SQLiteStore) ListFlavorsByTrove(ctx context.Context, troveID int64) ([]*Flavor, error) {
	rows, err := s.conn().QueryContext(ctx,
		"SELECT id, trove_id, key, value FROM flavors WHERE trove_id = ? ORDER BY key", troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Flavor
	for rows.Next() {
		var f Flavor
		if err := rows.Scan(&f.ID, &f.TroveID, &f.Key, &f.Value); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// Dependencies

func (s *SQLiteStore) CreateDependency(ctx context.Context, d *Dependency) (int64, error) {
	kind := d.Kind
	if kind == "" {
		kind = "package"
	}
	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO dependencies (trove_id, depends_on_name, depends_on_version, dependency_type, version_constraint, kind)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.TroveID, d.DependsOnName, nullStr(d.DependsOnVersion), d.DependencyType,
		nullStr(d.VersionConstraint), kind)
	if err != nil {
		return 0, fmt.Errorf("creating dependency %s for trove %d: %w", d.DependsOnName, d.TroveID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

func (s *SQLiteStore) ListDependenciesByTrove(ctx context.Context, troveID int64) ([]*Dependency, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, trove_id, depends_on_name, COALESCE(depends_on_version, ''),
			dependency_type, COALESCE(version_constraint, ''), COALESCE(kind, 'package')
		FROM dependencies WHERE trove_id = ? ORDER BY depends_on_name`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func (s *SQLiteStore) ListDependents(ctx context.Context, name string) ([]*Dependency, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, trove_id, depends_on_name, COALESCE(depends_on_version, ''),
			dependency_type, COALESCE(version_constraint, ''), COALESCE(kind, 'package')
		FROM dependencies WHERE depends_on_name = ? ORDER BY trove_id`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func scanDependencies(rows *sql.Rows) ([]*Dependency, error) {
	var out []*Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.ID, &d.TroveID, &d.DependsOnName, &d.DependsOnVersion,
			&d.DependencyType, &d.VersionConstraint, &d.Kind); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Provides

func (s *SQLiteStore) CreateProvide(ctx context.Context, p *Provide) (int64, error) {
	kind := p.Kind
	if kind == "" {
		kind = "package"
	}
	res, err := s.conn().ExecContext(ctx,
		"INSERT INTO provides (trove_id, capability, version, kind) VALUES (?, ?, ?, ?)",
		p.TroveID, p.Capability, nullStr(p.Version), kind)
	if err != nil {
		return 0, fmt.Errorf("creating provide %s for trove %d: %w", p.Capability, p.TroveID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

func (s *SQLiteStore) ListProvidesByTrove(ctx context.Context, troveID int64) ([]*Provide, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, trove_id, capability, COALESCE(version, ''), COALESCE(kind, 'package')
		FROM provides WHERE trove_id = ? ORDER BY capability`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Provide
	for rows.Next() {
		var p Provide
		if err := rows.Scan(&p.ID, &p.TroveID, &p.Capability, &p.Version, &p.Kind); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindTrovesProviding(ctx context.Context, capability string) ([]*Trove, error) {
	rows, err := s.conn().QueryContext(ctx, troveSelectColumns+`
		FROM troves WHERE id IN (SELECT trove_id FROM provides WHERE capability = ?)
		ORDER BY name, version`, capability)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTroves(rows)
}

// Scriptlets

func (s *SQLiteStore) CreateScriptlet(ctx context.Context, sc *Scriptlet) (int64, error) {
	format := sc.PackageFormat
	if format == "" {
		format = "rpm"
	}
	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO scriptlets (trove_id, phase, interpreter, content, flags, package_format)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sc.TroveID, sc.Phase, sc.Interpreter, sc.Content, nullStr(sc.Flags), format)
	if err != nil {
		return 0, fmt.Errorf("creating %s scriptlet for trove %d: %w", sc.Phase, sc.TroveID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	sc.ID = id
	return id, nil
}

func (s *SQLiteStore) GetScriptlet(ctx context.Context, troveID int64, phase string) (*Scriptlet, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, trove_id, phase, interpreter, content, COALESCE(flags, ''), package_format
		FROM scriptlets WHERE trove_id = ? AND phase = ?`, troveID, phase)
	var sc Scriptlet
	err := row.Scan(&sc.ID, &sc.TroveID, &sc.Phase, &sc.Interpreter, &sc.Content, &sc.Flags, &sc.PackageFormat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("scriptlet", fmt.Sprintf("%d/%s", troveID, phase))
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *SQLiteStore) ListScriptletsByTrove(ctx context.Context, troveID int64) ([]*Scriptlet, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, trove_id, phase, interpreter, content, COALESCE(flags, ''), package_format
		FROM scriptlets WHERE trove_id = ? ORDER BY phase`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Scriptlet
	for rows.Next() {
		var sc Scriptlet
		if err := rows.Scan(&sc.ID, &sc.TroveID, &sc.Phase, &sc.Interpreter, &sc.Content, &sc.Flags, &sc.PackageFormat); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// Components

func (s *SQLiteStore) CreateComponent(ctx context.Context, c *Component) (int64, error) {
	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO components (parent_trove_id, name, description, is_installed)
		VALUES (?, ?, ?, ?)`,
		c.ParentTroveID, c.Name, nullStr(c.Description), boolToInt(c.IsInstalled))
	if err != nil {
		return 0, fmt.Errorf("creating component %s for trove %d: %w", c.Name, c.ParentTroveID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

func (s *SQLiteStore) ListComponentsByTrove(ctx context.Context, troveID int64) ([]*Component, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, parent_trove_id, name, COALESCE(description, ''), installed_at, is_installed
		FROM components WHERE parent_trove_id = ? ORDER BY name`, troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Component
	for rows.Next() {
		var c Component
		var installed int
		if err := rows.Scan(&c.ID, &c.ParentTroveID, &c.Name, &c.Description, &c.InstalledAt, &installed); err != nil {
			return nil, err
		}
		c.IsInstalled = installed != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Changesets

func (s *SQLiteStore) CreateChangeset(ctx context.Context, c *Changeset) (int64, error) {
	status := c.Status
	if status == "" {
		status = "pending"
	}
	res, err := s.conn().ExecContext(ctx,
		"INSERT INTO changesets (description, status, metadata, tx_uuid) VALUES (?, ?, ?, ?)",
		c.Description, status, nullStr(c.Metadata), nullStr(c.TxUUID))
	if err != nil {
		return 0, fmt.Errorf("creating changeset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

func (s *SQLiteStore) GetChangeset(ctx context.Context, id int64) (*Changeset, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, description, status, created_at, COALESCE(applied_at, ''),
			COALESCE(rolled_back_at, ''), COALESCE(reversed_by_changeset_id, 0), COALESCE(metadata, ''),
			COALESCE(tx_uuid, '')
		FROM changesets WHERE id = ?`, id)
	return scanChangeset(row, id)
}

// GetChangesetByTxUUID looks up the changeset a transaction engine run
// produced by its journal UUID. Recovery uses this to decide, when a
// journal's last barrier is DbCommitIntent, whether the database
// transaction actually committed before the crash.
func (s *SQLiteStore) GetChangesetByTxUUID(ctx context.Context, txUUID string) (*Changeset, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, description, status, created_at, COALESCE(applied_at, ''),
			COALESCE(rolled_back_at, ''), COALESCE(reversed_by_changeset_id, 0), COALESCE(metadata, ''),
			COALESCE(tx_uuid, '')
		FROM changesets WHERE tx_uuid = ?`, txUUID)
	return scanChangeset(row, txUUID)
}

func (s *SQLiteStore) ListChangesets(ctx context.Context) ([]*Changeset, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, description, status, created_at, COALESCE(applied_at, ''),
			COALESCE(rolled_back_at, ''), COALESCE(reversed_by_changeset_id, 0), COALESCE(metadata, ''),
			COALESCE(tx_uuid, '')
		FROM changesets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Changeset
	for rows.Next() {
		c, err := scanChangeset(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChangeset(row rowScanner, key any) (*Changeset, error) {
	var c Changeset
	err := row.Scan(&c.ID, &c.Description, &c.Status, &c.CreatedAt, &c.AppliedAt,
		&c.RolledBackAt, &c.ReversedByChangesetID, &c.Metadata, &c.TxUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("changeset", key)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateChangesetStatus(ctx context.Context, id int64, status string) error {
	var err error
	switch status {
	case "applied":
		_, err = s.conn().ExecContext(ctx,
			"UPDATE changesets SET status = ?, applied_at = CURRENT_TIMESTAMP WHERE id = ?", status, id)
	case "rolled_back":
		_, err = s.conn().ExecContext(ctx,
			"UPDATE changesets SET status = ?, rolled_back_at = CURRENT_TIMESTAMP WHERE id = ?", status, id)
	default:
		_, err = s.conn().ExecContext(ctx, "UPDATE changesets SET status = ? WHERE id = ?", status, id)
	}
	return err
}

// Labels

func (s *SQLiteStore) CreateLabel(ctx context.Context, l *Label) (int64, error) {
	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO labels (repository, namespace, tag, description, parent_label_id)
		VALUES (?, ?, ?, ?, ?)`,
		l.Repository, l.Namespace, l.Tag, nullStr(l.Description), nullID(l.ParentLabelID))
	if err != nil {
		return 0, fmt.Errorf("creating label %s@%s:%s: %w", l.Repository, l.Namespace, l.Tag, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	l.ID = id
	return id, nil
}

func (s *SQLiteStore) GetLabelByID(ctx context.Context, id int64) (*Label, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, repository, namespace, tag, COALESCE(description, ''),
			COALESCE(parent_label_id, 0), created_at
		FROM labels WHERE id = ?`, id)
	return scanLabel(row, id)
}

func (s *SQLiteStore) FindLabel(ctx context.Context, repository, namespace, tag string) (*Label, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, repository, namespace, tag, COALESCE(description, ''),
			COALESCE(parent_label_id, 0), created_at
		FROM labels WHERE repository = ? AND namespace = ? AND tag = ?`, repository, namespace, tag)
	return scanLabel(row, repository+"@"+namespace+":"+tag)
}

func (s *SQLiteStore) ListLabels(ctx context.Context) ([]*Label, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, repository, namespace, tag, COALESCE(description, ''),
			COALESCE(parent_label_id, 0), created_at
		FROM labels ORDER BY repository, namespace, tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Label
	for rows.Next() {
		l, err := scanLabel(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLabel(row rowScanner, key any) (*Label, error) {
	var l Label
	err := row.Scan(&l.ID, &l.Repository, &l.Namespace, &l.Tag, &l.Description, &l.ParentLabelID, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("label", key)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Label path

func (s *SQLiteStore) UpsertLabelPathEntry(ctx context.Context, e *LabelPathEntry) error {
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO label_path (label_id, priority, enabled) VALUES (?, ?, ?)
		ON CONFLICT(label_id) DO UPDATE SET priority = excluded.priority, enabled = excluded.enabled`,
		e.LabelID, e.Priority, boolToInt(e.Enabled))
	return err
}

func (s *SQLiteStore) ListLabelPath(ctx context.Context) ([]*LabelPathEntry, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, label_id, priority, enabled FROM label_path WHERE enabled = 1 ORDER BY priority ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LabelPathEntry
	for rows.Next() {
		var e LabelPathEntry
		var enabled int
		if err := rows.Scan(&e.ID, &e.LabelID, &e.Priority, &enabled); err != nil {
			return nil, err
		}
		e.Enabled = enabled != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

// System states

func (s *SQLiteStore) CreateSystemState(ctx context.Context, st *SystemState) (int64, error) {
	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO system_states (state_number, summary, description, changeset_id, is_active, package_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.StateNumber, st.Summary, nullStr(st.Description), nullID(st.ChangesetID),
		boolToInt(st.IsActive), st.PackageCount)
	if err != nil {
		return 0, fmt.Errorf("creating system state %d: %w", st.StateNumber, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	st.ID = id
	return id, nil
}

func (s *SQLiteStore) GetActiveSystemState(ctx context.Context) (*SystemState, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, state_number, summary, COALESCE(description, ''), created_at,
			COALESCE(changeset_id, 0), is_active, package_count
		FROM system_states WHERE is_active = 1 LIMIT 1`)
	return scanSystemState(row, "active")
}

func (s *SQLiteStore) ListSystemStates(ctx context.Context) ([]*SystemState, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, state_number, summary, COALESCE(description, ''), created_at,
			COALESCE(changeset_id, 0), is_active, package_count
		FROM system_states ORDER BY state_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SystemState
	for rows.Next() {
		st, err := scanSystemState(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanSystemState(row rowScanner, key any) (*SystemState, error) {
	var st SystemState
	var active int
	err := row.Scan(&st.ID, &st.StateNumber, &st.Summary, &st.Description, &st.CreatedAt,
		&st.ChangesetID, &active, &st.PackageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("system state", key)
	}
	if err != nil {
		return nil, err
	}
	st.IsActive = active != 0
	return &st, nil
}

func (s *SQLiteStore) AddStateMember(ctx context.Context, m *StateMember) error {
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO state_members (state_id, trove_name, trove_version, architecture, install_reason, selection_reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.StateID, m.TroveName, m.TroveVersion, nullStr(m.Architecture), m.InstallReason, nullStr(m.SelectionReason))
	return err
}

func (s *SQLiteStore) ListStateMembers(ctx context.Context, stateID int64) ([]*StateMember, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, state_id, trove_name, trove_version, COALESCE(architecture, ''),
			install_reason, COALESCE(selection_reason, '')
		FROM state_members WHERE state_id = ? ORDER BY trove_name`, stateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StateMember
	for rows.Next() {
		var m StateMember
		if err := rows.Scan(&m.ID, &m.StateID, &m.TroveName, &m.TroveVersion, &m.Architecture,
			&m.InstallReason, &m.SelectionReason); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Triggers

func (s *SQLiteStore) ListTriggers(ctx context.Context) ([]*Trigger, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), pattern, handler, priority, enabled, builtin, created_at
		FROM triggers ORDER BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (s *SQLiteStore) ListEnabledTriggers(ctx context.Context) ([]*Trigger, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), pattern, handler, priority, enabled, builtin, created_at
		FROM triggers WHERE enabled = 1 ORDER BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func scanTriggers(rows *sql.Rows) ([]*Trigger, error) {
	var out []*Trigger
	for rows.Next() {
		var t Trigger
		var enabled, builtin int
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Pattern, &t.Handler,
			&t.Priority, &enabled, &builtin, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		t.Builtin = builtin != 0
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTriggerDependencies(ctx context.Context, triggerID int64) ([]string, error) {
	rows, err := s.conn().QueryContext(ctx,
		"SELECT depends_on FROM trigger_dependencies WHERE trigger_id = ?", triggerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

// RecordChangesetTriggers inserts one pending changeset_triggers row per
// matched trigger. A trigger already recorded for this changeset (e.g. two
// files under the same pattern) is left untouched rather than duplicated.
func (s *SQLiteStore) RecordChangesetTriggers(ctx context.Context, changesetID int64, triggers []*Trigger, matchedFiles map[int64]int) error {
	for _, t := range triggers {
		_, err := s.conn().ExecContext(ctx, `
			INSERT INTO changeset_triggers (changeset_id, trigger_id, status, matched_files)
			VALUES (?, ?, 'pending', ?)
			ON CONFLICT(changeset_id, trigger_id) DO NOTHING`,
			changesetID, t.ID, matchedFiles[t.ID])
		if err != nil {
			return fmt.Errorf("record changeset trigger %s: %w", t.Name, err)
		}
	}
	return nil
}

// PendingChangesetTriggers returns the triggers still pending for a
// changeset, ordered by their dependency DAG (a trigger never runs before
// one it depends on) and, within that, by ascending priority.
func (s *SQLiteStore) PendingChangesetTriggers(ctx context.Context, changesetID int64) ([]*Trigger, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT t.id, t.name, COALESCE(t.description, ''), t.pattern, t.handler, t.priority, t.enabled, t.builtin, t.created_at
		FROM changeset_triggers ct
		JOIN triggers t ON t.id = ct.trigger_id
		WHERE ct.changeset_id = ? AND ct.status = 'pending'
		ORDER BY t.priority, t.name`, changesetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pending, err := scanTriggers(rows)
	if err != nil {
		return nil, err
	}
	return orderTriggersByDependency(ctx, s, pending)
}

// orderTriggersByDependency topologically sorts triggers so a trigger
// listed in another's trigger_dependencies always runs first, preserving
// the priority/name order among triggers with no relative ordering.
func orderTriggersByDependency(ctx context.Context, s *SQLiteStore, triggers []*Trigger) ([]*Trigger, error) {
	byName := make(map[string]*Trigger, len(triggers))
	for _, t := range triggers {
		byName[t.Name] = t
	}

	deps := make(map[int64][]string, len(triggers))
	for _, t := range triggers {
		d, err := s.GetTriggerDependencies(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		deps[t.ID] = d
	}

	var ordered []*Trigger
	visited := make(map[int64]bool, len(triggers))
	visiting := make(map[int64]bool, len(triggers))

	var visit func(t *Trigger) error
	visit = func(t *Trigger) error {
		if visited[t.ID] {
			return nil
		}
		if visiting[t.ID] {
			return fmt.Errorf("cycle detected in trigger dependencies at %s", t.Name)
		}
		visiting[t.ID] = true
		for _, depName := range deps[t.ID] {
			if dep, ok := byName[depName]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		visiting[t.ID] = false
		visited[t.ID] = true
		ordered = append(ordered, t)
		return nil
	}

	for _, t := range triggers {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func (s *SQLiteStore) MarkChangesetTriggerRunning(ctx context.Context, changesetID, triggerID int64) error {
	_, err := s.conn().ExecContext(ctx, `
		UPDATE changeset_triggers SET status = 'running', started_at = CURRENT_TIMESTAMP
		WHERE changeset_id = ? AND trigger_id = ?`, changesetID, triggerID)
	return err
}

func (s *SQLiteStore) MarkChangesetTriggerCompleted(ctx context.Context, changesetID, triggerID int64, output string) error {
	_, err := s.conn().ExecContext(ctx, `
		UPDATE changeset_triggers SET status = 'completed', completed_at = CURRENT_TIMESTAMP, output = ?
		WHERE changeset_id = ? AND trigger_id = ?`, nullStr(output), changesetID, triggerID)
	return err
}

func (s *SQLiteStore) MarkChangesetTriggerFailed(ctx context.Context, changesetID, triggerID int64, errMsg string) error {
	_, err := s.conn().ExecContext(ctx, `
		UPDATE changeset_triggers SET status = 'failed', completed_at = CURRENT_TIMESTAMP, output = ?
		WHERE changeset_id = ? AND trigger_id = ?`, nullStr(errMsg), changesetID, triggerID)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
