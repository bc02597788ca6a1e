// Package sqlrepo is the crash-safe SQL-backed repository.Repository
// implementation: a single connection to a WAL-mode SQLite database,
// with save as one DELETE-all/INSERT-all transaction.
package sqlrepo

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"preloadd/internal/domain"
	"preloadd/internal/errs"
	"preloadd/internal/repository"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	schema_version INTEGER NOT NULL,
	model_time INTEGER NOT NULL,
	last_accounting_time INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS exes (
	path TEXT NOT NULL PRIMARY KEY,
	total_running_time INTEGER NOT NULL,
	last_seen_time INTEGER
);
CREATE TABLE IF NOT EXISTS maps (
	path TEXT NOT NULL,
	offset INTEGER NOT NULL,
	length INTEGER NOT NULL,
	update_time INTEGER NOT NULL,
	PRIMARY KEY (path, offset, length)
);
CREATE TABLE IF NOT EXISTS exe_maps (
	exe_path TEXT NOT NULL,
	map_path TEXT NOT NULL,
	map_offset INTEGER NOT NULL,
	map_length INTEGER NOT NULL,
	prob REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS markovs (
	exe_a TEXT NOT NULL,
	exe_b TEXT NOT NULL,
	time_to_leave BLOB NOT NULL,
	transition_prob BLOB NOT NULL,
	both_running_time INTEGER NOT NULL
);
`

// Repository is a single-connection SQLite-backed repository.Repository.
type Repository struct {
	path string
	db   *sql.DB
}

// Open creates or opens a SQLite database at path in WAL mode, applies
// the schema if missing, and validates the schema version of any
// existing state row.
func Open(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrap(err, errs.KindFatal, "sqlrepo.Open")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindFatal, "sqlrepo.Open")
	}
	db.SetMaxOpenConns(1) // single-threaded by construction, per spec.md §6

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.KindFatal, "sqlrepo.Open")
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.KindFatal, "sqlrepo.Open")
	}

	r := &Repository{path: path, db: db}
	if err := r.checkSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) checkSchemaVersion() error {
	row := r.db.QueryRow("SELECT schema_version FROM state WHERE id = 1")
	var version int
	err := row.Scan(&version)
	if err == sql.ErrNoRows {
		return nil // fresh database, nothing to validate yet
	}
	if err != nil {
		return errs.Wrap(err, errs.KindPersistence, "sqlrepo.checkSchemaVersion")
	}
	if version != repository.SchemaVersion {
		return errs.WrapDetail(errs.ErrSchemaIncompatible, errs.KindPersistence, "sqlrepo.checkSchemaVersion",
			fmt.Sprintf("on-disk schema version %d incompatible with %d", version, repository.SchemaVersion))
	}
	return nil
}

// Load implements repository.Repository.
func (r *Repository) Load() (repository.Snapshot, error) {
	snap := repository.Snapshot{SchemaVersion: repository.SchemaVersion}

	row := r.db.QueryRow("SELECT schema_version, model_time, last_accounting_time FROM state WHERE id = 1")
	var version int
	var modelTime, lastAccounting int64
	if err := row.Scan(&version, &modelTime, &lastAccounting); err != nil {
		if err != sql.ErrNoRows {
			return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
		}
	} else {
		snap.SchemaVersion = version
		snap.ModelTime = domain.Tick(modelTime)
		snap.LastAccountingTime = domain.Tick(lastAccounting)
	}

	exeRows, err := r.db.Query("SELECT path, total_running_time, last_seen_time FROM exes")
	if err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}
	for exeRows.Next() {
		var path string
		var totalRunning int64
		var lastSeen sql.NullInt64
		if err := exeRows.Scan(&path, &totalRunning, &lastSeen); err != nil {
			exeRows.Close()
			return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
		}
		snap.Exes = append(snap.Exes, repository.ExeRecord{
			Path:             path,
			TotalRunningTime: domain.Tick(totalRunning),
			LastSeenTime:     domain.Tick(lastSeen.Int64),
			HasLastSeenTime:  lastSeen.Valid,
		})
	}
	exeRows.Close()
	if err := exeRows.Err(); err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}

	mapRows, err := r.db.Query("SELECT path, offset, length, update_time FROM maps")
	if err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}
	for mapRows.Next() {
		var path string
		var offset, length, updateTime int64
		if err := mapRows.Scan(&path, &offset, &length, &updateTime); err != nil {
			mapRows.Close()
			return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
		}
		snap.Maps = append(snap.Maps, repository.MapRecord{
			Path: path, Offset: uint64(offset), Length: uint64(length),
			LastUpdateTime: domain.Tick(updateTime),
		})
	}
	mapRows.Close()
	if err := mapRows.Err(); err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}

	emRows, err := r.db.Query("SELECT exe_path, map_path, map_offset, map_length, prob FROM exe_maps")
	if err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}
	for emRows.Next() {
		var exePath, mapPath string
		var mapOffset, mapLength int64
		var prob float64
		if err := emRows.Scan(&exePath, &mapPath, &mapOffset, &mapLength, &prob); err != nil {
			emRows.Close()
			return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
		}
		snap.ExeMaps = append(snap.ExeMaps, repository.ExeMapRecord{
			ExePath: exePath, MapPath: mapPath,
			MapOffset: uint64(mapOffset), MapLength: uint64(mapLength),
			Prob: float32(prob),
		})
	}
	emRows.Close()
	if err := emRows.Err(); err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}

	mkRows, err := r.db.Query("SELECT exe_a, exe_b, time_to_leave, transition_prob, both_running_time FROM markovs")
	if err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}
	for mkRows.Next() {
		var exeA, exeB string
		var ttlBlob, tpBlob []byte
		var bothRunning int64
		if err := mkRows.Scan(&exeA, &exeB, &ttlBlob, &tpBlob, &bothRunning); err != nil {
			mkRows.Close()
			return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
		}
		ttl, err := decodeFloat32Array4(ttlBlob)
		if err != nil {
			mkRows.Close()
			return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
		}
		tp, err := decodeFloat32Matrix4x4(tpBlob)
		if err != nil {
			mkRows.Close()
			return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
		}
		snap.MarkovEdges = append(snap.MarkovEdges, repository.MarkovRecord{
			ExeA: exeA, ExeB: exeB,
			TimeToLeave: ttl, TransitionProb: tp,
			BothRunningTime: domain.Tick(bothRunning),
		})
	}
	mkRows.Close()
	if err := mkRows.Err(); err != nil {
		return repository.Snapshot{}, errs.Wrap(err, errs.KindPersistence, "sqlrepo.Load")
	}

	return snap, nil
}

// Save implements repository.Repository: delete-all then insert-all in
// a single transaction, so a crash mid-save never leaves a partial
// snapshot visible on restart.
func (r *Repository) Save(snap repository.Snapshot) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM state", "DELETE FROM exes", "DELETE FROM maps",
		"DELETE FROM exe_maps", "DELETE FROM markovs",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO state (id, schema_version, model_time, last_accounting_time) VALUES (1, ?, ?, ?)",
		repository.SchemaVersion, int64(snap.ModelTime), int64(snap.LastAccountingTime),
	); err != nil {
		return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
	}

	for _, e := range snap.Exes {
		var lastSeen sql.NullInt64
		if e.HasLastSeenTime {
			lastSeen = sql.NullInt64{Int64: int64(e.LastSeenTime), Valid: true}
		}
		if _, err := tx.Exec(
			"INSERT INTO exes (path, total_running_time, last_seen_time) VALUES (?, ?, ?)",
			e.Path, int64(e.TotalRunningTime), lastSeen,
		); err != nil {
			return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
		}
	}

	for _, m := range snap.Maps {
		if _, err := tx.Exec(
			"INSERT INTO maps (path, offset, length, update_time) VALUES (?, ?, ?, ?)",
			m.Path, int64(m.Offset), int64(m.Length), int64(m.LastUpdateTime),
		); err != nil {
			return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
		}
	}

	for _, a := range snap.ExeMaps {
		if _, err := tx.Exec(
			"INSERT INTO exe_maps (exe_path, map_path, map_offset, map_length, prob) VALUES (?, ?, ?, ?, ?)",
			a.ExePath, a.MapPath, int64(a.MapOffset), int64(a.MapLength), float64(a.Prob),
		); err != nil {
			return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
		}
	}

	for _, e := range snap.MarkovEdges {
		ttlBlob := encodeFloat32Array4(e.TimeToLeave)
		tpBlob := encodeFloat32Matrix4x4(e.TransitionProb)
		if _, err := tx.Exec(
			"INSERT INTO markovs (exe_a, exe_b, time_to_leave, transition_prob, both_running_time) VALUES (?, ?, ?, ?, ?)",
			e.ExeA, e.ExeB, ttlBlob, tpBlob, int64(e.BothRunningTime),
		); err != nil {
			return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(err, errs.KindPersistence, "sqlrepo.Save")
	}
	return nil
}

// Close implements repository.Repository.
func (r *Repository) Close() error { return r.db.Close() }
