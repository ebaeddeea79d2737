// Package scheduler reconciles the NINA Target Scheduler plugin database
// with the acquisition archive: accepted counts flow from the archive into
// exposure plans, and project states follow the pipeline stage of the data.
package scheduler

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"astrokeep/internal/config"
	"astrokeep/internal/fsutil"
	"astrokeep/internal/meta"
	"astrokeep/internal/storage"
)

// MasterReadyPercent is the fraction of desired subs at which a channel is
// considered complete enough to stack.
const MasterReadyPercent = 0.95

// DB wraps the scheduler plugin's SQLite database.
type DB struct {
	path string
	db   *sql.DB
}

// Open connects to the scheduler database at path.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("scheduler database not found at %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler database ping failed: %w", err)
	}
	return &DB{path: path, db: db}, nil
}

// Close closes the connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

type exposurePlan struct {
	id              int64
	profileID       string
	targetName      string
	filterName      string
	accepted        int
	desired         int
	defaultExposure float64
	exposure        float64
	projectState    int
	projectID       string
	projectName     string
}

// UpdateAccepted pushes accepted frame counts from the archive into every
// exposure plan and moves project states to match where the data sits in the
// pipeline. Returns the number of plans updated.
func (d *DB) UpdateAccepted(store *storage.Store, dryRun bool) (int, error) {
	rows, err := d.db.Query(`
        select ep.id, ep.profileid, t.name, et.name, ep.accepted, ep.desired,
               et.defaultexposure, ep.exposure, p.state, p.id, p.name
        from exposuretemplate et, exposureplan ep, target t, project p
        where ep.profileid = et.profileid
        and ep.profileid = p.profileid
        and ep.targetid = t.id
        and ep.exposuretemplateid = et.id
        and t.projectid = p.id;`)
	if err != nil {
		return 0, err
	}
	var plans []exposurePlan
	for rows.Next() {
		var p exposurePlan
		if err := rows.Scan(&p.id, &p.profileID, &p.targetName, &p.filterName,
			&p.accepted, &p.desired, &p.defaultExposure, &p.exposure,
			&p.projectState, &p.projectID, &p.projectName); err != nil {
			rows.Close()
			return 0, err
		}
		plans = append(plans, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, plan := range plans {
		exposureDuration := plan.defaultExposure
		if plan.exposure > 0 {
			exposureDuration = plan.exposure
		}
		targetName, panelName := meta.NormalizeTargetName(plan.targetName)

		newState, err := projectStateFor(store, plan.profileID, targetName, panelName, plan.projectState)
		if err != nil {
			return updated, err
		}

		newAccepted, err := acceptedCountFor(store, plan.profileID, targetName, panelName, plan.filterName, exposureDuration)
		if err != nil {
			return updated, err
		}

		// a nearly-complete channel counts as done so the scheduler stops
		// collecting single subs for it, set well past any % over 100%
		if newAccepted < plan.desired && float64(newAccepted)/float64(plan.desired) > MasterReadyPercent {
			newAccepted = plan.desired * 2
		}

		if newAccepted != plan.accepted {
			slog.Info("updating accepted count", "target", targetName, "panel", panelName,
				"filter", plan.filterName, "old", plan.accepted, "new", newAccepted)
			if !dryRun {
				_, err := d.db.Exec(`update exposureplan set accepted=?, acquired=? where id=?;`,
					newAccepted, newAccepted, plan.id)
				if err != nil {
					return updated, err
				}
			}
			updated++
		}

		if newState != plan.projectState {
			slog.Info("updating project state", "project", plan.projectName, "target", targetName,
				"old", plan.projectState, "new", newState)
			if !dryRun {
				if _, err := d.db.Exec(`update project set state=? where id=?;`, newState, plan.projectID); err != nil {
					return updated, err
				}
			}
		}
	}
	return updated, nil
}

// projectStateFor derives a project state from where the accepted data for
// the target sits in the pipeline. Data split across stages, common before
// master calibration frames exist, takes the highest stage found.
func projectStateFor(store *storage.Store, profileID, targetName, panelName string, current int) (int, error) {
	rows, err := store.DB.Query(`
        select distinct a.raw_directory
        from target t, accepted_data a, profile p
        where a.target_id = t.id
        and a.camera_id = p.camera_id
        and a.optic_id = p.optic_id
        and p.id = ? and t.name = ? and a.panel_name = ?;`,
		profileID, targetName, panelName)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	state := current
	found := false
	for rows.Next() {
		var dir string
		if err := rows.Scan(&dir); err != nil {
			return 0, err
		}
		if !found {
			state = -1
			found = true
		}
		if s := config.StageStatus(dir); s > state {
			state = s
		}
	}
	return state, rows.Err()
}

func acceptedCountFor(store *storage.Store, profileID, targetName, panelName, filterName string, exposureDuration float64) (int, error) {
	var count sql.NullInt64
	err := store.DB.QueryRow(`
        select sum(a.accepted_count)
        from target t, accepted_data a, filter f, profile p
        where a.target_id = t.id
        and a.filter_id = f.id
        and a.camera_id = p.camera_id
        and a.optic_id = p.optic_id
        and p.id = ? and t.name = ? and a.panel_name = ?
        and f.name = ? and a.shutter_time_seconds = ?;`,
		profileID, targetName, panelName, filterName, exposureDuration).Scan(&count)
	if err != nil {
		return 0, err
	}
	return int(count.Int64), nil
}

// ResetAcceptedToAcquired marks every acquired frame as accepted, the state
// before any culling has happened.
func (d *DB) ResetAcceptedToAcquired() error {
	_, err := d.db.Exec(`update exposureplan set accepted=acquired;`)
	return err
}

// DisableUnusedProjects sets every project without exposure plans back to
// draft. Returns the number of projects disabled. Assumes one target per
// project.
func (d *DB) DisableUnusedProjects(dryRun bool) (int, error) {
	rows, err := d.db.Query(`
        select distinct p.id, p.name, t.name, p.state, p.profileid
        from target t, project p
        where t.projectid = p.id
        and p.state <> 0
        and t.id not in (select ep.targetid from exposureplan ep)
        group by t.id;`)
	if err != nil {
		return 0, err
	}
	type project struct {
		id, name, targetName, profileID string
		state                           int
	}
	var unused []project
	for rows.Next() {
		var p project
		if err := rows.Scan(&p.id, &p.name, &p.targetName, &p.state, &p.profileID); err != nil {
			rows.Close()
			return 0, err
		}
		unused = append(unused, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range unused {
		slog.Info("disabling unused project", "profile", p.profileID, "project", p.name,
			"target", p.targetName, "old", p.state, "new", config.StatusDraft)
		if !dryRun {
			if _, err := d.db.Exec(`update project set state=? where id=?;`, config.StatusDraft, p.id); err != nil {
				return 0, err
			}
		}
	}
	return len(unused), nil
}

// ReadyForMaster lists acquisition directories whose every exposure plan is
// close enough to its desired count to stack.
func (d *DB) ReadyForMaster(store *storage.Store) ([]string, error) {
	byDir, err := store.AcceptedByDirectory(config.DirData)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var ready []string
	for _, dir := range dirs {
		// the accept suffix makes the target name recoverable from the path
		attrs, err := meta.FileHeaders(filepath.Join(dir, config.DirAccept), true)
		if err != nil {
			return nil, err
		}
		targetName := attrs["targetname"]
		if targetName == "" {
			slog.Warn("no target name recoverable from directory", "dir", dir)
			continue
		}

		ok, err := d.targetReady(targetName)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, dir)
		}
	}
	return ready, nil
}

// targetReady reports whether every exposure plan for the target (and its
// panels) has enough accepted subs.
func (d *DB) targetReady(targetName string) (bool, error) {
	rows, err := d.db.Query(`
        select ep.desired, ep.accepted
        from exposureplan ep, target t
        where ep.targetid = t.id and t.name like ?;`, targetName+"%")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	ready := false
	for rows.Next() {
		var desired, accepted int
		if err := rows.Scan(&desired, &accepted); err != nil {
			return false, err
		}
		ready = true
		if desired > 0 && float64(accepted) <= float64(desired)*MasterReadyPercent {
			return false, rows.Err()
		}
	}
	return ready, rows.Err()
}

// Backup copies the scheduler database file to dst.
func (d *DB) Backup(dst string) error {
	if err := fsutil.CopyFile(d.path, dst); err != nil {
		return err
	}
	slog.Info("scheduler database backed up", "to", dst)
	return nil
}
