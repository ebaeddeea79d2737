// Package storage persists acquisition tracking data: which light frames
// were accepted, per target, filter, profile, session date and location.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"astrokeep/internal/config"
	"astrokeep/internal/meta"
	"astrokeep/internal/scan"
)

// Store wraps SQLite-backed persistence for accepted acquisition data.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS camera (
            id integer PRIMARY KEY,
            name text NOT NULL,
            creation_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            last_updated_date DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS camera1 ON camera(name);`,
		`CREATE TABLE IF NOT EXISTS optic (
            id integer PRIMARY KEY,
            name text NOT NULL,
            focal_ratio text NOT NULL,
            creation_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            last_updated_date DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS optic1 ON optic(name,focal_ratio);`,
		`CREATE TABLE IF NOT EXISTS profile (
            id text PRIMARY KEY,
            name text NOT NULL,
            filter_names text NOT NULL,
            optic_id integer NOT NULL,
            camera_id integer NOT NULL,
            creation_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            last_updated_date DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS profile1 ON profile(optic_id,camera_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS profile2 ON profile(name);`,
		`CREATE TABLE IF NOT EXISTS location (
            id integer PRIMARY KEY,
            name text,
            latitude text NOT NULL,
            longitude text NOT NULL,
            magnitude text,
            bortle integer,
            brightness_mcd_m2 text,
            artifical_brightness_ucd_m2 text,
            creation_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            last_updated_date DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS location1 ON location(latitude,longitude);`,
		`CREATE TABLE IF NOT EXISTS target (
            id integer PRIMARY KEY,
            name text NOT NULL,
            profile_id integer NOT NULL DEFAULT 0,
            creation_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            last_updated_date DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS target1 ON target(name);`,
		`CREATE TABLE IF NOT EXISTS filter (
            id integer PRIMARY KEY,
            name text NOT NULL,
            astrobin_id integer,
            creation_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            last_updated_date DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS filter1 ON filter(name);`,
		`CREATE TABLE IF NOT EXISTS accepted_data (
            id integer PRIMARY KEY,
            date text NOT NULL,
            panel_name text,
            shutter_time_seconds integer NOT NULL,
            accepted_count integer NOT NULL,
            raw_directory text,
            camera_id integer NOT NULL,
            optic_id integer NOT NULL,
            location_id integer NOT NULL,
            target_id integer NOT NULL,
            filter_id integer NOT NULL,
            creation_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            last_updated_date DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY (camera_id) REFERENCES camera (id),
            FOREIGN KEY (optic_id) REFERENCES optic (id),
            FOREIGN KEY (target_id) REFERENCES target (id),
            FOREIGN KEY (filter_id) REFERENCES filter (id),
            FOREIGN KEY (location_id) REFERENCES location (id)
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS accepted_data1 ON accepted_data(camera_id,optic_id,location_id,target_id,filter_id,date,panel_name,shutter_time_seconds,raw_directory);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS accepted_data2 ON accepted_data(raw_directory);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Location is a named observing site.
type Location struct {
	Name      string
	Latitude  string
	Longitude string
}

// DefaultLocations are the known observing sites; the first is home and
// doubles as the fallback for rigs that record no coordinates.
var DefaultLocations = []Location{
	{"RL", "35.6", "-78.8"},
	{"BW", "35.8", "-79.0"},
	{"3BA", "36.1", "-78.7"},
	{"SRSP", "36.7", "-78.7"},
	{"HW", "35.4", "-78.3"},
	{"KDDS", "39.6", "-104.0"},
}

// defaultFilters maps filter short names to their AstroBin equipment ids.
var defaultFilters = map[string]string{
	"L":     "2625",
	"R":     "2627",
	"G":     "2626",
	"B":     "2628",
	"S":     "2629",
	"H":     "2631",
	"O":     "2630",
	"UVIR":  "2411",
	"LenHa": "5500",
	"LeXtr": "2618",
	"ALPT":  "5678",
}

// SeedDefaults upserts the reference locations and filters.
func (s *Store) SeedDefaults() error {
	for _, l := range DefaultLocations {
		_, err := s.DB.Exec(`INSERT INTO location (name, latitude, longitude) VALUES (?, ?, ?)
            ON CONFLICT (latitude, longitude)
            DO UPDATE SET last_updated_date = CURRENT_TIMESTAMP, name = excluded.name;`,
			l.Name, l.Latitude, l.Longitude)
		if err != nil {
			return err
		}
	}
	for name, astrobinID := range defaultFilters {
		_, err := s.DB.Exec(`INSERT INTO filter (name, astrobin_id) VALUES (?, ?)
            ON CONFLICT (name)
            DO UPDATE SET last_updated_date = CURRENT_TIMESTAMP, astrobin_id = excluded.astrobin_id;`,
			name, astrobinID)
		if err != nil {
			return err
		}
	}
	return nil
}

// AcceptedDatum is one aggregated acquisition row: the number of accepted
// frames sharing a (profile, location, target, filter, date, panel, shutter
// time, directory) tuple.
type AcceptedDatum struct {
	Date            string
	Optic           string
	FocalRatio      string
	Filter          string
	Camera          string
	TargetName      string
	Panel           string
	Latitude        string
	Longitude       string
	ExposureSeconds string
	Directory       string
	Count           int
}

// UpsertAccepted writes one aggregated row, creating reference rows as
// needed. An existing row for the same raw directory gets its count
// refreshed.
func (s *Store) UpsertAccepted(d AcceptedDatum) error {
	refs := []struct {
		stmt string
		args []any
	}{
		{`INSERT OR IGNORE INTO optic (name, focal_ratio) VALUES (?, ?);`, []any{d.Optic, d.FocalRatio}},
		{`INSERT OR IGNORE INTO camera (name) VALUES (?);`, []any{d.Camera}},
		{`INSERT OR IGNORE INTO location (latitude, longitude) VALUES (?, ?);`, []any{d.Latitude, d.Longitude}},
		{`INSERT OR IGNORE INTO target (name) VALUES (?);`, []any{d.TargetName}},
		{`INSERT OR IGNORE INTO filter (name) VALUES (?);`, []any{d.Filter}},
	}
	for _, r := range refs {
		if _, err := s.DB.Exec(r.stmt, r.args...); err != nil {
			return err
		}
	}

	_, err := s.DB.Exec(`
        INSERT INTO accepted_data(date, shutter_time_seconds, accepted_count, panel_name, raw_directory,
            camera_id, optic_id, location_id, target_id, filter_id)
        VALUES (?, ?, ?, ?, ?,
            (select id from camera where name=?),
            (select id from optic where name=? and focal_ratio=?),
            (select id from location where latitude=? and longitude=?),
            (select id from target where name=?),
            (select id from filter where name=?))
        ON CONFLICT (raw_directory)
        DO UPDATE SET last_updated_date = CURRENT_TIMESTAMP, accepted_count = excluded.accepted_count;`,
		d.Date, d.ExposureSeconds, d.Count, d.Panel, d.Directory,
		d.Camera, d.Optic, d.FocalRatio, d.Latitude, d.Longitude, d.TargetName, d.Filter)
	return err
}

var acceptSuffixRE = regexp.MustCompile(`(.*)[\\/]accept[\\/].*`)

// AcceptedByDirectory sums accepted counts per raw directory, keyed by the
// directory above the accept layer, for directories matching the like
// pattern fragment.
func (s *Store) AcceptedByDirectory(like string) (map[string]int, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT sum(accepted_count), raw_directory FROM accepted_data
        WHERE raw_directory LIKE ? GROUP BY raw_directory;`, "%"+like+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	output := make(map[string]int)
	for rows.Next() {
		var count int
		var rawDirectory string
		if err := rows.Scan(&count, &rawDirectory); err != nil {
			return nil, err
		}
		if m := acceptSuffixRE.FindStringSubmatch(rawDirectory); m != nil {
			output[m[1]] += count
		}
	}
	return output, rows.Err()
}

// UpdateModes select which reconciliation steps UpdateFromDirectory runs.
type UpdateModes struct {
	Delete bool // remove rows whose raw directory no longer exists
	Create bool // only add rows for directories unknown to the database
	Update bool // add and refresh rows for every accepted directory
}

// UpdateCounts reports what a reconciliation pass did.
type UpdateCounts struct {
	Deleted  int
	Accepted int
	Total    int
}

// UpdateFromDirectory reconciles the accepted_data table against the frames
// actually on disk under fromDir.
func (s *Store) UpdateFromDirectory(fromDir string, modes UpdateModes, dryRun bool) (UpdateCounts, error) {
	var counts UpdateCounts
	if !modes.Delete && !modes.Create && !modes.Update {
		return counts, errors.New("at least one update mode must be enabled")
	}

	if modes.Delete {
		rows, err := s.DB.Query(`SELECT id, raw_directory FROM accepted_data WHERE raw_directory LIKE ?;`, fromDir+"%")
		if err != nil {
			return counts, err
		}
		type row struct {
			id  int64
			dir string
		}
		var stale []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.dir); err != nil {
				rows.Close()
				return counts, err
			}
			if fi, err := os.Stat(r.dir); err != nil || !fi.IsDir() {
				stale = append(stale, r)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return counts, err
		}
		for _, r := range stale {
			slog.Debug("deleting accepted data for missing directory", "dir", r.dir)
			if !dryRun {
				if _, err := s.DB.Exec(`DELETE FROM accepted_data WHERE id = ?;`, r.id); err != nil {
					return counts, err
				}
			}
			counts.Deleted++
		}
	}

	fromDirs := []string{fromDir}

	if modes.Create {
		missing, err := s.missingDirectories(fromDir)
		if err != nil {
			return counts, err
		}
		fromDirs = missing
	}

	if modes.Create || modes.Update {
		aggregated, accepted, total, err := s.aggregateAccepted(fromDirs)
		if err != nil {
			return counts, err
		}
		counts.Accepted = accepted
		counts.Total = total

		if dryRun {
			return counts, nil
		}
		for _, datum := range aggregated {
			if err := s.UpsertAccepted(datum); err != nil {
				return counts, err
			}
		}
	}

	return counts, nil
}

// missingDirectories finds directories holding frames under fromDir that
// have no accepted_data rows yet.
func (s *Store) missingDirectories(fromDir string) ([]string, error) {
	filenames, err := scan.Filenames([]string{fromDir}, []string{"*.fits", "*.cr2"}, true)
	if err != nil {
		return nil, err
	}

	var missing []string
	checked := make(map[string]bool)
	for _, filename := range filenames {
		dir := filepath.Dir(filename)
		if checked[dir] {
			continue
		}
		checked[dir] = true

		var count int
		if err := s.DB.QueryRow(`SELECT count(id) FROM accepted_data WHERE raw_directory LIKE ?;`, dir+"%").Scan(&count); err != nil {
			return nil, err
		}
		if count == 0 {
			slog.Debug("accepted data missing for directory", "dir", dir)
			missing = append(missing, dir)
		}
	}
	return missing, nil
}

// aggregateAccepted loads accepted light frames under dirs and folds them
// into per-directory acquisition rows.
func (s *Store) aggregateAccepted(dirs []string) ([]AcceptedDatum, int, int, error) {
	required := []string{"type", "targetname", "panel", "date", "optic", "focal_ratio",
		"filter", "camera", "exposureseconds", "latitude", "longitude", "filename"}

	result, err := scan.LoadFiltered(scan.Options{
		Dirs:            dirs,
		Patterns:        []string{"*.cr2", "*.fits"},
		Recursive:       true,
		Required:        required,
		ProfileFromPath: true,
	}, map[string]scan.Predicate{"type": scan.Exact("LIGHT")})
	if err != nil {
		return nil, 0, 0, err
	}

	aggregated := make(map[AcceptedDatum]int)
	accepted, total := 0, 0
	for filename, attrs := range result.Data {
		total++
		if !strings.Contains(filename, config.DirAccept) {
			continue
		}
		accepted++

		datum := acceptedDatumFor(filename, attrs)
		aggregated[datum]++
	}

	output := make([]AcceptedDatum, 0, len(aggregated))
	for datum, count := range aggregated {
		datum.Count = count
		output = append(output, datum)
	}
	return output, accepted, total, nil
}

func acceptedDatumFor(filename string, attrs meta.Attrs) AcceptedDatum {
	latitude, longitude := attrs["latitude"], attrs["longitude"]
	// rigs without site metadata file under the home location
	if latitude == "" || longitude == "" {
		latitude = DefaultLocations[0].Latitude
		longitude = DefaultLocations[0].Longitude
	}
	return AcceptedDatum{
		Date:            attrs["date"],
		Optic:           attrs["optic"],
		FocalRatio:      attrs["focal_ratio"],
		Filter:          attrs["filter"],
		Camera:          attrs["camera"],
		TargetName:      attrs["targetname"],
		Panel:           attrs["panel"],
		Latitude:        latitude,
		Longitude:       longitude,
		ExposureSeconds: attrs["exposureseconds"],
		Directory:       filepath.Dir(filename),
	}
}

// String implements a compact debug rendering of the acquisition tuple.
func (d AcceptedDatum) String() string {
	return fmt.Sprintf("%s %s@f%s+%s %s %s x%d", d.Date, d.Optic, d.FocalRatio, d.Camera, d.TargetName, d.Filter, d.Count)
}
