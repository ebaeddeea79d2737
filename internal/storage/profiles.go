package storage

import (
	"encoding/xml"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"astrokeep/internal/meta"
)

// profile names follow <optic>@f<ratio>+<camera>
var profileNameRE = regexp.MustCompile(`([^@]*)@f([^+]*)\+(.*)`)

// ninaProfile is the slice of a capture rig profile file we care about.
type ninaProfile struct {
	ID                  string `xml:"Id"`
	Name                string `xml:"Name"`
	FilterWheelSettings struct {
		FilterWheelFilters struct {
			Filters []struct {
				Name string `xml:"_name"`
			} `xml:"FilterInfo"`
		} `xml:"FilterWheelFilters"`
	} `xml:"FilterWheelSettings"`
}

// UpsertProfile writes one imaging profile, creating its optic and camera
// rows as needed. The profile name must follow <optic>@f<ratio>+<camera>.
func (s *Store) UpsertProfile(id, name, filterNames string) error {
	m := profileNameRE.FindStringSubmatch(name)
	if m == nil {
		return fmt.Errorf("profile name '%s' does not follow optic@fratio+camera", name)
	}
	optic, focalRatio, camera := m[1], m[2], m[3]

	if _, err := s.DB.Exec(`INSERT OR IGNORE INTO optic (name, focal_ratio) VALUES (?, ?);`, optic, focalRatio); err != nil {
		return err
	}
	if _, err := s.DB.Exec(`INSERT OR IGNORE INTO camera (name) VALUES (?);`, camera); err != nil {
		return err
	}

	_, err := s.DB.Exec(`
        INSERT INTO profile (id, name, filter_names, optic_id, camera_id)
        VALUES (?, ?, ?,
            (select id from optic where name=? and focal_ratio=?),
            (select id from camera where name=?))
        ON CONFLICT (id)
        DO UPDATE SET last_updated_date = CURRENT_TIMESTAMP,
            name = excluded.name,
            filter_names = excluded.filter_names,
            optic_id = excluded.optic_id,
            camera_id = excluded.camera_id;`,
		id, name, filterNames, optic, focalRatio, camera)
	return err
}

// ImportProfiles walks profileDir for capture rig .profile files and upserts
// an imaging profile row for each. Returns how many were imported.
func (s *Store) ImportProfiles(profileDir string) (int, error) {
	var filenames []string
	err := filepath.WalkDir(profileDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".profile") {
			filenames = append(filenames, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, filename := range filenames {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return imported, err
		}
		var p ninaProfile
		if err := xml.Unmarshal(raw, &p); err != nil {
			return imported, fmt.Errorf("parsing %s: %w", filename, err)
		}
		if !profileNameRE.MatchString(p.Name) {
			slog.Warn("skipping profile with nonstandard name", "name", p.Name, "file", filename)
			continue
		}

		var filters []string
		for _, f := range p.FilterWheelSettings.FilterWheelFilters.Filters {
			name := meta.NormalizeFilterName(f.Name)
			// DARK and BLANK wheel positions are not real filters
			if strings.HasPrefix(name, "DARK") || strings.HasPrefix(name, "BLANK") {
				continue
			}
			if _, known := defaultFilters[name]; !known {
				slog.Warn("unknown filter in profile", "filter", name, "profile", p.Name)
			}
			filters = append(filters, name)
		}

		filterNames := strings.Join(filters, ",")
		// narrowband priority: O before S, S before H
		if filterNames == "L,R,G,B,S,H,O" {
			filterNames = "L,R,G,B,O,S,H"
		}

		if err := s.UpsertProfile(p.ID, p.Name, filterNames); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
