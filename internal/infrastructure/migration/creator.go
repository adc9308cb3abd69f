package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var draftTemplate = template.Must(template.New("draft").Parse(
	`-- Migration: {{.Name}}{{if .Down}} (Rollback){{end}}
-- Created: {{.Created}}
-- Description: {{if .Down}}Rollback for {{end}}{{.Description}}

-- Write your {{if .Down}}DOWN{{else}}UP{{end}} migration SQL here

`))

// Draft is a new, empty migration pair on disk
type Draft struct {
	Version     string
	Name        string
	Description string
	UpPath      string
	DownPath    string
}

// CreateMigration writes the next sequential up/down pair into dir,
// creating dir when needed. Existing files are never overwritten.
func CreateMigration(dir, name, description string) (*Draft, error) {
	file := slug(name)
	if file == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations directory: %w", err)
	}

	existing, err := Source{Dir: dir}.List()
	if err != nil {
		return nil, err
	}
	next, err := nextVersion(existing)
	if err != nil {
		return nil, err
	}

	version := fmt.Sprintf("%06d", next)
	base := filepath.Join(dir, version+"_"+file)
	d := &Draft{
		Version:     version,
		Name:        name,
		Description: description,
		UpPath:      base + ".up.sql",
		DownPath:    base + ".down.sql",
	}
	created := time.Now().Format(time.RFC3339)

	if err := d.write(d.UpPath, false, created); err != nil {
		return nil, err
	}
	if err := d.write(d.DownPath, true, created); err != nil {
		_ = os.Remove(d.UpPath)
		return nil, err
	}
	return d, nil
}

func (d *Draft) write(path string, down bool, created string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	return draftTemplate.Execute(f, struct {
		*Draft
		Down    bool
		Created string
	}{d, down, created})
}

// nextVersion returns one past the highest version among base names
func nextVersion(names []string) (int, error) {
	highest := 0
	for _, name := range names {
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return 0, fmt.Errorf("migration %q has no numeric version", name)
		}
		highest = max(highest, v)
	}
	return highest + 1, nil
}

// slug lowercases name and joins its words with single underscores,
// dropping every other character
func slug(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	var b strings.Builder
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if w == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		b.WriteString(w)
	}
	return b.String()
}
