package builder

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Branch suffixes of a deferred body template.
const (
	placeholderSuffix = ":placeholder"
	emptySuffix       = ":empty"
	exceptSuffix      = ":except"
)

// ErrorTemplate renders a failed block that has no except branch.
const ErrorTemplate = "errors/fragment"

// baseFuncs are placeholders so templates parse; every build binds its own.
var baseFuncs = template.FuncMap{
	"deferred":  func(Signature, string) (template.HTML, error) { return "", errors.New("deferred outside a build") },
	"sig":       NewSignature,
	"api":       func(string, ...any) (string, error) { return "", errors.New("api outside a build") },
	"apiParams": func(string, map[string]any, ...any) (string, error) { return "", errors.New("api outside a build") },
	"url":       func(string, ...any) (string, error) { return "", errors.New("url outside a build") },
	"dict":      dict,
}

// Templates is a parsed template set that can be reloaded in place.
type Templates struct {
	mu   sync.RWMutex
	set  *template.Template
	fsys fs.FS
	log  zerolog.Logger
}

// LoadTemplates parses every *.tmpl file of fsys, at any depth.
func LoadTemplates(fsys fs.FS, log zerolog.Logger) (*Templates, error) {
	t := &Templates{fsys: fsys, log: log}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-parses the template files. The previous set stays active on error.
func (t *Templates) Reload() error {
	set := template.New("").Funcs(baseFuncs)
	found := 0
	err := fs.WalkDir(t.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		b, err := fs.ReadFile(t.fsys, path)
		if err != nil {
			return err
		}
		if _, err := set.New(path).Parse(string(b)); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		found++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	if found == 0 {
		return errors.New("load templates: no *.tmpl files")
	}

	t.mu.Lock()
	t.set = set
	t.mu.Unlock()
	t.log.Debug().Int("files", found).Msg("templates loaded")
	return nil
}

// Has reports whether the set defines name.
func (t *Templates) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set.Lookup(name) != nil
}

// clone returns a private copy of the set for one build.
func (t *Templates) clone() (*template.Template, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set.Clone()
}

// Watch reloads the set whenever a template file under dir changes, until
// ctx is done. dir must be the directory the set was loaded from.
func (t *Templates) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".tmpl") || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
					continue
				}
				if err := t.Reload(); err != nil {
					t.log.Error().Err(err).Str("file", ev.Name).Msg("template reload failed")
					continue
				}
				t.log.Info().Str("file", ev.Name).Msg("templates reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				t.log.Warn().Err(err).Msg("template watcher error")
			}
		}
	}()
	return nil
}

func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", pairs[i])
		}
		m[k] = pairs[i+1]
	}
	return m, nil
}
