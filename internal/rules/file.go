package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
)

// FileDocument is the YAML layout of a rules file. Entries must set
// active: true to be loaded.
type FileDocument struct {
	Honeypots       []HoneypotConfig `yaml:"honeypots"`
	GeoRestrictions []GeoConfig      `yaml:"geo_restrictions"`
	APISchemas      []SchemaConfig   `yaml:"api_schemas"`
	AdaptiveRules   []AdaptiveConfig `yaml:"adaptive_rules"`
}

// FileLoader is a Source backed by a YAML file.
type FileLoader struct {
	path string

	mu     sync.RWMutex
	doc    *FileDocument
	err    error
	loaded bool
}

// NewFileLoader does not touch the file until the first read.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Path returns the watched file.
func (f *FileLoader) Path() string { return f.path }

// Reload re-reads the file. A failed read keeps the error so every set
// reports ConfigurationUnavailable on the next Build.
func (f *FileLoader) Reload() error {
	doc, err := readFileDocument(f.path)
	f.mu.Lock()
	f.doc, f.err, f.loaded = doc, err, true
	f.mu.Unlock()
	return err
}

func readFileDocument(path string) (*FileDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc FileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &doc, nil
}

func (f *FileLoader) document() (*FileDocument, error) {
	f.mu.RLock()
	loaded := f.loaded
	f.mu.RUnlock()
	if !loaded {
		_ = f.Reload()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc, f.err
}

func (f *FileLoader) Honeypots(context.Context) ([]HoneypotConfig, error) {
	doc, err := f.document()
	if err != nil {
		return nil, err
	}
	return doc.Honeypots, nil
}

func (f *FileLoader) GeoRestrictions(context.Context) ([]GeoConfig, error) {
	doc, err := f.document()
	if err != nil {
		return nil, err
	}
	return doc.GeoRestrictions, nil
}

func (f *FileLoader) APISchemas(context.Context) ([]SchemaConfig, error) {
	doc, err := f.document()
	if err != nil {
		return nil, err
	}
	return doc.APISchemas, nil
}

func (f *FileLoader) AdaptiveRules(context.Context) ([]AdaptiveConfig, error) {
	doc, err := f.document()
	if err != nil {
		return nil, err
	}
	return doc.AdaptiveRules, nil
}

const watchDebounce = 250 * time.Millisecond

// Watch reloads the file whenever it changes and then calls onChange.
// The parent directory is watched so atomic replace-by-rename is seen.
// Watch blocks until ctx is done.
func (f *FileLoader) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(f.path)
	log := logger.Component("rules").WithField("path", target)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				pending = time.After(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("rules file watcher error")
		case <-pending:
			pending = nil
			if err := f.Reload(); err != nil {
				log.WithError(err).Warn("rules file reload failed")
			} else {
				log.Info("rules file reloaded")
			}
			onChange()
		}
	}
}
