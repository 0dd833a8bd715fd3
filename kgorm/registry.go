package kgorm

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
)

// DialectorOpener is an alias for a function that returns a gorm.Dialector for a given DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	providers  = make(map[string]DialectorOpener)
)

// Register adds a new dialector to the registry under name.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[name] = opener
}

// Providers lists the registered names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configures NewStorage.
type Options struct {
	Gorm        *gorm.Config
	AutoMigrate bool
}

// NewStorage opens the database registered under name and optionally migrates it.
func NewStorage(name, dsn string, opts Options) (*Repository, error) {
	registryMu.RLock()
	opener, ok := providers[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gorm: unknown storage provider %q", name)
	}

	cfg := opts.Gorm
	if cfg == nil {
		cfg = &gorm.Config{TranslateError: true}
	}

	db, err := gorm.Open(opener(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("gorm: open %s: %w", name, err)
	}

	repo := NewRepository(db)
	if opts.AutoMigrate {
		if err := repo.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("gorm: migrate: %w", err)
		}
	}
	return repo, nil
}
