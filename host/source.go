package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/larkvm/store"
	"github.com/chazu/larkvm/vm"
)

// FileExt is the extension of encoded function files.
const FileExt = ".lfn"

// Source fetches the encoded top-level function of a module. Unknown names
// wrap vm.ErrModuleNotFound.
type Source interface {
	Fetch(name string) ([]byte, error)
}

// StoreSource reads modules from a module store.
type StoreSource struct {
	Store *store.Store
}

// Fetch implements Source.
func (s StoreSource) Fetch(name string) ([]byte, error) {
	data, err := s.Store.Get(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("cannot load %s: %w", name, vm.ErrModuleNotFound)
	}
	return data, err
}

// DirSource reads <Dir>/<name>.lfn.
type DirSource struct {
	Dir string
}

// Fetch implements Source.
func (s DirSource) Fetch(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid module name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, name+FileExt))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot load %s: %w", name, vm.ErrModuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading module %s: %w", name, err)
	}
	return data, nil
}

// MultiSource tries each source in order and returns the first module
// found.
type MultiSource []Source

// Fetch implements Source.
func (ms MultiSource) Fetch(name string) ([]byte, error) {
	for _, s := range ms {
		data, err := s.Fetch(name)
		if errors.Is(err, vm.ErrModuleNotFound) {
			continue
		}
		return data, err
	}
	return nil, fmt.Errorf("cannot load %s: %w", name, vm.ErrModuleNotFound)
}
