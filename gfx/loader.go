// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/devblok/vkframe/utility/kar"
	"github.com/gobuffalo/packd"
	"github.com/gobuffalo/packr"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// ErrNotFound is returned by loaders that do not know the requested id.
var ErrNotFound = errors.New("blob not found")

// DirLoader loads blobs from files relative to a root directory.
type DirLoader string

// Load implements Loader.
func (d DirLoader) Load(id string) ([]byte, error) {
	data, err := ioutil.ReadFile(filepath.Join(string(d), filepath.FromSlash(id)))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return data, err
}

// NewBoxLoader loads blobs from a packr box rooted at path,
// which is embedded into the binary when built with packr.
func NewBoxLoader(path string) Loader {
	return FinderLoader{Finder: packr.NewBox(path)}
}

// FinderLoader adapts any packd.Finder, like a packr box, into a Loader.
type FinderLoader struct {
	packd.Finder
}

// Load implements Loader.
func (f FinderLoader) Load(id string) ([]byte, error) {
	data, err := f.Find(id)
	if err != nil {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return data, nil
}

// OpenArchiveLoader memory maps the kar archive at path.
// Close must be called once the loader is no longer needed.
func OpenArchiveLoader(path string) (*ArchiveLoader, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "mmap.Open()")
	}

	archive, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "kar.Open(%s)", path)
	}

	return &ArchiveLoader{
		archive: archive,
		mapped:  r,
	}, nil
}

// ArchiveLoader loads blobs from a memory mapped kar archive.
type ArchiveLoader struct {
	archive *kar.Archive
	mapped  *mmap.ReaderAt
}

// Load implements Loader.
func (a *ArchiveLoader) Load(id string) ([]byte, error) {
	data, err := a.archive.ReadAll(id)
	if errors.Cause(err) == kar.ErrNotFound {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return data, err
}

// Close unmaps the archive.
func (a *ArchiveLoader) Close() error {
	return a.mapped.Close()
}

// MultiLoader tries each loader in order and returns
// the first blob found.
type MultiLoader []Loader

// Load implements Loader.
func (m MultiLoader) Load(id string) ([]byte, error) {
	for _, l := range m {
		data, err := l.Load(id)
		if err == nil {
			return data, nil
		}
		if errors.Cause(err) != ErrNotFound {
			return nil, err
		}
	}
	return nil, errors.Wrap(ErrNotFound, id)
}
