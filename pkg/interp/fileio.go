package interp

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// File is an open G-code file being read by the interpreter. Reading is
// byte-at-a-time so the tick loop can stop mid-line without blocking.
type File interface {
	// ReadByte returns the next byte, or ok=false at end of file.
	ReadByte() (c byte, ok bool)
	// FractionRead returns how much of the file has been consumed, in [0,1].
	FractionRead() float64
	Close() error
}

// WriteFile is a file being written via M28.
type WriteFile interface {
	WriteLine(line string) error
	Close() error
}

// FileSystem is the storage abstraction the interpreter prints from and
// uploads to. Paths are relative to the store's root.
type FileSystem interface {
	OpenRead(path string) (File, error)
	OpenWrite(path string) (WriteFile, error)
	Delete(path string) error
	List(dir string) ([]string, error)
	Exists(path string) bool
}

// OSFileSystem implements FileSystem on a directory of the host filesystem.
type OSFileSystem struct {
	Root string
}

type osFile struct {
	f      *os.File
	r      *bufio.Reader
	size   int64
	offset int64
}

func (f *osFile) ReadByte() (byte, bool) {
	c, err := f.r.ReadByte()
	if err != nil {
		return 0, false
	}
	f.offset++
	return c, true
}

func (f *osFile) FractionRead() float64 {
	if f.size <= 0 {
		return 1
	}
	return float64(f.offset) / float64(f.size)
}

func (f *osFile) Close() error { return f.f.Close() }

type osWriteFile struct {
	f *os.File
	w *bufio.Writer
}

func (f *osWriteFile) WriteLine(line string) error {
	if _, err := f.w.WriteString(line); err != nil {
		return err
	}
	return f.w.WriteByte('\n')
}

func (f *osWriteFile) Close() error {
	if err := f.w.Flush(); err != nil {
		f.f.Close()
		return err
	}
	return f.f.Close()
}

func (fs *OSFileSystem) abs(path string) string {
	return filepath.Join(fs.Root, filepath.Clean("/"+path))
}

// OpenRead implements FileSystem.
func (fs *OSFileSystem) OpenRead(path string) (File, error) {
	f, err := os.Open(fs.abs(path))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &osFile{f: f, r: bufio.NewReader(f), size: info.Size()}, nil
}

// OpenWrite implements FileSystem.
func (fs *OSFileSystem) OpenWrite(path string) (WriteFile, error) {
	full := fs.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, err
	}
	return &osWriteFile{f: f, w: bufio.NewWriter(f)}, nil
}

// Delete implements FileSystem.
func (fs *OSFileSystem) Delete(path string) error {
	return os.Remove(fs.abs(path))
}

// List implements FileSystem.
func (fs *OSFileSystem) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(fs.abs(dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists implements FileSystem.
func (fs *OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(fs.abs(path))
	return err == nil
}

// MapFS is an in-memory FileSystem used by tests and the print simulator.
type MapFS struct {
	mu    sync.Mutex
	files map[string]string
}

// NewMapFS creates a MapFS with the given initial files.
func NewMapFS(files map[string]string) *MapFS {
	m := &MapFS{files: make(map[string]string)}
	for k, v := range files {
		m.files[cleanPath(k)] = v
	}
	return m
}

func cleanPath(p string) string {
	return strings.TrimPrefix(filepath.Clean("/"+p), "/")
}

type mapFile struct {
	data   string
	offset int
}

func (f *mapFile) ReadByte() (byte, bool) {
	if f.offset >= len(f.data) {
		return 0, false
	}
	c := f.data[f.offset]
	f.offset++
	return c, true
}

func (f *mapFile) FractionRead() float64 {
	if len(f.data) == 0 {
		return 1
	}
	return float64(f.offset) / float64(len(f.data))
}

func (f *mapFile) Close() error { return nil }

type mapWriteFile struct {
	fs   *MapFS
	path string
	sb   strings.Builder
}

func (f *mapWriteFile) WriteLine(line string) error {
	f.sb.WriteString(line)
	f.sb.WriteByte('\n')
	return nil
}

func (f *mapWriteFile) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.files[f.path] = f.sb.String()
	return nil
}

// OpenRead implements FileSystem.
func (m *MapFS) OpenRead(path string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[cleanPath(path)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mapFile{data: data}, nil
}

// OpenWrite implements FileSystem.
func (m *MapFS) OpenWrite(path string) (WriteFile, error) {
	return &mapWriteFile{fs: m, path: cleanPath(path)}, nil
}

// Delete implements FileSystem.
func (m *MapFS) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cleanPath(path)
	if _, ok := m.files[key]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, key)
	return nil
}

// List implements FileSystem.
func (m *MapFS) List(dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := cleanPath(dir)
	if prefix != "" {
		prefix += "/"
	}
	var names []string
	for path := range m.files {
		if rest, ok := strings.CutPrefix(path, prefix); ok && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists implements FileSystem.
func (m *MapFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[cleanPath(path)]
	return ok
}

// Read returns a file's current contents, for test assertions.
func (m *MapFS) Read(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[cleanPath(path)]
	return data, ok
}
