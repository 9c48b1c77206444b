// ABOUTME: Read-only fs.FS view over registered schema bodies
// ABOUTME: Each schema appears as <prefix>.xsd for include/import resolution

package registry

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"sort"
	"time"
)

// SchemaFS snapshots every registered schema as a flat filesystem where the
// schema bound to prefix p is the file "p.xsd".
func (r *Registry) SchemaFS(ctx context.Context) (fs.FS, error) {
	bindings, err := r.Bindings(ctx)
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(bindings))
	for _, b := range bindings {
		files[FileName(b.Prefix)] = []byte(b.Schema)
	}
	return schemaFS(files), nil
}

// FileName is the name under which the schema for prefix is exposed.
func FileName(prefix string) string {
	return prefix + ".xsd"
}

type schemaFS map[string][]byte

var _ fs.ReadDirFS = schemaFS(nil)

func (m schemaFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		entries, _ := m.ReadDir(".")
		return &schemaDir{entries: entries}, nil
	}
	data, ok := m[path.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &schemaFile{name: name, Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

func (m schemaFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, fs.FileInfoToDirEntry(fileInfo{name: n, size: int64(len(m[n]))}))
	}
	return entries, nil
}

type schemaFile struct {
	*bytes.Reader
	name string
	size int64
}

func (f *schemaFile) Stat() (fs.FileInfo, error) {
	return fileInfo{name: path.Base(f.name), size: f.size}, nil
}

func (f *schemaFile) Close() error { return nil }

type schemaDir struct {
	entries []fs.DirEntry
	offset  int
}

func (d *schemaDir) Stat() (fs.FileInfo, error) { return fileInfo{name: ".", dir: true}, nil }

func (d *schemaDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: fs.ErrInvalid}
}

func (d *schemaDir) Close() error { return nil }

func (d *schemaDir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}

type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64  { return fi.size }
func (fi fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() any           { return nil }
