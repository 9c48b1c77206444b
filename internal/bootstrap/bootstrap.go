// Package bootstrap registers schemas from files at startup and from a
// watched directory while the server runs.
//
// A schema file in the watched directory is named <prefix>.xsd. Registration
// keeps the first binding of a prefix, so rewriting a file that was already
// registered does not replace the stored schema.
package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/nainya/metastore/pkg/registry"
)

// SchemaExt is the extension of schema files in a watched directory
const SchemaExt = ".xsd"

// Registrar binds prefixes to schemas.
type Registrar interface {
	RegisterSchema(ctx context.Context, prefix, schemaBody string) (string, registry.Outcome, error)
}

// Result reports one file registration.
type Result struct {
	Prefix    string
	File      string
	Namespace string
	Outcome   registry.Outcome
	Err       error
}

// RegisterFiles registers every prefix-to-file entry in prefix order and
// stops at the first failure.
func RegisterFiles(ctx context.Context, reg Registrar, files map[string]string, logger zerolog.Logger) ([]Result, error) {
	prefixes := make([]string, 0, len(files))
	for p := range files {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	results := make([]Result, 0, len(prefixes))
	for _, prefix := range prefixes {
		res := registerFile(ctx, reg, prefix, files[prefix])
		if res.Err != nil {
			return results, errors.Annotatef(res.Err, "bootstrap schema %q from %s", prefix, res.File)
		}
		logger.Info().Str("prefix", prefix).Str("file", res.File).Str("namespace", res.Namespace).
			Stringer("outcome", res.Outcome).Msg("schema bootstrapped")
		results = append(results, res)
	}
	return results, nil
}

// ScanDir registers every <prefix>.xsd file in dir. Failures are reported in
// the results and do not stop the scan.
func ScanDir(ctx context.Context, reg Registrar, dir string) ([]Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Annotatef(err, "scan schema dir %s", dir)
	}
	var results []Result
	for _, e := range entries {
		prefix, ok := PrefixOf(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		results = append(results, registerFile(ctx, reg, prefix, filepath.Join(dir, e.Name())))
	}
	return results, nil
}

// PrefixOf returns the prefix a schema file name binds.
func PrefixOf(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.EqualFold(filepath.Ext(base), SchemaExt) || strings.HasPrefix(base, ".") {
		return "", false
	}
	prefix := strings.TrimSuffix(base, filepath.Ext(base))
	return prefix, prefix != ""
}

func registerFile(ctx context.Context, reg Registrar, prefix, file string) Result {
	res := Result{Prefix: prefix, File: file}
	body, err := os.ReadFile(file)
	if err != nil {
		res.Err = errors.Annotatef(err, "read %s", file)
		return res
	}
	res.Namespace, res.Outcome, res.Err = reg.RegisterSchema(ctx, prefix, string(body))
	return res
}

// Watcher registers schema files as they appear in a directory.
type Watcher struct {
	dir      string
	reg      Registrar
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	results  chan Result

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// NewWatcher watches dir, creating it when missing. Results of registrations
// triggered by file events are delivered on Results.
func NewWatcher(dir string, reg Registrar, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "create schema dir %s", dir)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "create watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Annotatef(err, "watch %s", dir)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		reg:      reg,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger.With().Str("component", "schema-watcher").Str("dir", dir).Logger(),
		results:  make(chan Result, 64),
		pending:  make(map[string]struct{}),
	}, nil
}

// Results delivers registration outcomes. It is closed when Run returns.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Run processes file events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.results)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, ok := PrefixOf(event.Name); !ok {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = struct{}{}
			w.pendingMu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush registers every file that changed since the last flush.
func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()
	sort.Strings(files)

	for _, file := range files {
		prefix, _ := PrefixOf(file)
		res := registerFile(ctx, w.reg, prefix, file)
		if res.Err != nil {
			w.logger.Warn().Err(res.Err).Str("prefix", prefix).Msg("schema registration failed")
		} else {
			w.logger.Info().Str("prefix", prefix).Str("namespace", res.Namespace).
				Stringer("outcome", res.Outcome).Msg("schema registered from watched dir")
		}
		select {
		case w.results <- res:
		default:
			w.logger.Debug().Str("prefix", prefix).Msg("result dropped, no reader")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
