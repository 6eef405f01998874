// Package workspace finds the project's source files on disk and keeps
// track of changes to them.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/elysium-os/elysium-lsp/internal/config"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("elysium.workspace")

type Options struct {
	Extensions       []string
	RespectGitignore bool
	// Jobs bounds the number of files read at once.
	Jobs int
}

func OptionsFrom(cfg config.Config) Options {
	return Options{
		Extensions:       cfg.Extensions,
		RespectGitignore: cfg.RespectGitignore,
		Jobs:             cfg.ScanJobs,
	}
}

// filter decides which paths below root take part in indexing.
type filter struct {
	root       string
	extensions []string
	gitignore  *ignore.GitIgnore
}

func newFilter(root string, opts Options) *filter {
	f := &filter{root: root, extensions: opts.Extensions}
	if opts.RespectGitignore {
		f.gitignore = loadGitignore(root)
	}
	return f
}

// loadGitignore compiles the project's top level .gitignore, if any.
func loadGitignore(root string) *ignore.GitIgnore {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func (f *filter) ignored(path string, dir bool) bool {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	if f.gitignore != nil {
		rel = filepath.ToSlash(rel)
		if dir {
			rel += "/"
		}
		if f.gitignore.MatchesPath(rel) {
			return true
		}
	}
	return false
}

func (f *filter) wanted(path string) bool {
	return slices.Contains(f.extensions, filepath.Ext(path)) && !f.ignored(path, false)
}

// Scan walks the subtree under root. Hidden files and directories, and with
// RespectGitignore whatever the top level .gitignore excludes, are skipped.
// Every remaining file with a configured extension is read and handed to fn.
// Files are read in parallel but fn is never called concurrently. Scan
// returns once all calls to fn have completed.
func Scan(ctx context.Context, root string, opts Options, fn func(path string, content []byte)) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat project root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory", root)
	}

	f := newFilter(root, opts)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Jobs, 1))
	var mu sync.Mutex

	log.Infof("scanning %s", root)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warningf("walk error: %s", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if f.ignored(path, true) {
				log.Debugf("skipping %s", path)
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.wanted(path) {
			return nil
		}

		g.Go(func() error {
			content, err := os.ReadFile(path)
			if err != nil {
				log.Warningf("read error: %s", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			fn(path, content)
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}
