package workspace

import (
	"fmt"
	"net/url"
	"path/filepath"
)

// URI returns the canonical file URI of path: absolute, with symlinks
// resolved. Every document is keyed by this form.
func URI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(canonical(path))}
	return u.String()
}

// Normalize rewrites a file URI received from a client into the form URI
// produces, so that escaping differences and symlinked roots name the same
// document. Other URIs are returned unchanged.
func Normalize(uri string) string {
	path, err := Path(uri)
	if err != nil {
		return uri
	}
	return URI(path)
}

// Path returns the local path of a file URI.
func Path(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// canonical makes path absolute and resolves symlinks. A path that does not
// exist is resolved through its closest existing parent.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs
	}
	return filepath.Join(canonical(parent), filepath.Base(abs))
}
