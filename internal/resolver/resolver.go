package resolver

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("torii.resolver")

// ErrNotInWorkspace is returned for every path that has no canonical form:
// no root configured, a root that is not on the local filesystem, or a path
// outside the root.
var ErrNotInWorkspace = errors.New("resolver: path not in workspace")

// Resolver maps host file identifiers to canonical, root-relative paths.
type Resolver struct {
	root string
}

// New creates a Resolver for root, which may be a path or a file URI. A
// relative path is taken from the working directory. An empty root yields a
// Resolver that never resolves.
func New(root string) *Resolver {
	r := &Resolver{}
	if root == "" {
		return r
	}
	local, ok := localPath(root)
	if !ok {
		log.Warningf("workspace root %q is not a local filesystem root", root)
		return r
	}
	abs, err := filepath.Abs(local)
	if err != nil {
		log.Warningf("workspace root %q: %v", root, err)
		return r
	}
	r.root = abs
	return r
}

// Root returns the cleaned local root, or "" when none is usable.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the canonical path of hostPath, an absolute path or file URI.
func (r *Resolver) Resolve(hostPath string) (string, error) {
	if r == nil || r.root == "" {
		return "", ErrNotInWorkspace
	}
	local, ok := localPath(hostPath)
	if !ok || !filepath.IsAbs(local) {
		return "", ErrNotInWorkspace
	}
	rel, err := filepath.Rel(r.root, filepath.Clean(local))
	if err != nil {
		return "", ErrNotInWorkspace
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrNotInWorkspace
	}
	return filepath.ToSlash(rel), nil
}

// Locate returns the absolute local path of a canonical path.
func (r *Resolver) Locate(canonical string) (string, error) {
	if r == nil || r.root == "" {
		return "", ErrNotInWorkspace
	}
	return filepath.Join(r.root, filepath.FromSlash(canonical)), nil
}

// URI returns the file URI of a canonical path.
func (r *Resolver) URI(canonical string) (string, error) {
	abs, err := r.Locate(canonical)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// localPath strips a file:// scheme. Other schemes are not local.
func localPath(s string) (string, bool) {
	if !strings.Contains(s, "://") {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}
