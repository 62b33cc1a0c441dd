package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathOutsideRoot is returned for job paths outside the configured roots.
var ErrPathOutsideRoot = errors.New("path is outside the allowed root")

// PathRoots confines the host paths a service-submitted job may read from
// and write to. Sources and external subtitles live under Input, output trees
// strictly below Output. An empty root admits nothing.
type PathRoots struct {
	Input  string
	Output string
}

// Check rejects a job whose input path, output directory or external
// subtitle files escape the roots, after cleaning and resolving symlinks.
func (r PathRoots) Check(job *ConversionJob) error {
	if job.InputPath != "" {
		if err := within(r.Input, job.InputPath); err != nil {
			return fmt.Errorf("input path: %w", err)
		}
	}
	if err := within(r.Output, job.OutputDir); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	if subs := job.Options.Subtitles; subs != nil {
		for i, ext := range subs.External {
			if err := within(r.Input, ext.Path); err != nil {
				return fmt.Errorf("external subtitle %d: %w", i, err)
			}
		}
	}
	return nil
}

func within(root, p string) error {
	if root == "" || !filepath.IsAbs(root) {
		return fmt.Errorf("%w: no root configured for %s", ErrPathOutsideRoot, p)
	}
	if !filepath.IsAbs(p) {
		return fmt.Errorf("%w: %s is not absolute", ErrPathOutsideRoot, p)
	}
	root, p = filepath.Clean(root), filepath.Clean(p)
	if !strictlyBelow(root, p) || !strictlyBelow(resolveExisting(root), resolveExisting(p)) {
		return fmt.Errorf("%w: %s is not under %s", ErrPathOutsideRoot, p, root)
	}
	return nil
}

func strictlyBelow(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// resolveExisting evaluates symlinks in the longest existing prefix of p and
// appends the part that does not exist yet.
func resolveExisting(p string) string {
	var tail []string
	for cur := p; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{real}, tail...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}
