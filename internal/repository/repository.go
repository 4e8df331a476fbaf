package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

var remotePrefixes = []string{"http://", "https://", "ssh://", "git://", "git@", "file://"}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// IsRemote reports whether source looks like a clonable URL.
func IsRemote(source string) bool {
	for _, p := range remotePrefixes {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	return false
}

// DeriveRepoID builds a repository id from a URL or path: "owner-name" for
// URLs with an owner segment, the base name otherwise.
func DeriveRepoID(source string) string {
	s := strings.TrimSpace(source)
	s = strings.TrimSuffix(strings.TrimRight(s, "/"), ".git")

	var parts []string
	if IsRemote(s) {
		if i := strings.Index(s, "://"); i >= 0 {
			s = s[i+3:]
		}
		s = strings.ReplaceAll(s, ":", "/")
		parts = strings.Split(s, "/")
		if len(parts) >= 3 {
			parts = parts[len(parts)-2:]
		} else {
			parts = parts[len(parts)-1:]
		}
	} else {
		base := filepath.Base(filepath.Clean(s))
		parts = []string{base[:len(base)-len(ArchiveSuffix(base))]}
	}

	id := unsafeIDChars.ReplaceAllString(strings.Join(parts, "-"), "-")
	id = strings.Trim(id, "-.")
	if len(id) > 128 {
		id = id[:128]
	}
	return id
}

// Open describes the working tree at path. A directory that is not a git
// repository yields a Checkout with an empty Revision.
func Open(path string) (Checkout, error) {
	root, err := validatePath(path)
	if err != nil {
		return Checkout{}, err
	}
	co := Checkout{Root: root}

	repo, err := git.PlainOpen(root)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return co, nil
		}
		return Checkout{}, fmt.Errorf("opening git repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		// Unborn branch: a repository without commits.
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return co, nil
		}
		return Checkout{}, fmt.Errorf("resolving HEAD: %w", err)
	}
	co.Revision = head.Hash().String()
	if head.Name().IsBranch() {
		co.Branch = head.Name().Short()
	}
	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			co.Remote = urls[0]
		}
	}
	return co, nil
}

// Clone shallow-clones url into dest at ref (a branch name or full
// reference; empty means the remote HEAD).
func Clone(ctx context.Context, url, dest, ref string) (Checkout, error) {
	if url == "" {
		return Checkout{}, fmt.Errorf("%w: empty url", ErrInvalidSource)
	}
	if _, err := os.Stat(dest); err == nil {
		return Checkout{}, fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Checkout{}, fmt.Errorf("creating parent directory: %w", err)
	}

	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if ref != "" {
		opts.ReferenceName = referenceName(ref)
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		_ = os.RemoveAll(dest)
		return Checkout{}, fmt.Errorf("cloning %s: %w", url, err)
	}
	return Open(dest)
}

// Acquire makes source available at <reposDir>/<repoID> and describes it.
// Remote sources are cloned unless already present, archives are unpacked
// and local directories are symlinked. An empty repoID is derived from
// source.
func Acquire(ctx context.Context, source, reposDir, repoID, ref string) (Checkout, error) {
	if strings.TrimSpace(source) == "" {
		return Checkout{}, fmt.Errorf("%w: empty source", ErrInvalidSource)
	}
	if repoID == "" {
		repoID = DeriveRepoID(source)
	}
	if err := vectorstore.ValidateRepoID(repoID); err != nil {
		return Checkout{}, err
	}
	dest := filepath.Join(reposDir, repoID)

	var (
		co  Checkout
		err error
	)
	switch {
	case IsRemote(source):
		co, err = cloneOrOpen(ctx, source, dest, ref)
	case IsArchive(source):
		co, err = unpack(ctx, source, dest)
	default:
		co, err = link(source, dest)
	}
	if err != nil {
		return Checkout{}, err
	}
	co.RepoID = repoID
	return co, nil
}

func cloneOrOpen(ctx context.Context, url, dest, ref string) (Checkout, error) {
	if _, err := os.Stat(dest); err == nil {
		co, err := Open(dest)
		if err != nil {
			return Checkout{}, err
		}
		if co.Remote != url {
			return Checkout{}, fmt.Errorf("%w: %s holds %q", ErrDestinationExists, dest, co.Remote)
		}
		return co, nil
	}
	return Clone(ctx, url, dest, ref)
}

// unpack extracts the archive file source into dest. A directory left by an
// earlier extraction is replaced; links and clones are not.
func unpack(ctx context.Context, source, dest string) (Checkout, error) {
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkout{}, fmt.Errorf("%w: path does not exist: %s", ErrInvalidSource, source)
		}
		return Checkout{}, fmt.Errorf("stat archive: %w", err)
	}
	if info.IsDir() {
		return link(source, dest)
	}

	if fi, err := os.Lstat(dest); err == nil {
		if !fi.IsDir() || isGitDir(dest) {
			return Checkout{}, fmt.Errorf("%w: %s", ErrDestinationExists, dest)
		}
		if err := os.RemoveAll(dest); err != nil {
			return Checkout{}, fmt.Errorf("removing previous extraction: %w", err)
		}
	}

	if err := Extract(ctx, source, dest); err != nil {
		return Checkout{}, err
	}
	return Open(dest)
}

func isGitDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// link points dest at the local directory source.
func link(source, dest string) (Checkout, error) {
	src, err := validatePath(source)
	if err != nil {
		return Checkout{}, err
	}
	src, err = filepath.Abs(src)
	if err != nil {
		return Checkout{}, fmt.Errorf("resolving source: %w", err)
	}

	if target, err := os.Readlink(dest); err == nil {
		if filepath.Clean(target) != src {
			return Checkout{}, fmt.Errorf("%w: %s links to %s", ErrDestinationExists, dest, target)
		}
	} else if _, statErr := os.Lstat(dest); statErr == nil {
		same, err := samePath(src, dest)
		if err != nil || !same {
			return Checkout{}, fmt.Errorf("%w: %s", ErrDestinationExists, dest)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return Checkout{}, fmt.Errorf("creating parent directory: %w", err)
		}
		if err := os.Symlink(src, dest); err != nil {
			return Checkout{}, fmt.Errorf("linking %s: %w", src, err)
		}
	}

	co, err := Open(src)
	if err != nil {
		return Checkout{}, err
	}
	co.Root = dest
	return co, nil
}

func samePath(a, b string) (bool, error) {
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		return false, err
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		return false, err
	}
	return ra == rb, nil
}

func referenceName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}

// validatePath cleans path and checks that it is an existing directory.
func validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path cannot be empty", ErrInvalidSource)
	}

	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: path does not exist: %s", ErrInvalidSource, cleanPath)
		}
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: path must be a directory: %s", ErrInvalidSource, cleanPath)
	}
	return cleanPath, nil
}
