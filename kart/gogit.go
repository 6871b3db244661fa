package kart

import (
	"fmt"
	"io/fs"
	"os"

	gogit "github.com/go-git/go-git/v5"
)

// GoGitFetcher is a Fetcher backed by a go-git working tree: open (or
// clone) the repository, then expose its working directory as a
// read-only fs.FS via os.DirFS.
type GoGitFetcher struct {
	dir  string
	repo *gogit.Repository
}

// NewGoGitFetcher opens the git repository already cloned at dir. Use
// CloneGoGitFetcher to materialize one from a remote first.
func NewGoGitFetcher(dir string) (*GoGitFetcher, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("kart: open working tree %q: %w", dir, err)
	}
	return &GoGitFetcher{dir: dir, repo: repo}, nil
}

// CloneGoGitFetcher clones url into dir (which must not already exist or
// must be empty) and returns a Fetcher bound to the resulting working
// tree.
func CloneGoGitFetcher(dir, url string) (*GoGitFetcher, error) {
	repo, err := gogit.PlainClone(dir, false, &gogit.CloneOptions{URL: url})
	if err != nil {
		return nil, fmt.Errorf("kart: clone %q: %w", url, err)
	}
	return &GoGitFetcher{dir: dir, repo: repo}, nil
}

// FS returns a read-only filesystem view of the working tree's current
// checkout.
func (f *GoGitFetcher) FS() fs.FS {
	return os.DirFS(f.dir)
}

// Dir returns the working tree's root directory on disk, for callers
// (such as Repository.Watch) that need a real OS path rather than an
// fs.FS view.
func (f *GoGitFetcher) Dir() string { return f.dir }

// Head returns the working tree's current commit hash, or "" if the
// repository has no commits yet.
func (f *GoGitFetcher) Head() string {
	ref, err := f.repo.Head()
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

// Pull fetches and fast-forwards the working tree from remoteName,
// reporting whether any files changed.
func (f *GoGitFetcher) Pull(remoteName string) (changed bool, err error) {
	w, err := f.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("kart: worktree: %w", err)
	}
	before := f.Head()
	err = w.Pull(&gogit.PullOptions{RemoteName: remoteName})
	if err != nil {
		if err == gogit.NoErrAlreadyUpToDate {
			return false, nil
		}
		return false, fmt.Errorf("kart: pull: %w", err)
	}
	return f.Head() != before, nil
}
