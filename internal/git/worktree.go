package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMergeConflict wraps every failure of MergeNoFF's merge command (not of
// its checkout). Whether conflicted files were left behind is known only by
// calling ConflictFiles afterwards.
var ErrMergeConflict = errors.New("git: merge conflict")

// WorktreeAdd creates a branch off base (or HEAD if base is empty) and
// attaches a new worktree for it at path.
func (g *GitClient) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git: worktree add %q: %w", path, err)
	}
	return nil
}

// WorktreeRemove removes the worktree at path. force discards a dirty
// working tree rather than refusing.
func (g *GitClient) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git: worktree remove %q: %w", path, err)
	}
	return nil
}

// DeleteBranch deletes a local branch. force uses -D instead of -d.
func (g *GitClient) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := g.run(ctx, "branch", flag, name); err != nil {
		return fmt.Errorf("git: delete branch %q: %w", name, err)
	}
	return nil
}

// CommitAll stages every change in the working tree and commits it with
// message, running in dir (so it can target a worktree path rather than
// g.WorkDir). Returns false if there was nothing to commit.
func (g *GitClient) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	runner := &GitClient{WorkDir: dir, GitBin: g.GitBin}
	dirty, err := runner.HasUncommittedChanges(ctx)
	if err != nil {
		return false, fmt.Errorf("git: commit all: status: %w", err)
	}
	if !dirty {
		return false, nil
	}
	if _, err := runner.run(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("git: commit all: add: %w", err)
	}
	if _, err := runner.run(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git: commit all: commit: %w", err)
	}
	return true, nil
}

// MergeNoFF checks out target and merges branch into it with --no-ff. When
// the merge command fails it returns an error wrapping ErrMergeConflict;
// callers list the conflicted files with ConflictFiles, which is empty if
// the failure had another cause. A checkout failure does not wrap
// ErrMergeConflict.
func (g *GitClient) MergeNoFF(ctx context.Context, target, branch, message string) error {
	if _, err := g.run(ctx, "checkout", target); err != nil {
		return fmt.Errorf("git: merge: checkout %q: %w", target, err)
	}
	args := []string{"merge", "--no-ff", branch}
	if message != "" {
		args = append(args, "-m", message)
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git: merge %q into %q: %w: %w", branch, target, ErrMergeConflict, err)
	}
	return nil
}

// ConflictFiles returns the set of files currently in a conflicted (unmerged)
// state, via `git diff --name-only --diff-filter=U`.
func (g *GitClient) ConflictFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("git: conflict files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// AbortMerge aborts an in-progress merge, used after a conflict has been
// recorded and the loop is being marked failed rather than resolved.
func (g *GitClient) AbortMerge(ctx context.Context) error {
	if _, err := g.run(ctx, "merge", "--abort"); err != nil {
		return fmt.Errorf("git: merge abort: %w", err)
	}
	return nil
}

// IsGitRepo reports whether dir (the current directory if dir is empty) is inside a
// git working tree, without erroring when it is not.
func IsGitRepo(ctx context.Context, dir string) bool {
	g := &GitClient{WorkDir: dir}
	_, _, _, err := g.runSilent(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil
}
