// Package worktree provides per-loop filesystem isolation on top of
// internal/git: each build loop gets its own branch and working directory
// so concurrent loops never collide on the same files. When the target
// directory is not a git repository, or worktrees are disabled by
// configuration, the manager degrades to a no-op and every loop runs
// directly against the target directory.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/AbdelazizMoustafa10m/sq/internal/git"
)

// MergeStatus is the outcome of a Merge call.
type MergeStatus string

const (
	MergeSuccess  MergeStatus = "success"
	MergeConflict MergeStatus = "conflict"
)

// MergeResult reports what happened when a loop's branch was merged back.
type MergeResult struct {
	Status        MergeStatus
	ConflictFiles []string
}

// Handle is what Create hands back: the branch and worktree path a loop
// should run in.
type Handle struct {
	LoopID string
	Branch string
	Path   string
}

// Manager creates, merges, and cleans up per-loop worktrees.
type Manager struct {
	client     *git.GitClient
	runID      string
	baseBranch string
	stateDir   string
	enabled    bool
}

// New constructs a Manager for targetDir. If targetDir is not a git
// repository, or useWorktrees is false, the returned Manager runs in
// disabled (no-op) mode: Create returns a handle pointing directly at
// targetDir, and Merge degrades to a checkpoint commit (none when targetDir
// is not a git repository).
func New(ctx context.Context, targetDir, stateDir, runID, baseBranch string, useWorktrees bool) (*Manager, error) {
	m := &Manager{runID: runID, baseBranch: baseBranch, stateDir: stateDir}
	if !useWorktrees || !git.IsGitRepo(ctx, targetDir) {
		m.enabled = false
		return m, nil
	}
	client, err := git.NewGitClient(targetDir)
	if err != nil {
		// Prerequisite check failed despite IsGitRepo passing (e.g. git
		// binary vanished between checks) -- degrade rather than fail
		// the whole run.
		m.enabled = false
		return m, nil
	}
	m.client = client
	m.enabled = true
	if m.baseBranch == "" {
		base, err := client.CurrentBranch(ctx)
		if err != nil {
			return nil, fmt.Errorf("worktree: determine base branch: %w", err)
		}
		m.baseBranch = base
	}
	return m, nil
}

// Enabled reports whether this manager is actually managing worktrees, as
// opposed to running in no-op degraded mode.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// BranchName returns the branch name a loop's worktree is created on:
// sq/<runId>/<loopId>.
func (m *Manager) BranchName(loopID string) string {
	return fmt.Sprintf("sq/%s/%s", m.runID, loopID)
}

// Create ensures a worktree exists for loopID and returns its handle. In
// disabled mode it returns a handle pointing at the shared target
// directory with no branch.
func (m *Manager) Create(ctx context.Context, loopID, targetDir string) (*Handle, error) {
	if !m.enabled {
		return &Handle{LoopID: loopID, Path: targetDir}, nil
	}
	branch := m.BranchName(loopID)
	path := filepath.Join(m.stateDir, "worktrees", loopID)
	if err := m.client.WorktreeAdd(ctx, path, branch, m.baseBranch); err != nil {
		return nil, fmt.Errorf("worktree: create %s: %w", loopID, err)
	}
	return &Handle{LoopID: loopID, Branch: branch, Path: path}, nil
}

// Merge commits any outstanding changes in the loop's worktree, then merges
// its branch back into the base branch with --no-ff. In disabled mode it
// commits directly to the target directory and returns MergeSuccess without
// a branch merge (the "merge step degrades to a checkpoint commit"); when
// the target directory is not a git repository no commit is made.
func (m *Manager) Merge(ctx context.Context, h *Handle) (*MergeResult, error) {
	if !m.enabled {
		client, err := git.NewGitClient(h.Path)
		if err != nil {
			return &MergeResult{Status: MergeSuccess}, nil
		}
		if _, err := client.CommitAll(ctx, h.Path, fmt.Sprintf("checkpoint: %s", h.LoopID)); err != nil {
			return nil, fmt.Errorf("worktree: checkpoint commit for %s: %w", h.LoopID, err)
		}
		return &MergeResult{Status: MergeSuccess}, nil
	}

	if _, err := m.client.CommitAll(ctx, h.Path, fmt.Sprintf("loop %s", h.LoopID)); err != nil {
		return nil, fmt.Errorf("worktree: commit %s: %w", h.LoopID, err)
	}

	err := m.client.MergeNoFF(ctx, m.baseBranch, h.Branch, fmt.Sprintf("Merge loop %s", h.LoopID))
	if err == nil {
		return &MergeResult{Status: MergeSuccess}, nil
	}

	if errors.Is(err, git.ErrMergeConflict) {
		files, cerr := m.client.ConflictFiles(ctx)
		if cerr != nil {
			return nil, fmt.Errorf("worktree: merge %s: list conflicts: %w", h.LoopID, cerr)
		}
		if len(files) > 0 {
			return &MergeResult{Status: MergeConflict, ConflictFiles: files}, nil
		}
		// Conflict error with no conflicted files left is unexpected; surface it.
		return nil, fmt.Errorf("worktree: merge %s: %w", h.LoopID, err)
	}
	return nil, fmt.Errorf("worktree: merge %s: %w", h.LoopID, err)
}

// Cleanup removes the worktree and branch for loopID.
func (m *Manager) Cleanup(ctx context.Context, h *Handle) error {
	if !m.enabled || h.Branch == "" {
		return nil
	}
	if err := m.client.WorktreeRemove(ctx, h.Path, true); err != nil {
		return fmt.Errorf("worktree: cleanup %s: remove worktree: %w", h.LoopID, err)
	}
	if err := m.client.DeleteBranch(ctx, h.Branch, true); err != nil {
		return fmt.Errorf("worktree: cleanup %s: delete branch: %w", h.LoopID, err)
	}
	return nil
}

// CleanupAll removes every handle's worktree and branch, collecting and
// returning the first error encountered while still attempting the rest.
func (m *Manager) CleanupAll(ctx context.Context, handles []*Handle) error {
	var firstErr error
	for _, h := range handles {
		if err := m.Cleanup(ctx, h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
