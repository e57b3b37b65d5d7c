package store

import (
	"context"
	"fmt"
)

// AnyReviewIssues reports whether any review_issue context entries exist
// for a run, across every task (including the cross-task bucket). A
// review pass is defined as zero issues persisted; this is the read side
// of that definition.
func (s *Store) AnyReviewIssues(ctx context.Context, runID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM context WHERE run_id=? AND type=?)`,
		runID, string(ContextReviewIssue))
	var exists int
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("store: any review issues: %w", err)
	}
	return exists != 0, nil
}
