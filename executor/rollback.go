package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/types"
	"github.com/yairfalse/ferry/wal"
)

// rollbackPlan returns the created entries of a journal that are still
// in place, in creation order, and the number of updates.
func rollbackPlan(entries []wal.Entry) ([]wal.Entry, int) {
	live := make(map[string]int64)
	updated := 0
	for _, entry := range entries {
		switch entry.Type {
		case wal.EntryCreated:
			if entry.ID != "" {
				live[entry.Key] = entry.Sequence
			}
		case wal.EntryRolledBack:
			delete(live, entry.Key)
		case wal.EntryUpdated:
			updated++
		}
	}

	var created []wal.Entry
	for _, entry := range entries {
		if entry.Type == wal.EntryCreated && entry.ID != "" && live[entry.Key] == entry.Sequence {
			created = append(created, entry)
		}
	}
	return created, updated
}

// Rollback deletes the items runID created, newest first, so rules go
// before the objects they reference and containers go last. Each
// deletion is journaled; rolling back twice is a no-op.
func (e *Engine) Rollback(ctx context.Context, runID string) (*RollbackResult, error) {
	if e.journalDir == "" {
		return nil, errors.New("rollback requires a journal directory")
	}
	entries, err := wal.ReadRun(e.journalDir, runID)
	if err != nil {
		return nil, err
	}

	created, updated := rollbackPlan(entries)
	result := &RollbackResult{RunID: runID, Irreversible: updated, Entries: []Entry{}}
	if len(created) == 0 {
		return result, nil
	}

	journal, err := wal.Open(e.journalDir, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to open push journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	logger := e.logger.WithContext(ctx)
	for i := len(created) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		c := created[i]
		entry := Entry{
			Kind:      types.Kind(c.Kind),
			Name:      c.Name,
			Container: c.Container,
			NewName:   c.NewName,
			ID:        c.ID,
		}

		journalType := wal.EntryRolledBack
		err := e.dest.Delete(ctx, entry.Kind, c.ID)
		switch {
		case err == nil:
			entry.Action = ActionRolledBack
			result.RolledBack++
		case api.IsNotFound(err):
			entry.Action = ActionRolledBack
			entry.Message = "already absent"
			result.RolledBack++
		default:
			entry.Action = ActionFailed
			entry.Error = err.Error()
			result.Failed++
			journalType = wal.EntryRollbackFailed
		}
		entry.Status = entry.Action.Status()
		result.Entries = append(result.Entries, entry)

		if jerr := journal.Append(wal.Entry{
			Type:      journalType,
			Key:       c.Key,
			Kind:      c.Kind,
			Container: c.Container,
			Name:      c.Name,
			NewName:   c.NewName,
			ID:        c.ID,
			Message:   entry.Error,
		}); jerr != nil {
			logger.Error().Err(jerr).Str("key", c.Key).Msg("failed to journal rollback")
		}
	}

	logger.Info().
		Str("run_id", runID).
		Int("rolled_back", result.RolledBack).
		Int("failed", result.Failed).
		Int("irreversible", result.Irreversible).
		Msg("rollback finished")
	return result, nil
}
