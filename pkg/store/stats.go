package store

import (
	"context"
	"sort"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all models.
type DBStats struct {
	Models      []ModelInfo // All models, sorted by name
	ModelCount  int         // The number of stored models
	TotalTokens int         // The sum of every model's root weight; the number of trained tokens
	TotalNodes  int         // The number of trie nodes across all models
	TotalSize   int64       // The total size of the stored chains in bytes
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-model metadata.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DBStats{Models: make([]ModelInfo, 0, len(modelInfos))}
	err = s.stmtTotals.QueryRowContext(ctx).Scan(&stats.ModelCount, &stats.TotalTokens, &stats.TotalNodes, &stats.TotalSize)
	if err != nil {
		return nil, err
	}

	for _, m := range modelInfos {
		stats.Models = append(stats.Models, m)
	}
	sort.Slice(stats.Models, func(i, j int) bool {
		return stats.Models[i].Name < stats.Models[j].Name
	})

	return stats, nil
}
