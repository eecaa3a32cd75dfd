package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tangyuling/deploy/internal/model"
)

// historyPrefix is the Redis key prefix for run history lists.
const historyPrefix = "deploy:history:"

// HistoryKey returns the Redis key holding run history for project.
func HistoryKey(project string) string {
	return historyPrefix + project
}

// RecordRun prepends run to the project's history and trims it to limit entries.
func (r *Redis) RecordRun(ctx context.Context, project string, run *model.Run, limit int64) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	key := HistoryKey(project)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	if limit > 0 {
		pipe.LTrim(ctx, key, 0, limit-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to n runs, newest first.
func (r *Redis) RecentRuns(ctx context.Context, project string, n int64) ([]*model.Run, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := r.client.LRange(ctx, HistoryKey(project), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]*model.Run, 0, len(raw))
	for _, item := range raw {
		var run model.Run
		if err := json.Unmarshal([]byte(item), &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, nil
}
