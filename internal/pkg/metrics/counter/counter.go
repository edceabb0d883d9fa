package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/TaskFox/internal/pkg/cache"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

const (
	syncRunsKey    = "sync:counters:runs"
	syncChangesKey = "sync:counters:changes"
)

// RecordSyncRun adds the outcome of one run to the Redis counters.
// It matches tasksync.RunObserver and only logs failures.
func RecordSyncRun(userID uint, provider string, res tasksync.RunResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := AddSyncRun(ctx, cache.GetClient(), provider, res); err != nil {
		log.Warnf("[Counter] user=%d provider=%s: record sync run: %v", userID, provider, err)
	}
}

// AddSyncRun increments the run counter for the result status and every
// non-zero change counter in a single pipeline.
func AddSyncRun(ctx context.Context, rdb redis.Cmdable, provider string, res tasksync.RunResult) error {
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, syncRunsKey, field(provider, res.Status), 1)
		for name, n := range changeFields(res.Stats) {
			if n != 0 {
				pipe.HIncrBy(ctx, syncChangesKey, field(provider, name), int64(n))
			}
		}
		return nil
	})
	return err
}

// Totals holds the counters accumulated since the hashes were last reset.
type Totals struct {
	Runs    map[string]int64 `json:"runs"`
	Changes map[string]int64 `json:"changes"`
}

// SyncTotals reads all sync counters. Fields are "<provider>:<name>".
func SyncTotals(ctx context.Context, rdb redis.Cmdable) (*Totals, error) {
	runs, err := readHash(ctx, rdb, syncRunsKey)
	if err != nil {
		return nil, err
	}
	changes, err := readHash(ctx, rdb, syncChangesKey)
	if err != nil {
		return nil, err
	}
	return &Totals{Runs: runs, Changes: changes}, nil
}

func readHash(ctx context.Context, rdb redis.Cmdable, key string) (map[string]int64, error) {
	data, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

func field(provider, name string) string {
	return provider + ":" + name
}

func changeFields(s tasksync.RunStats) map[string]int {
	return map[string]int{
		"lists_pulled":  s.ListsPulled,
		"lists_pushed":  s.ListsPushed,
		"lists_updated": s.ListsUpdated,
		"lists_deleted": s.ListsDeleted,
		"tasks_pulled":  s.TasksPulled,
		"tasks_pushed":  s.TasksPushed,
		"tasks_updated": s.TasksUpdated,
		"tasks_deleted": s.TasksDeleted,
		"conflicts":     s.Conflicts,
		"skipped":       s.Skipped,
		"errors":        s.Errors,
	}
}
