package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/relayops/agent-runtime/configs"
	"github.com/relayops/agent-runtime/internal/redis"
	"github.com/relayops/agent-runtime/internal/redisstream"
)

// Re-publishes tasks stranded in the durable mirror onto the intake stream,
// for the case where the runtime process died and is not coming back under
// the same mirror key. A restarted runtime recovers its own mirror by itself.
func main() {
	cfg := configs.InitConfig()
	args := os.Args
	if len(args) < 2 {
		log.Fatal("Insufficient arguments are provided in calling the command, usage: recovery <limit> [keep]")
		return
	}

	// This argument defines maximum number of mirror entries to be re-published
	limitStr := args[1]
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil || limit < 1 {
		log.Fatal("Invalid input is given for the limit arg, it must be a positive integer", "provided_limit", limitStr, "error", err)
		return
	}

	// When the keep arg is passed, mirror entries are left in place after
	// re-publishing, so the run can be repeated safely
	keepMirror := len(args) > 2 && args[2] == "keep"

	ctx := context.Background()
	redisClient, err := redis.NewClient(cfg.Redis.ToRedisConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = redisClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing Redis connection", "error", err.Error())
		}
	}()
	slog.Info("Redis connection has been initialized successfully")

	mirror := redis.NewMirror(redisClient, cfg.Runtime.MirrorKeyPrefix)
	transport := redisstream.NewTransport(
		redisClient,
		cfg.Runtime.TaskStreamName,
		cfg.Runtime.ResultStreamName,
		cfg.Runtime.ConsumerGroup,
		cfg.Runtime.ConsumerName,
	)

	slog.Info("Fetching stranded tasks from the durable mirror", "mirror_key_prefix", cfg.Runtime.MirrorKeyPrefix, "limit", limit)
	strandedTasks, err := mirror.Entries(ctx)
	if err != nil {
		slog.Error("Error occurred while fetching mirror entries", "error", err.Error())
		return
	}
	if int64(len(strandedTasks)) > limit {
		strandedTasks = strandedTasks[:limit]
	}
	slog.Info("Stranded tasks are fetched", "fetched_items_count", len(strandedTasks))

	republishedCount := 0
	for i, task := range strandedTasks {
		messageID, err := transport.PublishTask(ctx, task)
		if err != nil {
			slog.Error("Error occurred while re-publishing task to the intake stream", "task_id", task.TaskID, "error", err.Error())
			// Ignoring the error here and just logging it, the entry stays in the mirror and the next run picks it up again
			continue
		}
		slog.Info("Task is re-published successfully", "task_id", task.TaskID, "message_id", messageID, "stranded_tasks_count", len(strandedTasks), "item_index", i)
		republishedCount++

		if keepMirror {
			continue
		}
		if err := mirror.Remove(ctx, task.TaskID); err != nil {
			slog.Error("Error occurred while removing re-published task from the mirror", "task_id", task.TaskID, "error", err.Error())
		}
	}

	slog.Info("Stranded tasks have been re-published", "stranded_tasks_count", len(strandedTasks), "successful_republished_count", republishedCount)
}
