package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jwebster45206/consequence-engine/internal/config"
	"github.com/jwebster45206/consequence-engine/internal/services/queue"
	"github.com/jwebster45206/consequence-engine/internal/storage"
	queuePkg "github.com/jwebster45206/consequence-engine/pkg/queue"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

func main() {
	if len(os.Args) < 5 {
		fmt.Fprintf(os.Stderr, "Usage: %s <party_code> <type> <difficulty> <player_id>...\n", os.Args[0])
		os.Exit(1)
	}

	req, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	client, err := storage.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to parse Redis URL:", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}

	q := queue.NewGenerationQueue(queue.NewClient(client, slog.Default()), cfg.GenerationQueueKey)
	job := queuePkg.NewGenerationJob(*req, time.Now().UTC())
	if err := q.Enqueue(ctx, job); err != nil {
		log.Fatal("Failed to enqueue job:", err)
	}
	fmt.Printf("Enqueued generation job %s for party %s\n", job.JobID, req.PartyCode)

	depth, err := q.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}
	fmt.Printf("Queue depth: %d jobs\n", depth)
}

func parseArgs(args []string) (*scenario.GenerationRequest, error) {
	difficulty, err := strconv.Atoi(args[2])
	if err != nil || difficulty < 1 || difficulty > 10 {
		return nil, fmt.Errorf("difficulty must be a number from 1 to 10, got %q", args[2])
	}
	return &scenario.GenerationRequest{
		PartyCode:  args[0],
		Type:       scenario.Type(args[1]),
		Difficulty: difficulty,
		PlayerIDs:  args[3:],
	}, nil
}
