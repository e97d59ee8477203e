package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"lilychat/simulator"

	"github.com/lmittmann/tint"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	numUsers := flag.Int("users", 10, "number of simulated users")
	duration := flag.Duration("duration", 10*time.Minute, "how long to run")
	msgFreq := flag.Float64("messages", 120.0, "messages per user per hour")
	seenFreq := flag.Float64("reads", 60.0, "conversation reads per user per hour")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	})))

	config := simulator.SimConfig{
		NumUsers:         *numUsers,
		SimulationTime:   *duration,
		MessageFrequency: *msgFreq,
		SeenFrequency:    *seenFreq,
		DisconnectRate:   0.01,
		ReconnectRate:    0.05,
		ZipfS:            1.07,
		ServerURL:        *serverURL,
	}

	sim := simulator.NewSimulator(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.SimulationTime)
	defer cancel()

	if err := sim.Run(ctx); err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	metrics := sim.GetMetrics()
	slog.Info("simulation completed",
		"users", metrics.TotalUsers,
		"activeUsers", metrics.ActiveUsers,
		"requests", metrics.TotalRequests,
		"failed", metrics.FailedRequests,
		"messages", metrics.TotalMessages,
		"seenMarks", metrics.TotalSeenMarks,
		"avgLatency", metrics.AverageLatency)
}
