package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/gridca/internal/config"
	"github.com/metalagman/gridca/internal/db"
	"github.com/metalagman/gridca/internal/invoke"
)

func openDB() (*sql.DB, string, func(), error) {
	workRoot, err := os.Getwd()
	if err != nil {
		return nil, "", func() {}, err
	}
	gridcaDir := filepath.Join(workRoot, ".gridca")
	if err := os.MkdirAll(gridcaDir, 0o755); err != nil {
		return nil, "", func() {}, err
	}
	dbPath := filepath.Join(gridcaDir, "gridca.db")
	storeDB, err := db.Open(dbPath)
	if err != nil {
		return nil, "", func() {}, err
	}
	return storeDB, workRoot, func() { _ = storeDB.Close() }, nil
}

func buildInvoker(ctx context.Context, cfg config.InvokerConfig) (invoke.Invoker, error) {
	switch cfg.Type {
	case "", "stub":
		return invoke.NewStub(), nil
	case "script":
		return invoke.NewScript(nil), nil
	case "gemini":
		return invoke.NewGemini(ctx, invoke.GeminiOptions{
			Model:       cfg.Model,
			Temperature: float32(cfg.Temperature),
			CallTimeout: time.Duration(cfg.CallTimeoutSec) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown invoker type %q", cfg.Type)
	}
}
