package config

import "testing"

func TestApplyDefaults_FillsZeroFields(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Sim.MaxTicks != 30 {
		t.Fatalf("sim.max_ticks = %d, want 30", cfg.Sim.MaxTicks)
	}
	if cfg.Sim.QuiescenceTicks != 3 {
		t.Fatalf("sim.quiescence_ticks = %d, want 3", cfg.Sim.QuiescenceTicks)
	}
	if cfg.Sim.QualityBar != 75 {
		t.Fatalf("sim.quality_bar = %v, want 75", cfg.Sim.QualityBar)
	}
	if cfg.Invoker.Type != "stub" {
		t.Fatalf("invoker.type = %q, want %q", cfg.Invoker.Type, "stub")
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Sim:     SimConfig{MaxTicks: 5, QualityBar: 90},
		Invoker: InvokerConfig{Type: "gemini", Model: "gemini-2.0-flash"},
	}
	cfg.ApplyDefaults()

	if cfg.Sim.MaxTicks != 5 {
		t.Fatalf("sim.max_ticks = %d, want 5", cfg.Sim.MaxTicks)
	}
	if cfg.Sim.QualityBar != 90 {
		t.Fatalf("sim.quality_bar = %v, want 90", cfg.Sim.QualityBar)
	}
	if cfg.Invoker.Type != "gemini" {
		t.Fatalf("invoker.type = %q, want %q", cfg.Invoker.Type, "gemini")
	}
	if cfg.Sim.Workers != 4 {
		t.Fatalf("sim.workers = %d, want 4", cfg.Sim.Workers)
	}
}

func TestValidateSettings_AcceptsFullDocument(t *testing.T) {
	t.Parallel()

	settings := map[string]any{
		"sim": map[string]any{
			"max_ticks":        30,
			"quiescence_ticks": 3,
			"workers":          4,
			"quality_bar":      75,
		},
		"cells": map[string]any{
			"wip_limit":       3,
			"stale_threshold": 4,
			"stuck_threshold": 2,
			"strictness":      0.8,
		},
		"invoker": map[string]any{
			"type":  "gemini",
			"model": "gemini-2.0-flash",
		},
	}

	if err := ValidateSettings(settings); err != nil {
		t.Fatalf("ValidateSettings returned error: %v", err)
	}
}

func TestValidateSettings_RejectsUnknownInvokerType(t *testing.T) {
	t.Parallel()

	settings := map[string]any{
		"invoker": map[string]any{"type": "telepathy"},
	}

	if err := ValidateSettings(settings); err == nil {
		t.Fatal("ValidateSettings returned nil error, want error")
	}
}

func TestValidateSettings_RejectsUnknownTopLevelKey(t *testing.T) {
	t.Parallel()

	settings := map[string]any{
		"grid": map[string]any{"width": 4},
	}

	if err := ValidateSettings(settings); err == nil {
		t.Fatal("ValidateSettings returned nil error, want error")
	}
}
