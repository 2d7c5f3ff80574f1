package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/gridca/internal/config"
	"github.com/spf13/viper"
)

func loadConfig(workRoot string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = filepath.Join(".gridca", "config.json")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workRoot, path)
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := config.ValidateSettings(doc); err != nil {
		return config.Config{}, err
	}

	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
