package main

import (
	"testing"
	"time"
)

func TestLoadLLMConfigDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	cfg, err := loadLLMConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "gpt-4o-mini" || cfg.Timeout != 30*time.Second || cfg.MinInterval != 50*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadLLMConfigRejectsBadNumbers(t *testing.T) {
	t.Setenv("LLM_TIMEOUT_SECONDS", "soon")
	if _, err := loadLLMConfig(); err == nil {
		t.Fatalf("expected error for non-numeric timeout")
	}
}
