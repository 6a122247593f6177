//go:build !integration

package ai

import (
	"testing"

	"health-triage/internal/domain/ports/adapter"
)

func TestToGenAIConfig_Temperature(t *testing.T) {
	p := adapter.Prompt{Text: "hi"}

	cfg := toGenAIConfig(p, adapter.GenerateOptions{Temperature: 0})
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Fatalf("temperature 0 must be sent, got %v", cfg.Temperature)
	}
	cfg = toGenAIConfig(p, adapter.GenerateOptions{Temperature: -1})
	if cfg.Temperature != nil {
		t.Fatalf("negative temperature should leave the provider default, got %v", *cfg.Temperature)
	}
	cfg = toGenAIConfig(adapter.Prompt{Text: "hi", System: "be brief"}, adapter.GenerateOptions{Temperature: 0.4, MaxTokens: 64})
	if *cfg.Temperature != float32(0.4) || cfg.MaxOutputTokens != 64 || cfg.SystemInstruction == nil {
		t.Fatalf("config %+v", cfg)
	}
}
