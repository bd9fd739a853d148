package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  path: /var/lib/outie/outie.db
engine:
  base_url: http://sandbox:4096
sandbox:
  base_url: http://sandbox:8700
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Engine.PromptTimeout != 10*time.Minute {
		t.Fatalf("prompt timeout default = %v", cfg.Engine.PromptTimeout)
	}
	if cfg.Sandbox.WSPort != 9920 || cfg.Sandbox.MCPPort != 9921 {
		t.Fatalf("port defaults = %d/%d", cfg.Sandbox.WSPort, cfg.Sandbox.MCPPort)
	}
	if cfg.Embeddings.Provider != "openai" {
		t.Fatalf("embeddings provider default = %q", cfg.Embeddings.Provider)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("store:\n  path: x\n  bogus: true\n"))
	if err == nil {
		t.Fatalf("unknown fields must be rejected")
	}
}

func TestValidateReportsMissingFields(t *testing.T) {
	cfg, err := Parse([]byte("logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, field := range []string{"store.path", "engine.base_url", "sandbox.base_url"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("validation error missing %s: %v", field, err)
		}
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("OUTIE_TEST_TOKEN", "tok-123")
	path := t.TempDir() + "/outie.yaml"
	data := `
store:
  path: /tmp/outie.db
engine:
  base_url: http://sandbox:4096
  api_key: ${OUTIE_TEST_TOKEN}
sandbox:
  base_url: http://sandbox:8700
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.APIKey != "tok-123" {
		t.Fatalf("env expansion failed: %q", cfg.Engine.APIKey)
	}
}
