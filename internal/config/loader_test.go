package config

import (
	"os"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "foo", "bar"); v != "foo" {
		t.Fatalf("expected 'foo', got %q", v)
	}
	if v := firstNonEmpty(); v != "" {
		t.Fatalf("expected empty, got %q", v)
	}
}

func TestParseInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		n, err := parseInt("42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 42 {
			t.Fatalf("expected 42, got %d", n)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		if _, err := parseInt("notanint"); err == nil {
			t.Fatalf("expected error for invalid int")
		}
	})
}

func TestIntFromEnv(t *testing.T) {
	key := "SIO_TEST_INT_FROM_ENV"
	old := os.Getenv(key)
	defer func() {
		_ = os.Setenv(key, old)
	}()

	_ = os.Unsetenv(key)
	if got := intFromEnv(key, 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	_ = os.Setenv(key, "123")
	if got := intFromEnv(key, 7); got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}
}

func TestLoadSpecialists_WrapperAndListAndDisabled(t *testing.T) {
	// Prepare wrapper-style YAML file
	wrapper := `specialists:
  - name: test-wrap
    model: warp-model
    baseURL: https://wrap.example
`
	file1 := "specialists_test_wrap.yaml"
	if err := os.WriteFile(file1, []byte(wrapper), 0o644); err != nil {
		t.Fatalf("write wrapper file: %v", err)
	}
	defer func() {
		_ = os.Remove(file1)
	}()

	old := os.Getenv("SPECIALISTS_CONFIG")
	defer func() {
		_ = os.Setenv("SPECIALISTS_CONFIG", old)
	}()
	_ = os.Setenv("SPECIALISTS_CONFIG", file1)

	var cfg Config
	if err := loadSpecialists(&cfg); err != nil {
		t.Fatalf("loadSpecialists(wrapper) returned error: %v", err)
	}
	if len(cfg.Specialists) != 1 || cfg.Specialists[0].Name != "test-wrap" {
		t.Fatalf("unexpected specialists: %#v", cfg.Specialists)
	}

	// Now test direct-list YAML
	list := `- name: direct-one
  model: direct-model
`
	file2 := "specialists_test_list.yaml"
	if err := os.WriteFile(file2, []byte(list), 0o644); err != nil {
		t.Fatalf("write list file: %v", err)
	}
	defer func() {
		_ = os.Remove(file2)
	}()
	_ = os.Setenv("SPECIALISTS_CONFIG", file2)
	cfg = Config{}
	if err := loadSpecialists(&cfg); err != nil {
		t.Fatalf("loadSpecialists(list) returned error: %v", err)
	}
	if len(cfg.Specialists) != 1 || cfg.Specialists[0].Name != "direct-one" {
		t.Fatalf("unexpected specialists from list: %#v", cfg.Specialists)
	}

	// Test SPECIALISTS_DISABLED
	_ = os.Setenv("SPECIALISTS_DISABLED", "true")
	cfg = Config{}
	if err := loadSpecialists(&cfg); err != nil {
		t.Fatalf("loadSpecialists(disabled) returned error: %v", err)
	}
	if len(cfg.Specialists) != 0 {
		t.Fatalf("expected 0 specialists when disabled, got %d", len(cfg.Specialists))
	}
	_ = os.Unsetenv("SPECIALISTS_DISABLED")
}

func TestLoad_RequiresOpenAIKeyForDefaultProvider(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "LLM_PROVIDER", "WORKDIR"} {
		old := os.Getenv(k)
		defer func(k, v string) { _ = os.Setenv(k, v) }(k, old)
		_ = os.Unsetenv(k)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected error when OPENAI_API_KEY is unset and provider defaults to openai")
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, kv := range [][2]string{
		{"OPENAI_API_KEY", "dummy"},
		{"WORKDIR", "."},
		{"LLM_PROVIDER", ""},
	} {
		old := os.Getenv(kv[0])
		defer func(k, v string) { _ = os.Setenv(k, v) }(kv[0], old)
		_ = os.Setenv(kv[0], kv[1])
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LLMClient.Provider != "openai" {
		t.Fatalf("expected default provider openai, got %q", cfg.LLMClient.Provider)
	}
	if cfg.Memory.RollingWindowSize != 14 || cfg.Memory.SummarizeAfterSeq != 5 {
		t.Fatalf("unexpected memory defaults: %+v", cfg.Memory)
	}
	if cfg.WorkflowMaxIterations != 10 {
		t.Fatalf("expected default workflow max iterations 10, got %d", cfg.WorkflowMaxIterations)
	}
	if cfg.EventBusCapacity != 1024 {
		t.Fatalf("expected default event bus capacity 1024, got %d", cfg.EventBusCapacity)
	}
}
