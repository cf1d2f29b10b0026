package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validRegToken = "abcdefghijklmnopqrstuvwxy" // 25 alnum chars

func baseConfig() string {
	return `[server]
host = faraday.example.com
api_port = 5985
websocket_port = 9000
workspace = myws

[tokens]
registration = ` + validRegToken + `

[agent]
agent_name = test-agent
executors = ex1

[executor.ex1]
cmd = echo hello

[params.ex1]
out = True

[varenvs.ex1]
DO_NOTHING = True
`
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatcher.ini")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeTemp(t, baseConfig())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "faraday.example.com" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.APIPort != 5985 || cfg.WebsocketPort != 9000 {
		t.Errorf("ports = %d, %d", cfg.APIPort, cfg.WebsocketPort)
	}
	spec, ok := cfg.Executors["ex1"]
	if !ok {
		t.Fatal("ex1 executor missing")
	}
	if spec.Cmd != "echo hello" {
		t.Errorf("Cmd = %q", spec.Cmd)
	}
	if spec.MaxSize != defaultMaxSize {
		t.Errorf("MaxSize = %d, want default", spec.MaxSize)
	}
	if spec.Varenvs["DO_NOTHING"] != "True" {
		t.Errorf("Varenvs = %v", spec.Varenvs)
	}
}

func TestLoadMissingRequiredField(t *testing.T) {
	bad := strings.Replace(baseConfig(), "host = faraday.example.com\n", "", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for missing host")
	}
}

func TestLoadBadPort(t *testing.T) {
	bad := strings.Replace(baseConfig(), "api_port = 5985", "api_port = notanint", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for non-integer port")
	}
}

func TestLoadPortOutOfRange(t *testing.T) {
	bad := strings.Replace(baseConfig(), "api_port = 5985", "api_port = 99999", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for out-of-range port")
	}
}

func TestLoadBadRegistrationToken(t *testing.T) {
	bad := strings.Replace(baseConfig(), validRegToken, "tooshort", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for bad registration token")
	}
}

func TestLoadDuplicateSection(t *testing.T) {
	bad := baseConfig() + "\n[server]\nhost = other\n"
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for duplicate section")
	}
}

func TestLoadDuplicateExecutorName(t *testing.T) {
	bad := strings.Replace(baseConfig(), "executors = ex1", "executors = ex1,ex1", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for duplicate executor name")
	}
}

func TestLoadExecutorListToleratesWhitespace(t *testing.T) {
	content := baseConfig() + `
[executor.ex2]
cmd = echo two

[params.ex2]

[varenvs.ex2]
`
	content = strings.Replace(content, "executors = ex1", "executors =  ex1, ex2 ", 1)
	path := writeTemp(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Executors) != 2 {
		t.Fatalf("expected 2 executors, got %d", len(cfg.Executors))
	}
}

func TestLoadExecutorNameWithSpaceFails(t *testing.T) {
	bad := strings.Replace(baseConfig(), "executors = ex1", "executors = ex 1", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for executor name containing space")
	}
}

func TestLoadUndeclaredExecutorSectionFails(t *testing.T) {
	bad := strings.Replace(baseConfig(), "executors = ex1", "executors = ex1,ghost", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for executors entry missing its section")
	}
}

func TestLoadBadParamValueFails(t *testing.T) {
	bad := strings.Replace(baseConfig(), "out = True", "out = Maybe", 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for params value not in {True,False}")
	}
}

func TestSavePersistsAgentToken(t *testing.T) {
	path := writeTemp(t, baseConfig())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	agentTok := strings.Repeat("a1", 32) // 64 chars
	if err := cfg.SetAgentToken(agentTok); err != nil {
		t.Fatalf("SetAgentToken: %v", err)
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.AgentToken != agentTok {
		t.Errorf("AgentToken after reload = %q, want %q", reloaded.AgentToken, agentTok)
	}
	if reloaded.Host != cfg.Host {
		t.Errorf("Save must preserve other sections; Host changed to %q", reloaded.Host)
	}
}
