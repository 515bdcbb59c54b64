package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/auth"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/config"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

// setupEnv writes a config using the offline hashing embedder and returns
// its path and the data directory.
func setupEnv(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "data_dir: " + dataDir + "\nembedding:\n  provider: hashing\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvDataDir, "")
	t.Setenv(config.EnvPassword, "")
	t.Setenv(config.EnvNewPassword, "")
	t.Setenv(envUser, "")
	return cfgPath, dataDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	want := []string{"signup", "ingest", "ask", "search", "docs", "passwd", "remember", "forget", "delete-user", "serve", "health"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for _, flag := range []string{"config", "verbose", "user"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag %q missing", flag)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("a  b\n\nc", 10); got != "a b c" {
		t.Errorf("snippet = %q", got)
	}
	if got := snippet("ação rápida demais", 5); got != "ação…" {
		t.Errorf("snippet = %q", got)
	}
}

func TestHealthReportsEmbedder(t *testing.T) {
	cfgPath, _ := setupEnv(t)

	out, err := run(t, "-c", cfgPath, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var report healthReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !report.Embedder.Ready || report.Embedder.Provider != "hashing" {
		t.Errorf("embedder = %+v, want ready hashing", report.Embedder)
	}
	if report.Status != "ok" {
		t.Errorf("status = %q, want ok", report.Status)
	}
}

// signup creates a user directly in the auth store under dataDir.
func signup(t *testing.T, dataDir, username, password string) {
	t.Helper()
	authPath := filepath.Join(dataDir, "databases", tenant.AuthFile)
	if err := os.MkdirAll(filepath.Dir(authPath), 0o700); err != nil {
		t.Fatal(err)
	}
	sess, err := auth.NewStore(authPath, nil).Signup(context.Background(), username, password)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	sess.Clear()
}

func TestIngestThenAsk(t *testing.T) {
	cfgPath, dataDir := setupEnv(t)
	signup(t, dataDir, "alice", "correct horse")
	t.Setenv(config.EnvPassword, "correct horse")

	doc := filepath.Join(t.TempDir(), "contract.txt")
	if err := os.WriteFile(doc, []byte("The contract renewal is due in March."), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "-c", cfgPath, "-u", "alice", "ingest", doc)
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "contract.txt: 1 chunks") {
		t.Errorf("ingest output = %q", out)
	}

	out, err = run(t, "-c", cfgPath, "-u", "alice", "ask", "contract renewal")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "due in March") {
		t.Errorf("ask output = %q, want the stored passage", out)
	}

	t.Setenv(config.EnvPassword, "wrong")
	if _, err := run(t, "-c", cfgPath, "-u", "alice", "ask", "contract"); err == nil {
		t.Error("ask with a wrong password succeeded")
	}
}

func TestPasswdUsesSeparateNewPassword(t *testing.T) {
	cfgPath, dataDir := setupEnv(t)
	signup(t, dataDir, "bob", "first secret")
	t.Setenv(config.EnvPassword, "first secret")

	if _, err := run(t, "-c", cfgPath, "-u", "bob", "passwd"); err == nil {
		t.Fatal("passwd without a new password succeeded")
	}

	t.Setenv(config.EnvNewPassword, "first secret")
	if _, err := run(t, "-c", cfgPath, "-u", "bob", "passwd"); err == nil {
		t.Fatal("passwd accepted the current password as the new one")
	}

	t.Setenv(config.EnvNewPassword, "second secret")
	out, err := run(t, "-c", cfgPath, "-u", "bob", "passwd")
	if err != nil {
		t.Fatalf("passwd: %v", err)
	}
	if !strings.Contains(out, "Password changed.") {
		t.Errorf("passwd output = %q", out)
	}

	store := auth.NewStore(filepath.Join(dataDir, "databases", tenant.AuthFile), nil)
	if _, err := store.Login(context.Background(), "bob", "first secret"); err == nil {
		t.Error("old password still valid after passwd")
	}
	if _, err := store.Login(context.Background(), "bob", "second secret"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestRetrieveOptionsFromFlags(t *testing.T) {
	cmd := newSearchCmd()
	if err := cmd.ParseFlags([]string{"-k", "5"}); err != nil {
		t.Fatal(err)
	}
	opts := retrieveOptions(cmd, 5, 0)
	if opts.TopK != 5 || opts.MinScore != nil {
		t.Errorf("unset --min-score: %+v, want configured threshold", opts)
	}

	cmd = newSearchCmd()
	if err := cmd.ParseFlags([]string{"--min-score", "0"}); err != nil {
		t.Fatal(err)
	}
	opts = retrieveOptions(cmd, 0, 0)
	if opts.MinScore == nil || *opts.MinScore != 0 {
		t.Errorf("explicit --min-score 0 lost: %+v", opts)
	}
}
