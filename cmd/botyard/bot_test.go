package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/config"
	"github.com/zulandar/botyard/internal/db"
	"github.com/zulandar/botyard/internal/fleet"
	"github.com/zulandar/botyard/internal/resource"
	"github.com/zulandar/botyard/internal/telegraph"
)

// useMockAdapters swaps the platform adapters for mocks whose username is
// the token plus "_bot". The token "bad" is rejected.
func useMockAdapters(t *testing.T) {
	t.Helper()
	orig := adapterFactories
	adapterFactories = func(zerolog.Logger) map[string]fleet.AdapterFactory {
		return map[string]fleet.AdapterFactory{
			"telegram": func(token string) (telegraph.Adapter, error) {
				a := telegraph.NewMockAdapter(token + "_bot")
				if token == "bad" {
					a.FailConnect(telegraph.ErrUnauthorized)
				}
				return a, nil
			},
		}
	}
	t.Cleanup(func() { adapterFactories = orig })
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "botyard.yaml")
	body := "primary:\n  token: primary-token\n" +
		"database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "botyard.db") + "\n" +
		"log:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--config", cfgPath))
	err := cmd.Execute()
	return out.String(), err
}

func TestDBMigrateCmd(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := run(t, cfgPath, "", "db", "migrate")
	if err != nil {
		t.Fatalf("db migrate: %v", err)
	}
	if !strings.Contains(out, "Migrated 3 tables (sqlite)") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestBotListEmpty(t *testing.T) {
	useMockAdapters(t)
	cfgPath := writeTestConfig(t)

	out, err := run(t, cfgPath, "", "bot", "list")
	if err != nil {
		t.Fatalf("bot list: %v", err)
	}
	if !strings.Contains(out, "No bots registered.") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestBotRegisterAndList(t *testing.T) {
	useMockAdapters(t)
	cfgPath := writeTestConfig(t)

	out, err := run(t, cfgPath, "", "bot", "register", "--token", "alice")
	if err != nil {
		t.Fatalf("bot register: %v", err)
	}
	if !strings.Contains(out, "Registered @alice_bot (id 1)") {
		t.Errorf("unexpected register output: %s", out)
	}

	// Token read from stdin when the flag is omitted.
	out, err = run(t, cfgPath, "bob\n", "bot", "register")
	if err != nil {
		t.Fatalf("bot register from stdin: %v", err)
	}
	if !strings.Contains(out, "Registered @bob_bot (id 2)") {
		t.Errorf("unexpected register output: %s", out)
	}

	out, err = run(t, cfgPath, "", "bot", "list")
	if err != nil {
		t.Fatalf("bot list: %v", err)
	}
	for _, want := range []string{"USERNAME", "@alice_bot", "@bob_bot", "telegram"} {
		if !strings.Contains(out, want) {
			t.Errorf("bot list missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "@alice_bot") > strings.Index(out, "@bob_bot") {
		t.Errorf("expected bots ordered by id:\n%s", out)
	}
}

func TestBotRegisterErrors(t *testing.T) {
	useMockAdapters(t)
	cfgPath := writeTestConfig(t)

	if _, err := run(t, cfgPath, "", "bot", "register", "--token", "alice"); err != nil {
		t.Fatalf("bot register: %v", err)
	}

	_, err := run(t, cfgPath, "", "bot", "register", "--token", "alice")
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Errorf("expected duplicate error, got: %v", err)
	}

	_, err = run(t, cfgPath, "", "bot", "register", "--token", "bad")
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("expected rejected token error, got: %v", err)
	}

	_, err = run(t, cfgPath, "   \n", "bot", "register")
	if err == nil || !strings.Contains(err.Error(), "no token") {
		t.Errorf("expected missing token error, got: %v", err)
	}
}

func TestResourceListCmd(t *testing.T) {
	useMockAdapters(t)
	cfgPath := writeTestConfig(t)

	if _, err := run(t, cfgPath, "", "bot", "register", "--token", "alice"); err != nil {
		t.Fatalf("bot register: %v", err)
	}

	out, err := run(t, cfgPath, "", "resource", "list", "--bot", "@alice_bot")
	if err != nil {
		t.Fatalf("resource list: %v", err)
	}
	if !strings.Contains(out, "@alice_bot has no resources.") {
		t.Errorf("unexpected output: %s", out)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	registrar := resource.NewRegistrar(gormDB, zerolog.Nop())
	if _, err := registrar.Register(context.Background(), 1, "handbook.pdf", []string{"c1", "c2", "c3"}); err != nil {
		t.Fatalf("register resource: %v", err)
	}

	out, err = run(t, cfgPath, "", "resource", "list", "--bot", "1")
	if err != nil {
		t.Fatalf("resource list by id: %v", err)
	}
	if !strings.Contains(out, "handbook.pdf") || !strings.Contains(out, "CHUNKS") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "  3  ") {
		t.Errorf("expected chunk count 3 in output: %s", out)
	}

	out, err = run(t, cfgPath, "", "bot", "list")
	if err != nil {
		t.Fatalf("bot list: %v", err)
	}
	if !strings.Contains(out, "RESOURCES") || !strings.Contains(out, "telegram  1  ") {
		t.Errorf("expected one resource for alice_bot: %s", out)
	}
}

func TestResourceListUnknownBot(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := run(t, cfgPath, "", "resource", "list", "--bot", "ghost_bot")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got: %v", err)
	}

	if _, err := run(t, cfgPath, "", "resource", "list"); err == nil {
		t.Error("expected error when --bot is missing")
	}
}
