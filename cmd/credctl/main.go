package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"multiapi-go/internal/config"
	"multiapi-go/internal/credential"
	"multiapi-go/internal/storage"
)

func main() {
	mode := flag.String("mode", "", "operation mode: list | stats | add | remove | enable | disable | export | import")
	configPath := flag.String("config", "api_config.json", "path to the configuration document")
	providerName := flag.String("provider", "", "provider name for add/remove/enable/disable")
	key := flag.String("key", "", "credential key for add, or key suffix for remove/enable/disable")
	baseURL := flag.String("base-url", "", "endpoint override for add")
	limit := flag.Int("limit", 0, "daily limit for add (0 uses the default)")
	priority := flag.Int("priority", 0, "priority for add (0 uses the default)")
	filePath := flag.String("file", "", "file path for export/import (default: stdout/stdin)")
	timeout := flag.Duration("timeout", 30*time.Second, "operation timeout")
	flag.Parse()

	if *mode == "" {
		fail(fmt.Errorf("missing -mode (list|stats|add|remove|enable|disable|export|import)"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(fmt.Errorf("load config %s: %w", *configPath, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := openStore(ctx, cfg, *configPath)
	if err != nil {
		fail(fmt.Errorf("open storage backend: %w", err))
	}
	defer st.Close()

	switch strings.ToLower(*mode) {
	case "list":
		err = runList(ctx, st)
	case "stats":
		err = runStats(ctx, st)
	case "add":
		err = runAdd(ctx, st, *providerName, *key, *baseURL, *limit, *priority)
	case "remove":
		err = runToggle(ctx, st, *providerName, *key, nil)
	case "enable":
		active := true
		err = runToggle(ctx, st, *providerName, *key, &active)
	case "disable":
		active := false
		err = runToggle(ctx, st, *providerName, *key, &active)
	case "export":
		err = runExport(ctx, st, *filePath)
	case "import":
		err = runImport(ctx, st, *filePath)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		fail(err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, configPath string) (storage.Store, error) {
	var st storage.Store
	var err error
	s := cfg.Storage
	switch s.Backend {
	case "redis":
		st = storage.NewRedisStore(s.RedisAddr, s.RedisPassword, s.RedisDB, s.RedisPrefix)
	case "mongodb":
		st, err = storage.NewMongoStore(s.MongoURI, s.MongoDatabase)
	case "postgres":
		st, err = storage.NewPostgresStore(s.PostgresDSN)
	case "git":
		st = storage.NewGitStore(storage.GitOptions{
			Dir:         s.GitDir,
			RemoteURL:   s.GitRemoteURL,
			Branch:      s.GitBranch,
			Username:    os.Getenv("MULTIAPI_GIT_USERNAME"),
			Password:    os.Getenv("MULTIAPI_GIT_PASSWORD"),
			AuthorName:  s.GitAuthorName,
			AuthorEmail: s.GitAuthorEmail,
		})
	default:
		st = storage.NewFileStore(configPath)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Initialize(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func runList(ctx context.Context, st storage.Store) error {
	creds, err := st.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	sort.Slice(creds, func(i, j int) bool {
		if creds[i].Provider != creds[j].Provider {
			return creds[i].Provider < creds[j].Provider
		}
		return creds[i].Identifier < creds[j].Identifier
	})
	for _, c := range creds {
		state := "active"
		if c.IsActive != nil && !*c.IsActive {
			state = "disabled"
		}
		fmt.Printf("%-12s %-16s usage %d/%d priority %d %s\n",
			c.Provider, credential.RedactIdentifier(c.Identifier),
			c.CurrentUsage, c.DailyLimit, c.Priority, state)
	}
	return nil
}

func runStats(ctx context.Context, st storage.Store) error {
	daily, err := st.ListDaily(ctx)
	if err != nil {
		return fmt.Errorf("list daily usage: %w", err)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })
	for _, d := range daily {
		fmt.Printf("%s total %d ok %d failed %d", d.Date, d.TotalRequests, d.SuccessfulRequests, d.FailedRequests)
		providers := make([]string, 0, len(d.ProvidersUsed))
		for p := range d.ProvidersUsed {
			providers = append(providers, p)
		}
		sort.Strings(providers)
		for _, p := range providers {
			fmt.Printf(" %s=%d", p, d.ProvidersUsed[p])
		}
		fmt.Println()
	}
	return nil
}

func runAdd(ctx context.Context, st storage.Store, providerName, key, baseURL string, limit, priority int) error {
	if providerName == "" || key == "" {
		return fmt.Errorf("add requires -provider and -key")
	}
	state := credential.State{
		Identifier: key,
		Provider:   providerName,
		Endpoint:   baseURL,
		DailyLimit: limit,
		Priority:   priority,
	}
	// FromState validates the provider and applies the document defaults.
	rec, err := credential.FromState(state)
	if err != nil {
		return err
	}
	if err := st.SaveCredential(ctx, rec.State()); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	fmt.Printf("added %s %s\n", providerName, credential.RedactIdentifier(key))
	return nil
}

// runToggle removes a credential when active is nil, otherwise flips
// its active flag. The key is matched by identifier suffix so the full
// secret never has to appear on a command line.
func runToggle(ctx context.Context, st storage.Store, providerName, suffix string, active *bool) error {
	if providerName == "" || suffix == "" {
		return fmt.Errorf("this mode requires -provider and -key (suffix)")
	}
	creds, err := st.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	for _, c := range creds {
		if c.Provider != providerName || !strings.HasSuffix(c.Identifier, suffix) {
			continue
		}
		if active == nil {
			if err := st.DeleteCredential(ctx, c.Provider, c.Identifier); err != nil {
				return fmt.Errorf("delete credential: %w", err)
			}
			fmt.Printf("removed %s %s\n", c.Provider, credential.RedactIdentifier(c.Identifier))
			return nil
		}
		c.IsActive = active
		if err := st.SaveCredential(ctx, c); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		fmt.Printf("set %s %s active=%v\n", c.Provider, credential.RedactIdentifier(c.Identifier), *active)
		return nil
	}
	return fmt.Errorf("no %s credential matches suffix %q", providerName, suffix)
}

func runExport(ctx context.Context, st storage.Store, path string) error {
	data, err := st.ExportData(ctx)
	if err != nil {
		return fmt.Errorf("export data: %w", err)
	}
	var w io.Writer = os.Stdout
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create export directory: %w", err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("write export json: %w", err)
	}
	return nil
}

func runImport(ctx context.Context, st storage.Store, path string) error {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var data storage.Export
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return fmt.Errorf("read import json: %w", err)
	}
	if err := st.ImportData(ctx, &data); err != nil {
		return fmt.Errorf("import data: %w", err)
	}
	fmt.Printf("imported %d credentials, %d daily records\n", len(data.Credentials), len(data.Daily))
	return nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "credctl:", err)
	os.Exit(1)
}
