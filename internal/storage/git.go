package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"multiapi-go/internal/credential"
)

const (
	gitCredentialsFile = "credentials.json"
	gitUsageFile       = "usage_stats.json"
)

// GitOptions configures a Git-backed store. With no RemoteURL the
// worktree is a local repository and every mutation is only committed;
// with a remote each mutation is also pushed.
type GitOptions struct {
	Dir         string
	RemoteURL   string
	Branch      string
	Username    string
	Password    string
	AuthorName  string
	AuthorEmail string
}

// GitStore persists state as two JSON documents in a git worktree, one
// commit per mutation. It trades write latency for a full audit
// history of credential and usage changes.
type GitStore struct {
	mu       sync.Mutex
	opts     GitOptions
	repo     *git.Repository
	worktree *git.Worktree
}

func NewGitStore(opts GitOptions) *GitStore {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	return &GitStore{opts: opts}
}

func (g *GitStore) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(g.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("git store: create dir: %w", err)
	}

	var (
		repo *git.Repository
		err  error
	)
	switch {
	case g.isExistingRepo():
		repo, err = git.PlainOpen(g.opts.Dir)
		if err != nil {
			return fmt.Errorf("git store: open repo: %w", err)
		}
	case g.opts.RemoteURL != "":
		repo, err = git.PlainClone(g.opts.Dir, false, &git.CloneOptions{
			URL:           g.opts.RemoteURL,
			ReferenceName: plumbing.NewBranchReferenceName(g.opts.Branch),
			SingleBranch:  true,
			Depth:         1,
			Auth:          g.auth(),
		})
		if err != nil {
			return fmt.Errorf("git store: clone: %w", err)
		}
	default:
		repo, err = git.PlainInit(g.opts.Dir, false)
		if err != nil {
			return fmt.Errorf("git store: init repo: %w", err)
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	g.repo = repo
	g.worktree = worktree
	return g.pull()
}

func (g *GitStore) Close() error { return nil }

func (g *GitStore) Health(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.worktree == nil {
		return fmt.Errorf("git store: not initialized")
	}
	return g.pull()
}

func (g *GitStore) ListCredentials(ctx context.Context) ([]credential.State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readCredentials()
}

func (g *GitStore) SaveCredential(ctx context.Context, st credential.State) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	creds, err := g.readCredentials()
	if err != nil {
		return err
	}
	replaced := false
	for i := range creds {
		if creds[i].Provider == st.Provider && creds[i].Identifier == st.Identifier {
			creds[i] = st
			replaced = true
			break
		}
	}
	if !replaced {
		creds = append(creds, st)
	}
	return g.writeAndCommit(gitCredentialsFile, creds,
		"Update credential "+st.Provider+"/"+credential.RedactIdentifier(st.Identifier))
}

func (g *GitStore) UpdateUsage(ctx context.Context, provider, identifier string, usage int, lastReset string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	creds, err := g.readCredentials()
	if err != nil {
		return err
	}
	for i := range creds {
		if creds[i].Provider == provider && creds[i].Identifier == identifier {
			creds[i].CurrentUsage = usage
			creds[i].LastReset = lastReset
			return g.writeAndCommit(gitCredentialsFile, creds,
				"Record usage "+provider+"/"+credential.RedactIdentifier(identifier))
		}
	}
	return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
}

func (g *GitStore) DeleteCredential(ctx context.Context, provider, identifier string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	creds, err := g.readCredentials()
	if err != nil {
		return err
	}
	kept := creds[:0]
	found := false
	for _, st := range creds {
		if st.Provider == provider && st.Identifier == identifier {
			found = true
			continue
		}
		kept = append(kept, st)
	}
	if !found {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	return g.writeAndCommit(gitCredentialsFile, kept,
		"Remove credential "+provider+"/"+credential.RedactIdentifier(identifier))
}

func (g *GitStore) IncrementDaily(ctx context.Context, date, provider string, success bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	days, err := g.readDaily()
	if err != nil {
		return err
	}
	day, ok := days[date]
	if !ok {
		day = DailyStats{Date: date, ProvidersUsed: make(map[string]int64)}
	}
	day.TotalRequests++
	if success {
		day.SuccessfulRequests++
	} else {
		day.FailedRequests++
	}
	if day.ProvidersUsed == nil {
		day.ProvidersUsed = make(map[string]int64)
	}
	day.ProvidersUsed[provider]++
	days[date] = day
	return g.writeAndCommit(gitUsageFile, days, "Record daily usage "+date)
}

func (g *GitStore) GetDaily(ctx context.Context, date string) (DailyStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	days, err := g.readDaily()
	if err != nil {
		return DailyStats{}, err
	}
	day, ok := days[date]
	if !ok {
		return DailyStats{}, &ErrNotFound{Key: date}
	}
	return day, nil
}

func (g *GitStore) ListDaily(ctx context.Context) ([]DailyStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	days, err := g.readDaily()
	if err != nil {
		return nil, err
	}
	out := make([]DailyStats, 0, len(days))
	for _, day := range days {
		out = append(out, day)
	}
	sortDaily(out)
	return out, nil
}

func (g *GitStore) ExportData(ctx context.Context) (*Export, error) {
	creds, err := g.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := g.ListDaily(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{ExportedAt: time.Now().UTC(), Credentials: creds, Daily: daily}, nil
}

func (g *GitStore) ImportData(ctx context.Context, data *Export) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.writeAndCommit(gitCredentialsFile, data.Credentials, "Import credentials"); err != nil {
		return err
	}
	days := make(map[string]DailyStats, len(data.Daily))
	for _, day := range data.Daily {
		days[day.Date] = day
	}
	return g.writeAndCommit(gitUsageFile, days, "Import daily usage")
}

func (g *GitStore) readCredentials() ([]credential.State, error) {
	data, err := os.ReadFile(filepath.Join(g.opts.Dir, gitCredentialsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("git store: read credentials: %w", err)
	}
	var out []credential.State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("git store: decode credentials: %w", err)
	}
	return out, nil
}

func (g *GitStore) readDaily() (map[string]DailyStats, error) {
	data, err := os.ReadFile(filepath.Join(g.opts.Dir, gitUsageFile))
	if os.IsNotExist(err) {
		return make(map[string]DailyStats), nil
	}
	if err != nil {
		return nil, fmt.Errorf("git store: read usage: %w", err)
	}
	out := make(map[string]DailyStats)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("git store: decode usage: %w", err)
	}
	return out, nil
}

func (g *GitStore) writeAndCommit(name string, value interface{}, message string) error {
	if g.worktree == nil {
		return fmt.Errorf("git store: not initialized")
	}
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if err := os.WriteFile(filepath.Join(g.opts.Dir, name), payload, 0o600); err != nil {
		return fmt.Errorf("git store: write %s: %w", name, err)
	}
	if _, err := g.worktree.Add(name); err != nil {
		return fmt.Errorf("git store: stage %s: %w", name, err)
	}
	if err := g.commit(message); err != nil {
		return err
	}
	return g.push()
}

func (g *GitStore) commit(message string) error {
	status, err := g.worktree.Status()
	if err != nil {
		return err
	}
	if status.IsClean() {
		return nil
	}
	name := g.opts.AuthorName
	if name == "" {
		name = "multiapi"
	}
	email := g.opts.AuthorEmail
	if email == "" {
		email = "multiapi@localhost"
	}
	_, err = g.worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: name, Email: email, When: time.Now()},
	})
	return err
}

func (g *GitStore) pull() error {
	if g.opts.RemoteURL == "" {
		return nil
	}
	err := g.worktree.Pull(&git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(g.opts.Branch),
		SingleBranch:  true,
		Auth:          g.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) &&
		!errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("git store: pull: %w", err)
	}
	return nil
}

func (g *GitStore) push() error {
	if g.opts.RemoteURL == "" {
		return nil
	}
	err := g.repo.Push(&git.PushOptions{RemoteName: "origin", Auth: g.auth()})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("git store: push: %w", err)
	}
	return nil
}

func (g *GitStore) auth() *http.BasicAuth {
	if g.opts.Username == "" && g.opts.Password == "" {
		return nil
	}
	return &http.BasicAuth{Username: g.opts.Username, Password: g.opts.Password}
}

func (g *GitStore) isExistingRepo() bool {
	_, err := os.Stat(filepath.Join(g.opts.Dir, ".git"))
	return err == nil
}
