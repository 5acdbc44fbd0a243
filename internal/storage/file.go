package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"multiapi-go/internal/credential"
)

const emptyStateDoc = `{"api_keys":{}}`

// FileStore keeps credential state inside the api_config.json document
// itself (usage written back in place, settings and unknown fields left
// untouched) and daily aggregates in a sibling usage_stats.json. A YAML
// config gets a JSON sidecar instead, since in-place patches only work
// on JSON.
type FileStore struct {
	mu        sync.Mutex
	docPath   string
	dailyPath string
}

func NewFileStore(configPath string) *FileStore {
	doc := configPath
	if !strings.HasSuffix(strings.ToLower(configPath), ".json") {
		doc = configPath + ".state.json"
	}
	return &FileStore{
		docPath:   doc,
		dailyPath: filepath.Join(filepath.Dir(configPath), "usage_stats.json"),
	}
}

func (f *FileStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.docPath), 0o700); err != nil {
		return fmt.Errorf("file store: create dir: %w", err)
	}
	doc, err := f.readDoc()
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(doc) {
		return fmt.Errorf("file store: %s is not valid JSON", f.docPath)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) Health(ctx context.Context) error {
	_, err := os.Stat(filepath.Dir(f.docPath))
	return err
}

func (f *FileStore) ListCredentials(ctx context.Context) ([]credential.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.readDoc()
	if err != nil {
		return nil, err
	}
	var parsed struct {
		APIKeys map[string][]credential.State `json:"api_keys"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("file store: parse %s: %w", f.docPath, err)
	}
	providers := make([]string, 0, len(parsed.APIKeys))
	for p := range parsed.APIKeys {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	var out []credential.State
	for _, p := range providers {
		out = append(out, parsed.APIKeys[p]...)
	}
	return out, nil
}

func (f *FileStore) SaveCredential(ctx context.Context, st credential.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.readDoc()
	if err != nil {
		return err
	}
	idx := findCredentialIndex(doc, st.Provider, st.Identifier)
	path := fmt.Sprintf("api_keys.%s.%d", st.Provider, idx)
	if idx < 0 {
		path = fmt.Sprintf("api_keys.%s.-1", st.Provider)
	}
	doc, err = sjson.SetBytes(doc, path, st)
	if err != nil {
		return fmt.Errorf("file store: patch credential: %w", err)
	}
	return writeAtomic(f.docPath, doc)
}

func (f *FileStore) UpdateUsage(ctx context.Context, provider, identifier string, usage int, lastReset string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.readDoc()
	if err != nil {
		return err
	}
	idx := findCredentialIndex(doc, provider, identifier)
	if idx < 0 {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	doc, err = sjson.SetBytes(doc, fmt.Sprintf("api_keys.%s.%d.current_usage", provider, idx), usage)
	if err != nil {
		return fmt.Errorf("file store: patch usage: %w", err)
	}
	doc, err = sjson.SetBytes(doc, fmt.Sprintf("api_keys.%s.%d.last_reset", provider, idx), lastReset)
	if err != nil {
		return fmt.Errorf("file store: patch last_reset: %w", err)
	}
	return writeAtomic(f.docPath, doc)
}

func (f *FileStore) DeleteCredential(ctx context.Context, provider, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.readDoc()
	if err != nil {
		return err
	}
	idx := findCredentialIndex(doc, provider, identifier)
	if idx < 0 {
		return &ErrNotFound{Key: provider + "/" + credential.RedactIdentifier(identifier)}
	}
	doc, err = sjson.DeleteBytes(doc, fmt.Sprintf("api_keys.%s.%d", provider, idx))
	if err != nil {
		return fmt.Errorf("file store: delete credential: %w", err)
	}
	return writeAtomic(f.docPath, doc)
}

func (f *FileStore) IncrementDaily(ctx context.Context, date, provider string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	days, err := f.readDaily()
	if err != nil {
		return err
	}
	day := days[date]
	day.Date = date
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

	data, err := json.MarshalIndent(days, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(f.dailyPath, data)
}

func (f *FileStore) GetDaily(ctx context.Context, date string) (DailyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	days, err := f.readDaily()
	if err != nil {
		return DailyStats{}, err
	}
	day, ok := days[date]
	if !ok {
		return DailyStats{}, &ErrNotFound{Key: date}
	}
	return day, nil
}

func (f *FileStore) ListDaily(ctx context.Context) ([]DailyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	days, err := f.readDaily()
	if err != nil {
		return nil, err
	}
	out := make([]DailyStats, 0, len(days))
	for _, day := range days {
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f *FileStore) ExportData(ctx context.Context) (*Export, error) {
	creds, err := f.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := f.ListDaily(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{ExportedAt: time.Now().UTC(), Credentials: creds, Daily: daily}, nil
}

func (f *FileStore) ImportData(ctx context.Context, data *Export) error {
	for _, st := range data.Credentials {
		if err := f.SaveCredential(ctx, st); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	days, err := f.readDaily()
	if err != nil {
		return err
	}
	for _, day := range data.Daily {
		days[day.Date] = day
	}
	encoded, err := json.MarshalIndent(days, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(f.dailyPath, encoded)
}

func (f *FileStore) readDoc() ([]byte, error) {
	data, err := os.ReadFile(f.docPath)
	if os.IsNotExist(err) {
		return []byte(emptyStateDoc), nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", f.docPath, err)
	}
	return data, nil
}

func (f *FileStore) readDaily() (map[string]DailyStats, error) {
	days := make(map[string]DailyStats)
	data, err := os.ReadFile(f.dailyPath)
	if os.IsNotExist(err) {
		return days, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", f.dailyPath, err)
	}
	if err := json.Unmarshal(data, &days); err != nil {
		return nil, fmt.Errorf("file store: parse %s: %w", f.dailyPath, err)
	}
	return days, nil
}

// findCredentialIndex locates a record inside the api_keys document by
// provider and full identifier. Returns -1 when absent.
func findCredentialIndex(doc []byte, provider, identifier string) int {
	arr := gjson.GetBytes(doc, "api_keys."+provider).Array()
	for i, item := range arr {
		if item.Get("key").String() == identifier {
			return i
		}
	}
	return -1
}

// writeAtomic writes through a temp file and rename so a crash cannot
// leave a torn document behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
