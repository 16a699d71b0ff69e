package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/telhawk-systems/inbox/internal/model"
)

// DefaultBasePath is used when no directory is configured.
const DefaultBasePath = "/var/lib/inbox/dlq"

// FileQueue writes one JSON file per failed envelope.
type FileQueue struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates basePath if needed.
func NewFileQueue(basePath string, logger *slog.Logger) (*FileQueue, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{
		basePath: basePath,
		logger:   logger.With(slog.String("component", "dlq"), slog.String("backend", "file")),
	}, nil
}

// Write stores env as failed_<unixnano>_<n>.json.
func (q *FileQueue) Write(ctx context.Context, env model.Envelope, cause error, reason string) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	failed := newFailed(env, cause, reason)
	failed.ID = fmt.Sprintf("failed_%d_%d", failed.Timestamp.UnixNano(), q.written)

	data, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(q.basePath, failed.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.InfoContext(ctx, "envelope dead-lettered",
		slog.String("dlq_id", failed.ID),
		slog.String("envelope_id", env.ID),
		slog.String("reason", reason))
	return nil
}

// List returns up to limit entries, oldest first. limit <= 0 means all.
func (q *FileQueue) List(ctx context.Context, limit int) ([]FailedEnvelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entryNames()
	if err != nil {
		return nil, err
	}

	var out []FailedEnvelope
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read dlq file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		var failed FailedEnvelope
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.WarnContext(ctx, "failed to parse dlq file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		out = append(out, failed)
	}
	return out, nil
}

// Delete removes the entry with id.
func (q *FileQueue) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid dlq id %q", id)
	}
	err := os.Remove(filepath.Join(q.basePath, id+".json"))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete dlq file: %w", err)
	}
	return nil
}

// Purge removes every entry.
func (q *FileQueue) Purge(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entryNames()
	if err != nil {
		return err
	}
	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.WarnContext(ctx, "failed to delete dlq file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	q.logger.InfoContext(ctx, "dlq purged", slog.Int("deleted", deleted))
	return nil
}

// Stats reports queue counters.
func (q *FileQueue) Stats(ctx context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{
		"enabled":   true,
		"backend":   "file",
		"written":   q.written,
		"base_path": q.basePath,
	}
	names, err := q.entryNames()
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["pending_files"] = len(names)
	return stats
}

// entryNames lists entry files sorted by name, which sorts by write time.
func (q *FileQueue) entryNames() ([]string, error) {
	entries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "failed_") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		return entryTime(names[i]).Before(entryTime(names[j])) ||
			(entryTime(names[i]).Equal(entryTime(names[j])) && names[i] < names[j])
	})
	return names, nil
}

func entryTime(name string) time.Time {
	var nanos int64
	var n uint64
	if _, err := fmt.Sscanf(name, "failed_%d_%d.json", &nanos, &n); err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
