package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/querywright/querywright/internal/storage"
)

type snapshotLearned struct {
	Prompt    string    `json:"prompt"`
	SQL       string    `json:"sql"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

type snapshotDoc struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

type Snapshot struct {
	ExportedAt time.Time         `json:"exported_at"`
	Learned    []snapshotLearned `json:"learned"`
	Docs       []snapshotDoc     `json:"docs"`
}

// Backup serializes the whole corpus and uploads it as one JSON object.
func Backup(ctx context.Context, store *Store, objects storage.ObjectStore, key string) (storage.ObjectInfo, error) {
	learned, err := store.allLearnedQueries(ctx)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	docs, err := store.allDocSnippets(ctx)
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	snapshot := Snapshot{ExportedAt: time.Now().UTC()}
	for _, entry := range learned {
		snapshot.Learned = append(snapshot.Learned, snapshotLearned{
			Prompt:    entry.Prompt,
			SQL:       entry.SQL,
			Embedding: entry.embedding,
			CreatedAt: entry.CreatedAt,
		})
	}
	for _, entry := range docs {
		snapshot.Docs = append(snapshot.Docs, snapshotDoc{
			Content:   entry.Content,
			Source:    entry.Source,
			Embedding: entry.embedding,
			CreatedAt: entry.CreatedAt,
		})
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("marshal knowledge snapshot: %w", err)
	}
	info, err := objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: "application/json"})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload knowledge snapshot: %w", err)
	}
	return info, nil
}

// Restore downloads a snapshot and inserts its entries. Existing rows
// are kept; restored entries get fresh ids.
func Restore(ctx context.Context, store *Store, objects storage.ObjectStore, key string) (learned, docs int, err error) {
	if _, err := objects.Stat(ctx, key); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return 0, 0, fmt.Errorf("knowledge snapshot %q not found: %w", key, err)
		}
		return 0, 0, fmt.Errorf("stat knowledge snapshot: %w", err)
	}

	reader, err := objects.Get(ctx, key)
	if err != nil {
		return 0, 0, fmt.Errorf("download knowledge snapshot: %w", err)
	}
	defer func() { _ = reader.Close() }()

	var snapshot Snapshot
	if err := json.NewDecoder(reader).Decode(&snapshot); err != nil {
		return 0, 0, fmt.Errorf("decode knowledge snapshot: %w", err)
	}

	for _, entry := range snapshot.Learned {
		if _, err := store.InsertLearnedQuery(ctx, entry.Prompt, entry.SQL, entry.Embedding); err != nil {
			return learned, docs, err
		}
		learned++
	}
	for _, entry := range snapshot.Docs {
		if _, err := store.InsertDocSnippet(ctx, entry.Content, entry.Source, entry.Embedding); err != nil {
			return learned, docs, err
		}
		docs++
	}
	return learned, docs, nil
}
