package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querywright/querywright/internal/storage"
)

// fakeEmbedder maps known inputs to fixed vectors so similarity
// ordering is deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, input string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vector, ok := f.vectors[input]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return vector, nil
}

func newTestBase(t *testing.T, embedder *fakeEmbedder) *Base {
	t.Helper()
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewBase(store, embedder, "nomic-embed-text")
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"list all customers":        {1, 0, 0},
		"count orders per store":    {0, 1, 0},
		"show customers from Texas": {0.9, 0.1, 0},
	}}
	base := newTestBase(t, embedder)

	_, err := base.AddLearnedQuery(ctx, "list all customers", "SELECT * FROM customers")
	require.NoError(t, err)
	_, err = base.AddLearnedQuery(ctx, "count orders per store", "SELECT store_id, COUNT(*) FROM orders GROUP BY store_id")
	require.NoError(t, err)

	result, err := base.Search(ctx, "show customers from Texas", 1)
	require.NoError(t, err)
	require.Len(t, result.Learned, 1)
	require.Equal(t, "SELECT * FROM customers", result.Learned[0].SQL)
	require.Greater(t, result.Learned[0].Score, 0.5)
}

func TestSearchSkipsMismatchedDimensions(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"old entry": {1, 0},
		"new entry": {1, 0, 0},
		"query":     {1, 0, 0},
	}}
	base := newTestBase(t, embedder)

	_, err := base.AddLearnedQuery(ctx, "old entry", "SELECT 1")
	require.NoError(t, err)
	_, err = base.AddLearnedQuery(ctx, "new entry", "SELECT 2")
	require.NoError(t, err)

	result, err := base.Search(ctx, "query", 5)
	require.NoError(t, err)
	require.Len(t, result.Learned, 1)
	require.Equal(t, "SELECT 2", result.Learned[0].SQL)
}

func TestSearchEmbedErrorPropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("embedding backend down")}
	base := newTestBase(t, embedder)

	_, err := base.Search(context.Background(), "anything", 3)
	require.ErrorContains(t, err, "embedding backend down")
}

func TestAddDocSnippetAndSearch(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"SELECT strftime(order_date, '%Y') FROM orders": {0, 1, 0},
		"date functions": {0, 1, 0},
	}}
	base := newTestBase(t, embedder)

	entry, err := base.AddDocSnippet(ctx, "SELECT strftime(order_date, '%Y') FROM orders", "https://duckdb.org/docs/sql/functions/date")
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)

	result, err := base.Search(ctx, "date functions", 3)
	require.NoError(t, err)
	require.Len(t, result.Docs, 1)
	require.Equal(t, entry.Content, result.Docs[0].Content)
}

func TestListLearnedQueriesReturnsRecentFirst(t *testing.T) {
	ctx := context.Background()
	base := newTestBase(t, &fakeEmbedder{})

	for i := 0; i < 3; i++ {
		_, err := base.AddLearnedQuery(ctx, fmt.Sprintf("prompt %d", i), fmt.Sprintf("SELECT %d", i))
		require.NoError(t, err)
	}

	entries, err := base.Store().ListLearnedQueries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75}
	out := decodeVector(encodeVector(in))
	require.Equal(t, in, out)
}

// Concurrent readers force the pool to want more than one connection;
// with :memory: a second connection would see an empty database.
func TestMemoryStoreSurvivesConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.InsertLearnedQuery(ctx, "list products", "SELECT * FROM products", []float32{0, 0, 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := store.ListLearnedQueries(ctx, 10)
			if err != nil {
				errs <- err
				return
			}
			if len(entries) != 1 {
				errs <- fmt.Errorf("got %d entries, want 1", len(entries))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

// memoryObjectStore is an in-memory storage.ObjectStore for backup tests.
type memoryObjectStore struct {
	objects map[string][]byte
}

func (m *memoryObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjectStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryObjectStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{}
	base := newTestBase(t, embedder)

	_, err := base.AddLearnedQuery(ctx, "list products", "SELECT * FROM products")
	require.NoError(t, err)
	_, err = base.AddDocSnippet(ctx, "SELECT date_trunc('month', d)", "docs")
	require.NoError(t, err)

	objects := &memoryObjectStore{}
	info, err := Backup(ctx, base.Store(), objects, "backups/knowledge.json")
	require.NoError(t, err)
	require.Equal(t, "backups/knowledge.json", info.Key)
	require.True(t, strings.Contains(string(objects.objects[info.Key]), "list products"))

	restored, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = restored.Close() })

	learned, docs, err := Restore(ctx, restored, objects, "backups/knowledge.json")
	require.NoError(t, err)
	require.Equal(t, 1, learned)
	require.Equal(t, 1, docs)

	entries, err := restored.ListLearnedQueries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "SELECT * FROM products", entries[0].SQL)
}

func TestRestoreMissingSnapshot(t *testing.T) {
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, _, err = Restore(context.Background(), store, &memoryObjectStore{}, "backups/missing.json")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
	require.Contains(t, err.Error(), `snapshot "backups/missing.json" not found`)
}
