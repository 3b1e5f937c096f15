package relational

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiered-mcp-memory/internal/types"
)

// openStores returns every backend available in this environment. The
// networked leg runs only when TEST_DATABASE_URL is set, so the contract
// suite exercises both backends with identical expectations wherever it can.
func openStores(t *testing.T) map[string]MemoryStore {
	t.Helper()
	ctx := context.Background()

	stores := make(map[string]MemoryStore)

	sqlitePath := filepath.Join(t.TempDir(), "test.db")
	embedded, err := NewSQLiteStore(ctx, sqlitePath, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = embedded.Close() })
	stores["embedded"] = embedded

	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		networked, err := NewPostgresStore(ctx, dsn, 5, time.Minute, 3)
		require.NoError(t, err)
		t.Cleanup(func() { _ = networked.Close() })
		truncateAll(t, networked.(*sqlStore))
		stores["networked"] = networked
	}

	return stores
}

func truncateAll(t *testing.T, s *sqlStore) {
	t.Helper()
	for _, table := range []string{"analysis_results", "analysis_jobs", "memories"} {
		_, err := s.db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
}

func TestSaveAndGetByID(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			m, err := store.SaveMemory(ctx, "work", "standup notes", "discussed the rollout plan")
			require.NoError(t, err)
			assert.Positive(t, m.ID)
			assert.Equal(t, time.Now().UTC().Format("2006-01-02"), m.Date)

			got, err := store.GetByID(ctx, m.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, m.ID, got.ID)
			assert.Equal(t, "work", got.Category)
			assert.Equal(t, "standup notes", got.Topic)
			assert.Equal(t, "discussed the rollout plan", got.Content)

			missing, err := store.GetByID(ctx, m.ID+1000)
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestSaveMemoryValidation(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SaveMemory(ctx, "work", "topic", "   \n\t ")
			assert.Error(t, err)

			_, err = store.SaveMemory(ctx, "", "topic", "content")
			assert.Error(t, err)

			_, err = store.SaveMemory(ctx, "work", "", "content")
			assert.Error(t, err)
		})
	}
}

func TestUpdatePartial(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			m, err := store.SaveMemory(ctx, "work", "old topic", "old content")
			require.NoError(t, err)

			topic := "new topic"
			ok, err := store.Update(ctx, m.ID, MemoryUpdate{Topic: &topic})
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := store.GetByID(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, "new topic", got.Topic)
			assert.Equal(t, "old content", got.Content)
			assert.Equal(t, "work", got.Category)

			ok, err = store.Update(ctx, m.ID+1000, MemoryUpdate{Topic: &topic})
			require.NoError(t, err)
			assert.False(t, ok)

			// Empty update reports existence without changing anything.
			ok, err = store.Update(ctx, m.ID, MemoryUpdate{})
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			m, err := store.SaveMemory(ctx, "inbox", "note", "something worth keeping")
			require.NoError(t, err)

			ok, err := store.Move(ctx, m.ID, "archive")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := store.GetByID(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, "archive", got.Category)

			_, err = store.Move(ctx, m.ID, "  ")
			assert.Error(t, err)

			ok, err = store.Move(ctx, m.ID+1000, "archive")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			m, err := store.SaveMemory(ctx, "work", "ephemeral", "to be removed")
			require.NoError(t, err)

			ok, err := store.Delete(ctx, m.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := store.GetByID(ctx, m.ID)
			require.NoError(t, err)
			assert.Nil(t, got)

			ok, err = store.Delete(ctx, m.ID)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSearchBasic(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SaveMemory(ctx, "work", "Deploy checklist", "steps for the Kubernetes rollout")
			require.NoError(t, err)
			_, err = store.SaveMemory(ctx, "personal", "groceries", "buy KUBERNETES stickers")
			require.NoError(t, err)
			_, err = store.SaveMemory(ctx, "work", "retro", "nothing relevant here")
			require.NoError(t, err)

			// Case-insensitive, matches topic or content.
			hits, err := store.SearchBasic(ctx, "kubernetes", nil)
			require.NoError(t, err)
			assert.Len(t, hits, 2)

			hits, err = store.SearchBasic(ctx, "kubernetes", []string{"work"})
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "Deploy checklist", hits[0].Topic)

			hits, err = store.SearchBasic(ctx, "no such text anywhere", nil)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestRecentAndByCategory(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				_, err := store.SaveMemory(ctx, "work", "entry", "content")
				require.NoError(t, err)
			}
			last, err := store.SaveMemory(ctx, "personal", "latest", "newest entry")
			require.NoError(t, err)

			recent, err := store.Recent(ctx, 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, last.ID, recent[0].ID)

			work, err := store.ByCategory(ctx, "work", 10)
			require.NoError(t, err)
			assert.Len(t, work, 5)
		})
	}
}

func TestListCategories(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SaveMemory(ctx, "alpha", "a", "x")
			require.NoError(t, err)
			_, err = store.SaveMemory(ctx, "alpha", "b", "y")
			require.NoError(t, err)
			_, err = store.SaveMemory(ctx, "beta", "c", "z")
			require.NoError(t, err)

			counts, err := store.ListCategories(ctx)
			require.NoError(t, err)

			byName := make(map[string]int64)
			for _, cc := range counts {
				byName[cc.Category] = cc.Count
			}
			assert.Equal(t, int64(2), byName["alpha"])
			assert.Equal(t, int64(1), byName["beta"])
		})
	}
}

func TestShortMemoryCapacity(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			// Stores in this suite are opened with capacity 3.
			for i := 0; i < 5; i++ {
				m := &types.Memory{Topic: "t", Content: string(rune('a' + i))}
				require.NoError(t, store.AddToShortMemory(ctx, m))
			}

			entries, err := store.ListShortMemory(ctx, 10)
			require.NoError(t, err)
			require.Len(t, entries, 3)

			// Newest first; the two oldest entries were pruned.
			assert.Equal(t, "e", entries[0].Content)
			assert.Equal(t, "c", entries[2].Content)
			for _, e := range entries {
				assert.Equal(t, types.CategoryShortTerm, e.Category)
			}
		})
	}
}

func TestStatsAndHealth(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SaveMemory(ctx, "work", "a", "b")
			require.NoError(t, err)

			stats, err := store.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.Total)
			assert.Equal(t, int64(1), stats.ByCategory["work"])
			assert.NotEmpty(t, stats.DBType)

			h := store.Health(ctx)
			assert.True(t, h.OK)
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			job := &types.AnalysisJob{
				ID:            "job-1",
				Status:        types.JobPending,
				JobType:       "batch_analysis",
				MemoryIDs:     []int64{1, 2, 3},
				ProgressTotal: 3,
				CreatedAt:     time.Now().UTC(),
			}
			require.NoError(t, store.SaveJob(ctx, job))

			require.NoError(t, store.SetJobStatus(ctx, job.ID, types.JobRunning, ""))
			require.NoError(t, store.UpdateJobProgress(ctx, job.ID, 2))

			require.NoError(t, store.AppendAnalysisResult(ctx, job.ID, &types.AnalysisResult{
				MemoryID:   1,
				MemoryType: types.TypeFactual,
				Confidence: 0.9,
				Concepts:   `[{"title":"t","description":"d"}]`,
				Metadata:   `{}`,
			}))

			require.NoError(t, store.SetJobStatus(ctx, job.ID, types.JobCompleted, ""))

			got, err := store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, types.JobCompleted, got.Status)
			assert.Equal(t, 2, got.ProgressCurrent)
			assert.Equal(t, []int64{1, 2, 3}, got.MemoryIDs)
			assert.NotNil(t, got.StartedAt)
			assert.NotNil(t, got.CompletedAt)

			results, err := store.ResultsForJob(ctx, job.ID)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, int64(1), results[0].MemoryID)
			assert.Equal(t, types.TypeFactual, results[0].MemoryType)

			missing, err := store.GetJob(ctx, "no-such-job")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestJobFailureMessage(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			job := &types.AnalysisJob{
				ID:        "job-fail",
				Status:    types.JobPending,
				JobType:   "batch_analysis",
				MemoryIDs: []int64{7},
				CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, store.SaveJob(ctx, job))
			require.NoError(t, store.SetJobStatus(ctx, job.ID, types.JobFailed, "cancelled"))

			got, err := store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, types.JobFailed, got.Status)
			assert.Equal(t, "cancelled", got.ErrorMessage)
		})
	}
}

func TestGetJobCorruptMemoryIDs(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			job := &types.AnalysisJob{
				ID:        "job-corrupt",
				Status:    types.JobPending,
				JobType:   "batch_analysis",
				MemoryIDs: []int64{1, 2},
				CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, store.SaveJob(ctx, job))

			s := store.(*sqlStore)
			_, err := s.db.ExecContext(ctx,
				s.dialect.rebind("UPDATE analysis_jobs SET memory_ids = ? WHERE id = ?"),
				"{not json", job.ID)
			require.NoError(t, err)

			// A corrupt row is logged and its ids treated as missing, not an
			// error for the caller.
			got, err := store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Nil(t, got.MemoryIDs)
			assert.Equal(t, types.JobPending, got.Status)
		})
	}
}
