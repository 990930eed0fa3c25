package vecindex

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/recallio/recall/internal/testutil"
)

// FuzzMemorySessionIsolation throws arbitrary content pairs at two
// sessions and checks that searching one never surfaces the other's
// records, even when the query is the other session's exact text.
func FuzzMemorySessionIsolation(f *testing.F) {
	f.Add("my cat is named whiskers", "my dog is named rex")
	f.Add("hello", "hello")
	f.Add("a", strings.Repeat("b", 4096))
	f.Add("unicode: héllo wörld", "emoji \U0001F408 content")

	f.Fuzz(func(t *testing.T, contentA, contentB string) {
		if strings.TrimSpace(contentA) == "" || strings.TrimSpace(contentB) == "" {
			t.Skip("blank content is rejected upstream")
		}

		ctx := context.Background()
		idx := NewMemory(testDim, nil)
		embedder := &testutil.HashEmbedder{Dim: testDim}
		sessionA := uuid.New()
		sessionB := uuid.New()
		now := time.Now()

		vecA, err := embedder.Embed(ctx, contentA)
		if err != nil {
			t.Fatalf("embed a: %v", err)
		}
		vecB, err := embedder.Embed(ctx, contentB)
		if err != nil {
			t.Fatalf("embed b: %v", err)
		}

		if err := idx.Upsert(ctx, Record{ID: 1, SessionID: sessionA, Role: "user", Content: contentA, CreatedAt: now, Embedding: vecA}); err != nil {
			t.Fatalf("upsert a: %v", err)
		}
		if err := idx.Upsert(ctx, Record{ID: 2, SessionID: sessionB, Role: "user", Content: contentB, CreatedAt: now, Embedding: vecB}); err != nil {
			t.Fatalf("upsert b: %v", err)
		}

		results, err := idx.Search(ctx, vecB, sessionA, 10, 0.0)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, r := range results {
			if r.MessageID != 1 {
				t.Fatalf("session boundary leaked record %d", r.MessageID)
			}
			if r.Content != contentA {
				t.Fatalf("unexpected content %q", r.Content)
			}
		}
	})
}
