// Package memory provides top-k semantic search over the journal and topics.
// The scan is a deliberate brute-force dot product over stored unit vectors,
// suitable up to roughly ten thousand entries.
package memory

import (
	"context"
	"sort"

	"github.com/haasonsaas/outie/internal/memory/embeddings"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

const (
	// MaxCandidates caps how many stored vectors one search scans,
	// preferring most recent.
	MaxCandidates = 500

	// JournalThreshold drops journal matches at or below this score.
	JournalThreshold = 0.30

	// TopicThreshold drops topic matches at or below this score.
	TopicThreshold = 0.35
)

// Searcher runs semantic search over the store.
type Searcher struct {
	store    *storage.Store
	embedder *embeddings.Embedder
}

// NewSearcher creates a searcher over the given store and embedder.
func NewSearcher(store *storage.Store, embedder *embeddings.Embedder) *Searcher {
	return &Searcher{store: store, embedder: embedder}
}

// JournalResult is one journal search hit.
type JournalResult struct {
	Entry *models.JournalEntry
	Score float32
}

// TopicResult is one topic search hit.
type TopicResult struct {
	Topic *models.Topic
	Score float32
}

// SearchJournal returns the top k journal entries above the journal score
// threshold, best first; ties resolve newest first.
func (s *Searcher) SearchJournal(ctx context.Context, query string, k int) ([]JournalResult, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListJournalWithEmbeddings(ctx, MaxCandidates)
	if err != nil {
		return nil, err
	}

	results := make([]JournalResult, 0, len(entries))
	for _, entry := range entries {
		score := embeddings.Dot(queryVec, entry.Embedding)
		if score <= JournalThreshold {
			continue
		}
		results = append(results, JournalResult{Entry: entry, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Timestamp > results[j].Entry.Timestamp
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchTopics returns the top k topics above the topic score threshold,
// best first; ties resolve most recently updated first.
func (s *Searcher) SearchTopics(ctx context.Context, query string, k int) ([]TopicResult, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	topics, err := s.store.ListTopicsWithEmbeddings(ctx, MaxCandidates)
	if err != nil {
		return nil, err
	}

	results := make([]TopicResult, 0, len(topics))
	for _, topic := range topics {
		score := embeddings.Dot(queryVec, topic.Embedding)
		if score <= TopicThreshold {
			continue
		}
		results = append(results, TopicResult{Topic: topic, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Topic.UpdatedAt > results[j].Topic.UpdatedAt
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
