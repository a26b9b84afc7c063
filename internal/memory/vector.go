// Package memory implements the agent's long-lived vector memory and its
// rolling working-context window.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// DuplicateThreshold is the cosine-distance bound under which two entries
// are considered near-duplicates during Add/Deduplicate.
const DuplicateThreshold = 0.05

// DefaultImportanceFloor is the minimum importance decay can reach.
const DefaultImportanceFloor = 0.01

// indexFileName is the sidecar catalog of entry metadata kept next to the
// ANN library's own files. The library owns embeddings and similarity;
// importance, permanence, and TTL live here so maintenance passes can
// enumerate entries without depending on the index's internal format.
const indexFileName = "entries.json"

// Entry is a MemoryEntry: one stored fact with an importance score and
// optional permanence/TTL.
type Entry struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Importance float64           `json:"importance"`
	CreatedAt  time.Time         `json:"created_at"`
	Permanent  bool              `json:"permanent"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EmbedFunc produces an embedding vector for a piece of text. In
// production this is backed by an external embedding provider; the
// store itself never computes embeddings.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// VectorMemory is the embeddable cosine-similarity ANN index for
// durable agent memories, backed by chromem-go.
type VectorMemory struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	embed      EmbedFunc
	nowFn      func() time.Time

	entries   map[string]Entry
	indexPath string
}

// Open creates or loads a persistent chromem-go collection rooted at
// dir (the data directory's "chroma/" subtree).
func Open(dir string, embed EmbedFunc) (*VectorMemory, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector memory at %s: %w", dir, err)
	}
	collection, err := db.GetOrCreateCollection("memories", nil, chromemEmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("create memories collection: %w", err)
	}
	v := &VectorMemory{
		db:         db,
		collection: collection,
		embed:      embed,
		nowFn:      time.Now,
		entries:    make(map[string]Entry),
		indexPath:  filepath.Join(dir, indexFileName),
	}
	if err := v.loadIndex(); err != nil {
		return nil, err
	}
	return v, nil
}

func chromemEmbeddingFunc(embed EmbedFunc) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embed(ctx, text)
	}
}

func (v *VectorMemory) loadIndex() error {
	data, err := os.ReadFile(v.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read memory index: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse memory index: %w", err)
	}
	for _, e := range entries {
		v.entries[e.ID] = e
	}
	return nil
}

func (v *VectorMemory) saveIndexLocked() error {
	entries := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory index: %w", err)
	}
	tmp := v.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write memory index: %w", err)
	}
	return os.Rename(tmp, v.indexPath)
}

func (v *VectorMemory) now() time.Time {
	if v.nowFn != nil {
		return v.nowFn()
	}
	return time.Now()
}

// Add stores a new memory, merging it into an existing near-duplicate
// (cosine distance < DuplicateThreshold) rather than inserting a
// redundant entry: the existing entry is kept, its importance raised to
// the higher of the two scores.
func (v *VectorMemory) Add(ctx context.Context, content string, importance float64, permanent bool, ttl *time.Duration) (Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// An empty collection has nothing to compare against yet; treat that
	// as "no near-duplicate" rather than an error.
	var results []chromem.Result
	if v.collection.Count() > 0 {
		var err error
		results, err = v.collection.Query(ctx, content, 1, nil, nil)
		if err != nil {
			return Entry{}, fmt.Errorf("query for near-duplicate: %w", err)
		}
	}

	if len(results) > 0 && cosineDistance(results[0].Similarity) < DuplicateThreshold {
		existing, ok := v.entries[results[0].ID]
		if !ok {
			existing = Entry{ID: results[0].ID, Content: results[0].Content, CreatedAt: v.now()}
		}
		if importance <= existing.Importance {
			return existing, nil
		}
		// Keep the existing entry's id and just raise its importance to
		// the higher of the two scores, rather than replacing it with a
		// freshly minted id.
		existing.Importance = importance
		v.entries[existing.ID] = existing
		if err := v.saveIndexLocked(); err != nil {
			return Entry{}, err
		}
		return existing, nil
	}

	entry := Entry{
		ID:         uuid.NewString(),
		Content:    content,
		Importance: importance,
		CreatedAt:  v.now(),
		Permanent:  permanent,
	}
	if ttl != nil {
		expiry := v.now().Add(*ttl)
		entry.ExpiresAt = &expiry
	}

	if err := v.upsertLocked(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// upsertLocked writes the entry to both the ANN collection and the
// sidecar index. Re-adding an existing id replaces the old document.
func (v *VectorMemory) upsertLocked(ctx context.Context, e Entry) error {
	if _, exists := v.entries[e.ID]; exists {
		if err := v.collection.Delete(ctx, nil, nil, e.ID); err != nil {
			return fmt.Errorf("replace entry %s: %w", e.ID, err)
		}
	}
	if err := v.collection.AddDocument(ctx, chromem.Document{ID: e.ID, Content: e.Content}); err != nil {
		return fmt.Errorf("add entry %s: %w", e.ID, err)
	}
	v.entries[e.ID] = e
	return v.saveIndexLocked()
}

func (v *VectorMemory) deleteLocked(ctx context.Context, id string) error {
	if err := v.collection.Delete(ctx, nil, nil, id); err != nil {
		return err
	}
	delete(v.entries, id)
	return v.saveIndexLocked()
}

// Search returns up to k entries ranked by cosine similarity to query,
// filtered to those at or above relevanceThreshold.
func (v *VectorMemory) Search(ctx context.Context, query string, k int, relevanceThreshold float64) ([]Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.collection.Count() == 0 {
		return nil, nil
	}
	if k > v.collection.Count() {
		k = v.collection.Count()
	}
	results, err := v.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search vector memory: %w", err)
	}

	var out []Entry
	for _, r := range results {
		if float64(r.Similarity) < relevanceThreshold {
			continue
		}
		out = append(out, v.entryForResult(r))
	}
	return out, nil
}

func (v *VectorMemory) entryForResult(r chromem.Result) Entry {
	if e, ok := v.entries[r.ID]; ok {
		return e
	}
	return Entry{ID: r.ID, Content: r.Content}
}

// MarkPermanent flips an entry's permanence flag, exempting it from TTL
// expiry and importance decay.
func (v *VectorMemory) MarkPermanent(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[id]
	if !ok {
		return fmt.Errorf("no memory entry with id %s", id)
	}
	entry.Permanent = true
	entry.ExpiresAt = nil
	v.entries[id] = entry
	return v.saveIndexLocked()
}

// DecayImportance multiplies every non-permanent entry's importance by
// factor, floored at DefaultImportanceFloor.
func (v *VectorMemory) DecayImportance(ctx context.Context, factor float64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	decayed := 0
	for id, e := range v.entries {
		if e.Permanent {
			continue
		}
		e.Importance *= factor
		if e.Importance < DefaultImportanceFloor {
			e.Importance = DefaultImportanceFloor
		}
		v.entries[id] = e
		decayed++
	}
	if decayed > 0 {
		if err := v.saveIndexLocked(); err != nil {
			return decayed, err
		}
	}
	return decayed, nil
}

// PruneExpired deletes non-permanent entries whose ExpiresAt has passed.
func (v *VectorMemory) PruneExpired(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	pruned := 0
	for _, e := range v.allLocked() {
		if e.Permanent || e.ExpiresAt == nil {
			continue
		}
		if now.After(*e.ExpiresAt) {
			if err := v.deleteLocked(ctx, e.ID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

// GetAll returns entries sorted by importance descending, paginated by
// offset/limit for administrative callers. A limit ≤ 0 means "no
// limit" (return everything from offset onward).
func (v *VectorMemory) GetAll(ctx context.Context, limit, offset int) ([]Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries := v.allLocked()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (v *VectorMemory) allLocked() []Entry {
	entries := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// DeleteMemory removes a single entry by ID.
func (v *VectorMemory) DeleteMemory(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleteLocked(ctx, id)
}

// FlushAll deletes every entry in the collection, permanent or not, and
// returns the count removed. An administrative path, not reachable from
// normal planning or maintenance flows.
func (v *VectorMemory) FlushAll(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries := v.allLocked()
	for _, e := range entries {
		if err := v.deleteLocked(ctx, e.ID); err != nil {
			return 0, fmt.Errorf("flush_all delete %s: %w", e.ID, err)
		}
	}
	return len(entries), nil
}

// FlushNonPermanent deletes every entry that is not marked permanent,
// leaving permanent entries untouched, and returns the count removed.
func (v *VectorMemory) FlushNonPermanent(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	removed := 0
	for _, e := range v.allLocked() {
		if e.Permanent {
			continue
		}
		if err := v.deleteLocked(ctx, e.ID); err != nil {
			return removed, fmt.Errorf("flush_non_permanent delete %s: %w", e.ID, err)
		}
		removed++
	}
	return removed, nil
}

// Deduplicate does a full pass, collapsing any pair within
// DuplicateThreshold cosine distance by keeping the higher-importance
// survivor, using a 5-NN query per entry.
func (v *VectorMemory) Deduplicate(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	removed := map[string]bool{}
	for _, e := range v.allLocked() {
		if removed[e.ID] {
			continue
		}
		k := 5
		if k > v.collection.Count() {
			k = v.collection.Count()
		}
		if k == 0 {
			continue
		}
		results, err := v.collection.Query(ctx, e.Content, k, nil, nil)
		if err != nil {
			continue
		}
		for _, r := range results {
			if r.ID == e.ID || removed[r.ID] {
				continue
			}
			if cosineDistance(r.Similarity) >= DuplicateThreshold {
				continue
			}
			other := v.entryForResult(r)
			loser := other
			if other.Importance > e.Importance {
				loser = e
			}
			if loser.Permanent {
				continue
			}
			if err := v.deleteLocked(ctx, loser.ID); err == nil {
				removed[loser.ID] = true
			}
			if loser.ID == e.ID {
				break
			}
		}
	}
	return len(removed), nil
}

// Stats summarizes the collection for diagnostics.
type Stats struct {
	Count     int
	Permanent int
}

// GetStats returns basic counts over the collection.
func (v *VectorMemory) GetStats(ctx context.Context) (Stats, error) {
	entries, err := v.GetAll(ctx, 0, 0)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Count: len(entries)}
	for _, e := range entries {
		if e.Permanent {
			stats.Permanent++
		}
	}
	return stats, nil
}

func cosineDistance(similarity float32) float64 {
	return 1 - float64(similarity)
}
