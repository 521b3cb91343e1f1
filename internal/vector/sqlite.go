package vector

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. The passages table is created by the storage
// package's migrations; this type only shares the connection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Upsert adds passages under the document namespace.
func (s *SQLiteStore) Upsert(documentID string, passages []Passage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO passages (id, document_id, page, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			page = excluded.page,
			text = excluded.text,
			embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		blob := encodeFloat32s(p.Embedding)
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(p.ID, documentID, p.Page, p.Text, blob, createdAt.UTC().Format(timeLayout)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting passage %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the id and score during the scan phase of Search.
// Full passage rows are fetched only for the top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search scans the document's embeddings, keeps the top-K by cosine
// similarity in a min-heap, then fetches the winning rows.
func (s *SQLiteStore) Search(documentID string, query []float32, topK int) ([]ScoredPassage, error) {
	if topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`SELECT id, embedding FROM passages WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(query, buf, queryNorm)
		cand := idScore{ID: id, Score: score}
		if h.Len() < topK {
			heap.Push(h, cand)
		} else if less((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, 0, len(topIDs)+1)
	queryArgs = append(queryArgs, documentID)
	for _, id := range topIDs {
		queryArgs = append(queryArgs, id)
	}
	fullQuery := `SELECT id, page, text, embedding, created_at
		FROM passages WHERE document_id = ? AND id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K passages: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredPassage
	for fullRows.Next() {
		var p Passage
		var blob []byte
		var createdAt string
		if err := fullRows.Scan(&p.ID, &p.Page, &p.Text, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", p.ID, err)
		}
		p.Embedding = embedding
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		results = append(results, ScoredPassage{Passage: p, Score: scores[p.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}

	// The IN query does not preserve rank order.
	sortByScore(results)

	return results, nil
}

// less orders candidates ascending by (score, id); the heap keeps the
// weakest candidate at the root. The id tiebreak makes equal-score results
// deterministic.
func less(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// sortByScore sorts ScoredPassages by descending (score, ascending id).
// Used for small slices (topK).
func sortByScore(results []ScoredPassage) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && scoredLess(results[j-1], results[j]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func scoredLess(a, b ScoredPassage) bool {
	return less(idScore{ID: a.ID, Score: a.Score}, idScore{ID: b.ID, Score: b.Score})
}

// DeleteNamespace removes every passage of the document.
func (s *SQLiteStore) DeleteNamespace(documentID string) error {
	if _, err := s.db.Exec(`DELETE FROM passages WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting passages for document %s: %w", documentID, err)
	}
	return nil
}

// Count returns the number of passages stored for the document.
func (s *SQLiteStore) Count(documentID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM passages WHERE document_id = ?`, documentID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2
// norm of the query vector.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by (score, id). Used during
// the scan phase of Search to track top-K candidates by id only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
