package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/datconv/pkg/dat"
)

type storedRecord struct {
	ID      string
	Record  *dat.Record
	Created time.Time
}

// RecordStore keeps split uploads so their channels can be fetched
// afterwards. Once full, the oldest record is evicted.
type RecordStore struct {
	mu      sync.Mutex
	limit   int
	order   []string
	records map[string]*storedRecord
}

const defaultStoreLimit = 16

func NewRecordStore(limit int) *RecordStore {
	if limit <= 0 {
		limit = defaultStoreLimit
	}
	return &RecordStore{
		limit:   limit,
		records: make(map[string]*storedRecord),
	}
}

func (s *RecordStore) Put(rec *dat.Record, now time.Time) string {
	id := "rec_" + uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) >= s.limit {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	s.records[id] = &storedRecord{ID: id, Record: rec, Created: now}
	s.order = append(s.order, id)
	return id
}

func (s *RecordStore) Get(id string) (*storedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *RecordStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
