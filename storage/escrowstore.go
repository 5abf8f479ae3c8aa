package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"skillchain/native/escrow"
)

const (
	escrowRecordPrefix     = "escrow/id/"
	escrowSeqKey           = "escrow/seq"
	escrowProjectPrefix    = "escrow/project/"
	escrowClientPrefix     = "escrow/client/"
	escrowFreelancerPrefix = "escrow/freelancer/"
)

// EscrowStore persists escrow records in a Database, maintaining secondary
// indexes by project, client, and freelancer so the ledger's lookups stay
// cheap. Index keys embed the big-endian id, so prefix iteration yields
// records in id order. It implements escrow.State.
type EscrowStore struct {
	mu sync.Mutex
	db Database
}

// NewEscrowStore wraps the supplied database.
func NewEscrowStore(db Database) *EscrowStore {
	return &EscrowStore{db: db}
}

func recordKey(id uint64) []byte {
	return append([]byte(escrowRecordPrefix), encodeID(id)...)
}

func encodeID(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func projectIndexKey(projectID string, id uint64) []byte {
	key := []byte(escrowProjectPrefix + projectID + "/")
	return append(key, encodeID(id)...)
}

func addressIndexKey(prefix string, addr common.Address, id uint64) []byte {
	key := []byte(prefix + strings.ToLower(addr.Hex()) + "/")
	return append(key, encodeID(id)...)
}

// EscrowPut sanitises and stores the record, writing the secondary index
// entries on first insert. Records are keyed by id; party addresses and the
// project correlation key are immutable after creation, so index entries are
// written once and never rewritten.
func (s *EscrowStore) EscrowPut(esc *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(esc)
	if err != nil {
		return err
	}
	if sanitized.ID == 0 {
		return fmt.Errorf("storage: escrow id must be allocated before persisting")
	}
	encoded, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put(recordKey(sanitized.ID), encoded); err != nil {
		return err
	}
	indexKeys := [][]byte{
		projectIndexKey(sanitized.ProjectID, sanitized.ID),
		addressIndexKey(escrowClientPrefix, sanitized.Client, sanitized.ID),
		addressIndexKey(escrowFreelancerPrefix, sanitized.Freelancer, sanitized.ID),
	}
	for _, key := range indexKeys {
		if err := s.db.Put(key, encodeID(sanitized.ID)); err != nil {
			return err
		}
	}
	return nil
}

// EscrowGet loads the record with the given id.
func (s *EscrowStore) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	raw, err := s.db.Get(recordKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	esc := new(escrow.Escrow)
	if err := json.Unmarshal(raw, esc); err != nil {
		return nil, false, err
	}
	return esc, true, nil
}

// EscrowNextID allocates the next monotonically increasing identifier. The
// counter is owned exclusively by this store instance and persisted so ids
// survive restarts.
func (s *EscrowStore) EscrowNextID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current uint64
	raw, err := s.db.Get([]byte(escrowSeqKey))
	switch {
	case errors.Is(err, ErrKeyNotFound):
	case err != nil:
		return 0, err
	case len(raw) == 8:
		current = binary.BigEndian.Uint64(raw)
	default:
		return 0, fmt.Errorf("storage: corrupt escrow sequence value")
	}
	next := current + 1
	if err := s.db.Put([]byte(escrowSeqKey), encodeID(next)); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *EscrowStore) scanIndex(prefix []byte) ([]*escrow.Escrow, error) {
	var ids []uint64
	err := s.db.IteratePrefix(prefix, func(_, value []byte) bool {
		if len(value) == 8 {
			ids = append(ids, binary.BigEndian.Uint64(value))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]*escrow.Escrow, 0, len(ids))
	for _, id := range ids {
		esc, ok, err := s.EscrowGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, esc)
		}
	}
	return out, nil
}

// EscrowsByProject returns every escrow correlated with the project id,
// ordered by escrow id.
func (s *EscrowStore) EscrowsByProject(projectID string) ([]*escrow.Escrow, error) {
	return s.scanIndex([]byte(escrowProjectPrefix + projectID + "/"))
}

// EscrowsByClient returns every escrow where the address is the client.
func (s *EscrowStore) EscrowsByClient(addr common.Address) ([]*escrow.Escrow, error) {
	return s.scanIndex([]byte(escrowClientPrefix + strings.ToLower(addr.Hex()) + "/"))
}

// EscrowsByFreelancer returns every escrow where the address is the
// freelancer.
func (s *EscrowStore) EscrowsByFreelancer(addr common.Address) ([]*escrow.Escrow, error) {
	return s.scanIndex([]byte(escrowFreelancerPrefix + strings.ToLower(addr.Hex()) + "/"))
}
