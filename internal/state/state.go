package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Session is the target session of the cycle in progress.
type Session struct {
	Open  time.Time `json:"open"`
	Close time.Time `json:"close"`
}

// Snapshot is the trading cycle state: the running balance estimate, the shares
// currently held and where the cycle stands. Fill history is not kept.
type Snapshot struct {
	RunID     string          `json:"run_id"`
	Balance   decimal.Decimal `json:"balance"`
	Shares    decimal.Decimal `json:"shares"`
	Phase     string          `json:"phase"`
	Target    *Session        `json:"target,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

func NewStore(runID string, balance decimal.Decimal) *Store {
	return &Store{
		snapshot: Snapshot{RunID: runID, Balance: balance, Shares: decimal.Zero},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy := s.snapshot
	if s.snapshot.Target != nil {
		target := *s.snapshot.Target
		copy.Target = &target
	}
	return copy
}

func (s *Store) SetPhase(phase string, target *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Phase = phase
	s.snapshot.Target = target
	s.snapshot.UpdatedAt = time.Now().UTC()
}

// Bought deducts the spent cash from the balance estimate and records the shares.
func (s *Store) Bought(spent, shares decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Balance = s.snapshot.Balance.Sub(spent)
	s.snapshot.Shares = s.snapshot.Shares.Add(shares)
	s.snapshot.UpdatedAt = time.Now().UTC()
}

// Sold credits the received cash and clears the held shares.
func (s *Store) Sold(received decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Balance = s.snapshot.Balance.Add(received)
	s.snapshot.Shares = decimal.Zero
	s.snapshot.UpdatedAt = time.Now().UTC()
}

// Save writes the checkpoint through a temp file so a crash never leaves half a file.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a checkpoint written by Save. It does not touch the store.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}
