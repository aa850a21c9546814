// Package peersvc remembers link peers across runs and discovers new ones on
// the local network.
package peersvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
)

// Peer is one remembered link endpoint.
type Peer struct {
	Address         string    `json:"address"`
	FirstSeenAt     time.Time `json:"firstSeenAt"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
	LastConnectedAt time.Time `json:"lastConnectedAt,omitempty"`
}

// Service is the peer registry. A nil db degrades every operation to a
// no-op so discovery keeps working without persistence.
type Service struct {
	log *zap.Logger
	db  *badger.DB
	now func() time.Time
}

func New(log *zap.Logger, db *badger.DB, now func() time.Time) *Service {
	if db == nil {
		log.Warn("Peer registry running without persistence")
	}
	return &Service{log: log, db: db, now: now}
}

func peerKey(address string) []byte {
	return []byte(fmt.Sprintf("peers/%s", address))
}

// Touch records that the peer was seen now, creating it on first sight.
func (s *Service) Touch(address string) (Peer, error) {
	return s.update(address, func(p *Peer) {})
}

// MarkConnected records a successful connection to the peer.
func (s *Service) MarkConnected(address string) (Peer, error) {
	return s.update(address, func(p *Peer) {
		p.LastConnectedAt = s.now()
	})
}

func (s *Service) update(address string, mutate func(*Peer)) (Peer, error) {
	if s.db == nil {
		return Peer{Address: address}, nil
	}
	var peer Peer
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := peerKey(address)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			peer = Peer{Address: address}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &peer)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal peer: %w", err)
			}
		}
		peer.Address = address
		if peer.FirstSeenAt.IsZero() {
			peer.FirstSeenAt = now
		}
		peer.LastSeenAt = now
		mutate(&peer)
		b, err := json.Marshal(peer)
		if err != nil {
			return fmt.Errorf("failed to marshal peer: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return Peer{}, fmt.Errorf("failed to update peer %s: %w", address, err)
	}
	return peer, nil
}

// List returns every remembered peer.
func (s *Service) List() ([]Peer, error) {
	if s.db == nil {
		return nil, nil
	}
	var peers []Peer
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("peers/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var peer Peer
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &peer)
			})
			if err != nil {
				return err
			}
			peers = append(peers, peer)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	return peers, nil
}

// Recent returns up to n peers that have connected before, most recently
// connected first. These are the fallback candidates tried before a live
// scan.
func (s *Service) Recent(n int) ([]Peer, error) {
	peers, err := s.List()
	if err != nil {
		return nil, err
	}
	connected := peers[:0]
	for _, p := range peers {
		if !p.LastConnectedAt.IsZero() {
			connected = append(connected, p)
		}
	}
	sort.Slice(connected, func(i, j int) bool {
		return connected[i].LastConnectedAt.After(connected[j].LastConnectedAt)
	})
	if len(connected) > n {
		connected = connected[:n]
	}
	return connected, nil
}
