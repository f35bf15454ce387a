package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestatus/internal/config"
	"github.com/dokzlo13/huestatus/internal/db"
	"github.com/dokzlo13/huestatus/internal/ledger"
	"github.com/dokzlo13/huestatus/internal/storage"
	"github.com/dokzlo13/huestatus/internal/storage/kv"
)

// Bucket holding "recently validated" scene markers.
const validatedBucket = "validated_scenes"

// Services is a container for the persistence services of one invocation.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger

	// State store (generic JSON store) and its typed view of the bridge state
	Store  *storage.Store
	Bridge *storage.TypedStore[State]

	// Validation markers with TTL
	Validated *kv.SQLiteBucket
}

// NewServices opens the database and wires the stores on top of it.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)
	s.Bridge = storage.NewTypedStore[State](s.Store, stateKind)
	s.Validated = kv.NewSQLiteBucket(database.DB, validatedBucket)

	return s, nil
}

// Cleanup applies the retention policies. Failures are only logged.
func (s *Services) Cleanup() {
	if days := s.cfg.Ledger.RetentionDays; days > 0 {
		n, err := s.Ledger.DeleteOlderThan(time.Duration(days) * 24 * time.Hour)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to prune ledger")
		} else if n > 0 {
			log.Debug().Int64("deleted", n).Msg("Pruned ledger entries")
		}
	}

	n, err := kv.CleanupExpired(s.DB.DB)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to remove expired markers")
	} else if n > 0 {
		log.Debug().Int64("deleted", n).Msg("Removed expired markers")
	}
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
