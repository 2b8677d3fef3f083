// Package domain holds the core types shared across the retrieval engine:
// chunks, tier assignments, routing records, and index metadata.
package domain

import "time"

// Tier identifies which generation of the index a vector currently lives in.
type Tier string

const (
	TierHot  Tier = "hot"
	TierCold Tier = "cold"
)

// BackendType names a concrete ANN index implementation.
type BackendType string

const (
	BackendFlat  BackendType = "flat"
	BackendIVF   BackendType = "ivf"
	BackendIVFPQ BackendType = "ivfpq"
	BackendHNSW  BackendType = "hnsw"
)

// Chunk is a retrievable unit of document content.
type Chunk struct {
	ID        string
	FileID    string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// RoutingRecord is the durable record kept in the routing table for a chunk.
// It carries the chunk's current tier assignment; a chunk exists iff it has
// a routing record.
type RoutingRecord struct {
	ChunkID   string
	FileID    string
	Tier      Tier
	CreatedAt time.Time
	SoftDel   bool
}

// MigrationPhase tracks progress of an online index rebuild.
type MigrationPhase string

const (
	PhasePlanning   MigrationPhase = "planning"
	PhaseBuilding   MigrationPhase = "building"
	PhaseValidating MigrationPhase = "validating"
	PhaseSwapping   MigrationPhase = "swapping"
	PhaseCleaning   MigrationPhase = "cleaning"
	PhaseDone       MigrationPhase = "done"
	PhaseFailed     MigrationPhase = "failed"
)

// MigrationJob describes an in-progress or completed online index migration.
type MigrationJob struct {
	ID         string
	Tier       Tier
	FromType   BackendType
	ToType     BackendType
	Phase      MigrationPhase
	Progress   float64
	StartedAt  time.Time
	FinishedAt time.Time
	Err        string
}
