package actions

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// pidSeq allocates primary keys for the persistent-identifier table. The
// start is set above the source system's highest pid so generated keys never
// collide with migrated ones.
var pidSeq atomic.Int64

func init() {
	pidSeq.Store(1_000_000)
}

// SetPKStart sets the next persistent-identifier primary key. Called once at
// run setup, before any action executes.
func SetPKStart(n int64) {
	pidSeq.Store(n)
}

// NextPK returns the next persistent-identifier primary key.
func NextPK() int64 {
	return pidSeq.Add(1) - 1
}

// GeneratePK is the PKRule generator for integer pid primary keys.
func GeneratePK(map[string]any) any {
	return NextPK()
}

// NewUUID returns a fresh record identifier.
func NewUUID() string {
	return uuid.NewString()
}

// GenerateUUID is the PKRule generator for uuid primary keys.
func GenerateUUID(map[string]any) any {
	return NewUUID()
}
