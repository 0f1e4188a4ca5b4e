package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leshsec/lesh/internal/threat"
)

func sample(id string) threat.Threat {
	return threat.Threat{
		ID:        id,
		Type:      threat.TypeSuspiciousConnection,
		Source:    "203.0.113.5",
		Severity:  3,
		Timestamp: time.Now().UTC(),
		Details:   map[string]any{threat.DetailRemoteAddress: "203.0.113.5:4444"},
	}
}

func TestAdd_DedupAcrossPasses(t *testing.T) {
	s := New()

	added := s.Add([]threat.Threat{sample("t1")})
	require.Len(t, added, 1)

	// Second pass reports the same threat again.
	added = s.Add([]threat.Threat{sample("t1")})
	assert.Empty(t, added)

	assert.Len(t, s.ListAll(), 1)
	seen, active := s.Counts()
	assert.Equal(t, 1, seen)
	assert.Equal(t, 1, active)
}

func TestAdd_AssignsStableID(t *testing.T) {
	in := sample("")
	added := s0(t, in)
	assert.Equal(t, in.StableID(), added.ID)
}

func s0(t *testing.T, in threat.Threat) threat.Threat {
	t.Helper()
	s := New()
	added := s.Add([]threat.Threat{in})
	require.Len(t, added, 1)
	return added[0]
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := New()
	s.Add([]threat.Threat{sample("t1")})

	got, ok := s.Get("t1")
	require.True(t, ok)
	got.Details[threat.DetailRemoteAddress] = "tampered"
	got.Severity = 5

	again, _ := s.Get("t1")
	assert.Equal(t, "203.0.113.5:4444", again.Details[threat.DetailRemoteAddress])
	assert.Equal(t, 3, again.Severity)
}

func TestMarkResolved_OnceOnly(t *testing.T) {
	s := New()
	s.Add([]threat.Threat{sample("t1")})

	assert.True(t, s.MarkResolved("t1", "network_block", "blocked 203.0.113.5"))
	got, _ := s.Get("t1")
	assert.True(t, got.Resolved)
	assert.Equal(t, "network_block", got.ResolutionAction)
	require.NotNil(t, got.ResolutionTime)

	// Idempotent no-op on repeat and on unknown IDs.
	assert.False(t, s.MarkResolved("t1", "process_terminate", ""))
	assert.False(t, s.MarkResolved("nope", "network_block", ""))

	// The resolved flag never reverts.
	got, _ = s.Get("t1")
	assert.True(t, got.Resolved)
	assert.Equal(t, "network_block", got.ResolutionAction)
}

func TestListActive_ExcludesResolved(t *testing.T) {
	s := New()
	s.Add([]threat.Threat{sample("t1"), sample("t2"), sample("t3")})
	s.MarkResolved("t2", "network_block", "")

	active := s.ListActive()
	require.Len(t, active, 2)
	assert.Equal(t, "t1", active[0].ID)
	assert.Equal(t, "t3", active[1].ID)

	seen, activeCount := s.Counts()
	assert.Equal(t, 3, seen)
	assert.Equal(t, 2, activeCount)
}

func TestStore_ConcurrentReadersAndWriter(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Add([]threat.Threat{sample(fmt.Sprintf("t%d", i))})
			s.MarkResolved(fmt.Sprintf("t%d", i/2), "network_block", "")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.ListActive()
			s.Counts()
			s.Get("t5")
		}
	}()
	wg.Wait()
	seen, _ := s.Counts()
	assert.Equal(t, 200, seen)
}
