package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/fieldsvc/dispatchd/internal/clock"
)

// protocolGen issues the human-readable schedule protocol: the creation
// instant as YYYYMMDDHHMMSS. Within one second the generator is monotonic
// by suffixing a sequence number, so protocols stay unique even under
// concurrent bookings.
type protocolGen struct {
	mu   sync.Mutex
	clk  clock.Clock
	last string
	seq  int
}

func newProtocolGen(clk clock.Clock) *protocolGen {
	return &protocolGen{clk: clk}
}

// Next returns the next unique protocol string.
func (g *protocolGen) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	stamp := g.clk.Now().UTC().Format("20060102150405")
	if stamp != g.last {
		g.last = stamp
		g.seq = 0
		return stamp
	}
	g.seq++
	return fmt.Sprintf("%s-%d", stamp, g.seq)
}

// GenerateProtocol issues a unique protocol for a schedule created now.
func (s *Store) GenerateProtocol() string { return s.proto.Next() }

// storageDate renders a date for the date columns.
func storageDate(t time.Time) string { return t.Format("2006-01-02") }
