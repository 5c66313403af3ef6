package carrier

import (
	"fmt"
	"sync"
	"time"
)

// ConnID identifies a frontend connection in the Gateway arena.
// IDs are never reused within a Gateway.
type ConnID uint64

func (id ConnID) String() string {
	return fmt.Sprintf("[ID %04x]", uint64(id))
}

// Correlation is one request forwarded to a backend and not yet answered.
type Correlation struct {
	Seq      uint32    // gateway assigned sequence number
	Original uint32    // sequence number the client used
	Frontend ConnID    // connection the request arrived on
	Service  uint16    // service the request was routed to
	Created  time.Time // when the request was forwarded
}

// CorrelationTable maps gateway assigned sequence numbers back to the
// client sequence number and the frontend connection. It is safe for
// concurrent use.
type CorrelationTable struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]Correlation
}

// NewCorrelationTable returns an empty table whose counter starts at zero.
func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{
		entries: make(map[uint32]Correlation),
	}
}

// Register takes the next counter value, records the correlation and
// returns the assigned sequence number. After the 32-bit counter wraps,
// values still held by live entries are skipped.
func (ct *CorrelationTable) Register(original uint32, frontend ConnID, service uint16) uint32 {
	now := time.Now()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	seq := ct.next
	for {
		if _, live := ct.entries[seq]; !live {
			break
		}
		seq++
	}
	ct.next = seq + 1
	ct.entries[seq] = Correlation{
		Seq:      seq,
		Original: original,
		Frontend: frontend,
		Service:  service,
		Created:  now,
	}
	return seq
}

// Resolve removes and returns the entry for seq. The second result is
// false if seq is unknown, for example a duplicate or spurious response.
func (ct *CorrelationTable) Resolve(seq uint32) (c Correlation, found bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if c, found = ct.entries[seq]; found {
		delete(ct.entries, seq)
	}
	return
}

// Len returns the number of live entries.
func (ct *CorrelationTable) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.entries)
}

// Expire removes and returns all entries created before t.
func (ct *CorrelationTable) Expire(t time.Time) []Correlation {
	return ct.takeWhere(func(c Correlation) bool { return c.Created.Before(t) })
}

// TakeService removes and returns all entries routed to service.
func (ct *CorrelationTable) TakeService(service uint16) []Correlation {
	return ct.takeWhere(func(c Correlation) bool { return c.Service == service })
}

func (ct *CorrelationTable) takeWhere(match func(Correlation) bool) (taken []Correlation) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	for seq, c := range ct.entries {
		if match(c) {
			taken = append(taken, c)
			delete(ct.entries, seq)
		}
	}
	return
}
