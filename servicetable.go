package carrier

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// minServiceLineLen is the shortest line that can hold an entry.
// Shorter lines are ignored.
const minServiceLineLen = 11

// ServiceEntry is one line of a service table.
type ServiceEntry struct {
	ID   uint16
	Host string
	Port string
}

// ServiceTable lists the services a Gateway connects to, in file order.
type ServiceTable []ServiceEntry

// Lookup returns the entry for id.
func (st ServiceTable) Lookup(id uint16) (ServiceEntry, bool) {
	for _, e := range st {
		if e.ID == id {
			return e, true
		}
	}
	return ServiceEntry{}, false
}

// ParseServiceTable reads lines of the form "<id> <host> <port>".
// Lines starting with '#' and lines shorter than 11 characters are
// ignored. If an id appears more than once the first definition wins.
func ParseServiceTable(r io.Reader) (st ServiceTable, err error) {
	seen := make(map[uint16]struct{})
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) < minServiceLineLen || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.Errorf("carrier: service table line %d: want \"<id> <host> <port>\", got %q", lineno, line)
		}
		id, perr := strconv.ParseUint(fields[0], 10, 32)
		if perr != nil {
			return nil, errors.Wrapf(perr, "carrier: service table line %d", lineno)
		}
		if id > 0xffff {
			return nil, errors.Errorf("carrier: service table line %d: service id %d does not fit in 16 bits", lineno, id)
		}
		if _, perr = strconv.ParseUint(fields[2], 10, 16); perr != nil {
			return nil, errors.Wrapf(perr, "carrier: service table line %d: bad port", lineno)
		}
		if _, dup := seen[uint16(id)]; dup {
			continue
		}
		seen[uint16(id)] = struct{}{}
		st = append(st, ServiceEntry{ID: uint16(id), Host: fields[1], Port: fields[2]})
	}
	if err = sc.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return
}

// LoadServiceTable parses the service table file at path.
func LoadServiceTable(path string) (ServiceTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return ParseServiceTable(f)
}
