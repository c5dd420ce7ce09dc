package limits

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/gemshare/gemshare/pkg/models"
)

var ErrUnknownClient = errors.New("unknown client")

const (
	// DefaultFileName is the limit file the pod manager writes.
	DefaultFileName = "resource-config.txt"
	// DefaultDir is where the limit file is looked up by default.
	DefaultDir = "."

	// MaxNameLen bounds client names so they fit the wire frame name field.
	MaxNameLen = 63
)

// Parse reads a limit file: first token is the client count, then one
// record per client: name, min fraction, max fraction, SM partition,
// memory limit in bytes. Tokens are whitespace-separated; line breaks
// carry no meaning.
func Parse(r io.Reader) ([]models.ClientLimit, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return sc.Text(), nil
	}

	tok, err := next()
	if err != nil {
		return nil, fmt.Errorf("failed to read client count: %w", err)
	}
	count, err := strconv.Atoi(tok)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("invalid client count %q", tok)
	}

	entries := make([]models.ClientLimit, 0, count)
	for i := 0; i < count; i++ {
		var entry models.ClientLimit

		if entry.Name, err = next(); err != nil {
			return nil, fmt.Errorf("entry %d: missing name: %w", i+1, err)
		}
		if len(entry.Name) > MaxNameLen {
			return nil, fmt.Errorf("entry %d: name %q exceeds %d bytes", i+1, entry.Name, MaxNameLen)
		}

		if entry.MinFraction, err = nextFloat(next); err != nil {
			return nil, fmt.Errorf("entry %d (%s): min fraction: %w", i+1, entry.Name, err)
		}
		if entry.MaxFraction, err = nextFloat(next); err != nil {
			return nil, fmt.Errorf("entry %d (%s): max fraction: %w", i+1, entry.Name, err)
		}
		if entry.SMPartition, err = nextUint(next); err != nil {
			return nil, fmt.Errorf("entry %d (%s): sm partition: %w", i+1, entry.Name, err)
		}
		if entry.MemLimitBytes, err = nextUint(next); err != nil {
			return nil, fmt.Errorf("entry %d (%s): memory limit: %w", i+1, entry.Name, err)
		}

		if entry.MinFraction < 0 || entry.MaxFraction < entry.MinFraction {
			return nil, fmt.Errorf("entry %d (%s): fractions out of order: min=%.2f max=%.2f",
				i+1, entry.Name, entry.MinFraction, entry.MaxFraction)
		}
		if entry.SMPartition > 100 {
			return nil, fmt.Errorf("entry %d (%s): sm partition %d exceeds 100", i+1, entry.Name, entry.SMPartition)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func nextFloat(next func() (string, error)) (float64, error) {
	tok, err := next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", tok)
	}
	return v, nil
}

func nextUint(next func() (string, error)) (uint64, error) {
	tok, err := next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", tok)
	}
	return v, nil
}

// ParseFile reads and parses the limit file at path.
func ParseFile(path string) ([]models.ClientLimit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open limit file %s: %w", path, err)
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse limit file %s: %w", path, err)
	}
	return entries, nil
}

// Registry is the in-memory view of per-client limits
type Registry struct {
	mu      sync.RWMutex
	clients map[string]models.ClientLimit
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]models.ClientLimit),
	}
}

// Apply upserts the given entries. Clients absent from entries are kept:
// a reload never removes a client, matching the limit file contract.
// Returns the number of entries applied.
func (r *Registry) Apply(entries []models.ClientLimit) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		r.clients[entry.Name] = entry
	}
	return len(entries)
}

// Get retrieves the limit entry for a client by name
func (r *Registry) Get(name string) (models.ClientLimit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[name]
	if !ok {
		return models.ClientLimit{}, ErrUnknownClient
	}
	return entry, nil
}

// All returns all limit entries, sorted by name
func (r *Registry) All() []models.ClientLimit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]models.ClientLimit, 0, len(r.clients))
	for _, entry := range r.clients {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Len returns the number of known clients
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
