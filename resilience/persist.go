package resilience

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PersistedState is the JSON shape a breaker writes to its store.
// Performance holds the response time window in milliseconds.
type PersistedState struct {
	State           string         `json:"state"`
	FailureCount    int            `json:"failureCount"`
	SuccessCount    int            `json:"successCount"`
	LastFailureTime time.Time      `json:"lastFailureTime"`
	LastSuccessTime time.Time      `json:"lastSuccessTime"`
	LastStateChange time.Time      `json:"lastStateChange"`
	TotalRequests   int            `json:"totalRequests"`
	ErrorCounts     map[string]int `json:"errorCounts,omitempty"`
	Performance     []int64        `json:"performance,omitempty"`
}

// BreakerStore persists breaker state across process restarts.
type BreakerStore interface {
	// Load returns the persisted state, or an error if the state is
	// missing or unreadable.
	Load() (*PersistedState, error)

	// Save replaces the persisted state.
	Save(*PersistedState) error
}

// ParseState parses a persisted state string.
func ParseState(s string) (State, error) {
	switch s {
	case "closed":
		return StateClosed, nil
	case "open":
		return StateOpen, nil
	case "half-open":
		return StateHalfOpen, nil
	default:
		return StateClosed, fmt.Errorf("resilience: unknown breaker state %q", s)
	}
}

// FileStore persists breaker state as a JSON file. Writes go through a
// temporary file and rename so readers never see a partial state.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed breaker store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and decodes the state file.
func (s *FileStore) Load() (*PersistedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("resilience: read breaker state: %w", err)
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("resilience: decode breaker state: %w", err)
	}
	return &state, nil
}

// Save encodes and writes the state file, creating parent directories
// as needed.
func (s *FileStore) Save(state *PersistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("resilience: encode breaker state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("resilience: create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("resilience: create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("resilience: write breaker state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("resilience: close breaker state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("resilience: replace breaker state: %w", err)
	}
	return nil
}

var _ BreakerStore = (*FileStore)(nil)
