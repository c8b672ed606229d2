// Package identity persists a participant's durable identity and last-joined
// session pointer on local disk, so a restarted client can rejoin silently.
package identity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Identity survives process restart and is only cleared on explicit leave.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	DeviceID    string `json:"device_id"`
	CreatedAt   int64  `json:"created_at"`
}

// LastSession points at the most recent join, keyed for idempotent rejoin.
type LastSession struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	JoinedAt      int64  `json:"joined_at"`
}

type state struct {
	Identity    *Identity    `json:"identity,omitempty"`
	LastSession *LastSession `json:"last_session,omitempty"`
}

// Manager reads and writes the identity file under a base directory.
type Manager struct {
	path string
}

func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{path: filepath.Join(baseDir, "identity.json")}, nil
}

func (m *Manager) load() (state, error) {
	var st state
	b, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		// Corrupt file: start fresh rather than wedge the client.
		return state{}, nil
	}
	return st, nil
}

func (m *Manager) save(st state) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Load returns the persisted identity, or nil if none exists.
func (m *Manager) Load() (*Identity, error) {
	st, err := m.load()
	if err != nil {
		return nil, err
	}
	return st.Identity, nil
}

// Ensure returns the persisted identity, generating and saving one under
// displayName if none exists yet.
func (m *Manager) Ensure(displayName string) (*Identity, error) {
	st, err := m.load()
	if err != nil {
		return nil, err
	}
	if st.Identity != nil {
		if displayName != "" && st.Identity.DisplayName != displayName {
			st.Identity.DisplayName = displayName
			if err := m.save(st); err != nil {
				return nil, err
			}
		}
		return st.Identity, nil
	}
	id := &Identity{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		DeviceID:    uuid.NewString(),
		CreatedAt:   time.Now().Unix(),
	}
	st.Identity = id
	if err := m.save(st); err != nil {
		return nil, err
	}
	return id, nil
}

// RememberSession stores the rejoin pointer.
func (m *Manager) RememberSession(ls LastSession) error {
	st, err := m.load()
	if err != nil {
		return err
	}
	st.LastSession = &ls
	return m.save(st)
}

// LastJoined returns the rejoin pointer, or nil if none.
func (m *Manager) LastJoined() (*LastSession, error) {
	st, err := m.load()
	if err != nil {
		return nil, err
	}
	return st.LastSession, nil
}

// ForgetSession clears only the rejoin pointer; the identity itself remains.
func (m *Manager) ForgetSession() error {
	st, err := m.load()
	if err != nil {
		return err
	}
	st.LastSession = nil
	return m.save(st)
}

// Clear wipes everything, used on explicit "leave session".
func (m *Manager) Clear() error {
	err := os.Remove(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
