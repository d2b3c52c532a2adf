// Package preset provides local-first preset persistence with best-effort
// background device sync. Local saves never block on network state; the
// device copy is attached asynchronously when connectivity allows.
package preset

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the preset payload variants.
type Kind string

const (
	KindColor      Kind = "color"
	KindEffect     Kind = "effect"
	KindTransition Kind = "transition"
)

// ErrNotFound is returned when a local preset record does not exist.
var ErrNotFound = errors.New("preset not found")

// Record is one local preset. RemoteID is nil until background sync has
// pushed the payload to a device slot.
type Record struct {
	LocalID   string
	DeviceID  string
	Kind      Kind
	Name      string
	Payload   json.RawMessage
	RemoteID  *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Synced reports whether the record has a device-side copy.
func (r *Record) Synced() bool {
	return r.RemoteID != nil
}

// Store provides preset record persistence. It is the single writer for
// preset state.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts a new record with a fresh local id and returns it.
func (s *Store) Save(deviceID string, kind Kind, name string, payload json.RawMessage) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := &Record{
		LocalID:   uuid.NewString(),
		DeviceID:  deviceID,
		Kind:      kind,
		Name:      name,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`
		INSERT INTO presets (local_id, kind, name, payload, device_id, remote_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
	`, rec.LocalID, string(rec.Kind), rec.Name, string(rec.Payload), rec.DeviceID, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to save preset: %w", err)
	}

	return rec, nil
}

// Get retrieves a record by local id.
func (s *Store) Get(localID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT local_id, kind, name, payload, device_id, remote_id, created_at, updated_at
		FROM presets WHERE local_id = ?
	`, localID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preset: %w", err)
	}
	return rec, nil
}

// List returns all records for a device, newest first.
func (s *Store) List(deviceID string) ([]*Record, error) {
	return s.query(`
		SELECT local_id, kind, name, payload, device_id, remote_id, created_at, updated_at
		FROM presets WHERE device_id = ? ORDER BY created_at DESC
	`, deviceID)
}

// Unsynced returns records for a device that have no remote id yet.
func (s *Store) Unsynced(deviceID string) ([]*Record, error) {
	return s.query(`
		SELECT local_id, kind, name, payload, device_id, remote_id, created_at, updated_at
		FROM presets WHERE device_id = ? AND remote_id IS NULL ORDER BY created_at
	`, deviceID)
}

// AllUnsynced returns unsynced records across all devices.
func (s *Store) AllUnsynced() ([]*Record, error) {
	return s.query(`
		SELECT local_id, kind, name, payload, device_id, remote_id, created_at, updated_at
		FROM presets WHERE remote_id IS NULL ORDER BY created_at
	`)
}

// AttachRemote records the device slot a preset was pushed to. Idempotent
// by local id: attaching the same remote id again is a no-op, and an
// already-synced record is never re-pointed at a different slot.
func (s *Store) AttachRemote(localID string, remoteID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()
	_, err := s.db.Exec(`
		UPDATE presets SET remote_id = ?, updated_at = ?
		WHERE local_id = ? AND (remote_id IS NULL OR remote_id = ?)
	`, remoteID, now, localID, remoteID)
	if err != nil {
		return fmt.Errorf("failed to attach remote id: %w", err)
	}
	return nil
}

// Delete removes the local record only; remote cleanup is out of scope.
func (s *Store) Delete(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM presets WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	return nil
}

func (s *Store) query(q string, args ...any) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query presets: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preset: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var kind, payload string
	var remoteID sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&rec.LocalID, &kind, &rec.Name, &payload, &rec.DeviceID, &remoteID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Kind = Kind(kind)
	rec.Payload = json.RawMessage(payload)
	if remoteID.Valid {
		id := int(remoteID.Int64)
		rec.RemoteID = &id
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &rec, nil
}
