package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-faker/faker/v4"
)

// DefaultSeed returns the built-in dataset: two users, two roles and the six
// permissions they reference.
func DefaultSeed() Snapshot {
	return Snapshot{
		"users": {
			{"id": int64(1), "name": "John Doe", "email": "john@example.com", "role": "Admin", "status": "Active"},
			{"id": int64(2), "name": "Jane Smith", "email": "jane@example.com", "role": "Editor", "status": "Active"},
		},
		"roles": {
			{
				"id": int64(1), "name": "Admin", "description": "Full system access",
				"permissions": []any{"users_read", "users_write", "roles_read", "roles_write", "permissions_read", "permissions_write"},
			},
			{
				"id": int64(2), "name": "Editor", "description": "Content management access",
				"permissions": []any{"users_read", "roles_read", "permissions_read"},
			},
		},
		"permissions": {
			{"id": int64(1), "name": "users_read", "description": "View users"},
			{"id": int64(2), "name": "users_write", "description": "Modify users"},
			{"id": int64(3), "name": "roles_read", "description": "View roles"},
			{"id": int64(4), "name": "roles_write", "description": "Modify roles"},
			{"id": int64(5), "name": "permissions_read", "description": "View permissions"},
			{"id": int64(6), "name": "permissions_write", "description": "Modify permissions"},
		},
	}
}

// LoadSeedFile reads a JSON seed file of the form {"users": [...], ...}.
func LoadSeedFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses seed JSON. Every top-level key must hold an array of objects.
func ParseSeed(data []byte) (Snapshot, error) {
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	out := make(Snapshot, len(raw))
	for name, items := range raw {
		records := make([]Record, 0, len(items))
		for i, item := range items {
			rec, err := DecodeRecord(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			records = append(records, rec)
		}
		out[name] = records
	}
	return out, nil
}

// WriteSeedFile writes a snapshot as indented JSON.
func WriteSeedFile(path string, data Snapshot) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode seed: %w", err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write seed file: %w", err)
	}
	return nil
}

// FakeUsers generates n users with random names and emails. Roles are
// assigned round-robin from roles; ids start at firstID.
func FakeUsers(n int, firstID int64, roles []string) []Record {
	if len(roles) == 0 {
		roles = []string{"Editor"}
	}

	now := time.Now().UnixMilli()
	users := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, Record{
			"id":        firstID + int64(i),
			"name":      faker.Name(),
			"email":     faker.Email(),
			"role":      roles[i%len(roles)],
			"status":    "Active",
			"createdAt": now,
		})
	}
	return users
}

// RoleNames returns the "name" field of every role record that has one.
func RoleNames(roles []Record) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		if name, ok := r["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}
