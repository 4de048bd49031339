package mutation

import (
	"context"
	"regexp"
	"time"

	"github.com/jpalmerr/livestore/internal/store"
)

var permissionNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// Validator applies per-resource rules to incoming record bodies.
//
// Resources without rules pass unchanged. Rules that depend on existing
// records read them from the injected store.
type Validator struct {
	store store.Store
	now   func() time.Time
}

// NewValidator creates a validator reading from st.
func NewValidator(st store.Store) *Validator {
	return &Validator{store: st, now: time.Now}
}

// Validate checks rec for op against resource's rules. On create it also
// fills defaults into rec. id is the target record for update and replace.
func (v *Validator) Validate(ctx context.Context, op Op, resource string, id int64, rec store.Record) error {
	switch resource {
	case "users":
		return v.users(op, rec)
	case "roles":
		return v.roles(op, rec)
	case "permissions":
		return v.permissions(ctx, op, id, rec)
	}
	return nil
}

func (v *Validator) users(op Op, rec store.Record) error {
	if op != OpCreate {
		return nil
	}
	if !truthy(rec["name"]) || !truthy(rec["email"]) || !truthy(rec["role"]) {
		return invalid("Name, email and role are required")
	}
	if !truthy(rec["status"]) {
		rec["status"] = "Active"
	}
	rec["createdAt"] = v.now().UnixMilli()
	return nil
}

func (v *Validator) roles(op Op, rec store.Record) error {
	if op != OpCreate {
		return nil
	}
	if !truthy(rec["name"]) || !truthy(rec["permissions"]) {
		return invalid("Name and permissions are required")
	}
	return nil
}

func (v *Validator) permissions(ctx context.Context, op Op, id int64, rec store.Record) error {
	name, hasName := rec["name"]
	switch op {
	case OpCreate:
		if !truthy(name) || !truthy(rec["description"]) {
			return invalid("Name and description are required")
		}
	case OpUpdate, OpReplace:
		if !hasName {
			return nil
		}
	default:
		return nil
	}

	s, ok := name.(string)
	if !ok || !permissionNamePattern.MatchString(s) {
		return invalid("Permission name must be lowercase with underscores only")
	}

	existing, err := v.store.List(ctx, "permissions")
	if err != nil {
		return storeFailure("failed to list permissions", err, store.ErrUnknownResource)
	}
	for _, p := range existing {
		pid, _ := p.ID()
		if op != OpCreate && pid == id {
			continue
		}
		if p["name"] == s {
			return invalid("Permission name must be unique")
		}
	}
	return nil
}

// truthy reports whether v counts as present: not missing, null, false,
// zero or the empty string.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case interface{ String() string }:
		s := x.String()
		return s != "" && s != "0"
	}
	return true
}
