package authz

import "errors"

var (
	// ErrNotFound indicates a referenced user, organisation, agent or
	// permission does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrConflict indicates a uniqueness invariant was violated at commit
	// time, usually by a concurrent assignment. Callers may retry once.
	ErrConflict = errors.New("authz: resource conflict")
	// ErrReservedPermission rejects granting a system-reserved permission.
	ErrReservedPermission = errors.New("authz: permission is system-reserved")
	// ErrInvalidInput indicates a malformed argument such as an empty id.
	ErrInvalidInput = errors.New("authz: invalid input")
)
