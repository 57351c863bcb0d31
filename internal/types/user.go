package types

import (
	"fmt"
	"strings"
	"time"
)

// Role enumerates the authorization levels a user can hold.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the full persisted identity record, password hash included.
// A non-nil DeletedAt excludes the row from every listing, lookup, export
// and authentication path.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	CreatedBy    string     `json:"created_by"`
	UpdatedBy    *string    `json:"updated_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// UserProfile is the outward projection of a user; it never carries the
// password hash.
type UserProfile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile projects the full record into its outward shape.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Name:      u.Name,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// CreateUserParams is the input for creating a user through the directory.
type CreateUserParams struct {
	Name            string `json:"name"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Role            Role   `json:"role"`
}

// UpdateUserParams defines the mutable fields of a user record. Pointers
// distinguish "not provided" from an explicit empty value.
type UpdateUserParams struct {
	Name     *string `json:"name,omitempty"`
	Username *string `json:"username,omitempty"`
	Role     *Role   `json:"role,omitempty"`
}

// DeleteUserParams carries the acting admin's own password, re-checked
// before a soft delete is allowed.
type DeleteUserParams struct {
	ConfirmPassword string `json:"confirm_password"`
}

// UserFilter describes a directory listing query.
type UserFilter struct {
	Query   string `json:"q,omitempty"`
	Role    Role   `json:"role,omitempty"`
	Page    int    `json:"page"`
	Limit   int    `json:"limit"`
	SortBy  string `json:"sortBy,omitempty"`
	SortDir string `json:"sortDir,omitempty"`
}

// Normalize applies the listing defaults: page 1, 10 per page, newest first.
func (f *UserFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 10
	}
	if f.SortBy == "" {
		f.SortBy = "created_at"
	}
	if f.SortDir != "asc" {
		f.SortDir = "desc"
	}
}

// CacheKey returns a deterministic encoding of the full filter tuple. Two
// requests with the same parameters always hit the same cache entry.
func (f UserFilter) CacheKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "q=%s|role=%s|page=%d|limit=%d|sortBy=%s|sortDir=%s",
		f.Query, f.Role, f.Page, f.Limit, f.SortBy, f.SortDir)
	return b.String()
}

// PageMetadata mirrors the pagination block computed at cache-write time.
type PageMetadata struct {
	TotalData   int64 `json:"totalData"`
	TotalPage   int   `json:"totalPage"`
	CurrentPage int   `json:"currentPage"`
	PerPage     int   `json:"perPage"`
}

// UserPage is one page of directory results plus its pagination metadata.
type UserPage struct {
	Data     []UserProfile `json:"data"`
	Metadata PageMetadata  `json:"metadata"`
}
