// SPDX-License-Identifier: MPL-2.0

// Package accounts provides the users, team memberships and projects that
// rights checks are evaluated against. They are read from a TOML file:
//
//	[[users]]
//	id = "u1"
//	username = "alice"
//	staff = false
//
//	[[teams]]
//	name = "Design"
//	members = ["u1"]
//	writers = ["u1"]
//
//	[[projects]]
//	short_id = "ab12"
//	owner = "u1"
//	visibility = "private"
package accounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/rights"
	"github.com/opforge/opforge/pkg/opname"
)

var (
	// ErrUnknownUser is returned when no user has the requested id or username.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownProject is returned when no project has the requested short id.
	ErrUnknownProject = errors.New("unknown project")
)

type (
	// File is the decoded accounts file.
	File struct {
		Users    []rights.User    `toml:"users"`
		Teams    []Team           `toml:"teams"`
		Projects []rights.Project `toml:"projects"`
	}

	// Team is a named group of users owning an op namespace.
	Team struct {
		Name string `toml:"name"`
		// Namespace defaults to "Ops.Team.<name>".
		Namespace string   `toml:"namespace,omitempty"`
		Members   []string `toml:"members"`
		Writers   []string `toml:"writers,omitempty"`
	}

	// Provider answers user, membership and project queries.
	Provider struct {
		file File
	}
)

// Load reads the accounts file at path. A missing file yields an empty
// provider in which every user is unknown.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Provider{}, nil
		}
		return nil, issue.WrapWithContext(err, "read accounts file", path, issue.ErrIO)
	}
	return Parse(data, filepath.Base(path))
}

// Parse decodes and validates accounts TOML.
func Parse(data []byte, filename string) (*Provider, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", issue.ErrValidation, filename, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", issue.ErrValidation, filename, err)
	}
	return &Provider{file: f}, nil
}

// Validate checks for duplicate ids and unknown visibility values. All
// problems are reported together.
func (f *File) Validate() error {
	var errs []error

	seenUsers := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		if u.ID == "" {
			errs = append(errs, fmt.Errorf("user %q has no id", u.Username))
			continue
		}
		if seenUsers[u.ID] {
			errs = append(errs, fmt.Errorf("duplicate user id %q", u.ID))
		}
		seenUsers[u.ID] = true
	}

	for _, t := range f.Teams {
		if t.Name == "" {
			errs = append(errs, errors.New("team without name"))
			continue
		}
		if ns := t.namespace(); !opname.Validate(ns + ".X") {
			errs = append(errs, fmt.Errorf("team %q: invalid namespace %q", t.Name, ns))
		}
	}

	seenProjects := make(map[string]bool, len(f.Projects))
	for _, p := range f.Projects {
		if seenProjects[p.ShortID] {
			errs = append(errs, fmt.Errorf("duplicate project %q", p.ShortID))
		}
		seenProjects[p.ShortID] = true
		switch p.Visibility {
		case rights.VisibilityPublic, rights.VisibilityUnlisted, rights.VisibilityPrivate, "":
		default:
			errs = append(errs, fmt.Errorf("project %q: invalid visibility %q (valid: public, unlisted, private)", p.ShortID, p.Visibility))
		}
	}
	return errors.Join(errs...)
}

func (t Team) namespace() string {
	if t.Namespace != "" {
		return t.Namespace
	}
	return opname.PrefixTeam + t.Name
}

// User returns the user whose id or username is key.
func (p *Provider) User(key string) (*rights.User, error) {
	for i := range p.file.Users {
		u := p.file.Users[i]
		if u.ID == key || u.Username == key {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownUser, key)
}

// Memberships returns the teams the user with userID belongs to.
func (p *Provider) Memberships(userID string) []rights.Membership {
	var out []rights.Membership
	for _, t := range p.file.Teams {
		if !slices.Contains(t.Members, userID) && !slices.Contains(t.Writers, userID) {
			continue
		}
		out = append(out, rights.Membership{
			Team:      t.Name,
			Namespace: t.namespace(),
			CanWrite:  slices.Contains(t.Writers, userID),
		})
	}
	return out
}

// Project returns the project with the given short id.
func (p *Provider) Project(shortID string) (*rights.Project, error) {
	for i := range p.file.Projects {
		proj := p.file.Projects[i]
		if proj.ShortID == shortID {
			if proj.Visibility == "" {
				proj.Visibility = rights.VisibilityPrivate
			}
			return &proj, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProject, shortID)
}

// ProjectForOp returns the project owning a patch op, or nil for other
// categories and unknown projects.
func (p *Provider) ProjectForOp(name string) *rights.Project {
	shortID := opname.PatchShortID(name)
	if shortID == "" {
		return nil
	}
	proj, err := p.Project(shortID)
	if err != nil {
		return nil
	}
	return proj
}

// Users returns every configured user.
func (p *Provider) Users() []rights.User {
	return slices.Clone(p.file.Users)
}
