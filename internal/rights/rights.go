// SPDX-License-Identifier: MPL-2.0

// Package rights decides who may read, write, create and delete an op.
//
// Every decision is a pure function of the acting user, the op name, the
// user's team memberships and the owning project of patch ops. Nothing is
// read from disk, so rename dry runs can call the engine freely.
package rights

import (
	"slices"
	"strings"

	"github.com/opforge/opforge/pkg/opname"
)

const (
	// VisibilityPublic projects are listed and readable by anyone.
	VisibilityPublic Visibility = "public"
	// VisibilityUnlisted projects are readable by anyone with the link.
	VisibilityUnlisted Visibility = "unlisted"
	// VisibilityPrivate projects are readable by their members only.
	VisibilityPrivate Visibility = "private"
)

type (
	// Visibility is a project's sharing level.
	Visibility string

	// User is the acting user. A nil *User is anonymous.
	User struct {
		ID       string `toml:"id"`
		Username string `toml:"username"`
		IsAdmin  bool   `toml:"admin"`
		IsStaff  bool   `toml:"staff"`
		// AlwaysEditor bypasses every write check except the name checks.
		AlwaysEditor bool `toml:"always_editor"`
	}

	// Membership is the user's membership in one team.
	Membership struct {
		Team string
		// Namespace is the op namespace the team owns, e.g. "Ops.Team.Design".
		Namespace string
		CanWrite  bool
	}

	// Project is the project owning a patch op.
	Project struct {
		ShortID                 string     `toml:"short_id"`
		OwnerID                 string     `toml:"owner"`
		CollaboratorIDs         []string   `toml:"collaborators"`
		ReadOnlyCollaboratorIDs []string   `toml:"readonly_collaborators"`
		Visibility              Visibility `toml:"visibility"`
	}

	// Rights is the outcome of Check.
	Rights struct {
		Read   bool `json:"read"`
		Write  bool `json:"write"`
		Create bool `json:"create"`
		Delete bool `json:"delete"`
	}

	// Engine evaluates rights. Production disables staff edits of core and
	// admin ops.
	Engine struct {
		Production bool
	}
)

// Check evaluates all four rights at once.
func (e Engine) Check(user *User, name string, teams []Membership, project *Project) Rights {
	return Rights{
		Read:   e.CanRead(user, name, teams, project),
		Write:  e.CanWrite(user, name, teams, project),
		Create: e.CanCreate(user, name, teams, project),
		Delete: e.CanDelete(user, name, teams, project),
	}
}

// CanRead reports whether user may read the op. Core and extension ops
// are public.
//
// Reads are deliberately wider than owner-only for two categories: staff
// and members of the owning team may read team ops (members can already
// write them), and staff may read admin ops.
func (e Engine) CanRead(user *User, name string, teams []Membership, project *Project) bool {
	switch opname.Classify(name) {
	case opname.CategoryCore, opname.CategoryExtension:
		return true
	case opname.CategoryPatch:
		if project != nil && project.ShortID == opname.PatchShortID(name) &&
			(project.Visibility == VisibilityPublic || project.Visibility == VisibilityUnlisted) {
			return true
		}
		if user == nil {
			return false
		}
		return user.IsAdmin || isProjectMember(user, name, project, true)
	case opname.CategoryUser:
		return user != nil && (user.IsAdmin || ownsUserOp(user, name))
	case opname.CategoryTeam:
		if user == nil {
			return false
		}
		return user.IsAdmin || user.IsStaff || memberOf(name, teams, false)
	case opname.CategoryAdmin:
		return user != nil && (user.IsAdmin || user.IsStaff)
	}
	return false
}

// CanWrite reports whether user may change the op's code, attachments or
// metadata.
func (e Engine) CanWrite(user *User, name string, teams []Membership, project *Project) bool {
	if user == nil || !writableName(name) {
		return false
	}
	if user.AlwaysEditor {
		return true
	}

	switch opname.Classify(name) {
	case opname.CategoryPatch:
		return user.IsStaff || isProjectMember(user, name, project, false)
	case opname.CategoryUser:
		return user.IsStaff || ownsUserOp(user, name)
	case opname.CategoryExtension:
		return user.IsStaff
	case opname.CategoryTeam:
		return user.IsStaff || memberOf(name, teams, true)
	default:
		return user.IsStaff && !e.Production
	}
}

// CanCreate is CanWrite, except that admins may create ops anywhere.
func (e Engine) CanCreate(user *User, name string, teams []Membership, project *Project) bool {
	if user != nil && user.IsAdmin && writableName(name) {
		return true
	}
	return e.CanWrite(user, name, teams, project)
}

// CanDelete is CanWrite, except that admins may delete anything and core
// ops are never deletable by anyone else.
func (e Engine) CanDelete(user *User, name string, teams []Membership, project *Project) bool {
	if user != nil && user.IsAdmin {
		return true
	}
	if opname.Classify(name) == opname.CategoryCore {
		return false
	}
	return e.CanWrite(user, name, teams, project)
}

// writableName rejects names no one may write, independent of the user.
func writableName(name string) bool {
	if !opname.Validate(name) {
		return false
	}
	return !strings.Contains(name, "..") &&
		!strings.Contains(name, " ") &&
		!strings.HasPrefix(name, ".") &&
		!strings.HasSuffix(name, ".")
}

func ownsUserOp(user *User, name string) bool {
	return user.Username != "" && opname.Owner(name) == user.Username
}

// memberOf reports whether one of teams owns the namespace name lives in.
func memberOf(name string, teams []Membership, needWrite bool) bool {
	for _, m := range teams {
		if m.Namespace == "" || !strings.HasPrefix(name, m.Namespace+opname.Separator) {
			continue
		}
		if !needWrite || m.CanWrite {
			return true
		}
	}
	return false
}

// isProjectMember reports whether user owns or collaborates on the project
// that owns the patch op name.
func isProjectMember(user *User, name string, project *Project, readOnlyOK bool) bool {
	if project == nil || user.ID == "" || project.ShortID != opname.PatchShortID(name) {
		return false
	}
	if project.OwnerID == user.ID || slices.Contains(project.CollaboratorIDs, user.ID) {
		return true
	}
	return readOnlyOK && slices.Contains(project.ReadOnlyCollaboratorIDs, user.ID)
}
