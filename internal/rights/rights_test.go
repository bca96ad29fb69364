// SPDX-License-Identifier: MPL-2.0

package rights

import "testing"

var (
	alice   = &User{ID: "u1", Username: "alice"}
	bob     = &User{ID: "u2", Username: "bob"}
	staff   = &User{ID: "s1", Username: "sam", IsStaff: true}
	admin   = &User{ID: "a1", Username: "ada", IsAdmin: true}
	editor  = &User{ID: "e1", Username: "eve", AlwaysEditor: true}
	project = &Project{
		ShortID:                 "ab12",
		OwnerID:                 "u1",
		CollaboratorIDs:         []string{"u3"},
		ReadOnlyCollaboratorIDs: []string{"u2"},
		Visibility:              VisibilityPrivate,
	}
	designWriter = []Membership{{Team: "Design", Namespace: "Ops.Team.Design", CanWrite: true}}
	designReader = []Membership{{Team: "Design", Namespace: "Ops.Team.Design"}}
)

func TestCanRead(t *testing.T) {
	t.Parallel()

	public := *project
	public.Visibility = VisibilityUnlisted

	tests := []struct {
		name    string
		user    *User
		op      string
		teams   []Membership
		project *Project
		want    bool
	}{
		{"core is public", nil, "Ops.Gl.Blur", nil, nil, true},
		{"extension is public", nil, "Ops.Extension.Noise.Perlin", nil, nil, true},
		{"user op by owner", alice, "Ops.User.alice.Foo", nil, nil, true},
		{"user op by other", bob, "Ops.User.alice.Foo", nil, nil, false},
		{"user op by staff", staff, "Ops.User.alice.Foo", nil, nil, false},
		{"user op by admin", admin, "Ops.User.alice.Foo", nil, nil, true},
		{"user op anonymous", nil, "Ops.User.alice.Foo", nil, nil, false},
		{"patch of unlisted project", nil, "Ops.Patch.Pab12.Foo", nil, &public, true},
		{"patch of private project anonymous", nil, "Ops.Patch.Pab12.Foo", nil, project, false},
		{"patch by owner", alice, "Ops.Patch.Pab12.Foo", nil, project, true},
		{"patch by read-only collaborator", bob, "Ops.Patch.Pab12.Foo", nil, project, true},
		{"patch of other project", alice, "Ops.Patch.Pzz99.Foo", nil, project, false},
		{"patch by admin", admin, "Ops.Patch.Pab12.Foo", nil, nil, true},
		{"team op by member", alice, "Ops.Team.Design.Foo", designReader, nil, true},
		{"team op by staff", staff, "Ops.Team.Design.Foo", nil, nil, true},
		{"team op by non member", bob, "Ops.Team.Design.Foo", nil, nil, false},
		{"team op of other team", alice, "Ops.Team.Sound.Foo", designWriter, nil, false},
		{"admin op by staff", staff, "Ops.Admin.Tools.Reset", nil, nil, true},
		{"admin op by user", alice, "Ops.Admin.Tools.Reset", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := (Engine{}).CanRead(tt.user, tt.op, tt.teams, tt.project); got != tt.want {
				t.Errorf("CanRead() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanWrite(t *testing.T) {
	t.Parallel()

	carol := &User{ID: "u3", Username: "carol"}

	tests := []struct {
		name    string
		engine  Engine
		user    *User
		op      string
		teams   []Membership
		project *Project
		want    bool
	}{
		{"anonymous", Engine{}, nil, "Ops.User.alice.Foo", nil, nil, false},
		{"malformed name", Engine{}, staff, "Ops.Gl..Foo", nil, nil, false},
		{"name with space", Engine{}, editor, "Ops.Gl.Foo Bar", nil, nil, false},
		{"trailing dot", Engine{}, editor, "Ops.Gl.Foo.", nil, nil, false},
		{"always editor bypasses category", Engine{Production: true}, editor, "Ops.Gl.Foo", nil, nil, true},
		{"own user op", Engine{}, alice, "Ops.User.alice.Foo", nil, nil, true},
		{"foreign user op", Engine{}, bob, "Ops.User.alice.Foo", nil, nil, false},
		{"user op by staff", Engine{}, staff, "Ops.User.alice.Foo", nil, nil, true},
		{"extension by user", Engine{}, alice, "Ops.Extension.Noise.Perlin", nil, nil, false},
		{"extension by staff", Engine{}, staff, "Ops.Extension.Noise.Perlin", nil, nil, true},
		{"team writer", Engine{}, alice, "Ops.Team.Design.Foo", designWriter, nil, true},
		{"team reader", Engine{}, alice, "Ops.Team.Design.Foo", designReader, nil, false},
		{"team prefix is not a match", Engine{}, alice, "Ops.Team.DesignLab.Foo", designWriter, nil, false},
		{"team op by staff", Engine{}, staff, "Ops.Team.Design.Foo", nil, nil, true},
		{"patch owner", Engine{}, alice, "Ops.Patch.Pab12.Foo", nil, project, true},
		{"patch collaborator", Engine{}, carol, "Ops.Patch.Pab12.Foo", nil, project, true},
		{"patch read-only collaborator", Engine{}, bob, "Ops.Patch.Pab12.Foo", nil, project, false},
		{"patch without project", Engine{}, alice, "Ops.Patch.Pab12.Foo", nil, nil, false},
		{"patch by staff", Engine{}, staff, "Ops.Patch.Pab12.Foo", nil, nil, true},
		{"core by staff in development", Engine{}, staff, "Ops.Gl.Foo", nil, nil, true},
		{"core by staff in production", Engine{Production: true}, staff, "Ops.Gl.Foo", nil, nil, false},
		{"admin op by staff in development", Engine{}, staff, "Ops.Admin.Foo", nil, nil, true},
		{"core by user", Engine{}, alice, "Ops.Gl.Foo", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.engine.CanWrite(tt.user, tt.op, tt.teams, tt.project); got != tt.want {
				t.Errorf("CanWrite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanCreate(t *testing.T) {
	t.Parallel()

	prod := Engine{Production: true}
	if !prod.CanCreate(admin, "Ops.Gl.New", nil, nil) {
		t.Error("admin should create core ops even in production")
	}
	if !prod.CanCreate(admin, "Ops.Team.Design.New", nil, nil) {
		t.Error("admin should create team ops without membership")
	}
	if prod.CanCreate(admin, "Ops.Gl..New", nil, nil) {
		t.Error("admin must not create malformed names")
	}
	if prod.CanCreate(staff, "Ops.Gl.New", nil, nil) {
		t.Error("staff must not create core ops in production")
	}
	if !prod.CanCreate(alice, "Ops.User.alice.New", nil, nil) {
		t.Error("users create ops in their own namespace")
	}
	if prod.CanCreate(nil, "Ops.User.alice.New", nil, nil) {
		t.Error("anonymous users create nothing")
	}
}

func TestCanDelete(t *testing.T) {
	t.Parallel()

	dev := Engine{}
	if !dev.CanDelete(admin, "Ops.Gl.Foo", nil, nil) {
		t.Error("admin deletes core ops")
	}
	if dev.CanDelete(staff, "Ops.Gl.Foo", nil, nil) {
		t.Error("core ops are never deletable by non-admins")
	}
	if !dev.CanDelete(staff, "Ops.Admin.Foo", nil, nil) {
		t.Error("staff delete admin ops outside production")
	}
	if !dev.CanDelete(alice, "Ops.User.alice.Foo", nil, nil) {
		t.Error("owners delete their own ops")
	}
	if dev.CanDelete(bob, "Ops.User.alice.Foo", nil, nil) {
		t.Error("users must not delete other users' ops")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	got := Engine{}.Check(alice, "Ops.User.alice.Foo", nil, nil)
	want := Rights{Read: true, Write: true, Create: true, Delete: true}
	if got != want {
		t.Errorf("Check() = %+v, want %+v", got, want)
	}

	got = Engine{}.Check(alice, "Ops.Team.Design.Foo", nil, nil)
	if got != (Rights{}) {
		t.Errorf("Check() for non-member = %+v, want no rights", got)
	}
}
