// Package session holds the visitor's access state: anonymous, or signed in
// under one of three operator roles. The state is a closed sum type so a
// role can never exist without authentication or vice versa.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInvalidRole          = errors.New("invalid role")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNotAuthenticated     = errors.New("not authenticated")
)

// DefaultView is the shell screen selected on every login.
const DefaultView = "live"

type Role string

const (
	RoleNone     Role = ""
	RoleAdmin    Role = "admin"
	RoleOfficer  Role = "officer"
	RoleSecurity Role = "security"
)

// LoginRoles lists the roles a visitor may pick on the login screen, in
// display order.
var LoginRoles = []Role{RoleAdmin, RoleOfficer, RoleSecurity}

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleOfficer, RoleSecurity:
		return r, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// DisplayName is the fixed operator name shown for a role.
func (r Role) DisplayName() string {
	switch r {
	case RoleAdmin:
		return "Admin User"
	case RoleOfficer:
		return "Officer Smith"
	case RoleSecurity:
		return "Chief Martinez"
	default:
		return ""
	}
}

func (r Role) String() string { return string(r) }

// State is either Anonymous or Authenticated.
type State interface {
	isState()
}

type Anonymous struct{}

type Authenticated struct {
	Role        Role
	View        string
	DisplayName string
}

func (Anonymous) isState()     {}
func (Authenticated) isState() {}

// Login grants access for role. No credential is checked: the role choice
// is the whole gate.
func (Anonymous) Login(role Role) (Authenticated, error) {
	switch role {
	case RoleAdmin, RoleOfficer, RoleSecurity:
	default:
		return Authenticated{}, fmt.Errorf("%w: %q", ErrInvalidRole, string(role))
	}
	return Authenticated{Role: role, View: DefaultView, DisplayName: role.DisplayName()}, nil
}

func (Authenticated) Logout() Anonymous { return Anonymous{} }

// Navigate selects view without checking that a screen exists for it.
func (a Authenticated) Navigate(view string) Authenticated {
	a.View = view
	return a
}

// Snapshot is the flattened view of a State.
type Snapshot struct {
	Role            Role   `json:"role"`
	IsAuthenticated bool   `json:"is_authenticated"`
	DisplayName     string `json:"display_name"`
	ActiveView      string `json:"active_view"`
}

func SnapshotOf(s State) Snapshot {
	if a, ok := s.(Authenticated); ok {
		return Snapshot{Role: a.Role, IsAuthenticated: true, DisplayName: a.DisplayName, ActiveView: a.View}
	}
	return Snapshot{ActiveView: DefaultView}
}

// Controller owns one visitor's State. Calls made in the wrong state return
// an error and leave the state as it was.
type Controller struct {
	mu    sync.Mutex
	state State
}

func NewController() *Controller {
	return &Controller{state: Anonymous{}}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

// currentLocked treats the zero Controller as Anonymous.
func (c *Controller) currentLocked() State {
	if c.state == nil {
		return Anonymous{}
	}
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	return SnapshotOf(c.State())
}

func (c *Controller) Login(role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	anon, ok := c.currentLocked().(Anonymous)
	if !ok {
		return ErrAlreadyAuthenticated
	}
	next, err := anon.Login(role)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

func (c *Controller) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	auth, ok := c.currentLocked().(Authenticated)
	if !ok {
		return ErrNotAuthenticated
	}
	c.state = auth.Logout()
	return nil
}

func (c *Controller) Navigate(view string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	auth, ok := c.currentLocked().(Authenticated)
	if !ok {
		return ErrNotAuthenticated
	}
	c.state = auth.Navigate(view)
	return nil
}

// ShellProps is everything the authenticated dashboard receives. Logout and
// Navigate are the only ways the dashboard may change session state.
type ShellProps struct {
	Role        Role
	ActiveView  string
	DisplayName string
	Logout      func() error
	Navigate    func(view string) error
}

// ShellProps returns the dashboard props, or false while anonymous.
func (c *Controller) ShellProps() (ShellProps, bool) {
	auth, ok := c.State().(Authenticated)
	if !ok {
		return ShellProps{}, false
	}
	return ShellProps{
		Role:        auth.Role,
		ActiveView:  auth.View,
		DisplayName: auth.DisplayName,
		Logout:      c.Logout,
		Navigate:    c.Navigate,
	}, true
}
