package session

import "strings"

const (
	PathRoot = "/"
	PathApp  = "/app"
)

type ScreenKind int

const (
	ScreenLanding ScreenKind = iota
	ScreenLogin
	ScreenShell
	ScreenRedirect
)

func (k ScreenKind) String() string {
	switch k {
	case ScreenLanding:
		return "landing"
	case ScreenLogin:
		return "login"
	case ScreenShell:
		return "shell"
	case ScreenRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

type Screen struct {
	Kind   ScreenKind
	Target string // set for ScreenRedirect
}

// Resolve picks the top-level screen for path. It depends only on its
// arguments.
func Resolve(path string, s State) Screen {
	p := path
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	switch p {
	case PathRoot:
		return Screen{Kind: ScreenLanding}
	case PathApp:
		if _, ok := s.(Authenticated); ok {
			return Screen{Kind: ScreenShell}
		}
		return Screen{Kind: ScreenLogin}
	default:
		return Screen{Kind: ScreenRedirect, Target: PathRoot}
	}
}
