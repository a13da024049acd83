package session

import "github.com/medmarket/tgauth"

type Status int

const (
	// StatusUnknown is the state before storage has been read.
	StatusUnknown Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is a snapshot handed to readers and subscribers. Refreshing never
// changes IsAuthenticated.
type State struct {
	Status          Status
	IsAuthenticated bool
	IsLoading       bool
	Refreshing      bool
	UserProfile     *tgauth.UserProfile
	LastError       error
}

func (s State) clone() State {
	if s.UserProfile != nil {
		p := *s.UserProfile
		s.UserProfile = &p
	}
	return s
}

// LoginOutcome is delivered once by LoginAsync. Exactly one of Profile, Err
// or Cancelled is set.
type LoginOutcome struct {
	Profile   *tgauth.UserProfile
	Err       error
	Cancelled bool
}
