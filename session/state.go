package session

import (
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
)

// State is a snapshot of the manager. User is derived from Session and Profile
// is only ever set while Session is.
type State struct {
	Session   *provider.Session `json:"session"`
	User      *provider.User    `json:"user"`
	Profile   *profiles.Profile `json:"profile"`
	IsLoading bool              `json:"is_loading"`
	Version   uint64            `json:"version"`
}

// SignedIn reports whether the snapshot carries a session.
func (s State) SignedIn() bool {
	return s.Session != nil
}

func (s State) clone() State {
	out := State{IsLoading: s.IsLoading, Version: s.Version}
	if s.Session != nil {
		sess := *s.Session
		sess.User.Metadata = copyMetadata(s.Session.User.Metadata)
		out.Session = &sess
		user := sess.User
		out.User = &user
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	return out
}

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
