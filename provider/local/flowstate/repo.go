package flowstate

import (
	"time"

	"github.com/jrsteele09/primehr-session/provider"
)

// AuthFlowState is what the backend remembers between the OAuth redirect and the callback.
type AuthFlowState struct {
	Provider     provider.OAuthProvider
	CodeVerifier string
	Nonce        string
	RedirectTo   string
	CreatedAt    time.Time
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Get(state string) (*AuthFlowState, error)
	Delete(state string) error
	DeleteExpired(before time.Time) int
}
