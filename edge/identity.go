package edge

import (
	"bytes"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var bearerPrefix = []byte("bearer ")

// tokenClaims are the claims the backend puts into the access tokens it
// issues.  They are only ever read here (for logging), verification is up to
// the backend.
type tokenClaims struct {
	jwt.RegisteredClaims

	Username  string `json:"username"`
	SuperUser bool   `json:"super_user"`
}

type identity struct {
	subject   string
	username  string
	superUser bool
}

func identityFromAuthorization(header []byte) (*identity, bool) {
	if len(header) <= len(bearerPrefix) || !bytes.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, false
	}

	token := string(bytes.TrimSpace(header[len(bearerPrefix):]))
	if token == "" {
		return nil, false
	}

	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return &identity{}, true // opaque bearer token
	}

	return &identity{
		subject:   claims.Subject,
		username:  claims.Username,
		superUser: claims.SuperUser,
	}, true
}

func (i *identity) fields() []zap.Field {
	if i == nil {
		return nil
	}

	return []zap.Field{
		zap.Bool("bearer", true),
		zap.String("user_subject", i.subject),
		zap.String("user_name", i.username),
		zap.Bool("user_super", i.superUser),
	}
}
