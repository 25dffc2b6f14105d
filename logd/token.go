package logd

import (
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
)

// claims carried by a session token, when the token is a jwt.
// The client never verifies the token, the server does.
type TokenClaims struct {
	Identity string
	Subject  string
	Domain   string
}

func ParseTokenUnverified(token string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	tokenClaims := &TokenClaims{}

	if identity, ok := claims["identity"].(string); ok {
		tokenClaims.Identity = identity
	}
	if subject, err := claims.GetSubject(); err == nil {
		tokenClaims.Subject = subject
	}
	if domain, ok := claims["domain"].(string); ok {
		tokenClaims.Domain = domain
	}

	return tokenClaims, nil
}

// the identity claim, falling back to the subject
func (self *TokenClaims) IdentityOrSubject() string {
	if self.Identity != "" {
		return self.Identity
	}
	return self.Subject
}

// fills in a missing session identity from the token, if the token is a jwt
func identityFromToken(session *Session) {
	if session.Identity != "" || session.Token == "" {
		return
	}
	claims, err := ParseTokenUnverified(session.Token)
	if err != nil {
		// opaque token
		return
	}
	session.Identity = claims.IdentityOrSubject()
}

// false if the token is a jwt issued for another domain. Opaque tokens and
// tokens without a domain claim match any domain.
func tokenMatchesDomain(token string, domain string) bool {
	claims, err := ParseTokenUnverified(token)
	if err != nil || claims.Domain == "" {
		return true
	}
	if claims.Domain != domain {
		glog.Warningf("[c]token was issued for domain %s, not %s\n", claims.Domain, domain)
		return false
	}
	return true
}
