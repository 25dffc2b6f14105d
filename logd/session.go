package logd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/exp/maps"
)

// the session is sent as the handshake of every connection.
// Fields the server adds on `connected` are kept in `Extra` and sent back as is.
type Session struct {
	Identity string
	Token    string
	// identity being impersonated, for sudo sessions
	Sudo  string
	Since CausalPosition

	Extra map[string]json.RawMessage
}

const (
	sessionKeyIdentity = "identity"
	sessionKeyToken    = "token"
	sessionKeySudo     = "sudo"
	sessionKeySince    = "since"
)

func (self *Session) Clone() *Session {
	if self == nil {
		return &Session{}
	}
	session := *self
	if self.Since != nil {
		session.Since = self.Since.Clone()
	}
	if self.Extra != nil {
		session.Extra = maps.Clone(self.Extra)
	}
	return &session
}

// only the credential fields
func (self *Session) Credentials() *Session {
	return &Session{
		Identity: self.Identity,
		Token:    self.Token,
	}
}

func (self *Session) HasToken() bool {
	return self != nil && self.Token != ""
}

func (self Session) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	for k, v := range self.Extra {
		fields[k] = v
	}
	if self.Identity != "" {
		fields[sessionKeyIdentity] = self.Identity
	}
	if self.Token != "" {
		fields[sessionKeyToken] = self.Token
	}
	if self.Sudo != "" {
		fields[sessionKeySudo] = self.Sudo
	}
	if self.Since != nil {
		fields[sessionKeySince] = self.Since
	}
	return json.Marshal(fields)
}

func (self *Session) UnmarshalJSON(src []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(src, &fields); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	session := Session{}
	if err := session.patch(fields); err != nil {
		return err
	}
	*self = session
	return nil
}

// overlays the fields of `patch` onto the session
func (self *Session) Patch(patch json.RawMessage) error {
	if len(patch) == 0 || string(patch) == "null" {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("session patch: %w", err)
	}
	// apply to a copy so that a bad field leaves the session unchanged
	session := self.Clone()
	if err := session.patch(fields); err != nil {
		return err
	}
	*self = *session
	return nil
}

func (self *Session) patch(fields map[string]json.RawMessage) error {
	unmarshalString := func(key string, raw json.RawMessage) (string, error) {
		var value *string
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", fmt.Errorf("session %s: %w", key, err)
		}
		if value == nil {
			return "", nil
		}
		return *value, nil
	}

	var err error
	for key, raw := range fields {
		switch key {
		case sessionKeyIdentity:
			if self.Identity, err = unmarshalString(key, raw); err != nil {
				return err
			}
		case sessionKeyToken:
			if self.Token, err = unmarshalString(key, raw); err != nil {
				return err
			}
		case sessionKeySudo:
			if self.Sudo, err = unmarshalString(key, raw); err != nil {
				return err
			}
		case sessionKeySince:
			var since CausalPosition
			if err := json.Unmarshal(raw, &since); err != nil {
				return fmt.Errorf("session since: %w", err)
			}
			self.Since = since
		default:
			if self.Extra == nil {
				self.Extra = map[string]json.RawMessage{}
			}
			self.Extra[key] = raw
		}
	}
	return nil
}

// the login redirect carries the new session as base64 json in the `logd` fragment parameter
const fragmentSessionKey = "logd"

// returns nil if the fragment has no session
func ParseFragmentSession(fragment string) (*Session, error) {
	fragment = strings.TrimPrefix(fragment, "#")
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	// query decoding turns the base64 `+` into a space
	encoded := strings.ReplaceAll(values.Get(fragmentSessionKey), " ", "+")
	if encoded == "" {
		return nil, nil
	}
	sessionJson, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// tolerate unpadded or url safe encodings
		sessionJson, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("fragment session: %w", err)
		}
	}
	session := &Session{}
	if err := json.Unmarshal(sessionJson, session); err != nil {
		return nil, err
	}
	return session, nil
}
