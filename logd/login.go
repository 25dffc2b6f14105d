package logd

import (
	"errors"
	"net/url"
)

var ErrMissingProvider = errors.New("must specify provider")

const loginInitiateWhat = "auth/login/initiate"

type LoginArgs struct {
	Provider string
	Params   map[string]string
	// attach the provider to the current login instead of starting a new one.
	// nil means alias when the session has a token.
	Alias *bool
}

// the redirect result of a fresh login is `{"redirect": url}`.
// An alias login replies with the server result.
func (self *Client) Login(args *LoginArgs, callback ReplyFunction) error {
	if args == nil || args.Provider == "" {
		return ErrMissingProvider
	}
	params := args.Params
	if params == nil {
		params = map[string]string{}
	}

	alias := false
	if args.Alias != nil {
		alias = *args.Alias
	} else {
		alias = self.Session().HasToken()
	}

	if alias {
		self.Send(Message{
			"what":     loginInitiateWhat,
			"provider": args.Provider,
			"params":   params,
		}, callback)
		return nil
	}

	redirect := LoginUrl(self.settings.Secure, self.authority, args.Provider, params)
	if callback != nil {
		self.post(func() {
			HandleError(func() {
				callback(map[string]any{
					"redirect": redirect,
				})
			})
		})
	}
	return nil
}

// http[s]://<authority>/login/initiate/<provider>?<params>
func LoginUrl(secure bool, authority string, provider string, params map[string]string) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     authority,
		Path:     "/login/initiate/" + provider,
		RawQuery: query.Encode(),
	}
	return u.String()
}
