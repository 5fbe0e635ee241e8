package oauth

import (
	"net/url"
	"strings"
)

// OutcomeKind is the terminal state of parsing a callback URL.
type OutcomeKind int

const (
	// NoCredential means neither a credential nor an error was present,
	// typically because the user dismissed the consent screen.
	NoCredential OutcomeKind = iota
	Success
	Error
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "Success"
	case Error:
		return "Error"
	case NoCredential:
		return "NoCredential"
	default:
		return "Unknown"
	}
}

// Outcome is the result of parsing a callback. Message is nil for
// NoCredential and an AuthError for Error.
type Outcome struct {
	Kind     OutcomeKind
	Provider Provider
	Message  Message
}

// ParseCallback reads provider credentials from a callback URL.
// Google and Facebook return tokens in the fragment (and authorization codes
// in the query); Telegram returns a flat claim set in the query.
func ParseCallback(p Provider, u *url.URL) Outcome {
	out := Outcome{Kind: NoCredential, Provider: p}
	if u == nil {
		return out
	}

	if p == Telegram {
		return parseTelegram(u)
	}

	fragment, _ := url.ParseQuery(strings.TrimPrefix(u.EscapedFragment(), "#"))
	query := u.Query()
	get := func(key string) string {
		if v := fragment.Get(key); v != "" {
			return v
		}
		return query.Get(key)
	}

	accessToken := get("access_token")
	idToken := get("id_token")
	code := query.Get("code")
	if code == "" {
		code = fragment.Get("code")
	}

	switch {
	case accessToken != "" || idToken != "" || code != "":
		out.Kind = Success
		if p == Google {
			m := GoogleAuth{AccessToken: accessToken, Code: code}
			if accessToken == "" {
				m.IDToken = idToken
			}
			out.Message = m
		} else {
			m := FacebookAuth{AccessToken: accessToken, Code: code}
			if accessToken == "" {
				m.IDToken = idToken
			}
			out.Message = m
		}
	case get("error") != "":
		out.Kind = Error
		out.Message = AuthError{From: p, Code: get("error"), Description: get("error_description")}
	}
	return out
}

func parseTelegram(u *url.URL) Outcome {
	out := Outcome{Kind: NoCredential, Provider: Telegram}
	query := u.Query()

	if query.Get("hash") != "" && query.Get("id") != "" {
		claims := make(map[string]string, len(query))
		for key, values := range query {
			if len(values) > 0 {
				claims[key] = values[0]
			}
		}
		out.Kind = Success
		out.Message = TelegramAuth{Claims: claims}
		return out
	}

	if errCode := query.Get("error"); errCode != "" {
		out.Kind = Error
		out.Message = AuthError{From: Telegram, Code: errCode, Description: query.Get("error_description")}
	}
	return out
}
