package transmitter

import (
	"net/url"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"
)

// Acceptor reports whether the HTTP client would accept a value as-is.
type Acceptor func(string) bool

// Chop repairs a value the client rejects. It strips the first character
// until the rest is accepted; failing that it restarts from the original and
// strips the last character. The second result is false when neither
// direction converged and the empty placeholder is returned.
func Chop(value string, accept Acceptor) (string, bool) {
	if accept(value) {
		return value, true
	}

	for v := value; v != ""; {
		_, n := utf8.DecodeRuneInString(v)
		v = v[n:]
		if v != "" && accept(v) {
			return v, true
		}
	}

	for v := value; v != ""; {
		_, n := utf8.DecodeLastRuneInString(v)
		v = v[:len(v)-n]
		if v != "" && accept(v) {
			return v, true
		}
	}

	return "", false
}

// AcceptURLPart accepts values that keep a request URL parseable.
func AcceptURLPart(v string) bool {
	_, err := url.Parse("/" + v)
	return err == nil
}

// AcceptHeaderValue accepts values the transport will write in a header.
func AcceptHeaderValue(v string) bool {
	return httpguts.ValidHeaderFieldValue(v)
}
