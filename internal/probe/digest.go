package probe

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// BasicAuthorization returns an Authorization header value for basic auth.
func BasicAuthorization(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// DigestAuthorization answers a Digest challenge for the given method and URI.
// Only MD5 with an optional auth qop is implemented, which is what IP cameras
// actually ship.
func DigestAuthorization(method, uri, username, password, challenge string) (string, error) {
	scheme, params := parseAuthChallenge(challenge)
	if !strings.EqualFold(scheme, "Digest") {
		return "", fmt.Errorf("unsupported auth scheme %q", scheme)
	}
	nonce := params["nonce"]
	if nonce == "" {
		return "", errors.New("digest challenge without nonce")
	}
	if alg := params["algorithm"]; alg != "" && !strings.EqualFold(alg, "MD5") {
		return "", fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	realm := params["realm"]

	ha1 := md5hex(username + ":" + realm + ":" + password)
	ha2 := md5hex(method + ":" + uri)

	qop := ""
	for _, q := range strings.Split(params["qop"], ",") {
		if strings.TrimSpace(q) == "auth" {
			qop = "auth"
			break
		}
	}

	var b strings.Builder
	if qop == "auth" {
		cnonce := randomCnonce()
		response := digestResponse(ha1, nonce, "00000001", cnonce, qop, ha2)
		fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, qop=auth, nc=00000001, cnonce=%q, response=%q`,
			username, realm, nonce, uri, cnonce, response)
	} else {
		response := digestResponse(ha1, nonce, "", "", "", ha2)
		fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
			username, realm, nonce, uri, response)
	}
	if opaque := params["opaque"]; opaque != "" {
		fmt.Fprintf(&b, `, opaque=%q`, opaque)
	}
	b.WriteString(`, algorithm=MD5`)
	return b.String(), nil
}

func digestResponse(ha1, nonce, nc, cnonce, qop, ha2 string) string {
	if qop == "" {
		return md5hex(ha1 + ":" + nonce + ":" + ha2)
	}
	return md5hex(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomCnonce() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// parseAuthChallenge splits a WWW-Authenticate value into its scheme and
// parameter map. Quoted values may contain commas, so this walks the string
// instead of splitting on them.
func parseAuthChallenge(h string) (string, map[string]string) {
	h = strings.TrimSpace(h)
	sp := strings.IndexAny(h, " \t")
	if sp < 0 {
		return h, nil
	}
	scheme := h[:sp]
	rest := h[sp+1:]

	params := make(map[string]string)
	for rest != "" {
		rest = strings.TrimLeft(rest, ", \t")
		eq := strings.Index(rest, "=")
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(rest[:eq]))
		rest = rest[eq+1:]

		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				val, rest = rest[1:], ""
			} else {
				val, rest = rest[1:1+end], rest[end+2:]
			}
		} else if end := strings.IndexAny(rest, ", \t"); end < 0 {
			val, rest = rest, ""
		} else {
			val, rest = rest[:end], rest[end:]
		}
		if key != "" {
			params[key] = val
		}
	}
	return scheme, params
}
