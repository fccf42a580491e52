package models

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {},
	"utm_term": {}, "utm_content": {}, "utm_id": {},
	"fbclid": {}, "gclid": {}, "mc_cid": {}, "mc_eid": {},
	"msclkid": {}, "igshid": {}, "ref_src": {},
}

// NormalizeLink removes tracking parameters, the fragment and trailing slash
// variance so that the same article always yields the same link.
//
//	input:  "HTTPS://Example.com/article/?utm_source=rss&id=7#top"
//	output: "https://example.com/article?id=7"
func NormalizeLink(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	query := u.Query()
	for param := range query {
		if _, ok := trackingParams[strings.ToLower(param)]; ok {
			query.Del(param)
		}
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""
	u.RawFragment = ""

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}

	return u.String(), nil
}

// IdentityKey is NormalizeLink that falls back to the trimmed input.
func IdentityKey(raw string) string {
	key, err := NormalizeLink(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return key
}
