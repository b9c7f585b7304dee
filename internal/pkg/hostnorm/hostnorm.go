// Package hostnorm implements the one host/URL normalization algorithm
// that must behave identically wherever a host or canonical URL is
// derived: the ingest path (pre-persist normalization in application code)
// and the river query (grouping "subs" by normalized host). Keeping both
// call sites on this package is what makes that guarantee possible.
package hostnorm

import (
	"net/url"
	"sort"
	"strings"
)

// stripPrefixes are host labels that don't change editorial identity —
// folding them means "www.grist.org" and "grist.org" count as one outlet.
var stripPrefixes = []string{"www.", "m.", "amp.", "edition.", "news.", "beta."}

// trackingParamPrefixes are query-string keys stripped before a URL is
// treated as canonical. Prefix match covers the utm_* family in one rule.
var trackingParamPrefixes = []string{"utm_", "fbclid", "gclid", "mc_cid", "mc_eid", "ref", "ref_src", "ref_url", "igshid", "icid", "cmpid"}

// AggregatorHosts lists hosts whose articles are excluded outright: they
// re-syndicate rather than originate stories (spec §4.1, §4.7).
var AggregatorHosts = map[string]bool{
	"news.google.com": true,
	"news.yahoo.com":  true,
	"msn.com":         true,
}

// Host lowercases a hostname and strips the aggregator-agnostic prefixes
// (www., m., amp., edition., news., beta.) that don't denote a distinct
// outlet.
func Host(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, p := range stripPrefixes {
		if strings.HasPrefix(host, p) {
			host = strings.TrimPrefix(host, p)
			break
		}
	}
	return host
}

// CanonicalURL normalizes a raw article URL into its canonical form:
// lowercased scheme/host, stripped prefix labels, tracking params removed,
// fragment dropped, trailing slash on the path removed.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = Host(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		for _, p := range trackingParamPrefixes {
			if strings.HasPrefix(lower, p) {
				q.Del(key)
				break
			}
		}
	}
	u.RawQuery = encodeSortedQuery(q)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// encodeSortedQuery re-encodes a url.Values map with keys in sorted order,
// so semantically identical query strings always serialize identically.
func encodeSortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		for j, v := range q[k] {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// aggregatorCheckPrefixes mirrors stripPrefixes minus "news.": www./m./amp./
// edition./beta. never change editorial identity, but "news." does here —
// news.google.com and news.yahoo.com are the aggregators; google.com and
// yahoo.com are not.
var aggregatorCheckPrefixes = []string{"www.", "m.", "amp.", "edition.", "beta."}

// IsAggregatorHost reports whether host is on the aggregator blocklist.
// It folds only the identity-preserving prefixes before comparing, leaving
// "news." intact so the blocklist's news.google.com/news.yahoo.com entries
// can still match.
func IsAggregatorHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, p := range aggregatorCheckPrefixes {
		if strings.HasPrefix(host, p) {
			host = strings.TrimPrefix(host, p)
			break
		}
	}
	return AggregatorHosts[host]
}
