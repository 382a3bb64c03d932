package api

import (
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-querystring/query"
)

// EncodeQuery renders params with keys sorted and spaces encoded as %20.
// The service rejects folder names whose spaces are encoded as '+', so
// url.Values.Encode cannot be used directly.
func EncodeQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range params[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(escape(k))
			b.WriteByte('=')
			b.WriteString(escape(v))
		}
	}
	return b.String()
}

// escape is QueryEscape with '+' for spaces replaced by %20. A literal
// plus is already %2B at this point, so the replacement is safe.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ListOptions are the query parameters of a list call.
type ListOptions struct {
	Folder   string `url:"folder,omitempty"`
	Snippet  string `url:"snippet,omitempty"`
	Position string `url:"position,omitempty"`
	Name     string `url:"name,omitempty"`
	Limit    int    `url:"limit,omitempty"`
	Offset   int    `url:"offset"`
}

// Values converts the options into query parameters.
func (o ListOptions) Values() url.Values {
	v, err := query.Values(o)
	if err != nil {
		// query.Values only fails for non-struct input.
		return url.Values{}
	}
	return v
}
