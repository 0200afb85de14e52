package headers

import (
	"net/url"
	"strings"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
)

// QueryMode selects how a path fragment's query parameters combine with the
// base URL's existing query when composing a request URL.
type QueryMode int

const (
	QueryNone QueryMode = iota
	QuerySet
	QueryAppend
)

// HashMode selects whether a fragment's hash is dropped or inherited from
// the base URL when the fragment itself carries none.
type HashMode int

const (
	HashNone HashMode = iota
	HashInherit
)

// URL is the immutable, resolved address of an endpoint (spec §3 "URL
// components").
type URL struct {
	Origin string
	Path   string
	Query  url.Values
	Hash   string
}

// String renders the URL, origin + path + "?" query + "#" hash.
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.Origin)
	b.WriteString(u.Path)
	if len(u.Query) > 0 {
		b.WriteByte('?')
		b.WriteString(u.Query.Encode())
	}
	if u.Hash != "" {
		b.WriteByte('#')
		b.WriteString(u.Hash)
	}
	return b.String()
}

func cloneQuery(q url.Values) url.Values {
	if q == nil {
		return nil
	}
	out := make(url.Values, len(q))
	for k, v := range q {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Fragment is a path-relative (or absolute) URL update to layer onto a base
// URL during config composition (spec §4.D "Path composition").
type Fragment struct {
	// Absolute, when true, means Origin/Path/Query/Hash replace the base
	// wholesale; when false, Path is appended as a segment to the base.
	Absolute  bool
	Origin    string
	Path      string
	Query     url.Values
	QueryMode QueryMode
	Hash      string
	HashMode  HashMode
}

// joinPath appends a path fragment to a base path, normalizing the single
// separating slash.
func joinPath(base, frag string) string {
	if frag == "" {
		return base
	}
	b := strings.TrimSuffix(base, "/")
	f := strings.TrimPrefix(frag, "/")
	if f == "" {
		return b
	}
	return b + "/" + f
}

// Compose layers a fragment onto a base URL (which may be nil) per the
// inheritance rules in spec §4.D. It returns a ConfigureError with message
// "target path must have a base URL" if frag is relative and base is nil.
func Compose(base *URL, frag Fragment) (*URL, error) {
	if frag.Absolute {
		return &URL{
			Origin: frag.Origin,
			Path:   frag.Path,
			Query:  cloneQuery(frag.Query),
			Hash:   frag.Hash,
		}, nil
	}

	if base == nil {
		return nil, apierrors.Wrap(apierrors.Configure, "target path must have a base URL", nil)
	}

	out := &URL{
		Origin: base.Origin,
		Path:   joinPath(base.Path, frag.Path),
	}

	switch frag.QueryMode {
	case QuerySet:
		out.Query = cloneQuery(frag.Query)
	case QueryAppend:
		merged := cloneQuery(base.Query)
		if merged == nil {
			merged = make(url.Values)
		}
		for k, vs := range frag.Query {
			merged[k] = append(merged[k], vs...)
		}
		out.Query = merged
	default: // QueryNone
		out.Query = cloneQuery(base.Query)
	}

	switch frag.HashMode {
	case HashInherit:
		if frag.Hash != "" {
			out.Hash = frag.Hash
		} else {
			out.Hash = base.Hash
		}
	default:
		out.Hash = frag.Hash
	}

	return out, nil
}
