package humphrey

import (
	"sort"
	"strings"
)

// HeaderName is the name of an HTTP header. It is either one of the
// well-known names below or a free-form custom name, which is always
// canonicalised to lower case when it comes from the wire.
type HeaderName string

// Well-known HTTP header names.
const (
	HeaderAccept                     HeaderName = "Accept"
	HeaderAcceptCharset              HeaderName = "Accept-Charset"
	HeaderAcceptEncoding             HeaderName = "Accept-Encoding"
	HeaderAcceptLanguage             HeaderName = "Accept-Language"
	HeaderAccessControlAllowOrigin   HeaderName = "Access-Control-Allow-Origin"
	HeaderAccessControlRequestMethod HeaderName = "Access-Control-Request-Method"
	HeaderAge                        HeaderName = "Age"
	HeaderAllow                      HeaderName = "Allow"
	HeaderAuthorization              HeaderName = "Authorization"
	HeaderCacheControl               HeaderName = "Cache-Control"
	HeaderConnection                 HeaderName = "Connection"
	HeaderContentDisposition         HeaderName = "Content-Disposition"
	HeaderContentEncoding            HeaderName = "Content-Encoding"
	HeaderContentLanguage            HeaderName = "Content-Language"
	HeaderContentLength              HeaderName = "Content-Length"
	HeaderContentLocation            HeaderName = "Content-Location"
	HeaderContentType                HeaderName = "Content-Type"
	HeaderCookie                     HeaderName = "Cookie"
	HeaderDate                       HeaderName = "Date"
	HeaderETag                       HeaderName = "ETag"
	HeaderExpect                     HeaderName = "Expect"
	HeaderExpires                    HeaderName = "Expires"
	HeaderForwarded                  HeaderName = "Forwarded"
	HeaderFrom                       HeaderName = "From"
	HeaderHost                       HeaderName = "Host"
	HeaderLastModified               HeaderName = "Last-Modified"
	HeaderLink                       HeaderName = "Link"
	HeaderLocation                   HeaderName = "Location"
	HeaderOrigin                     HeaderName = "Origin"
	HeaderPragma                     HeaderName = "Pragma"
	HeaderReferer                    HeaderName = "Referer"
	HeaderServer                     HeaderName = "Server"
	HeaderSetCookie                  HeaderName = "Set-Cookie"
	HeaderTransferEncoding           HeaderName = "Transfer-Encoding"
	HeaderUpgrade                    HeaderName = "Upgrade"
	HeaderUserAgent                  HeaderName = "User-Agent"
	HeaderVia                        HeaderName = "Via"
	HeaderWarning                    HeaderName = "Warning"
)

// headerCategory is a category of headers as defined in RFC 2616 §4.2, used
// for ordering headers in serialised messages.
type headerCategory int

const (
	categoryGeneral headerCategory = iota
	categoryResponse
	categoryEntity
	categoryOther
)

// wellKnownHeaders maps the lower-case form of every well-known header name
// to its canonical form and serialisation category.
var wellKnownHeaders = map[string]struct {
	name     HeaderName
	category headerCategory
}{
	"accept":                        {HeaderAccept, categoryEntity},
	"accept-charset":                {HeaderAcceptCharset, categoryEntity},
	"accept-encoding":               {HeaderAcceptEncoding, categoryEntity},
	"accept-language":               {HeaderAcceptLanguage, categoryEntity},
	"access-control-allow-origin":   {HeaderAccessControlAllowOrigin, categoryOther},
	"access-control-request-method": {HeaderAccessControlRequestMethod, categoryOther},
	"age":                           {HeaderAge, categoryResponse},
	"allow":                         {HeaderAllow, categoryEntity},
	"authorization":                 {HeaderAuthorization, categoryGeneral},
	"cache-control":                 {HeaderCacheControl, categoryGeneral},
	"connection":                    {HeaderConnection, categoryGeneral},
	"content-disposition":           {HeaderContentDisposition, categoryEntity},
	"content-encoding":              {HeaderContentEncoding, categoryEntity},
	"content-language":              {HeaderContentLanguage, categoryEntity},
	"content-length":                {HeaderContentLength, categoryEntity},
	"content-location":              {HeaderContentLocation, categoryEntity},
	"content-type":                  {HeaderContentType, categoryEntity},
	"cookie":                        {HeaderCookie, categoryGeneral},
	"date":                          {HeaderDate, categoryGeneral},
	"etag":                          {HeaderETag, categoryResponse},
	"expect":                        {HeaderExpect, categoryEntity},
	"expires":                       {HeaderExpires, categoryEntity},
	"forwarded":                     {HeaderForwarded, categoryResponse},
	"from":                          {HeaderFrom, categoryResponse},
	"host":                          {HeaderHost, categoryGeneral},
	"last-modified":                 {HeaderLastModified, categoryEntity},
	"link":                          {HeaderLink, categoryOther},
	"location":                      {HeaderLocation, categoryResponse},
	"origin":                        {HeaderOrigin, categoryGeneral},
	"pragma":                        {HeaderPragma, categoryGeneral},
	"referer":                       {HeaderReferer, categoryGeneral},
	"server":                        {HeaderServer, categoryResponse},
	"set-cookie":                    {HeaderSetCookie, categoryOther},
	"transfer-encoding":             {HeaderTransferEncoding, categoryEntity},
	"upgrade":                       {HeaderUpgrade, categoryGeneral},
	"user-agent":                    {HeaderUserAgent, categoryGeneral},
	"via":                           {HeaderVia, categoryGeneral},
	"warning":                       {HeaderWarning, categoryGeneral},
}

// CanonicalHeaderName returns the canonical `HeaderName` for the s. Names
// that are not well-known are lowered and treated as custom names.
func CanonicalHeaderName(s string) HeaderName {
	lower := strings.ToLower(s)
	if wk, ok := wellKnownHeaders[lower]; ok {
		return wk.name
	}

	return HeaderName(lower)
}

// category returns the RFC 2616 §4.2 category of the n. Custom names always
// fall into the trailing category.
func (n HeaderName) category() headerCategory {
	if wk, ok := wellKnownHeaders[strings.ToLower(string(n))]; ok {
		return wk.category
	}

	return categoryOther
}

// equal reports whether the n names the same header as the o, ignoring case.
func (n HeaderName) equal(o HeaderName) bool {
	return strings.EqualFold(string(n), string(o))
}

// Header is a single HTTP header.
type Header struct {
	Name  HeaderName
	Value string
}

// Headers is an ordered sequence of HTTP headers. Duplicate names are
// preserved, lookups are case-insensitive and serialisation follows the
// RFC 2616 §4.2 category order with alphabetical order inside a category.
type Headers struct {
	entries []Header
}

// NewHeaders returns a new instance of the `Headers` with the hs.
func NewHeaders(hs ...Header) Headers {
	return Headers{entries: hs}
}

// Len returns the number of headers in the hs.
func (hs *Headers) Len() int {
	return len(hs.entries)
}

// Add appends a header with the name and the value to the hs.
func (hs *Headers) Add(name HeaderName, value string) {
	hs.entries = append(hs.entries, Header{Name: name, Value: value})
}

// Set replaces every header named name in the hs with a single header
// carrying the value, appending it if none is present.
func (hs *Headers) Set(name HeaderName, value string) {
	hs.Remove(name)
	hs.Add(name, value)
}

// Get returns the value of the first header named name in the hs and
// whether such a header is present.
func (hs *Headers) Get(name HeaderName) (string, bool) {
	for _, h := range hs.entries {
		if h.Name.equal(name) {
			return h.Value, true
		}
	}

	return "", false
}

// GetAll returns the values of every header named name in the hs in
// insertion order.
func (hs *Headers) GetAll(name HeaderName) []string {
	var vs []string
	for _, h := range hs.entries {
		if h.Name.equal(name) {
			vs = append(vs, h.Value)
		}
	}

	return vs
}

// Contains reports whether the hs has at least one header named name.
func (hs *Headers) Contains(name HeaderName) bool {
	_, ok := hs.Get(name)
	return ok
}

// Remove removes every header named name from the hs.
func (hs *Headers) Remove(name HeaderName) {
	kept := hs.entries[:0]
	for _, h := range hs.entries {
		if !h.Name.equal(name) {
			kept = append(kept, h)
		}
	}

	hs.entries = kept
}

// Entries returns the headers of the hs in insertion order. The returned
// slice is shared with the hs and must not be modified.
func (hs *Headers) Entries() []Header {
	return hs.entries
}

// Sorted returns the headers of the hs in serialisation order: grouped by
// the RFC 2616 §4.2 category, alphabetical inside each group. The sort is
// stable, so duplicates keep their relative order.
func (hs *Headers) Sorted() []Header {
	sorted := make([]Header, len(hs.entries))
	copy(sorted, hs.entries)

	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Name.category(), sorted[j].Name.category()
		if ci != cj {
			return ci < cj
		}

		return sorted[i].Name < sorted[j].Name
	})

	return sorted
}
