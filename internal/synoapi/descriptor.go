// Package synoapi implements the transport layer for the DSM web API: operation
// descriptors, per-family parameter encoding, envelope normalization and
// authentication.
package synoapi

import (
	"encoding/json"
	"io"
	"strings"
)

// Verb selects how a Descriptor is submitted.
type Verb int

const (
	// VerbQuery sends every parameter in the query string of a GET.
	// Read, listing and status operations use it.
	VerbQuery Verb = iota
	// VerbForm sends parameters as an url-encoded POST body. Mutating and
	// creation operations use it.
	VerbForm
	// VerbMultipart sends a multipart POST carrying a file, with api,
	// version, method and the session parameter in the query string.
	VerbMultipart
)

func (v Verb) String() string {
	switch v {
	case VerbQuery:
		return "query"
	case VerbForm:
		return "form"
	case VerbMultipart:
		return "multipart"
	default:
		return "unknown"
	}
}

// Params maps parameter names to already-encoded values.
type Params map[string]string

// Upload is the file part of a multipart Descriptor.
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Body        io.Reader
}

// Descriptor is one backend call.
type Descriptor struct {
	API     string
	Version int
	Method  string
	Verb    Verb
	// CGI is the script under /webapi/ that serves the API. Empty means
	// entry.cgi.
	CGI    string
	Params Params
	Upload *Upload
}

// Op returns "<api>.<method>", used in logs and error messages.
func (d Descriptor) Op() string {
	return d.API + "." + d.Method
}

// WithVersion returns a copy of d targeting another version of the same API.
func (d Descriptor) WithVersion(version int) Descriptor {
	d.Version = version
	return d
}

// Encoding is how an API family encodes identifier-like parameter values.
type Encoding int

const (
	// EncodePlain sends values verbatim.
	EncodePlain Encoding = iota
	// EncodeJSONArray wraps values in a JSON array, even a single one.
	EncodeJSONArray
	// EncodeQuoted sends each value as a JSON string literal.
	EncodeQuoted
)

// Family is a named group of methods sharing version, script and encoding.
type Family struct {
	API      string
	Version  int
	CGI      string
	Encoding Encoding
}

// Op builds a Descriptor for method in this family.
func (f Family) Op(method string, verb Verb, params Params) Descriptor {
	if params == nil {
		params = Params{}
	}
	return Descriptor{
		API:     f.API,
		Version: f.Version,
		Method:  method,
		Verb:    verb,
		CGI:     f.CGI,
		Params:  params,
	}
}

// Encode applies the family encoding to one or more identifier values.
func (f Family) Encode(values ...string) string {
	switch f.Encoding {
	case EncodeJSONArray:
		return JSONArray(values...)
	case EncodeQuoted:
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = Quoted(v)
		}
		return strings.Join(quoted, ",")
	default:
		return strings.Join(values, ",")
	}
}

// JSONArray encodes values as a JSON array of strings.
func JSONArray(values ...string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

// Quoted encodes s as a JSON string literal.
func Quoted(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Bool encodes a boolean the way DSM expects it.
func Bool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Well-known API names.
const (
	APIAuth = "SYNO.API.Auth"
)
