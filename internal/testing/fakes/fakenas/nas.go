// Package fakenas provides an in-process DSM web API for testing. Handlers
// are registered per API and method; every request is recorded so tests can
// assert on what was sent.
package fakenas

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Call is one recorded request.
type Call struct {
	API        string
	Version    int
	Method     string
	HTTPMethod string
	// Script is the path below /webapi/, e.g. "entry.cgi".
	Script string
	// Query holds only the query string; Params merges query and body.
	Query  url.Values
	Params url.Values
	SID    string
	// ContentType is the request Content-Type header.
	ContentType string
	File        *File
}

// Param returns the named parameter from query or body.
func (c Call) Param(name string) string {
	return c.Params.Get(name)
}

// File is the file part of a multipart request.
type File struct {
	Field    string
	Name     string
	Content  []byte
	MIMEType string
}

// Item is a per-item error entry.
type Item struct {
	Code int    `json:"code"`
	Path string `json:"path,omitempty"`
}

// Response describes how the fake answers a call.
type Response struct {
	Data  any
	Code  int
	Items []Item
	// Body and ContentType, when Body is set, are written verbatim.
	Body        []byte
	ContentType string
	// Status overrides the HTTP status (default 200).
	Status int
}

// OK answers with a success envelope carrying data.
func OK(data any) Response {
	return Response{Data: data}
}

// Fail answers with a failure envelope.
func Fail(code int, items ...Item) Response {
	return Response{Code: code, Items: items}
}

// Raw answers with a verbatim body.
func Raw(contentType string, body []byte) Response {
	return Response{ContentType: contentType, Body: body}
}

// HTTPStatus answers with a bare HTTP error status.
func HTTPStatus(status int) Response {
	return Response{Status: status, ContentType: "text/plain", Body: []byte(http.StatusText(status))}
}

// Handler answers one call.
type Handler func(call Call) Response

// Server is a fake DSM endpoint.
type Server struct {
	srv *httptest.Server

	mu           sync.Mutex
	handlers     map[string]Handler
	calls        []Call
	accounts     map[string]string
	live         map[string]bool
	nextSID      int
	requireLogin bool
}

// New starts a fake server that is closed when the test ends. Login and
// logout on SYNO.API.Auth are handled by default.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers: make(map[string]Handler),
		accounts: make(map[string]string),
		live:     make(map[string]bool),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)

	s.Handle("SYNO.API.Auth", "login", s.login)
	s.Handle("SYNO.API.Auth", "logout", s.logout)
	return s
}

// URL returns the base address of the fake.
func (s *Server) URL() string {
	return s.srv.URL
}

// Client returns an HTTP client wired to the fake.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

func key(api, method string) string {
	return api + "." + method
}

func versionKey(api string, version int, method string) string {
	return fmt.Sprintf("%s.%s@v%d", api, method, version)
}

// Handle registers h for every version of api.method.
func (s *Server) Handle(api, method string, h Handler) {
	s.mu.Lock()
	s.handlers[key(api, method)] = h
	s.mu.Unlock()
}

// HandleVersion registers h for one version of api.method. It takes
// precedence over a version-less handler.
func (s *Server) HandleVersion(api string, version int, method string, h Handler) {
	s.mu.Lock()
	s.handlers[versionKey(api, version, method)] = h
	s.mu.Unlock()
}

// Reply answers every call to api.method with resp.
func (s *Server) Reply(api, method string, resp Response) {
	s.Handle(api, method, func(Call) Response { return resp })
}

// Sequence answers successive calls to api.method with resps in order,
// repeating the last one once exhausted.
func (s *Server) Sequence(api, method string, resps ...Response) {
	var mu sync.Mutex
	i := 0
	s.Handle(api, method, func(Call) Response {
		mu.Lock()
		defer mu.Unlock()
		r := resps[i]
		if i < len(resps)-1 {
			i++
		}
		return r
	})
}

// AddAccount registers credentials accepted by login.
func (s *Server) AddAccount(user, password string) {
	s.mu.Lock()
	s.accounts[user] = password
	s.mu.Unlock()
}

// RequireLogin makes every non-auth call fail with code 119 unless it carries
// a token issued by login and not yet logged out or expired.
func (s *Server) RequireLogin() {
	s.mu.Lock()
	s.requireLogin = true
	s.mu.Unlock()
}

// Expire invalidates a token as if the DSM session timed out.
func (s *Server) Expire(sid string) {
	s.mu.Lock()
	delete(s.live, sid)
	s.mu.Unlock()
}

// Live reports whether sid is a live session.
func (s *Server) Live(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[sid]
}

// Calls returns every recorded call.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns recorded calls to api.method.
func (s *Server) CallsTo(api, method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.API == api && c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls api.method received.
func (s *Server) Count(api, method string) int {
	return len(s.CallsTo(api, method))
}

func (s *Server) login(c Call) Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	password, ok := s.accounts[c.Param("account")]
	if !ok || password != c.Param("passwd") {
		return Fail(400)
	}
	s.nextSID++
	sid := fmt.Sprintf("sid-%d", s.nextSID)
	s.live[sid] = true
	return OK(map[string]any{"sid": sid})
}

func (s *Server) logout(c Call) Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[c.SID] {
		return Fail(119)
	}
	delete(s.live, c.SID)
	return OK(nil)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	call, err := parseCall(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	h, ok := s.handlers[versionKey(call.API, call.Version, call.Method)]
	if !ok {
		h, ok = s.handlers[key(call.API, call.Method)]
	}
	denied := s.requireLogin && call.API != "SYNO.API.Auth" && !s.live[call.SID]
	s.mu.Unlock()

	var resp Response
	switch {
	case denied:
		resp = Fail(119)
	case !ok:
		resp = Fail(103)
	default:
		resp = h(call)
	}
	writeResponse(w, resp)
}

func parseCall(r *http.Request) (Call, error) {
	contentType := r.Header.Get("Content-Type")
	var file *File
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return Call{}, err
		}
		for field, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			f, err := headers[0].Open()
			if err != nil {
				return Call{}, err
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return Call{}, err
			}
			file = &File{
				Field:    field,
				Name:     headers[0].Filename,
				Content:  content,
				MIMEType: headers[0].Header.Get("Content-Type"),
			}
		}
	} else if err := r.ParseForm(); err != nil {
		return Call{}, err
	}

	version, _ := strconv.Atoi(r.Form.Get("version"))
	return Call{
		API:         r.Form.Get("api"),
		Version:     version,
		Method:      r.Form.Get("method"),
		HTTPMethod:  r.Method,
		Script:      strings.TrimPrefix(r.URL.Path, "/webapi/"),
		Query:       r.URL.Query(),
		Params:      r.Form,
		SID:         r.Form.Get("_sid"),
		ContentType: contentType,
		File:        file,
	}, nil
}

func writeResponse(w http.ResponseWriter, resp Response) {
	if resp.Body != nil {
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(resp.Body)
		return
	}

	env := map[string]any{"success": resp.Code == 0}
	if resp.Code == 0 {
		if resp.Data != nil {
			env["data"] = resp.Data
		}
	} else {
		errBody := map[string]any{"code": resp.Code}
		if len(resp.Items) > 0 {
			errBody["errors"] = resp.Items
		}
		env["error"] = errBody
	}
	w.Header().Set("Content-Type", "application/json")
	if resp.Status != 0 {
		w.WriteHeader(resp.Status)
	}
	_ = json.NewEncoder(w).Encode(env)
}
