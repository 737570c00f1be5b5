// Package recovery turns bridge errors into suggested next steps for the
// calling agent.
package recovery

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/acolita/synology-mcp/internal/synoapi"
)

// Suggestion represents a recovery suggestion for an error.
type Suggestion struct {
	Error       string   // Description of the detected error
	Category    string   // Error category (session, auth, network, path, task, download, storage)
	Actions     []string // Suggested tool calls or settings to change
	Explanation string   // Why this might fix the issue
	Confidence  float64  // Confidence that this suggestion will help
	Risky       bool     // If true, the action changes data on the NAS
}

// Analyzer detects errors and suggests recovery actions.
type Analyzer struct {
	rules []recoveryRule
}

// recoveryRule fires when every non-empty criterion matches.
type recoveryRule struct {
	name    string
	kinds   []synoapi.Kind
	when    func(e *synoapi.Error) bool
	pattern *regexp.Regexp
	suggest func(e *synoapi.Error, matches []string) *Suggestion
}

// NewAnalyzer creates a new error analyzer with default rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		rules: defaultRules(),
	}
}

// Analyze examines err and returns recovery suggestions, best first.
func (a *Analyzer) Analyze(err error) []*Suggestion {
	if err == nil {
		return nil
	}

	var se *synoapi.Error
	if !errors.As(err, &se) {
		se = &synoapi.Error{Kind: synoapi.KindTransport, Err: err}
	}
	text := err.Error()

	var suggestions []*Suggestion
	for _, rule := range a.rules {
		matches, ok := rule.match(se, text)
		if !ok {
			continue
		}
		if suggestion := rule.suggest(se, matches); suggestion != nil {
			suggestions = append(suggestions, suggestion)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	return suggestions
}

// Hints flattens the suggestions for err into short lines for a tool result.
func (a *Analyzer) Hints(err error) []string {
	var out []string
	for _, s := range a.Analyze(err) {
		line := s.Explanation
		if len(s.Actions) > 0 {
			line += " Try: " + strings.Join(s.Actions, "; ")
		}
		out = append(out, line)
	}
	return out
}

func (r recoveryRule) match(e *synoapi.Error, text string) ([]string, bool) {
	if len(r.kinds) > 0 {
		found := false
		for _, k := range r.kinds {
			if e.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	if r.when != nil && !r.when(e) {
		return nil, false
	}
	if r.pattern == nil {
		return nil, true
	}
	matches := r.pattern.FindStringSubmatch(text)
	return matches, matches != nil
}

// codeIn matches backend codes, optionally only for ops under a prefix.
// Codes from 400 up mean different things in each API family.
func codeIn(opPrefix string, codes ...int) func(*synoapi.Error) bool {
	return func(e *synoapi.Error) bool {
		if opPrefix != "" && !strings.HasPrefix(e.Op, opPrefix) {
			return false
		}
		for _, c := range codes {
			if c == e.Code {
				return true
			}
		}
		return false
	}
}

func opIn(prefixes ...string) func(*synoapi.Error) bool {
	return func(e *synoapi.Error) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(e.Op, p) {
				return true
			}
		}
		return false
	}
}

func defaultRules() []recoveryRule {
	return []recoveryRule{
		// No session for the endpoint
		{
			name:  "no_active_session",
			kinds: []synoapi.Kind{synoapi.KindNoActiveSession},
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Not logged in",
					Category:    "session",
					Actions:     []string{"synology_login with base_url, username and password", "synology_status to list live sessions"},
					Explanation: "Every NAS call needs a session for its endpoint.",
					Confidence:  0.95,
				}
			},
		},

		// Session expired or replaced by another login
		{
			name: "session_gone",
			when: func(e *synoapi.Error) bool { return synoapi.IsSessionExpiredCode(e.Code) },
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Session expired",
					Category:    "session",
					Actions:     []string{"synology_login again for this endpoint"},
					Explanation: "DSM ended the session (timeout, or a login elsewhere replaced it).",
					Confidence:  0.9,
				}
			},
		},

		// Bad credentials or 2FA
		{
			name: "auth_failure",
			when: func(e *synoapi.Error) bool {
				return strings.HasPrefix(e.Op, synoapi.APIAuth) && synoapi.IsAuthFailureCode(e.Code)
			},
			suggest: func(e *synoapi.Error, _ []string) *Suggestion {
				s := &Suggestion{
					Error:       "Authentication failed",
					Category:    "auth",
					Actions:     []string{"check the username and password", "check that the account is not disabled in DSM"},
					Explanation: "DSM rejected the credentials.",
					Confidence:  0.85,
				}
				if e.Code == 403 || e.Code == 404 || e.Code == 406 {
					s.Explanation = "The account requires a 2-step verification code, which this server cannot supply."
					s.Actions = []string{"use an account without 2-step verification for automation"}
				}
				return s
			},
		},

		// Login rate limiter
		{
			name:  "auth_locked",
			kinds: []synoapi.Kind{synoapi.KindAuthLocked},
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Login temporarily locked",
					Category:    "auth",
					Actions:     []string{"wait for the lockout to expire", "fix the stored password before retrying"},
					Explanation: "Too many failed logins for this endpoint and user.",
					Confidence:  0.9,
				}
			},
		},

		// Old firmware
		{
			name:  "api_unsupported",
			kinds: []synoapi.Kind{synoapi.KindBackend},
			when:  codeIn("", 102, 103, 104),
			suggest: func(e *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "API not available",
					Category:    "backend",
					Actions:     []string{"update DSM or the package that provides the API", "check that the package is installed and running"},
					Explanation: fmt.Sprintf("The NAS does not offer %s in the requested version.", opName(e)),
					Confidence:  0.7,
				}
			},
		},

		// Permission
		{
			name: "permission_denied",
			when: func(e *synoapi.Error) bool {
				return e.Code == 105 || codeIn("SYNO.FileStation", 403, 407, 411)(e)
			},
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Permission denied",
					Category:    "auth",
					Actions:     []string{"grant the account access in DSM Control Panel", "log in with an administrator account"},
					Explanation: "The logged-in account lacks the privilege for this operation.",
					Confidence:  0.75,
				}
			},
		},

		// File Station path problems
		{
			name: "path_not_found",
			when: func(e *synoapi.Error) bool {
				if e.Kind == synoapi.KindNotFound {
					return strings.HasPrefix(e.Op, "filestation.")
				}
				return codeIn("SYNO.FileStation", 408, 418)(e)
			},
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Path not found",
					Category:    "path",
					Actions:     []string{"list_shares to see the top-level shared folders", "list_directory on the parent folder"},
					Explanation: "Paths start with a shared folder name, for example /home or /video.",
					Confidence:  0.7,
				}
			},
		},
		{
			name: "file_exists",
			when: codeIn("SYNO.FileStation", 414, 1003, 1805),
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Target already exists",
					Category:    "path",
					Actions:     []string{"pass overwrite=true", "choose another name"},
					Explanation: "The destination already holds an entry with that name.",
					Confidence:  0.8,
					Risky:       true,
				}
			},
		},
		{
			name: "quota_or_space",
			when: codeIn("SYNO.FileStation", 415, 416),
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Out of space or quota",
					Category:    "path",
					Actions:     []string{"free space on the volume", "raise the user quota in DSM"},
					Explanation: "The volume or the account quota is full.",
					Confidence:  0.8,
				}
			},
		},

		// Local validation
		{
			name:    "protected_path",
			kinds:   []synoapi.Kind{synoapi.KindValidation},
			when:    opIn("filestation.delete", "filestation.rename"),
			pattern: regexp.MustCompile(`(?i)(root|protected|critical)`),
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Refused to touch a protected path",
					Category:    "path",
					Explanation: "Deleting the root, a system path or a configured protected path is never sent to the NAS.",
					Confidence:  0.6,
				}
			},
		},

		// Async tasks
		{
			name:  "task_timed_out",
			kinds: []synoapi.Kind{synoapi.KindTaskTimedOut},
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Background task timed out",
					Category:    "task",
					Actions:     []string{"get_file_info on the source and destination to see what completed", "raise tasks.move_timeout or tasks.delete_timeout in the config"},
					Explanation: "The NAS task was stopped after the wait limit; part of the work may already be done.",
					Confidence:  0.8,
				}
			},
		},
		{
			name:  "task_failed",
			kinds: []synoapi.Kind{synoapi.KindTaskFailed, synoapi.KindTaskStartFailed},
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Background task failed",
					Category:    "task",
					Actions:     []string{"get_file_info on the affected paths", "retry the operation"},
					Explanation: "The NAS reported an error while running the task.",
					Confidence:  0.6,
				}
			},
		},

		// Download Station
		{
			name:  "destination_missing",
			kinds: []synoapi.Kind{synoapi.KindDestinationMissing},
			suggest: func(e *synoapi.Error, _ []string) *Suggestion {
				s := &Suggestion{
					Error:       "Download destination missing",
					Category:    "download",
					Explanation: "Download Station needs an existing shared folder as destination.",
					Confidence:  0.9,
				}
				for _, dest := range e.Suggestions {
					s.Actions = append(s.Actions, fmt.Sprintf("ds_create_task with destination=%q", dest))
				}
				if len(s.Actions) == 0 {
					s.Actions = []string{"create_directory for the destination first", "ds_set_default_destination to an existing folder"}
				}
				return s
			},
		},

		// iSCSI
		{
			name:    "lun_mapped",
			kinds:   []synoapi.Kind{synoapi.KindValidation},
			when:    opIn("iscsi."),
			pattern: regexp.MustCompile(`(?i)unmap it first`),
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "LUN still mapped",
					Category:    "storage",
					Actions:     []string{"iscsi_get_lun to see its targets", "iscsi_unmap_lun for each target, then retry"},
					Explanation: "A LUN mapped to a target may be in use by an initiator.",
					Confidence:  0.9,
					Risky:       true,
				}
			},
		},

		// Network
		{
			name:    "connection_refused",
			kinds:   []synoapi.Kind{synoapi.KindTransport},
			pattern: regexp.MustCompile(`(?i)(connection refused|no such host|no route to host|network is unreachable)`),
			suggest: func(_ *synoapi.Error, matches []string) *Suggestion {
				return &Suggestion{
					Error:       "Cannot reach the NAS: " + matches[1],
					Category:    "network",
					Actions:     []string{"check the base URL and port (5000 for http, 5001 for https)", "check that the NAS is powered on"},
					Explanation: "The NAS did not accept the connection.",
					Confidence:  0.85,
				}
			},
		},
		{
			name:    "tls",
			kinds:   []synoapi.Kind{synoapi.KindTransport},
			pattern: regexp.MustCompile(`(?i)(x509|certificate|tls: )`),
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "TLS certificate rejected",
					Category:    "network",
					Actions:     []string{"set tls_skip_verify: true for this endpoint", "install a trusted certificate on the NAS"},
					Explanation: "DSM ships with a self-signed certificate by default.",
					Confidence:  0.8,
					Risky:       true,
				}
			},
		},
		{
			name:    "timeout",
			kinds:   []synoapi.Kind{synoapi.KindTransport},
			pattern: regexp.MustCompile(`(?i)(timeout|deadline exceeded)`),
			suggest: func(_ *synoapi.Error, _ []string) *Suggestion {
				return &Suggestion{
					Error:       "Request timed out",
					Category:    "network",
					Actions:     []string{"raise http.timeout in the config", "retry when the NAS is less busy"},
					Explanation: "The NAS did not answer in time.",
					Confidence:  0.6,
				}
			},
		},
	}
}

func opName(e *synoapi.Error) string {
	if e.Op == "" {
		return "this API"
	}
	return e.Op
}
