package recovery

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/acolita/synology-mcp/internal/synoapi"
)

func TestNewAnalyzer(t *testing.T) {
	a := NewAnalyzer()
	if a == nil {
		t.Fatal("NewAnalyzer returned nil")
	}
	if len(a.rules) == 0 {
		t.Error("Analyzer should have default rules")
	}
}

func TestAnalyzer_NilError(t *testing.T) {
	if got := NewAnalyzer().Analyze(nil); got != nil {
		t.Errorf("Analyze(nil) = %v, want nil", got)
	}
}

func hasCategory(suggestions []*Suggestion, category string) *Suggestion {
	for _, s := range suggestions {
		if s.Category == category {
			return s
		}
	}
	return nil
}

func TestAnalyzer_Categories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category string
		errText  string
	}{
		{
			name:     "no session",
			err:      &synoapi.Error{Kind: synoapi.KindNoActiveSession, Op: "session"},
			category: "session",
			errText:  "Not logged in",
		},
		{
			name:     "expired session",
			err:      &synoapi.Error{Kind: synoapi.KindBackend, Code: 119, Op: "SYNO.FileStation.List.list"},
			category: "session",
			errText:  "Session expired",
		},
		{
			name:     "bad password",
			err:      &synoapi.Error{Kind: synoapi.KindBackend, Code: 400, Op: "SYNO.API.Auth.login"},
			category: "auth",
			errText:  "Authentication failed",
		},
		{
			name:     "locked",
			err:      &synoapi.Error{Kind: synoapi.KindAuthLocked, Op: "session.acquire"},
			category: "auth",
			errText:  "Login temporarily locked",
		},
		{
			name:     "old firmware",
			err:      &synoapi.Error{Kind: synoapi.KindBackend, Code: 103, Op: "SYNO.DownloadStation2.Task.list"},
			category: "backend",
			errText:  "API not available",
		},
		{
			name:     "missing file",
			err:      &synoapi.Error{Kind: synoapi.KindBackend, Code: 408, Op: "SYNO.FileStation.Rename.rename"},
			category: "path",
			errText:  "Path not found",
		},
		{
			name:     "get info not found",
			err:      synoapi.NotFoundf("filestation.get_info", "file not found: /x"),
			category: "path",
			errText:  "Path not found",
		},
		{
			name:     "exists",
			err:      &synoapi.Error{Kind: synoapi.KindBackend, Code: 414, Op: "SYNO.FileStation.Upload.upload"},
			category: "path",
			errText:  "Target already exists",
		},
		{
			name:     "protected delete",
			err:      synoapi.Validationf("filestation.delete", "cannot delete critical system path: /etc"),
			category: "path",
			errText:  "protected path",
		},
		{
			name:     "task timeout",
			err:      &synoapi.Error{Kind: synoapi.KindTaskTimedOut, Op: "move"},
			category: "task",
			errText:  "timed out",
		},
		{
			name:     "task failed",
			err:      &synoapi.Error{Kind: synoapi.KindTaskFailed, Op: "delete"},
			category: "task",
			errText:  "failed",
		},
		{
			name:     "mapped lun",
			err:      synoapi.Validationf("iscsi.delete_lun", "LUN a is still mapped to targets; unmap it first before deletion"),
			category: "storage",
			errText:  "LUN still mapped",
		},
		{
			name:     "refused",
			err:      synoapi.TransportErr("SYNO.API.Auth.login", errors.New("dial tcp 10.0.0.5:5001: connect: connection refused")),
			category: "network",
			errText:  "connection refused",
		},
		{
			name:     "certificate",
			err:      synoapi.TransportErr("SYNO.API.Auth.login", errors.New("tls: failed to verify certificate: x509: certificate signed by unknown authority")),
			category: "network",
			errText:  "TLS",
		},
		{
			name:     "plain error treated as transport",
			err:      fmt.Errorf("request: %w", errors.New("context deadline exceeded")),
			category: "network",
			errText:  "timed out",
		},
	}

	a := NewAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := hasCategory(a.Analyze(tt.err), tt.category)
			if s == nil {
				t.Fatalf("expected %s suggestion for %v", tt.category, tt.err)
			}
			if !strings.Contains(s.Error, tt.errText) {
				t.Errorf("Error = %q, want containing %q", s.Error, tt.errText)
			}
		})
	}
}

func TestAnalyzer_FamilyCodesDoNotCross(t *testing.T) {
	a := NewAnalyzer()

	// 408 from File Station is a missing file, not a login problem.
	fileErr := &synoapi.Error{Kind: synoapi.KindBackend, Code: 408, Op: "SYNO.FileStation.List.getinfo"}
	if hasCategory(a.Analyze(fileErr), "auth") != nil {
		t.Error("File Station 408 should not produce an auth suggestion")
	}

	// 408 from the auth API is an expired password, not a missing file.
	authErr := &synoapi.Error{Kind: synoapi.KindBackend, Code: 408, Op: "SYNO.API.Auth.login"}
	if hasCategory(a.Analyze(authErr), "path") != nil {
		t.Error("auth 408 should not produce a path suggestion")
	}
	if hasCategory(a.Analyze(authErr), "auth") == nil {
		t.Error("auth 408 should produce an auth suggestion")
	}

	// A missing LUN is not a File Station path.
	lunErr := synoapi.NotFoundf("iscsi.get_lun", "LUN x not found")
	if hasCategory(a.Analyze(lunErr), "path") != nil {
		t.Error("iSCSI not-found should not suggest listing shares")
	}
}

func TestAnalyzer_TwoFactor(t *testing.T) {
	err := &synoapi.Error{Kind: synoapi.KindBackend, Code: 403, Op: "SYNO.API.Auth.login"}
	s := hasCategory(NewAnalyzer().Analyze(err), "auth")
	if s == nil {
		t.Fatal("expected auth suggestion")
	}
	if !strings.Contains(s.Explanation, "2-step") {
		t.Errorf("Explanation = %q, want 2-step verification hint", s.Explanation)
	}
}

func TestAnalyzer_DestinationMissingUsesSuggestions(t *testing.T) {
	a := NewAnalyzer()

	err := &synoapi.Error{
		Kind:        synoapi.KindDestinationMissing,
		Op:          "downloadstation.create_task",
		Suggestions: []string{"video", "music"},
	}
	s := hasCategory(a.Analyze(err), "download")
	if s == nil {
		t.Fatal("expected download suggestion")
	}
	if len(s.Actions) != 2 || !strings.Contains(s.Actions[0], `destination="video"`) {
		t.Errorf("Actions = %v, want one per suggested folder", s.Actions)
	}

	err.Suggestions = nil
	s = hasCategory(a.Analyze(err), "download")
	if s == nil || len(s.Actions) == 0 || !strings.Contains(s.Actions[0], "create_directory") {
		t.Errorf("without suggestions Actions = %v, want create_directory hint", s)
	}
}

func TestAnalyzer_SortByConfidence(t *testing.T) {
	// Matches both the TLS and the timeout rule.
	err := &synoapi.Error{Kind: synoapi.KindTransport, Op: "x", Err: errors.New("x509: certificate expired; i/o timeout")}
	suggestions := NewAnalyzer().Analyze(err)
	if len(suggestions) < 2 {
		t.Fatalf("expected at least 2 suggestions, got %d", len(suggestions))
	}
	for i := 1; i < len(suggestions); i++ {
		if suggestions[i].Confidence > suggestions[i-1].Confidence {
			t.Errorf("suggestions not sorted: %.2f before %.2f", suggestions[i-1].Confidence, suggestions[i].Confidence)
		}
	}
}

func TestAnalyzer_NoMatch(t *testing.T) {
	err := &synoapi.Error{Kind: synoapi.KindBackend, Code: 100, Op: "SYNO.Core.ISCSI.LUN.list"}
	if got := NewAnalyzer().Analyze(err); len(got) != 0 {
		t.Errorf("expected no suggestions, got %d", len(got))
	}
}

func TestHints(t *testing.T) {
	hints := NewAnalyzer().Hints(&synoapi.Error{Kind: synoapi.KindNoActiveSession})
	if len(hints) != 1 {
		t.Fatalf("len(hints) = %d, want 1", len(hints))
	}
	if !strings.Contains(hints[0], "Try: synology_login") {
		t.Errorf("hint = %q", hints[0])
	}
	if NewAnalyzer().Hints(nil) != nil {
		t.Error("Hints(nil) should be nil")
	}
}
