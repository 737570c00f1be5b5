package synoapi

import (
	"context"
	"fmt"
)

// authFamily is SYNO.API.Auth v6 on entry.cgi.
var authFamily = Family{API: APIAuth, Version: 6}

// Credentials authenticate one account on an endpoint.
type Credentials struct {
	Username string
	Password string
	// Session is the DSM application session name; empty means FileStation.
	Session string
}

// Login authenticates against endpoint and returns the session token. The
// client must be anonymous.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	if creds.Username == "" {
		return "", Validationf(authFamily.API+".login", "username is required")
	}
	session := creds.Session
	if session == "" {
		session = "FileStation"
	}

	var out struct {
		SID string `json:"sid"`
	}
	d := authFamily.Op("login", VerbForm, Params{
		"account": creds.Username,
		"passwd":  creds.Password,
		"session": session,
		"format":  "sid",
	})
	if err := c.CallInto(ctx, d, &out); err != nil {
		return "", err
	}
	if out.SID == "" {
		return "", &Error{Kind: KindBackend, Op: d.Op(), Detail: "login response carried no session id"}
	}
	return out.SID, nil
}

// Logout ends the client's session. A session-gone code is reported as
// success since the session is no longer live either way.
func (c *Client) Logout(ctx context.Context, session string) error {
	if session == "" {
		session = "FileStation"
	}
	_, err := c.Call(ctx, authFamily.Op("logout", VerbQuery, Params{"session": session}))
	if err != nil && IsSessionGoneCode(CodeOf(err)) && IsKind(err, KindBackend) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
