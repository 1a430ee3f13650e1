package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/irrigo/internal/session"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthLogin logs in with email and password and stores the session.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	email := cmd.String("email")
	r.session.Init(ctx)

	r.logger.Info("logging in", "email", email)
	if !r.session.Login(ctx, email, cmd.String("password")) {
		return fmt.Errorf("%w: %s", shared.ErrAuthFailed, r.lastNotice(session.MsgLoginFailed))
	}

	sess := r.session.Session()
	r.writePlain("✓ %s\n", session.MsgLoginSucceeded)
	r.writePlain("Logged in as %s <%s>\n", sess.Profile.Username, sess.Profile.Email)
	return nil
}

// AuthSignup registers an account. It does not log in.
func (r *Runner) AuthSignup(ctx context.Context, cmd *cli.Command) error {
	username, email := cmd.String("username"), cmd.String("email")

	r.logger.Info("registering", "username", username, "email", email)
	if !r.session.Signup(ctx, username, email, cmd.String("password")) {
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, r.lastNotice(session.MsgSignupFailed))
	}

	r.writePlain("✓ %s\n", session.MsgSignupSucceeded)
	r.writePlain("Next: irrigo auth login --email %s\n", email)
	return nil
}

// AuthLogout discards the stored session.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if r.session.Init(ctx) != session.Authenticated {
		return r.writePlain("Not logged in\n")
	}

	r.session.Logout(ctx)
	return r.writePlain("✓ %s\n", session.MsgLoggedOut)
}

type authStatus struct {
	State    string `json:"state"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Verified *bool  `json:"verified,omitempty"`
	Backend  string `json:"backend"`
}

// AuthStatus reports the stored session. With --verify it asks the backend whether the credential is still accepted;
// a rejected credential ends the session.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	state := r.session.Init(ctx)
	status := authStatus{State: state.String(), Backend: r.client.BaseURL()}

	if state == session.Authenticated {
		sess := r.session.Session()
		status.Username, status.Email, status.UserID = sess.Profile.Username, sess.Profile.Email, sess.Profile.ID.String()

		if cmd.Bool("verify") {
			_, err := r.svc.Me(ctx, "")
			verified := err == nil
			status.Verified = &verified
			if err != nil {
				r.logger.Warn("credential check failed", "error", err)
			}
			status.State = r.session.State().String()
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Session")
	r.writePlain("Backend: %s\n", status.Backend)
	if status.Username == "" || status.State != session.Authenticated.String() {
		if status.Verified != nil && !*status.Verified {
			r.writePlain("State:   ✗ %s\n", r.lastNotice("credential rejected"))
			return nil
		}
		r.writePlain("State:   ✗ Not logged in\n")
		return nil
	}

	r.writePlain("State:   ✓ Logged in\n")
	r.writePlain("User:    %s <%s> (id %s)\n", status.Username, status.Email, status.UserID)
	if status.Verified != nil {
		if *status.Verified {
			r.writePlain("Backend: ✓ credential accepted\n")
		} else {
			r.writePlain("Backend: ✗ could not verify credential\n")
		}
	}
	return nil
}
