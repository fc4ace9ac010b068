// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jeranaias/coca/internal/credstore"
)

// =============================================================================
// SIGNUP / LOGIN / LOGOUT
// =============================================================================

// HandleSignup registers an account. The password is asked for twice.
func (a *App) HandleSignup(ctx context.Context, args []string) error {
	p := NewArgParser(args, "password-stdin")
	email, err := a.email(p)
	if err != nil {
		return err
	}

	var password, confirm string
	if p.BoolFlag("password-stdin") {
		if password, err = a.readLine(""); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		confirm = password
	} else {
		if password, err = a.ReadPassword("Password: "); err != nil {
			return err
		}
		if confirm, err = a.ReadPassword("Confirm password: "); err != nil {
			return err
		}
	}

	if err := a.Client.Signup(ctx, email, password, confirm); err != nil {
		return err
	}
	if a.Globals.JSON {
		return a.outputJSON("signup", map[string]string{"email": email})
	}
	a.printf("%s Account created for %s. Run 'coca login' to sign in.\n", SuccessStyle.Render("✓"), email)
	return nil
}

// HandleLogin signs in and stores the token pair.
func (a *App) HandleLogin(ctx context.Context, args []string) error {
	p := NewArgParser(args, "password-stdin")
	email, err := a.email(p)
	if err != nil {
		return err
	}

	var password string
	if p.BoolFlag("password-stdin") {
		password, err = a.readLine("")
	} else {
		password, err = a.ReadPassword("Password: ")
	}
	if err != nil {
		return err
	}

	if _, err := a.Client.Login(ctx, email, password); err != nil {
		return err
	}
	a.loginRequired.Store(false)
	if a.Globals.JSON {
		return a.outputJSON("login", map[string]string{"email": email, "base_url": a.Client.BaseURL()})
	}
	a.printf("%s Logged in as %s\n", SuccessStyle.Render("✓"), email)
	return nil
}

func (a *App) email(p *ArgParser) (string, error) {
	email := strings.TrimSpace(p.FlagOrDefault("email", p.Positional(0)))
	if email != "" {
		return email, nil
	}
	line, err := a.readLine("Email: ")
	if err != nil {
		return "", fmt.Errorf("failed to read email: %w", err)
	}
	if email = strings.TrimSpace(line); email == "" {
		return "", ErrMissingArgument("email", "coca login --email you@example.com")
	}
	return email, nil
}

// HandleLogout ends the server session. Local tokens are cleared even when
// the server cannot be reached.
func (a *App) HandleLogout(ctx context.Context) error {
	err := a.Client.Logout(ctx)
	if a.Globals.JSON {
		if err != nil {
			return err
		}
		return a.outputJSON("logout", map[string]bool{"logged_out": true})
	}
	if err != nil {
		a.info("%s server logout failed; local credentials were cleared", WarningStyle.Render("!"))
		return err
	}
	a.printf("Logged out.\n")
	return nil
}

// =============================================================================
// WHOAMI
// =============================================================================

// accessClaims is the part of the access token the client displays. The
// token is decoded without verification; only the server can verify it.
type accessClaims struct {
	jwt.RegisteredClaims
	UID   int64  `json:"uid"`
	Email string `json:"email"`
}

// HandleWhoami shows who the stored access token belongs to.
func (a *App) HandleWhoami(ctx context.Context) error {
	pair, err := credstore.LoadPair(ctx, a.Creds)
	if err != nil {
		return err
	}
	data, err := describeTokens(pair, time.Now())
	if err != nil {
		return err
	}
	data.BaseURL = a.Client.BaseURL()

	if a.Globals.JSON {
		return a.outputJSON("whoami", data)
	}
	if !data.LoggedIn {
		return ErrNotLoggedIn
	}

	a.printf("%s %s\n", RenderLabel("Email"), ValueStyle.Render(data.Email))
	a.printf("%s %d\n", RenderLabel("User ID"), data.UserID)
	a.printf("%s %s\n", RenderLabel("Backend"), data.BaseURL)
	if data.ExpiresAt != nil {
		status := "valid for " + formatDuration(time.Until(*data.ExpiresAt))
		if data.Expired {
			status = WarningStyle.Render("expired")
			if data.CanRenew {
				status += DimStyle.Render(" (will refresh on next request)")
			}
		}
		a.printf("%s %s\n", RenderLabel("Access token"), status)
	}
	return nil
}

func describeTokens(pair credstore.Pair, now time.Time) (WhoamiData, error) {
	data := WhoamiData{CanRenew: pair.RefreshToken != ""}
	if pair.AccessToken == "" {
		data.LoggedIn = data.CanRenew
		return data, nil
	}

	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(pair.AccessToken, &claims); err != nil {
		return data, fmt.Errorf("stored access token is malformed: %w", err)
	}
	data.LoggedIn = true
	data.UserID = claims.UID
	data.Email = claims.Email
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		data.ExpiresAt = &exp
		data.Expired = !now.Before(exp)
	}
	return data, nil
}

// =============================================================================
// AUTH
// =============================================================================

// HandleAuth handles "coca auth refresh" and "coca auth status".
func (a *App) HandleAuth(ctx context.Context, args []string) error {
	p := NewArgParser(args)
	switch p.Subcommand() {
	case "refresh":
		if _, err := a.Client.RefreshToken(ctx); err != nil {
			return err
		}
		if a.Globals.JSON {
			return a.outputJSON("auth refresh", map[string]bool{"refreshed": true})
		}
		a.printf("%s Tokens refreshed.\n", SuccessStyle.Render("✓"))
		return nil
	case "", "status":
		return a.HandleWhoami(ctx)
	default:
		return NewValidationErrorWithExample("auth subcommand", p.Subcommand(), "unknown subcommand", "coca auth refresh")
	}
}

// formatDuration renders d coarsely: 45s, 12m, 3h, 2d.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
