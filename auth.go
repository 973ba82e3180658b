package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tenantcal/internal/backend"
	"github.com/tonimelisma/tenantcal/internal/session"
)

func newLoginCmd(cc *CLIContext) *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange a provider authorization code for a session",
		Long: `Exchange the authorization code returned by the identity provider for a
tenant session. Get the provider URL with 'tenantcal auth-url'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, cc, code)
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "provider authorization code")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

func runLogin(cmd *cobra.Command, cc *CLIContext, code string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cc, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if s, ok := a.session.Snapshot(); ok {
		return fmt.Errorf("already logged in as %s (tenant %s); run 'tenantcal logout' first",
			s.User.Email, s.User.TenantID)
	}

	user, err := a.session.Login(ctx, code)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), user)
	}

	cc.Statusf("Logged in as %s (tenant %s).\n", user.Email, user.TenantID)

	return nil
}

func newLogoutCmd(cc *CLIContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove the saved token and cached events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cc, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.Logout(); err != nil {
				return err
			}

			cc.Logger.Info("logout complete")
			cc.Statusf("Logged out.\n")

			return nil
		},
	}
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	TenantID  string    `json:"tenant_id"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func newWhoamiCmd(cc *CLIContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user and tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cc, false)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.requireSession()
			if err != nil {
				return err
			}

			out := whoamiOutput{
				ID:        s.User.ID,
				Email:     s.User.Email,
				TenantID:  s.User.TenantID,
				ExpiresAt: s.ExpiresAt,
			}

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "User:    %s (%s)\n", out.Email, out.ID)
			fmt.Fprintf(w, "Tenant:  %s\n", out.TenantID)
			fmt.Fprintf(w, "Expires: %s\n", formatRemaining(out.ExpiresAt, time.Now()))

			return nil
		},
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	State        string        `json:"state"`
	User         *session.User `json:"user,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at,omitzero"`
	TokenFile    string        `json:"token_file"`
	CacheDB      string        `json:"cache_db,omitempty"`
	CachedEvents int           `json:"cached_events"`
	BackendURL   string        `json:"backend_url,omitempty"`
}

func newStatusCmd(cc *CLIContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session state and local cache details",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cc, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := statusOutput{
				State:        a.session.State().String(),
				TokenFile:    cc.Cfg.TokenFilePath(),
				CacheDB:      cc.Cfg.CacheDBPath(),
				CachedEvents: len(a.syncer.Events()),
				BackendURL:   cc.Cfg.Backend.BaseURL,
			}

			if s, ok := a.session.Snapshot(); ok {
				u := s.User
				out.User = &u
				out.ExpiresAt = s.ExpiresAt
			}

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), out)
			}

			printStatusText(cmd, out)

			return nil
		},
	}
}

func printStatusText(cmd *cobra.Command, out statusOutput) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Session:  %s\n", out.State)

	if out.User != nil {
		fmt.Fprintf(w, "User:     %s (tenant %s)\n", out.User.Email, out.User.TenantID)
		fmt.Fprintf(w, "Expires:  %s\n", formatRemaining(out.ExpiresAt, time.Now()))
	}

	fmt.Fprintf(w, "Token:    %s\n", out.TokenFile)

	if out.CacheDB == "" {
		fmt.Fprintf(w, "Cache:    memory only\n")
	} else {
		fmt.Fprintf(w, "Cache:    %s (%d events)\n", out.CacheDB, out.CachedEvents)
	}

	if out.BackendURL != "" {
		fmt.Fprintf(w, "Backend:  %s\n", out.BackendURL)
	}
}

func newAuthURLCmd(cc *CLIContext) *cobra.Command {
	return &cobra.Command{
		Use:   "auth-url",
		Short: "Print the identity provider URL that yields a login code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := cc.Cfg.OAuth

			u, state, err := backend.AuthCodeURL(backend.ProviderConfig{
				ClientID:    o.ClientID,
				AuthURL:     o.AuthURL,
				RedirectURL: o.RedirectURL,
				Scopes:      o.Scopes,
			})
			if err != nil {
				return fmt.Errorf("%w (set [oauth] in the config file)", err)
			}

			cc.Logger.Debug("built provider URL", slog.String("state", state))

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{"url": u, "state": state})
			}

			fmt.Fprintln(cmd.OutOrStdout(), u)
			cc.Statusf("After signing in, run: tenantcal login --code <code>\n")

			return nil
		},
	}
}
