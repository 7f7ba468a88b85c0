package authcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/medico24/medico24-auth/internal/tools/common"
	"github.com/medico24/medico24-auth/internal/tools/ui"
)

type options struct {
	baseURL  string
	email    string
	password string
	envFile  string
	ci       bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "authcheck", Short: "Smoke-check the login, refresh and revocation flow"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.email, "email", "", "account email")
	cmd.PersistentFlags().StringVar(&opts.password, "password", "", "account password")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file for defaults")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full token lifecycle against a live instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			if opts.email == "" {
				opts.email = os.Getenv("AUTHCHECK_EMAIL")
			}
			if opts.password == "" {
				opts.password = os.Getenv("AUTHCHECK_PASSWORD")
			}
			if opts.email == "" || opts.password == "" {
				return fmt.Errorf("email and password are required (flags or AUTHCHECK_EMAIL/AUTHCHECK_PASSWORD)")
			}

			details, err := run(opts, "authcheck run", func(ctx context.Context) ([]string, error) {
				return lifecycle(ctx, opts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "authcheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

// lifecycle walks the happy path and then proves the security properties:
// a replayed refresh token must come back revoked, and the revoked session
// must not refresh again.
func lifecycle(ctx context.Context, opts *options) ([]string, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &client{
		http:    &http.Client{Jar: jar, Timeout: 15 * time.Second},
		baseURL: opts.baseURL,
	}
	var details []string

	if err := c.getOK(ctx, "/health/ready"); err != nil {
		return details, fmt.Errorf("readiness: %w", err)
	}
	details = append(details, "readiness: ok")

	if err := c.postJSON(ctx, "/api/v1/auth/login", map[string]string{
		"email": opts.email, "password": opts.password,
	}, http.StatusOK); err != nil {
		return details, fmt.Errorf("login: %w", err)
	}
	details = append(details, "login: ok")

	if err := c.getOK(ctx, "/api/v1/me"); err != nil {
		return details, fmt.Errorf("me: %w", err)
	}
	details = append(details, "me: ok")

	oldRefresh := c.cookieValue("refresh_token")
	if oldRefresh == "" {
		return details, fmt.Errorf("no refresh_token cookie after login")
	}

	if err := c.postJSON(ctx, "/api/v1/auth/refresh", nil, http.StatusOK); err != nil {
		return details, fmt.Errorf("refresh: %w", err)
	}
	details = append(details, "refresh: ok")

	// Replay the pre-rotation token from a jarless client.
	code, err := c.replayRefresh(ctx, oldRefresh)
	if err != nil {
		return details, fmt.Errorf("replay: %w", err)
	}
	if code != "SECURITY_REVOCATION" {
		return details, fmt.Errorf("replay expected SECURITY_REVOCATION, got %q", code)
	}
	details = append(details, "replay detection: ok")

	// The reuse revoked the whole family, so the rotated token is dead too.
	if err := c.postJSON(ctx, "/api/v1/auth/refresh", nil, http.StatusUnauthorized); err != nil {
		return details, fmt.Errorf("post-revocation refresh: %w", err)
	}
	details = append(details, "family revocation: ok")

	if err := c.postJSON(ctx, "/api/v1/auth/logout", nil, http.StatusNoContent); err != nil {
		return details, fmt.Errorf("logout: %w", err)
	}
	details = append(details, "logout: ok")
	return details, nil
}

type client struct {
	http    *http.Client
	baseURL string
}

func (c *client) getOK(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) postJSON(ctx context.Context, path string, body any, wantStatus int) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if csrf := c.cookieValue("csrf_token"); csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("unexpected status %d (want %d)", resp.StatusCode, wantStatus)
	}
	return nil
}

// replayRefresh presents the token from a fresh client with no cookies, the
// way a thief would, and returns the envelope error code.
func (c *client) replayRefresh(ctx context.Context, refreshToken string) (string, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if envelope.Error == nil {
		return "", fmt.Errorf("expected an error envelope, got status %d", resp.StatusCode)
	}
	return envelope.Error.Code, nil
}

func (c *client) cookieValue(name string) string {
	u, err := url.Parse(c.baseURL + "/api/v1/auth")
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}
