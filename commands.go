package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/lithammer/dedent"
	"github.com/raine/walletfront/internal/api"
	"github.com/raine/walletfront/internal/gateway"
	"github.com/raine/walletfront/internal/oauth"
	"github.com/raine/walletfront/internal/session"
	"github.com/rs/zerolog/log"
)

type command struct {
	name string
	args string
	help string
	run  func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "login", args: "[email]", help: "Sign in with email and password", run: runLogin},
	{name: "register", args: "[email] [invite-code]", help: "Create an account", run: runRegister},
	{name: "reset-password", args: "[email]", help: "Set a new password with an emailed code", run: runResetPassword},
	{name: "oauth", args: "<provider> [--redirect]", help: "Sign in with google, facebook or telegram", run: runOAuth},
	{name: "resume", args: "<provider>", help: "Finish a sign-in relayed through the mailbox", run: runResume},
	{name: "callback", args: "<provider> <url>", help: "Handle a provider callback URL pasted from a browser", run: runCallback},
	{name: "whoami", help: "Show the current session", run: runWhoami},
	{name: "get", args: "<path>", help: "GET a backend path with the current session", run: runGet},
	{name: "logout", help: "Sign out", run: runLogout},
	{name: "watch", help: "Keep the cached profile fresh until interrupted", run: runWatch},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() string {
	var b strings.Builder
	b.WriteString(formatText(`
		walletfront keeps a wallet session on this machine.

		Usage: walletfront <command> [arguments]

		Commands:
	`))
	b.WriteString("\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-16s %-26s %s\n", c.name, c.args, c.help)
	}
	b.WriteString("\n")
	b.WriteString(formatText(`
		Configuration is read from the environment and from %s.
		Set WALLET_DEBUG=1 for debug logging.
	`, "~/.config/walletfront/config.env"))
	b.WriteString("\n")
	return b.String()
}

func formatText(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// completeLogin stores the credential produced by login and loads the
// profile.
func (a *app) completeLogin(ctx context.Context, login func(ctx context.Context) (session.Credential, error)) error {
	cred, err := login(ctx)
	if err != nil {
		return err
	}
	if err := a.session.SetAuth(cred.Patch()); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	a.session.RefreshUserInfo(ctx)
	printSignedIn(a.session.State())
	return nil
}

func printSignedIn(st session.State) {
	name := st.UserID
	if st.UserInfo != nil && st.UserInfo.Nickname != "" {
		name = st.UserInfo.Nickname
	}
	fmt.Printf("Signed in as %s\n", name)
}

// readSecret reads one line from stdin when no terminal is attached.
func readSecret(name string) (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("%s must be given on stdin: %w", name, err)
	}
	return strings.TrimSpace(line), nil
}

func runForm(ctx context.Context, fields ...huh.Field) error {
	err := huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeBase16()).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.New("cancelled")
	}
	return err
}

func runLogin(ctx context.Context, a *app, args []string) error {
	email := arg(args, 0)
	var password string

	if isInteractiveTerminal() {
		fields := []huh.Field{passwordInput("Password", &password)}
		if email == "" {
			fields = append([]huh.Field{emailInput(&email)}, fields...)
		}
		if err := runForm(ctx, fields...); err != nil {
			return err
		}
	} else {
		if email == "" {
			return errors.New("usage: walletfront login <email> (password on stdin)")
		}
		var err error
		if password, err = readSecret("password"); err != nil {
			return err
		}
	}

	return a.completeLogin(ctx, func(ctx context.Context) (session.Credential, error) {
		return a.api.Login(ctx, api.LoginRequest{Email: email, Password: password})
	})
}

func runRegister(ctx context.Context, a *app, args []string) error {
	req := api.RegisterRequest{Email: arg(args, 0), InviteCode: arg(args, 1)}

	if isInteractiveTerminal() {
		fields := []huh.Field{
			passwordInput("Password", &req.Password),
			huh.NewInput().Title("Verification code").Description("Sent to your email").Value(&req.Code),
		}
		if req.Email == "" {
			fields = append([]huh.Field{emailInput(&req.Email)}, fields...)
		}
		if req.InviteCode == "" {
			fields = append(fields, huh.NewInput().Title("Invite code").Description("Optional").Value(&req.InviteCode))
		}
		if err := runForm(ctx, fields...); err != nil {
			return err
		}
	} else {
		if req.Email == "" {
			return errors.New("usage: walletfront register <email> [invite-code] (password on stdin)")
		}
		var err error
		if req.Password, err = readSecret("password"); err != nil {
			return err
		}
	}

	return a.completeLogin(ctx, func(ctx context.Context) (session.Credential, error) {
		return a.api.Register(ctx, req)
	})
}

func runResetPassword(ctx context.Context, a *app, args []string) error {
	req := api.ResetPasswordRequest{Email: arg(args, 0)}
	if !isInteractiveTerminal() {
		return errors.New("reset-password needs an interactive terminal")
	}

	fields := []huh.Field{
		huh.NewInput().Title("Verification code").Description("Sent to your email").Value(&req.Code),
		passwordInput("New password", &req.Password),
	}
	if req.Email == "" {
		fields = append([]huh.Field{emailInput(&req.Email)}, fields...)
	}
	if err := runForm(ctx, fields...); err != nil {
		return err
	}

	return a.completeLogin(ctx, func(ctx context.Context) (session.Credential, error) {
		return a.api.ResetPassword(ctx, req)
	})
}

func runResume(ctx context.Context, a *app, args []string) error {
	p, err := oauth.ParseProvider(arg(args, 0))
	if err != nil {
		return err
	}
	if _, err := a.initiator.ResumePending(ctx, p); err != nil {
		if errors.Is(err, oauth.ErrNoPending) {
			fmt.Printf("No pending %s sign-in.\n", p)
			return nil
		}
		return err
	}
	printSignedIn(a.session.State())
	return nil
}

// runCallback plays the callback page of the full-page redirect flow for a
// URL copied from the browser, then picks the result up from the mailbox
// the way the returning page would.
func runCallback(ctx context.Context, a *app, args []string) error {
	p, err := oauth.ParseProvider(arg(args, 0))
	if err != nil {
		return err
	}
	raw := arg(args, 1)
	if raw == "" {
		return errors.New("usage: walletfront callback <provider> <url>")
	}
	u, err := parseURL(raw)
	if err != nil {
		return err
	}

	win := &pastedWindow{loc: u}
	out, err := a.bridge.Run(ctx, p, win)
	if err != nil {
		return err
	}
	if out.Kind == oauth.NoCredential {
		fmt.Println("The URL has no credential; sign-in was cancelled.")
		return nil
	}
	return runResume(ctx, a, []string{string(p)})
}

func runWhoami(ctx context.Context, a *app, args []string) error {
	st := a.session.State()
	if !st.LoggedIn() {
		fmt.Println("Not signed in.")
	} else {
		fmt.Printf("User:    %s\n", st.UserID)
		if exp, ok := session.TokenExpiry(st.Token); ok {
			fmt.Printf("Expires: %s (%s)\n", exp.Local().Format(time.RFC1123), time.Until(exp).Round(time.Second))
		}
		if p := st.UserInfo; p != nil {
			fmt.Printf("Name:    %s\n", p.Nickname)
			if p.Email != "" {
				fmt.Printf("Email:   %s\n", p.Email)
			}
			fmt.Printf("Points:  %d\n", p.Points)
			for _, b := range p.Balances {
				fmt.Printf("Balance: %s %s\n", b.Available, b.Currency)
			}
			if p.InviteLink != "" {
				fmt.Printf("Invite:  %s\n", p.InviteLink)
			}
		}
	}
	fmt.Printf("Locale:  %s\n", a.locale.Locale())

	entries, err := a.kv.List("")
	if err != nil {
		return err
	}
	var pending []string
	for _, e := range entries {
		if strings.HasSuffix(e.Key, "_auth_pending") {
			pending = append(pending, fmt.Sprintf("%s (since %s)", strings.TrimSuffix(e.Key, "_auth_pending"), e.UpdatedAt.Local().Format(time.Kitchen)))
		}
	}
	sort.Strings(pending)
	if len(pending) > 0 {
		fmt.Printf("Pending: %s\n", strings.Join(pending, ", "))
	}
	return nil
}

func runGet(ctx context.Context, a *app, args []string) error {
	path := arg(args, 0)
	if path == "" {
		return errors.New("usage: walletfront get <path>")
	}
	res, err := a.gateway.Do(ctx, http.MethodGet, path, nil)
	if err == nil {
		err = gateway.EnvelopeError(res)
	}
	if res != nil && len(res.Body()) > 0 {
		var pretty any
		if json.Unmarshal(res.Body(), &pretty) == nil {
			b, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(b))
		} else {
			fmt.Println(string(res.Body()))
		}
	}
	return err
}

func runLogout(ctx context.Context, a *app, args []string) error {
	if a.session.Token() != "" {
		if err := a.api.Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}
	if err := a.session.ClearAuth(); err != nil {
		return err
	}
	// a 401 from the logout call is an expiry too; signing out must not end in a login prompt
	a.modal.close()
	fmt.Println("Signed out.")
	return nil
}

func runWatch(ctx context.Context, a *app, args []string) error {
	if !a.session.State().LoggedIn() {
		return errors.New("not signed in")
	}
	cancel := a.session.Watch(func(st session.State) {
		switch {
		case !st.LoggedIn():
			log.Info().Msg("signed out")
		case st.UserInfo != nil:
			log.Info().Str("nickname", st.UserInfo.Nickname).Int64("points", st.UserInfo.Points).Msg("profile updated")
		}
	})
	defer cancel()

	log.Info().Dur("interval", a.cfg.ProfileRefresh).Msg("refreshing profile until interrupted")
	err := a.session.RunProfileRefresher(ctx, a.cfg.ProfileRefresh)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
