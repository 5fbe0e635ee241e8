package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/raine/walletfront/config"
	"github.com/raine/walletfront/internal/locale"
)

// runSetupWizard runs an interactive wizard to collect required configuration.
// Returns true if setup was successful and the command should continue.
func runSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("walletfront - First-time Setup"))
	fmt.Println()

	apiBaseURL := os.Getenv("WALLET_API_BASE_URL")
	loc := locale.Default
	var googleClientID, facebookClientID, telegramBotID string

	localeOptions := make([]huh.Option[string], 0, len(locale.Supported))
	for _, l := range locale.Supported {
		localeOptions = append(localeOptions, huh.NewOption(l, l))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend API URL").
				Description("Base URL of the wallet backend, e.g. https://api.example.com").
				Value(&apiBaseURL).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("URL is required")
					}
					return validateAPIBaseURL(s)
				}),
			huh.NewSelect[string]().
				Title("Language").
				Options(localeOptions...).
				Value(&loc),
		),
		huh.NewGroup(
			huh.NewNote().
				Title("Third-party sign-in").
				Description("Optional. Leave empty to skip a provider."),
			huh.NewInput().
				Title("Google OAuth client ID").
				Value(&googleClientID),
			huh.NewInput().
				Title("Facebook app ID").
				Value(&facebookClientID),
			huh.NewInput().
				Title("Telegram bot ID").
				Value(&telegramBotID).
				Validate(func(s string) error {
					if strings.Trim(s, "0123456789") != "" {
						return errors.New("must be a number")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeBase16())

	err := form.Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"WALLET_API_BASE_URL": strings.TrimRight(apiBaseURL, "/"),
		"WALLET_LOCALE":       loc,
	}
	// Keep an existing key, data encrypted with it would be unreadable otherwise
	if os.Getenv("WALLET_TOKEN_KEY") == "" {
		values["WALLET_TOKEN_KEY"] = generateTokenKey()
	}
	for k, v := range map[string]string{
		"WALLET_GOOGLE_CLIENT_ID":   googleClientID,
		"WALLET_FACEBOOK_CLIENT_ID": facebookClientID,
		"WALLET_TELEGRAM_BOT_ID":    telegramBotID,
	} {
		if v != "" {
			values[k] = v
		}
	}

	configPath, err := config.WriteEnvFile(values)
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		return false
	}

	// Set values in current process
	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()

	return true
}

func generateTokenKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based if crypto/rand fails (unlikely)
		return fmt.Sprintf("wallet-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// validateAPIBaseURL checks that the backend answers at all. Any HTTP
// response counts; only connection failures are rejected.
func validateAPIBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = resty.New().R().SetContext(ctx).Head(raw)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.New("connection timed out - check the URL")
		}
		return errors.New("connection failed - check the URL")
	}
	return nil
}
