package main

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/raine/walletfront/config"
	"github.com/raine/walletfront/internal/api"
	"github.com/raine/walletfront/internal/expiry"
	"github.com/raine/walletfront/internal/gateway"
	"github.com/raine/walletfront/internal/locale"
	"github.com/raine/walletfront/internal/oauth"
	"github.com/raine/walletfront/internal/session"
	"github.com/raine/walletfront/internal/storage"
	"github.com/rs/zerolog/log"
)

// deviceIDKey holds the profile's stable device id.
const deviceIDKey = "device_id"

// app wires the session lifecycle together for one CLI invocation.
type app struct {
	cfg config.Config

	kv        *storage.SQLiteStore
	session   *session.Store
	locale    *locale.Resolver
	gateway   *gateway.Gateway
	api       *api.Client
	expiry    *expiry.Coordinator
	mailbox   *oauth.Mailbox
	bridge    *oauth.Bridge
	initiator *oauth.Initiator
	navigator *cliNavigator
	modal     *loginModal

	stopResetWatch func()
}

func newApp(cfg config.Config) (*app, error) {
	key, err := storage.DeriveKey(cfg.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	kv, err := storage.NewSQLiteStore(cfg.DBPath, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	log.Debug().Str("dbPath", cfg.DBPath).Msg("session store opened")

	deviceID, err := loadDeviceID(kv)
	if err != nil {
		kv.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		kv:        kv,
		locale:    locale.NewResolver(locale.Supported, cfg.Locale),
		navigator: &cliNavigator{},
		modal:     &loginModal{},
		mailbox:   oauth.NewMailbox(kv),
	}

	// the gateway reports expiry to the coordinator, which clears the
	// session the gateway reads its token from
	var onUnauthorized func()
	a.gateway = gateway.New(gateway.Options{
		BaseURL:        cfg.APIBaseURL,
		Session:        gateway.TokenFunc(func() string { return a.session.Token() }),
		Locale:         a.locale,
		DeviceID:       deviceID,
		OnUnauthorized: func() { onUnauthorized() },
	})
	a.api = api.NewClient(a.gateway)
	a.session = session.New(kv, a.api)

	a.expiry = expiry.New(expiry.Options{
		Session:    a.session,
		Locale:     a.locale,
		Viewport:   cliViewport(cfg.ViewportWidth),
		Navigator:  a.navigator,
		Modal:      a.modal,
		Breakpoint: cfg.MobileBreakpoint,
	})
	onUnauthorized = a.expiry.HandleExpired
	a.stopResetWatch = a.expiry.ResetOnLogin(a.session)

	a.bridge = oauth.NewBridge(a.mailbox)
	a.initiator = oauth.NewInitiator(a.api, a.session, a.mailbox)

	if err := a.session.Hydrate(); err != nil {
		log.Warn().Err(err).Msg("stored session could not be restored, starting logged out")
	}
	return a, nil
}

func (a *app) Close() {
	a.stopResetWatch()
	a.session.Close()
	if err := a.kv.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close session store")
	}
}

// providerConfig returns the client registration for p.
func (a *app) providerConfig(p oauth.Provider) oauth.ProviderConfig {
	switch p {
	case oauth.Google:
		return oauth.ProviderConfig{ClientID: a.cfg.GoogleClientID}
	case oauth.Facebook:
		return oauth.ProviderConfig{ClientID: a.cfg.FacebookClientID}
	default:
		return oauth.ProviderConfig{BotID: a.cfg.TelegramBotID, Origin: a.cfg.AppOrigin}
	}
}

func (a *app) redirectURI(p oauth.Provider) string {
	return a.cfg.AppOrigin + "/callback/" + url.PathEscape(string(p))
}

func loadDeviceID(kv storage.KV) (string, error) {
	id, ok, err := kv.Get(deviceIDKey)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.New().String()
	if err := kv.Set(deviceIDKey, id); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	return id, nil
}
