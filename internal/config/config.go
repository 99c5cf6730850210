package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"

	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// Config is built once at startup and passed by pointer; nothing mutates it afterwards.
type Config struct {
	AppConfig     *AppConfig
	BrowserConfig *BrowserConfig
	TargetConfig  *TargetConfig
	LocaleConfig  *LocaleConfig
	TimingConfig  *TimingConfig
	SessionConfig *SessionConfig
}

type AppConfig struct {
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	Debug         bool          `envconfig:"DEBUG" default:"false"`
	LogFile       string        `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int           `envconfig:"LOG_MAX_SIZE_MB" default:"10"`
	LogMaxBackups int           `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	LogMaxAgeDays int           `envconfig:"LOG_MAX_AGE_DAYS" default:"7"`
	TraceExporter string        `envconfig:"TRACE_EXPORTER" default:"none"`
	RunTimeout    time.Duration `envconfig:"RUN_TIMEOUT" default:"5m"`
}

type BrowserConfig struct {
	Engine         string `envconfig:"BROWSER_ENGINE" default:"playwright"`
	Headless       bool   `envconfig:"BROWSER_HEADLESS" default:"true"`
	SlowMo         int    `envconfig:"BROWSER_SLOW_MO" default:"100"`
	UserDataDir    string `envconfig:"BROWSER_USER_DATA_DIR"`
	UserAgent      string `envconfig:"BROWSER_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	ViewportWidth  int    `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int    `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"720"`
	Locale         string `envconfig:"BROWSER_LOCALE" default:"ru-RU"`
	Timezone       string `envconfig:"BROWSER_TIMEZONE" default:"Europe/Moscow"`
	InstallDriver  bool   `envconfig:"BROWSER_INSTALL_DRIVER" default:"true"`
}

type TargetConfig struct {
	BaseURL         string `envconfig:"TARGET_BASE_URL" default:"https://www.mamba.ru"`
	AuthPath        string `envconfig:"TARGET_AUTH_PATH" default:"/auth"`
	ContactListPath string `envconfig:"TARGET_CONTACT_LIST_PATH" default:"/contact/list"`
	DiscoveryPath   string `envconfig:"TARGET_DISCOVERY_PATH" default:"/rating"`
	Login           string `envconfig:"TARGET_LOGIN"`
	Password        string `envconfig:"TARGET_PASSWORD"`
	ReplyText       string `envconfig:"TARGET_REPLY_TEXT" default:"Привет, спасибо за сообщение!"`

	AuthURLPattern         string `envconfig:"TARGET_AUTH_URL_PATTERN" default:"/(auth|login)([/?#]|$)"`
	ContactListURLPattern  string `envconfig:"TARGET_CONTACT_LIST_URL_PATTERN" default:"/contacts?(/list)?([/?#]|$)"`
	ConversationURLPattern string `envconfig:"TARGET_CONVERSATION_URL_PATTERN" default:"/chats/[^/?#]+"`
	DiscoveryURLPattern    string `envconfig:"TARGET_DISCOVERY_URL_PATTERN" default:"/(rating|search|profile|u)([/?#]|$)"`
}

// LocaleConfig holds the text fragments the heuristic locators match against.
type LocaleConfig struct {
	MessagePlaceholders []string `envconfig:"LOCALE_MESSAGE_PLACEHOLDERS" default:"Message,Сообщение"`
	SendLabels          []string `envconfig:"LOCALE_SEND_LABELS" default:"Send,Отправить"`
	SubmitLabels        []string `envconfig:"LOCALE_SUBMIT_LABELS" default:"Войти,Log in,Sign in"`
	LikeLabels          []string `envconfig:"LOCALE_LIKE_LABELS" default:"Like,Лайк"`
	ChallengeProviders  []string `envconfig:"LOCALE_CHALLENGE_PROVIDERS" default:"recaptcha,hcaptcha,geetest,turnstile,captcha"`
}

type TimingConfig struct {
	NavigationTimeout time.Duration `envconfig:"TIMING_NAVIGATION_TIMEOUT" default:"30s"`
	ElementTimeout    time.Duration `envconfig:"TIMING_ELEMENT_TIMEOUT" default:"15s"`
	LocatorTimeout    time.Duration `envconfig:"TIMING_LOCATOR_TIMEOUT" default:"2s"`
	VerifyTimeout     time.Duration `envconfig:"TIMING_VERIFY_TIMEOUT" default:"5s"`
	PollInterval      time.Duration `envconfig:"TIMING_POLL_INTERVAL" default:"200ms"`
	MaxPollInterval   time.Duration `envconfig:"TIMING_MAX_POLL_INTERVAL" default:"2s"`
	BackoffFactor     float64       `envconfig:"TIMING_BACKOFF_FACTOR" default:"1.5"`
	InteractionDelay  time.Duration `envconfig:"TIMING_INTERACTION_DELAY" default:"1s"`
	PageLoadDelay     time.Duration `envconfig:"TIMING_PAGE_LOAD_DELAY" default:"5s"`
	SettleDelay       time.Duration `envconfig:"TIMING_SETTLE_DELAY" default:"2s"`
	RecheckDelay      time.Duration `envconfig:"TIMING_RECHECK_DELAY" default:"1s"`
	DialogScanLimit   int           `envconfig:"DIALOG_SCAN_LIMIT" default:"10"`
}

type SessionConfig struct {
	StorePath      string `envconfig:"SESSION_STORE_PATH"`
	PersistCookies bool   `envconfig:"SESSION_PERSIST_COOKIES" default:"true"`
}

func GetConfig() (*Config, error) {
	conf, err := Load()
	if err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// Load reads the environment without requiring credentials. Offline tools use
// it directly; a run goes through GetConfig.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	conf.LocaleConfig.normalize()

	if err := conf.ValidateStatic(); err != nil {
		return nil, err
	}

	return &conf, nil
}

// Validate checks everything a run needs before a browser is started.
func (c *Config) Validate() error {
	var errs []error

	if c.TargetConfig.Login == "" {
		errs = append(errs, errors.New("TARGET_LOGIN is required"))
	}
	if c.TargetConfig.Password == "" {
		errs = append(errs, errors.New("TARGET_PASSWORD is required"))
	}
	if err := c.ValidateStatic(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateStatic checks the parts of the config that do not depend on credentials.
func (c *Config) ValidateStatic() error {
	var errs []error

	if u, err := url.Parse(c.TargetConfig.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("TARGET_BASE_URL %q is not an absolute URL", c.TargetConfig.BaseURL))
	}

	for name, pattern := range map[string]string{
		"TARGET_AUTH_URL_PATTERN":         c.TargetConfig.AuthURLPattern,
		"TARGET_CONTACT_LIST_URL_PATTERN": c.TargetConfig.ContactListURLPattern,
		"TARGET_CONVERSATION_URL_PATTERN": c.TargetConfig.ConversationURLPattern,
		"TARGET_DISCOVERY_URL_PATTERN":    c.TargetConfig.DiscoveryURLPattern,
	} {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch c.BrowserConfig.Engine {
	case EnginePlaywright, EngineChromedp:
	default:
		errs = append(errs, fmt.Errorf("BROWSER_ENGINE %q is not supported", c.BrowserConfig.Engine))
	}

	switch c.AppConfig.TraceExporter {
	case TraceExporterNone, TraceExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("TRACE_EXPORTER %q is not supported", c.AppConfig.TraceExporter))
	}

	t := c.TimingConfig
	for name, d := range map[string]time.Duration{
		"TIMING_NAVIGATION_TIMEOUT": t.NavigationTimeout,
		"TIMING_ELEMENT_TIMEOUT":    t.ElementTimeout,
		"TIMING_LOCATOR_TIMEOUT":    t.LocatorTimeout,
		"TIMING_POLL_INTERVAL":      t.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if t.BackoffFactor < 1 {
		errs = append(errs, errors.New("TIMING_BACKOFF_FACTOR must be >= 1"))
	}
	if t.DialogScanLimit <= 0 {
		errs = append(errs, errors.New("DIALOG_SCAN_LIMIT must be positive"))
	}

	return errors.Join(errs...)
}

// URL joins a configured path onto the base URL.
func (t *TargetConfig) URL(path string) string {
	return strings.TrimRight(t.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (l *LocaleConfig) normalize() {
	l.MessagePlaceholders = compact(l.MessagePlaceholders)
	l.SendLabels = compact(l.SendLabels)
	l.SubmitLabels = compact(l.SubmitLabels)
	l.LikeLabels = compact(l.LikeLabels)
	l.ChallengeProviders = compact(l.ChallengeProviders)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
