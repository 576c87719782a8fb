package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/storeforge/storeforge/pkg/provision"
)

// Selectors observed in the remote login flow. The OTP selector list is
// deliberately broad: the form markup varies between rollouts.
const (
	emailSelector     = "input#account_email"
	passwordSelector  = "input#account_password"
	submitSelector    = `button[type="submit"]`
	otpSelector       = `input#account_otp, input[name*="otp" i], input[autocomplete="one-time-code"]`
	storeNameSelector = "input#store_name, input[name='store_name']"
)

// pageFactsJS collects every observation the classifier needs in one round
// trip to the page.
const pageFactsJS = `() => {
	const challengeSelectors = [
		'[class*="captcha"]', '[id*="captcha"]',
		'iframe[src*="captcha"]', 'iframe[src*="recaptcha"]',
		'.g-recaptcha', '[data-sitekey]', 'form[action*="captcha"]',
	];
	return {
		url: location.href,
		hasEmailField: !!document.querySelector('input#account_email'),
		hasPasswordField: !!document.querySelector('input#account_password'),
		hasCodeField: !!document.querySelector('input#account_otp, input[name*="otp" i], input[autocomplete="one-time-code"]'),
		hasChallengeFrame: challengeSelectors.some((s) => !!document.querySelector(s)),
		loggedIn: /\/current(\/|$)|\/stores/.test(location.pathname),
	};
}`

// Config holds the credentials and knobs for the browser-driven agent.
type Config struct {
	Email    string
	Password string
	// LoginURL is the entry point of the partner account login flow.
	LoginURL string
	// CreateURL is the development store creation form.
	CreateURL string
	// StoreDomainSuffix is appended to the target id when the created
	// domain cannot be read off the page.
	StoreDomainSuffix string
	Headless          bool
	NoSandbox         bool
	ChromePath        string
	// NavigationTimeout bounds individual page loads.
	NavigationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = "https://accounts.shopify.com/lookup"
	}
	if c.CreateURL == "" {
		c.CreateURL = "https://partners.shopify.com/current/stores/new?store_type=dev_store"
	}
	if c.StoreDomainSuffix == "" {
		c.StoreDomainSuffix = ".myshopify.com"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	return c
}

// Validate checks that the agent can run at all.
func (c Config) Validate() error {
	if c.Email == "" || c.Password == "" {
		return errors.New("storefront agent requires partner email and password")
	}
	return nil
}

// Agent drives one provisioning attempt through a real browser. It holds
// the launched browser between Start/Resume calls and releases it in
// Cancel, which the orchestrator invokes on every terminal path.
type Agent struct {
	cfg    Config
	logger zerolog.Logger

	launcher  *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	target    string
	closeOnce sync.Once
}

// New creates an unstarted agent.
func New(cfg Config, logger zerolog.Logger) *Agent {
	return &Agent{
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "storefront_agent").Logger(),
	}
}

// Factory returns a provision.AgentFactory producing one browser-driven
// agent per session.
func Factory(cfg Config, logger zerolog.Logger) provision.AgentFactory {
	return func() provision.Agent {
		return New(cfg, logger)
	}
}

// Start launches the browser, walks the login flow as far as it goes
// unattended, and reports the first human-verification interruption (or
// completion).
func (a *Agent) Start(ctx context.Context, targetID string) provision.Signal {
	if err := a.cfg.Validate(); err != nil {
		return provision.Errored(provision.ReasonAgentFailure, err.Error())
	}

	if err := a.launch(ctx); err != nil {
		return a.errSignal(ctx, fmt.Errorf("launch browser: %w", err))
	}

	a.logger.Info().Str("target_id", targetID).Str("url", a.cfg.LoginURL).Msg("Opening login flow")
	if err := a.navigate(ctx, a.cfg.LoginURL); err != nil {
		return a.errSignal(ctx, fmt.Errorf("open login page: %w", err))
	}

	a.target = targetID
	return a.advance(ctx)
}

// ResumeWithChallengeAck re-inspects the page after the human solved the
// visual challenge and continues the flow.
func (a *Agent) ResumeWithChallengeAck(ctx context.Context) provision.Signal {
	if a.page == nil {
		return provision.Errored(provision.ReasonTransportFailure, "browser session is gone")
	}
	a.logger.Info().Msg("Challenge acknowledged, continuing flow")
	return a.advance(ctx)
}

// ResumeWithCode types the one-time code into the verification form. Still
// sitting on the code form after submission means the code was rejected.
func (a *Agent) ResumeWithCode(ctx context.Context, code string) provision.Signal {
	if a.page == nil {
		return provision.Errored(provision.ReasonTransportFailure, "browser session is gone")
	}

	page := a.page.Context(ctx)
	found, input, err := page.Has(otpSelector)
	if err != nil {
		return a.errSignal(ctx, fmt.Errorf("locate code input: %w", err))
	}
	if !found {
		// The form may have expired into a challenge or back to login.
		return a.advance(ctx)
	}

	if err := input.SelectAllText(); err == nil {
		_ = input.Input("")
	}
	if err := input.Input(code); err != nil {
		return a.errSignal(ctx, fmt.Errorf("enter code: %w", err))
	}
	if err := a.submit(ctx); err != nil {
		return a.errSignal(ctx, fmt.Errorf("submit code: %w", err))
	}

	facts, err := a.inspect(ctx)
	if err != nil {
		return a.errSignal(ctx, err)
	}
	if Classify(facts) == StepCode {
		a.logger.Info().Msg("Still on verification form, code rejected")
		return provision.InvalidCode()
	}
	return a.advance(ctx)
}

// Cancel closes the page and browser. Idempotent; safe to call before
// Start and after any terminal signal.
func (a *Agent) Cancel(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.page != nil {
			_ = a.page.Close()
		}
		if a.browser != nil {
			_ = a.browser.Close()
		}
		if a.launcher != nil {
			a.launcher.Cleanup()
		}
		a.logger.Debug().Msg("Browser session released")
	})
	return nil
}

// Screenshot captures the current page so the live view can stream the
// challenge to a human.
func (a *Agent) Screenshot(ctx context.Context) ([]byte, error) {
	if a.page == nil {
		return nil, errors.New("no live page")
	}
	return a.page.Context(ctx).Screenshot(false, nil)
}

// advance walks the flow from wherever the page currently is until it
// either finishes or needs a human. The iteration cap guards against a
// flow that loops between the same forms.
func (a *Agent) advance(ctx context.Context) provision.Signal {
	for attempt := 0; attempt < 5; attempt++ {
		facts, err := a.inspect(ctx)
		if err != nil {
			return a.errSignal(ctx, err)
		}

		step := Classify(facts)
		a.logger.Debug().Str("step", step.String()).Str("url", facts.URL).Msg("Flow step")

		switch step {
		case StepEmail:
			if err := a.fillAndSubmit(ctx, emailSelector, a.cfg.Email); err != nil {
				return a.errSignal(ctx, fmt.Errorf("enter email: %w", err))
			}

		case StepPassword:
			if err := a.fillAndSubmit(ctx, passwordSelector, a.cfg.Password); err != nil {
				return a.errSignal(ctx, fmt.Errorf("enter password: %w", err))
			}

		case StepChallenge:
			ref, _ := gonanoid.New()
			a.logger.Info().Str("url", facts.URL).Msg("Visual challenge detected")
			return provision.NeedsChallenge(ref, facts.URL)

		case StepCode:
			a.logger.Info().Msg("One-time code required")
			return provision.NeedsCode()

		case StepLoggedIn:
			return a.createStore(ctx)

		default:
			return provision.Errored(provision.ReasonAgentFailure,
				fmt.Sprintf("unrecognized flow page: %s", facts.URL))
		}
	}

	return provision.Errored(provision.ReasonAgentFailure, "login flow did not converge")
}

// createStore walks the store-creation form once authentication finished.
func (a *Agent) createStore(ctx context.Context) provision.Signal {
	if err := a.navigate(ctx, a.cfg.CreateURL); err != nil {
		return a.errSignal(ctx, fmt.Errorf("open creation form: %w", err))
	}

	page := a.page.Context(ctx)

	if found, input, err := page.Has(storeNameSelector); err == nil && found {
		if err := input.Input(a.target); err != nil {
			return a.errSignal(ctx, fmt.Errorf("enter store name: %w", err))
		}
		if err := a.submit(ctx); err != nil {
			return a.errSignal(ctx, fmt.Errorf("submit creation form: %w", err))
		}
	}

	domain := a.readDomain(ctx)
	if domain == "" {
		domain = slugify(a.target) + a.cfg.StoreDomainSuffix
	}

	a.logger.Info().Str("domain", domain).Msg("Store created")
	return provision.Done(&provision.Result{
		Domain:   domain,
		AdminURL: "https://" + domain + "/admin",
	})
}

// readDomain tries to read the created store domain off the confirmation
// page; an empty string falls back to the derived domain.
func (a *Agent) readDomain(ctx context.Context) string {
	page := a.page.Context(ctx)
	res, err := page.Eval(`() => {
		const link = document.querySelector('a[href*=".myshopify.com"]');
		if (!link) return '';
		try { return new URL(link.href).hostname; } catch { return ''; }
	}`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (a *Agent) launch(ctx context.Context) error {
	l := launcher.New().
		Headless(a.cfg.Headless).
		NoSandbox(a.cfg.NoSandbox)
	if a.cfg.ChromePath != "" {
		l = l.Bin(a.cfg.ChromePath)
	}

	url, err := l.Launch()
	if err != nil {
		return err
	}
	a.launcher = l

	// The browser outlives the Start call; per-operation contexts are
	// applied on the page, never here.
	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return err
	}
	a.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return err
	}
	a.page = page
	return nil
}

func (a *Agent) navigate(ctx context.Context, url string) error {
	page := a.page.Context(ctx).Timeout(a.cfg.NavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (a *Agent) fillAndSubmit(ctx context.Context, selector, value string) error {
	page := a.page.Context(ctx)
	found, input, err := page.Has(selector)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("element %s not found", selector)
	}
	if err := input.Input(value); err != nil {
		return err
	}
	return a.submit(ctx)
}

func (a *Agent) submit(ctx context.Context) error {
	page := a.page.Context(ctx)
	found, button, err := page.Has(submitSelector)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("submit button not found")
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	// Give the flow a moment to settle; the remote pages swap forms in
	// place without a full navigation.
	page = page.Timeout(a.cfg.NavigationTimeout)
	_ = page.WaitLoad()
	return nil
}

func (a *Agent) inspect(ctx context.Context) (PageFacts, error) {
	page := a.page.Context(ctx)
	res, err := page.Eval(pageFactsJS)
	if err != nil {
		return PageFacts{}, fmt.Errorf("inspect page: %w", err)
	}

	var facts PageFacts
	if err := res.Value.Unmarshal(&facts); err != nil {
		return PageFacts{}, fmt.Errorf("decode page facts: %w", err)
	}
	return facts, nil
}

// errSignal folds an automation error into the protocol: context failures
// are transport problems, everything else is an agent failure.
func (a *Agent) errSignal(ctx context.Context, err error) provision.Signal {
	a.logger.Error().Err(err).Msg("Automation step failed")
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return provision.Errored(provision.ReasonTransportFailure, err.Error())
	}
	return provision.Errored(provision.ReasonAgentFailure, err.Error())
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
