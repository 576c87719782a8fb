package storefront

import "regexp"

// Step is where the remote login/creation flow currently sits.
type Step int

const (
	StepUnknown Step = iota
	// StepEmail: the account lookup form is shown.
	StepEmail
	// StepPassword: the password form is shown.
	StepPassword
	// StepChallenge: a visual challenge blocks the flow.
	StepChallenge
	// StepCode: the one-time-code form is shown.
	StepCode
	// StepLoggedIn: authentication finished, store creation can proceed.
	StepLoggedIn
)

func (s Step) String() string {
	switch s {
	case StepEmail:
		return "email"
	case StepPassword:
		return "password"
	case StepChallenge:
		return "challenge"
	case StepCode:
		return "code"
	case StepLoggedIn:
		return "logged_in"
	}
	return "unknown"
}

// PageFacts are the observations classification runs on. They are collected
// from the live page in one evaluation so the classifier itself stays pure
// and testable.
type PageFacts struct {
	URL               string `json:"url"`
	HasEmailField     bool   `json:"hasEmailField"`
	HasPasswordField  bool   `json:"hasPasswordField"`
	HasCodeField      bool   `json:"hasCodeField"`
	HasChallengeFrame bool   `json:"hasChallengeFrame"`
	LoggedIn          bool   `json:"loggedIn"`
}

var (
	challengeURLPattern = regexp.MustCompile(`captcha_failed=true|captcha=true`)
	codeURLPattern      = regexp.MustCompile(`(?i)two[-_]?factor|verification_code|mfa`)
)

// Classify maps page observations to a flow step. A challenge only counts
// when no password field is available: the remote flow sometimes renders
// dormant challenge widgets next to a perfectly usable login form, and
// those must not pause the automation.
func Classify(f PageFacts) Step {
	challengeSignal := challengeURLPattern.MatchString(f.URL) || f.HasChallengeFrame
	if challengeSignal && !f.HasPasswordField && !f.HasCodeField {
		return StepChallenge
	}

	if f.HasCodeField || codeURLPattern.MatchString(f.URL) {
		return StepCode
	}

	if f.HasPasswordField {
		return StepPassword
	}

	if f.HasEmailField {
		return StepEmail
	}

	if f.LoggedIn {
		return StepLoggedIn
	}

	return StepUnknown
}
