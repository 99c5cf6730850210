package selector

import (
	"chat-autopilot/internal/config"
	"errors"
	"fmt"
	"slices"
)

type Target string

const (
	TargetLoginInput       Target = "login_input"
	TargetPasswordInput    Target = "password_input"
	TargetSubmitControl    Target = "submit_control"
	TargetAuthShell        Target = "auth_shell"
	TargetChallenge        Target = "challenge"
	TargetDialogEntry      Target = "dialog_entry"
	TargetUnreadIndicator  Target = "unread_indicator"
	TargetDialogActivation Target = "dialog_activation"
	TargetMessageInput     Target = "message_input"
	TargetSendControl      Target = "send_control"
	TargetMessageItem      Target = "message_item"
	TargetProfileLink      Target = "profile_link"
	TargetLikeControl      Target = "like_control"
)

// Targets lists every target a Table must carry.
var Targets = []Target{
	TargetLoginInput,
	TargetPasswordInput,
	TargetSubmitControl,
	TargetAuthShell,
	TargetChallenge,
	TargetDialogEntry,
	TargetUnreadIndicator,
	TargetDialogActivation,
	TargetMessageInput,
	TargetSendControl,
	TargetMessageItem,
	TargetProfileLink,
	TargetLikeControl,
}

// Strategy is the ordered list of locators for one target. Singular targets
// expect one element; extra matches are logged and the first is used.
type Strategy struct {
	Target   Target
	Singular bool
	Locators []Locator
}

func (s Strategy) Labels() []string {
	labels := make([]string, len(s.Locators))
	for i, l := range s.Locators {
		labels[i] = l.Label
	}

	return labels
}

// Table is built once and never changes afterwards.
type Table struct {
	strategies map[Target]Strategy
}

func NewTable(strategies ...Strategy) (*Table, error) {
	t := &Table{strategies: make(map[Target]Strategy, len(strategies))}

	var errs []error
	for _, s := range strategies {
		if _, dup := t.strategies[s.Target]; dup {
			errs = append(errs, fmt.Errorf("target %s declared twice", s.Target))
			continue
		}
		if len(s.Locators) == 0 {
			errs = append(errs, fmt.Errorf("target %s has no locators", s.Target))
			continue
		}

		seen := make(map[string]struct{}, len(s.Locators))
		locators := make([]Locator, 0, len(s.Locators))
		for _, l := range s.Locators {
			if err := l.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("target %s: %w", s.Target, err))
				continue
			}
			if _, ok := seen[l.Label]; ok {
				continue
			}
			seen[l.Label] = struct{}{}
			locators = append(locators, l)
		}

		s.Locators = locators
		t.strategies[s.Target] = s
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return t, nil
}

// Strategy returns a copy of the strategy for target.
func (t *Table) Strategy(target Target) (Strategy, bool) {
	s, ok := t.strategies[target]
	if !ok {
		return Strategy{}, false
	}
	s.Locators = slices.Clone(s.Locators)

	return s, true
}

// MustStrategy is Strategy for targets guaranteed by NewDefaultTable.
func (t *Table) MustStrategy(target Target) Strategy {
	s, ok := t.Strategy(target)
	if !ok {
		panic(fmt.Sprintf("selector: no strategy for target %s", target))
	}

	return s
}

func (t *Table) Targets() []Target {
	out := make([]Target, 0, len(t.strategies))
	for _, target := range Targets {
		if _, ok := t.strategies[target]; ok {
			out = append(out, target)
		}
	}

	return out
}

func NewTableFromConfig(cfg *config.Config) (*Table, error) {
	return NewDefaultTable(cfg.LocaleConfig)
}

// NewDefaultTable builds the locator table for the target application from
// the configured locale fragments.
func NewDefaultTable(locale *config.LocaleConfig) (*Table, error) {
	var (
		submit, messageInput, send, like, challenge []Locator
	)

	submit = append(submit,
		Attribute("button", "type", OpEquals, "submit"),
		Attribute("input", "type", OpEquals, "submit"),
	)
	for _, label := range locale.SubmitLabels {
		submit = append(submit, Text("button", label, false))
	}

	for _, p := range locale.MessagePlaceholders {
		messageInput = append(messageInput,
			Attribute("textarea", "placeholder", OpContains, p),
			Attribute("input", "placeholder", OpContains, p),
		)
	}
	messageInput = append(messageInput,
		Attribute("", "contenteditable", OpEquals, "true"),
		Structural("textarea", 1),
	)

	for _, label := range locale.SendLabels {
		send = append(send, Attribute("button", "aria-label", OpContains, label))
	}
	for _, label := range locale.SendLabels {
		send = append(send, Text("button", label, false))
	}
	send = append(send,
		Attribute("button", "class", OpContains, "send"),
		Attribute("", "data-testid", OpContains, "send"),
	)

	for _, label := range locale.LikeLabels {
		like = append(like, Attribute("button", "aria-label", OpContains, label))
	}
	like = append(like,
		Attribute("button", "class", OpContains, "like"),
		Structural(`[class*="like"] button`, 1),
		Structural(`[data-testid*="like"] button`, 1),
		Attribute("svg", "class", OpContains, "heart"),
		Attribute("", "class", OpContains, "heart"),
	)

	for _, provider := range locale.ChallengeProviders {
		challenge = append(challenge, Attribute("iframe", "src", OpContains, provider))
	}
	challenge = append(challenge,
		Attribute("div", "class", OpContains, "captcha"),
		Attribute("div", "id", OpContains, "captcha"),
	)

	return NewTable(
		Strategy{
			Target:   TargetLoginInput,
			Singular: true,
			Locators: []Locator{
				Attribute("input", "name", OpEquals, "login"),
				Attribute("input", "name", OpEquals, "email"),
				Attribute("input", "type", OpEquals, "email"),
				Attribute("input", "autocomplete", OpEquals, "username"),
			},
		},
		Strategy{
			Target:   TargetPasswordInput,
			Singular: true,
			Locators: []Locator{
				Attribute("input", "name", OpEquals, "password"),
				Attribute("input", "type", OpEquals, "password"),
			},
		},
		Strategy{Target: TargetSubmitControl, Singular: true, Locators: submit},
		Strategy{
			Target: TargetAuthShell,
			Locators: []Locator{
				Attribute("a", "href", OpContains, "/feed"),
				Attribute("a", "href", OpContains, "/rating"),
				Attribute("a", "href", OpContains, "/search"),
			},
		},
		Strategy{Target: TargetChallenge, Locators: challenge},
		Strategy{
			Target: TargetDialogEntry,
			Locators: []Locator{
				Attribute("div", "role", OpEquals, "listitem"),
				Attribute("", "class", OpContains, "message-item"),
				Attribute("", "class", OpContains, "contact-item"),
				Structural("li", 1),
			},
		},
		Strategy{
			Target: TargetUnreadIndicator,
			Locators: []Locator{
				Attribute("span", "class", OpContains, "unread"),
				Attribute("span", "class", OpContains, "badge"),
				Attribute("", "class", OpContains, "counter"),
			},
		},
		Strategy{
			Target:   TargetDialogActivation,
			Singular: true,
			Locators: []Locator{
				Attribute("a", "href", OpPresent, ""),
				Structural("button", 1),
			},
		},
		Strategy{Target: TargetMessageInput, Singular: true, Locators: messageInput},
		Strategy{Target: TargetSendControl, Singular: true, Locators: send},
		Strategy{
			Target: TargetMessageItem,
			Locators: []Locator{
				Attribute("", "class", OpContains, "message"),
				Attribute("", "class", OpContains, "msg"),
				Attribute("div", "role", OpEquals, "article"),
			},
		},
		Strategy{
			Target: TargetProfileLink,
			Locators: []Locator{
				Attribute("a", "href", OpContains, "/u/"),
				Attribute("a", "href", OpContains, "/profile"),
				Attribute("a", "href", OpContains, "/user"),
			},
		},
		Strategy{Target: TargetLikeControl, Singular: true, Locators: like},
	)
}
