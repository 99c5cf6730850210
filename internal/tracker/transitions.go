package tracker

import (
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"fmt"
	"regexp"
)

var transitions = map[entity.Phase][]entity.Phase{
	entity.PhaseUnauthenticated: {
		entity.PhaseUnauthenticated,
		entity.PhaseAuthenticating,
	},
	// A login may land on any signed-in surface.
	entity.PhaseAuthenticating: {
		entity.PhaseUnauthenticated,
		entity.PhaseAuthenticating,
		entity.PhaseAuthenticated,
		entity.PhaseOnContactList,
		entity.PhaseOnConversation,
		entity.PhaseOnDiscoveryPage,
	},
	entity.PhaseAuthenticated: {
		entity.PhaseUnauthenticated,
		entity.PhaseAuthenticated,
		entity.PhaseOnContactList,
		entity.PhaseOnDiscoveryPage,
	},
	entity.PhaseOnContactList:   authenticatedSurfaces,
	entity.PhaseOnConversation:  authenticatedSurfaces,
	entity.PhaseOnDiscoveryPage: authenticatedSurfaces,
}

var authenticatedSurfaces = []entity.Phase{
	entity.PhaseUnauthenticated,
	entity.PhaseAuthenticated,
	entity.PhaseOnContactList,
	entity.PhaseOnConversation,
	entity.PhaseOnDiscoveryPage,
}

// Reachable reports whether the transition table allows moving from one phase to another.
func Reachable(from, to entity.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}

	return false
}

// Patterns are the URL rules that, together with element evidence, define each phase.
type Patterns struct {
	Auth         *regexp.Regexp
	ContactList  *regexp.Regexp
	Conversation *regexp.Regexp
	Discovery    *regexp.Regexp
}

func CompilePatterns(cfg *config.TargetConfig) (Patterns, error) {
	var (
		p   Patterns
		err error
	)

	for _, c := range []struct {
		dst     **regexp.Regexp
		name    string
		pattern string
	}{
		{&p.Auth, "auth", cfg.AuthURLPattern},
		{&p.ContactList, "contact list", cfg.ContactListURLPattern},
		{&p.Conversation, "conversation", cfg.ConversationURLPattern},
		{&p.Discovery, "discovery", cfg.DiscoveryURLPattern},
	} {
		if *c.dst, err = regexp.Compile(c.pattern); err != nil {
			return Patterns{}, fmt.Errorf("compile %s url pattern: %w", c.name, err)
		}
	}

	return p, nil
}
