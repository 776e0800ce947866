package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Resolver resolves selectors to node presence.
type Resolver struct {
	Presence ports.Broker
	Config   Config
}

// ResolveNavigator resolves a navigator selector using config defaults.
func (r Resolver) ResolveNavigator(ctx context.Context, selector string) (mp.Presence, error) {
	return r.resolveByKind(ctx, selector, mp.KindNavigator, r.Config.Defaults.Navigator)
}

func (r Resolver) resolveByKind(ctx context.Context, selector string, kind string, def string) (mp.Presence, error) {
	if selector == "" {
		selector = def
	}

	presence, err := r.Presence.ListPresence(ctx)
	if err != nil {
		return mp.Presence{}, WrapError(ExitRuntime, "list presence", err)
	}

	filtered := filterPresenceByKind(presence, kind)
	if selector == "" {
		if len(filtered) == 1 {
			return filtered[0], nil
		}
		if len(filtered) == 0 {
			return mp.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no %s online", kind)}
		}
		return mp.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("selector required: %s", suggestionList(filtered))}
	}
	return resolveSelector(selector, filtered, r.Config.Aliases)
}

func filterPresenceByKind(presence []mp.Presence, kind string) []mp.Presence {
	if kind == "" {
		return presence
	}
	out := make([]mp.Presence, 0, len(presence))
	for _, p := range presence {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func resolveSelector(selector string, presence []mp.Presence, aliases map[string]string) (mp.Presence, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return mp.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required"}
	}

	if strings.HasPrefix(selector, "mp:") {
		return resolveExact(selector, presence)
	}

	if alias, ok := aliases[selector]; ok {
		if strings.HasPrefix(alias, "mp:") {
			return resolveExact(alias, presence)
		}
		selector = alias
	}

	matches := make([]mp.Presence, 0)
	for _, p := range presence {
		if strings.EqualFold(p.Name, selector) || strings.EqualFold(p.NodeID, selector) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return mp.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no match for %q", selector)}
	default:
		return mp.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous selector %q: %s", selector, suggestionList(matches))}
	}
}

func resolveExact(nodeID string, presence []mp.Presence) (mp.Presence, error) {
	for _, p := range presence {
		if p.NodeID == nodeID {
			return p, nil
		}
	}
	return mp.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("node not found: %s", nodeID)}
}

func suggestionList(matches []mp.Presence) string {
	names := make([]string, 0, len(matches))
	for _, p := range matches {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.NodeID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
