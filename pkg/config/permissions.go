package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/a-essam23/taskpulse/pkg/state"
)

var registry = map[string]state.Permission{
	"collaborate": state.PermCollaborate,
	"presence":    state.PermObservePresence,
	"reports":     state.PermReceiveReports,
}

// LookupPermission resolves a permission name used in configuration.
func LookupPermission(name string) (state.Permission, error) {
	perm, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("permission '%s' not found", name)
	}
	return perm, nil
}

// CompileTopicPolicy applies the configured gates on top of the built-in policy. Only the
// server's own topics can be named; a gate on a topic nothing joins is a configuration error.
func CompileTopicPolicy(topics map[string]string) (state.TopicPolicy, error) {
	policy := state.DefaultTopicPolicy()
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, known := policy[name]; !known {
			return nil, fmt.Errorf("unknown topic '%s'", name)
		}
		perm, err := LookupPermission(topics[name])
		if err != nil {
			return nil, fmt.Errorf("topic '%s': %w", name, err)
		}
		policy[name] = perm
	}
	return policy, nil
}
