package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry routes prefix commands to their handlers. Lookups resolve both
// canonical names and aliases, case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Command
	aliases map[string]string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName:  make(map[string]*Command),
		aliases: make(map[string]string),
		logger:  logger.With("component", "commands"),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a command. A duplicate name, or a name colliding with an
// existing alias, is an error. Colliding aliases are skipped with a warning
// so one bad alias cannot block an otherwise valid command.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command is nil")
	}
	if cmd.Name == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command handler is required")
	}

	name := normalizeName(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("command %q already registered", name)
	}
	if owner, taken := r.aliases[name]; taken {
		return fmt.Errorf("command name %q conflicts with alias for %q", name, owner)
	}

	r.byName[name] = cmd
	for _, alias := range cmd.Aliases {
		a := normalizeName(alias)
		if a == "" || a == name {
			continue
		}
		if _, taken := r.byName[a]; taken {
			r.logger.Warn("alias conflicts with command", "alias", a, "command", name)
			continue
		}
		if _, taken := r.aliases[a]; taken {
			r.logger.Warn("alias already registered", "alias", a, "command", name)
			continue
		}
		r.aliases[a] = name
	}

	r.logger.Debug("registered command", "name", name, "aliases", cmd.Aliases)
	return nil
}

// Unregister removes a command and its aliases. It reports whether the
// command was present.
func (r *Registry) Unregister(name string) bool {
	name = normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.byName[name]
	if !ok {
		return false
	}
	for _, alias := range cmd.Aliases {
		delete(r.aliases, normalizeName(alias))
	}
	delete(r.byName, name)
	r.logger.Debug("unregistered command", "name", name)
	return true
}

// Get resolves a name or alias to its command.
func (r *Registry) Get(name string) (*Command, bool) {
	name = normalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if cmd, ok := r.byName[name]; ok {
		return cmd, true
	}
	if canonical, ok := r.aliases[name]; ok {
		cmd, ok := r.byName[canonical]
		return cmd, ok
	}
	return nil, false
}

// List returns every registered command sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]*Command, 0, len(r.byName))
	for _, cmd := range r.byName {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ListByCategory groups the non-hidden commands by category for help output.
// Commands without a category land under "general".
func (r *Registry) ListByCategory() map[string][]*Command {
	grouped := make(map[string][]*Command)
	for _, cmd := range r.List() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "general"
		}
		grouped[category] = append(grouped[category], cmd)
	}
	return grouped
}

// Names returns the sorted canonical command names, without aliases.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute resolves and runs a command, enforcing its permission flags against
// the invocation first. Permission refusals come back as a user-facing Result
// rather than an error; an unknown command is an error so the caller can
// decide whether to stay silent.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv == nil {
		return nil, fmt.Errorf("invocation is nil")
	}

	cmd, ok := r.Get(inv.Name)
	if !ok {
		return nil, fmt.Errorf("command %q not found", inv.Name)
	}

	if cmd.AdminOnly && !inv.IsAdmin {
		return &Result{
			Error:   "You do not have permission to use this command.",
			Private: true,
		}, nil
	}
	if cmd.SupportOnly && !inv.IsSupport && !inv.IsAdmin {
		return &Result{
			Error:   "Only support staff can use this command.",
			Private: true,
		}, nil
	}
	if !cmd.AcceptsArgs && strings.TrimSpace(inv.Args) != "" {
		return &Result{
			Error: fmt.Sprintf("Command %s does not accept arguments.", cmd.Name),
		}, nil
	}

	inv.Command = cmd
	return cmd.Handler(ctx, inv)
}
