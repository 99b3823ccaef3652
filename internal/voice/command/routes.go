package command

import (
	"slices"
	"strings"
)

// Route is one navigation target with the phrases that select it.
type Route struct {
	Path    string   `yaml:"path"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// DefaultRoutes returns the built-in navigation table. Order matters: the
// first route with a matching alias wins.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/", Name: "Home", Aliases: []string{"home", "dashboard", "main page", "start page"}},
		{Path: "/tasks", Name: "Tasks", Aliases: []string{"tasks", "task", "task list", "to do list", "todo list", "my tasks"}},
		{Path: "/homework", Name: "Homework", Aliases: []string{"homework", "assignments", "assignment", "school work"}},
		{Path: "/journal", Name: "Journal", Aliases: []string{"journal", "diary"}},
		{Path: "/mindfulness", Name: "Mindfulness", Aliases: []string{"mindfulness", "meditation page", "relax", "calm down"}},
		{Path: "/calendar", Name: "Calendar", Aliases: []string{"calendar", "schedule", "agenda"}},
		{Path: "/focus", Name: "Focus Timer", Aliases: []string{"focus timer", "focus mode", "timer", "pomodoro"}},
		{Path: "/rewards", Name: "Rewards", Aliases: []string{"rewards", "points", "achievements", "badges"}},
		{Path: "/settings", Name: "Settings", Aliases: []string{"settings", "preferences", "options"}},
	}
}

// MergeRoutes overlays extra onto base. A route whose path already exists
// replaces the base entry in place; new paths are appended in order.
func MergeRoutes(base, extra []Route) []Route {
	out := slices.Clone(base)
	for _, r := range extra {
		if i := slices.IndexFunc(out, func(b Route) bool { return b.Path == r.Path }); i >= 0 {
			out[i] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

// contains reports whether phrase occurs in text on word boundaries. Both
// arguments are expected to be normalised.
func contains(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
