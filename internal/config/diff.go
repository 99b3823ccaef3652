package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CommandsChanged is set when routes or fuzzy navigation changed; the
	// interpreter must be rebuilt.
	CommandsChanged bool

	// RecognitionChanged is set when continuous listening, the greeting or
	// keyword boosting changed.
	RecognitionChanged bool

	AutoDictationChanged bool

	// NotifyChanged is set when desktop notifications were switched on or
	// off.
	NotifyChanged bool
}

// Any reports whether anything hot-reloadable changed.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.CommandsChanged || d.RecognitionChanged || d.AutoDictationChanged || d.NotifyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Commands.FuzzyNavigation != new.Commands.FuzzyNavigation ||
		!slices.EqualFunc(old.Commands.Routes, new.Commands.Routes, routeEqual) {
		d.CommandsChanged = true
	}

	or, nr := old.Recognition, new.Recognition
	if or.Continuous != nr.Continuous || or.Greeting != nr.Greeting || or.KeywordBoost != nr.KeywordBoost {
		d.RecognitionChanged = true
	}

	d.AutoDictationChanged = old.Dictation.AutoStart != new.Dictation.AutoStart
	d.NotifyChanged = old.Notify.Desktop != new.Notify.Desktop
	return d
}

func routeEqual(a, b RouteConfig) bool {
	return a.Path == b.Path && a.Name == b.Name && slices.Equal(a.Aliases, b.Aliases)
}
