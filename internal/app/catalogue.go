package app

import (
	"maps"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/config"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/command"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dictation"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/phonetic"
)

// BuildInterpreter creates an interpreter over the built-in routes merged
// with the configured ones.
func BuildInterpreter(cc config.CommandsConfig) *command.Interpreter {
	extra := make([]command.Route, 0, len(cc.Routes))
	for _, r := range cc.Routes {
		extra = append(extra, command.Route{Path: r.Path, Name: r.Name, Aliases: r.Aliases})
	}
	opts := []command.Option{command.WithRoutes(command.MergeRoutes(command.DefaultRoutes(), extra))}
	if cc.FuzzyNavigation {
		opts = append(opts, command.WithFuzzyNavigation(phonetic.New()))
	}
	return command.New(opts...)
}

// BuildCatalogue overlays the configured forms onto the built-in catalogue.
// A configured form replaces the built-in form of the same type.
func BuildCatalogue(forms []config.FormConfig) (map[string]dictation.Form, error) {
	out := maps.Clone(dictation.DefaultCatalogue())
	for _, fc := range forms {
		form := dictation.Form{Type: fc.Type, Title: fc.Title}
		if form.Title == "" {
			form.Title = fc.Type
		}
		for _, f := range fc.Fields {
			kind, err := dictation.ParseFieldType(string(f.Kind))
			if err != nil {
				return nil, err
			}
			label := f.Label
			if label == "" {
				label = f.Name
			}
			form.Fields = append(form.Fields, dictation.FieldSpec{
				Name:     f.Name,
				Label:    label,
				Type:     kind,
				Options:  f.Options,
				Required: f.Required,
				Prompt:   f.Prompt,
			})
		}
		out[fc.Type] = form
	}
	return out, nil
}
