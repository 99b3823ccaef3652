package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/app"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/config"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/store/postgres"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/command"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dictation"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/synth"
)

// toolConfig loads the config for the offline tools. A missing file yields
// the built-in defaults.
func toolConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return &config.Config{}, nil
	}
	return cfg, err
}

func interpretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interpret <text>...",
		Short: "Show how a command would be interpreted",
		Long: "Interpret runs each argument through the command grammar, including " +
			"routes added in the config file, and prints the result without speaking or " +
			"touching the UI.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := toolConfig(cmd)
			if err != nil {
				return err
			}
			interp := app.BuildInterpreter(cfg.Commands)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INPUT\tKIND\tTARGET\tFEEDBACK")
			for _, text := range args {
				res := interp.Interpret(text)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", text, res.Kind(), target(res), res.Feedback())
			}
			return tw.Flush()
		},
	}
}

// target names what a result acts on.
func target(res command.Result) string {
	switch r := res.(type) {
	case command.Navigation:
		return r.Route
	case command.Action:
		if len(r.Parameters) == 0 {
			return r.FunctionName
		}
		return fmt.Sprintf("%s%v", r.FunctionName, r.Parameters)
	case command.Failure:
		return string(r.Code)
	}
	return ""
}

func voicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the configured synthesis engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := toolConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Providers.TTS.Name == "" {
				return errors.New("no tts provider configured")
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			p, err := reg.CreateTTS(cfg.Providers.TTS)
			if err != nil {
				return err
			}
			voices, err := p.ListVoices(ctx)
			if err != nil {
				return fmt.Errorf("list voices: %w", err)
			}
			if len(voices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no voices available")
				return nil
			}

			chosen := synth.SelectVoice(voices, cfg.Synthesis.Language, string(cfg.Synthesis.Gender))
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tID\tNAME\tLANGUAGE\tGENDER")
			for _, v := range voices {
				mark := ""
				if v.ID == chosen.ID {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, v.ID, v.Name, v.Language, v.Gender)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the engine")
	return cmd
}

func formsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forms",
		Short: "List dictation forms, or recent submissions with --recent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := toolConfig(cmd)
			if err != nil {
				return err
			}
			if n, _ := cmd.Flags().GetInt("recent"); n > 0 {
				formType, _ := cmd.Flags().GetString("type")
				return printRecent(cmd, cfg, formType, n)
			}

			cat, err := app.BuildCatalogue(cfg.Dictation.Forms)
			if err != nil {
				return err
			}
			return printCatalogue(cmd, cat)
		},
	}
	cmd.Flags().Int("recent", 0, "show this many recent submissions from the store")
	cmd.Flags().String("type", "", "limit --recent to one form type")
	return cmd
}

func printCatalogue(cmd *cobra.Command, cat map[string]dictation.Form) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORM\tEVENT\tFIELDS")
	for _, name := range slices.Sorted(maps.Keys(cat)) {
		f := cat[name]
		fields := make([]string, 0, len(f.Fields))
		for _, fs := range f.Fields {
			s := fs.Name + ":" + fs.Type.String()
			if fs.Required {
				s += "*"
			}
			fields = append(fields, s)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, f.Event(), strings.Join(fields, " "))
	}
	return tw.Flush()
}

func printRecent(cmd *cobra.Command, cfg *config.Config, formType string, n int) error {
	if cfg.Store.PostgresDSN == "" {
		return errors.New("no store configured: set store.postgres_dsn")
	}
	store, err := postgres.NewStore(cmd.Context(), cfg.Store.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := store.Recent(cmd.Context(), formType, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMPLETED\tFORM\tVALUES")
	for _, s := range subs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%v\n", s.ID, s.CompletedAt.Format(time.DateTime), s.FormType, s.Values)
	}
	return tw.Flush()
}
