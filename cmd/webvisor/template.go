package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/loykin/webvisor/pkg/template"
	"github.com/spf13/cobra"
)

// TemplateFlags holds flags for the template command
type TemplateFlags struct {
	Name   string
	Output string
	List   bool
}

// createTemplateCommand creates the template subcommand
func createTemplateCommand(templateFlags *TemplateFlags) *cobra.Command {
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "template [type]",
		Short: "Print a starter [[apps]] block",
		Long: fmt.Sprintf(`Print a starter application block for the configuration file.
Supported types: %s.

Examples:
  webvisor template proxy --name web
  webvisor template pool --name edge --output webvisor.toml   # appends
  webvisor template --list`, strings.Join(gen.GetSupportedTypes(), ", ")),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if templateFlags.List {
				for _, t := range gen.GetSupportedTypes() {
					_, _ = fmt.Fprintln(out, t)
				}
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("template type required (see --list)")
			}
			name := templateFlags.Name
			if name == "" {
				name = args[0]
			}
			b, err := gen.GenerateTOML(template.TemplateType(args[0]), name)
			if err != nil {
				return err
			}
			if templateFlags.Output == "" {
				_, err = out.Write(b)
				return err
			}
			// #nosec 304
			f, err := os.OpenFile(templateFlags.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			if _, err := f.Write(append([]byte("\n"), b...)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Appended %s app %q to %s\n", args[0], name, templateFlags.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&templateFlags.Name, "name", "", "application name (default: the type)")
	cmd.Flags().StringVar(&templateFlags.Output, "output", "", "append to this file instead of printing")
	cmd.Flags().BoolVar(&templateFlags.List, "list", false, "list template types")

	return cmd
}
