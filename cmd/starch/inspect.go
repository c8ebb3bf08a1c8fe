package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func routesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the declared routes and compiled rewrite rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Init(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATTERN\tHANDLER\tACTION\tARGS")
			for _, e := range app.Routes.Entries() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.Pattern, e.Handler, e.Action, e.Args)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "REGEXP\tKEY\tSLOTS")
			for _, r := range app.Rules.Rules {
				fmt.Fprintf(w, "%s\t%s\t%v\n", r.Regexp, r.Key, r.Slots)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nfingerprint %s", app.Rules.Fingerprint)
			if app.Rules.Flush {
				fmt.Print(" (regenerated)")
			}
			fmt.Println()
			return nil
		},
	}
}

func typesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "Print the registered content types",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Init(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tMODEL\tSLUG\tARCHIVE\tPUBLIC\tBUILT-IN")
			for _, b := range app.Registry.Types() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%t\n",
					b.Type, b.Model, b.Def.Slug, b.Def.HasArchive(), b.Def.IsPublic(), b.BuiltIn)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fp, err := app.Registry.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Printf("\nfingerprint %s\n", fp)
			return nil
		},
	}
}
