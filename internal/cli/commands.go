package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/apk-analysis/dexcatalog/internal/highlight"
	"github.com/apk-analysis/dexcatalog/internal/packer"
	"github.com/apk-analysis/dexcatalog/internal/service"
	"github.com/apk-analysis/dexcatalog/internal/worker"
)

func newClassesCmd(g *globalFlags) *cobra.Command {
	var outer string
	cmd := &cobra.Command{
		Use:   "classes <file>",
		Short: "List class names, sorted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cat.Close()

			var names []string
			if outer != "" {
				names, err = cat.Classes(outer)
			} else {
				names, err = cat.ClassNames()
			}
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outer, "outer", "", "Only list the classes nested in this outer class")
	return cmd
}

func newOuterCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "outer <file>",
		Short: "List outer class names, sorted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cat.Close()

			names, err := cat.OuterBaseNames()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newSmaliCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "smali <file> <class>",
		Short:   "Print one class as smali",
		Example: "  dexcat smali app.apk com.example.Main$1",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cat.Close()

			text, err := cat.Disassemble(args[1])
			if err != nil {
				return err
			}
			return g.printCode(cmd, text, highlight.Smali)
		},
	}
}

func newJavaCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "java <file> <class>",
		Short: "Print the outer class of <class> with its nested classes as Java",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cat.Close()

			text, err := cat.RenderJava(args[1])
			if err != nil {
				return err
			}
			return g.printCode(cmd, text, highlight.Java)
		},
	}
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "export <file> <dir>",
		Short: "Write every class as <dir>/<package path>/<Name>.smali",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cat.Close()

			names, err := cat.ClassNames()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool := worker.NewPool(jobs, len(names)+1, g.logger(cmd))
			pool.Start(ctx)
			defer pool.Stop()

			if err := service.ExportSmali(ctx, pool, cat, names, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d classes to %s\n", len(names), args[1])
			return nil
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Number of classes rendered in parallel")
	return cmd
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	var rulesFile string
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Summarize the DEX entries and detect known packers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := g.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := cat.Entries()
			if err != nil {
				return err
			}
			names, err := cat.ClassNames()
			if err != nil {
				return err
			}
			outer, err := cat.OuterBaseNames()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file:     %s\n", args[0])
			fmt.Fprintf(out, "opcodes:  %s\n", cat.Opcodes())
			fmt.Fprintf(out, "classes:  %d (%d outer)\n", len(names), len(outer))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTRY\tCLASSES\tODEX")
			for _, e := range entries {
				odex := "-"
				if e.OdexVersion != 0 {
					odex = fmt.Sprint(e.OdexVersion)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name, e.Classes, odex)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			rules := packer.BuiltinRules()
			if rulesFile != "" {
				if rules, err = packer.LoadRules(rulesFile); err != nil {
					return err
				}
			}
			ev, err := packer.CollectArchive(args[0])
			if err != nil {
				// bare DEX files have no native libraries
				ev = packer.Evidence{DEXCount: len(entries)}
				if fi, statErr := os.Stat(args[0]); statErr == nil {
					ev.DEXSize = fi.Size()
				}
			}
			ev.ClassNames = names
			res := packer.NewDetector(g.logger(cmd), rules).Detect(ev)
			fmt.Fprintf(out, "packer:   %s\n", packer.Summary(res))
			for _, ind := range res.Indicators {
				fmt.Fprintf(out, "  - %s\n", ind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "Extra packer rules (TOML)")
	return cmd
}
