// Package cli implements the dexcat command line tool.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
	"github.com/apk-analysis/dexcatalog/internal/config"
	"github.com/apk-analysis/dexcatalog/internal/highlight"
	"github.com/apk-analysis/dexcatalog/internal/loader"
)

// Version is stamped at build time.
var Version = "1.0.0"

type globalFlags struct {
	api       int
	debugInfo bool
	color     string
	style     string
	logLevel  string
}

// NewRootCmd builds the command tree. Tests run it with SetArgs.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "dexcat",
		Short: "Browse the classes of an APK or DEX file as smali or Java",
		Long: `dexcat indexes every class of an APK, JAR, DEX or ODEX file by its
source-form name and prints it as smali or as a Java-like outline.

Nested classes are grouped under their outer class, so "java" prints an
outer class together with all of its inner and anonymous classes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().IntVar(&g.api, "api", -1, "Android API level of the opcode set (-1 selects the default)")
	root.PersistentFlags().BoolVar(&g.debugInfo, "debug-info", false, "Emit .line, .local and other debug directives")
	root.PersistentFlags().StringVar(&g.color, "color", "auto", "Colorize output: auto, always or never")
	root.PersistentFlags().StringVar(&g.style, "style", "", "Chroma style used for colorized output")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level written to stderr")

	root.AddCommand(
		newClassesCmd(g),
		newOuterCmd(g),
		newSmaliCmd(g),
		newJavaCmd(g),
		newExportCmd(g),
		newInfoCmd(g),
	)
	return root
}

// Execute runs dexcat and exits non-zero on failure.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		NewRootCmd(),
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func (g *globalFlags) logger(cmd *cobra.Command) *logrus.Logger {
	return config.NewLogger(&config.LogConfig{Level: g.logLevel, Format: "text"}, cmd.ErrOrStderr())
}

// open builds a catalog for path with the global flags applied.
func (g *globalFlags) open(cmd *cobra.Command, path string) (*catalog.Catalog, error) {
	cat, err := catalog.New(loader.ArchiveFile{Path: path}, g.api,
		catalog.WithLogger(g.logger(cmd)),
		catalog.WithDebugInfo(g.debugInfo),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// colorize decides whether out gets ANSI colours.
func (g *globalFlags) colorize(out io.Writer) (bool, error) {
	switch g.color {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		f, ok := out.(*os.File)
		return ok && term.IsTerminal(f.Fd()), nil
	}
	return false, fmt.Errorf("invalid --color %q (want auto, always or never)", g.color)
}

// printCode writes rendered text, highlighted when colours are on.
func (g *globalFlags) printCode(cmd *cobra.Command, text string, lang highlight.Language) error {
	out := cmd.OutOrStdout()
	color, err := g.colorize(out)
	if err != nil {
		return err
	}
	if color {
		colored, err := highlight.Colorize(text, lang, highlight.Options{
			Style:     g.style,
			TrueColor: os.Getenv("COLORTERM") == "truecolor",
		})
		if err == nil {
			text = colored
		}
	}
	_, err = io.WriteString(out, text)
	return err
}
