// Package highlight colours smali and Java text for terminals.
package highlight

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// NoColorEnv disables colouring when set to any value.
const NoColorEnv = "DEXCAT_NO_COLOR"

// Language selects the lexer.
type Language string

const (
	Smali Language = "smali"
	Java  Language = "java"
)

// DexcatDark keeps directives, labels and registers apart on dark terminals.
var DexcatDark = styles.Register(chroma.MustNewStyle("dexcat-dark", chroma.StyleEntries{
	chroma.Text:           "#E0E0E0",
	chroma.Background:     "bg:#1e1e1e",
	chroma.Comment:        "#7F848E",
	chroma.CommentPreproc: "#7F848E",
	chroma.Keyword:        "#C678DD",
	chroma.KeywordType:    "#E5C07B",
	chroma.Name:           "#E0E0E0",
	chroma.NameClass:      "#E5C07B",
	chroma.NameFunction:   "#61AFEF",
	chroma.NameVariable:   "#56B6C2",
	chroma.NameLabel:      "#FFD700",
	chroma.LiteralNumber:  "#FF5F87",
	chroma.String:         "#98C379",
	chroma.Operator:       "#E0E0E0",
	chroma.Punctuation:    "#E0E0E0",
}))

func lexer(lang Language) chroma.Lexer {
	candidates := []string{string(lang)}
	if lang == Smali {
		// smali has no lexer of its own in older chroma releases
		candidates = append(candidates, "nasm")
	}
	for _, name := range candidates {
		if l := lexers.Get(name); l != nil {
			return chroma.Coalesce(l)
		}
	}
	return nil
}

// style looks names up in the registry directly; styles.Get never fails.
func style(name string) *chroma.Style {
	for _, n := range []string{name, "dexcat-dark", "monokai"} {
		if s, ok := styles.Registry[n]; ok {
			return s
		}
	}
	return styles.Fallback
}

func formatter(trueColor bool) chroma.Formatter {
	candidates := []string{"terminal256"}
	if trueColor {
		candidates = []string{"terminal16m", "terminal256"}
	}
	for _, name := range candidates {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Options tunes Colorize.
type Options struct {
	// Style is a chroma style name; empty means dexcat-dark.
	Style     string
	TrueColor bool
}

// Colorize returns code with ANSI colours. It returns code unchanged when
// colouring is disabled or no lexer is available.
func Colorize(code string, lang Language, opts Options) (string, error) {
	if os.Getenv(NoColorEnv) != "" {
		return code, nil
	}
	l := lexer(lang)
	if l == nil {
		return code, nil
	}
	it, err := l.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var sb strings.Builder
	if err := formatter(opts.TrueColor).Format(&sb, style(opts.Style), it); err != nil {
		return code, err
	}
	return sb.String(), nil
}
