package smali

import (
	"io"
	"strings"
)

// indentWriter prefixes every non-empty line with the current indent and
// keeps the first write error.
type indentWriter struct {
	w      io.Writer
	indent int
	bol    bool
	n      int64
	err    error
}

func newIndentWriter(w io.Writer) *indentWriter {
	return &indentWriter{w: w, bol: true}
}

func (iw *indentWriter) raw(s string) {
	if iw.err != nil || s == "" {
		return
	}
	n, err := io.WriteString(iw.w, s)
	iw.n += int64(n)
	iw.err = err
}

func (iw *indentWriter) write(s string) {
	for s != "" && iw.err == nil {
		if iw.bol && s[0] != '\n' {
			iw.raw(strings.Repeat(" ", iw.indent))
			iw.bol = false
		}
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			iw.raw(s)
			return
		}
		iw.raw(s[:i+1])
		iw.bol = true
		s = s[i+1:]
	}
}

func (iw *indentWriter) writef(parts ...string) {
	for _, p := range parts {
		iw.write(p)
	}
}

func (iw *indentWriter) in(n int)  { iw.indent += n }
func (iw *indentWriter) out(n int) { iw.indent -= n }
