package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// printJSON writes raw JSON to out, indented when out is an interactive
// terminal and compact otherwise so piped output stays line-oriented.
func printJSON(out io.Writer, raw json.RawMessage) error {
	if !writerIsTerminal(out) {
		_, err := fmt.Fprintln(out, string(raw))
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, werr := fmt.Fprintln(out, string(raw))
		return werr
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}

func writerIsTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
