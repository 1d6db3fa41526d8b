// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Output formats.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Output holds the --output flag and writes results in the chosen
// format. "auto" means text on a terminal and JSON when stdout is
// piped.
type Output struct {
	Format string

	// Writer defaults to stdout. Tests set it together with an
	// explicit Format.
	Writer io.Writer
}

// Bind registers --output on flagSet.
func (o *Output) Bind(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.Format, "output", "o", FormatAuto, "output format: auto, text, or json")
}

// Stream is Writer, or stdout when Writer is nil.
func (o *Output) Stream() io.Writer {
	if o.Writer != nil {
		return o.Writer
	}
	return os.Stdout
}

// JSON reports whether results should be written as JSON.
func (o *Output) JSON() (bool, error) {
	switch o.Format {
	case FormatJSON:
		return true, nil
	case FormatText:
		return false, nil
	case FormatAuto, "":
		if o.Writer != nil {
			return false, nil
		}
		return !isTerminal(os.Stdout), nil
	default:
		return false, fmt.Errorf("unknown output format %q (want auto, text, or json)", o.Format)
	}
}

// Emit writes value as indented JSON when JSON output is selected and
// reports whether it did. Nil slices are written as [].
func (o *Output) Emit(value any) (bool, error) {
	asJSON, err := o.JSON()
	if err != nil || !asJSON {
		return false, err
	}
	if v := reflect.ValueOf(value); v.Kind() == reflect.Slice && v.IsNil() {
		value = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(o.Stream())
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return true, encoder.Encode(value)
}

// Table writes rows under an upper-cased header.
func (o *Output) Table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(o.Stream(), 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(header, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Fields writes aligned "name: value" lines, skipping empty values.
func (o *Output) Fields(pairs ...[2]string) error {
	tw := tabwriter.NewWriter(o.Stream(), 2, 0, 1, ' ', 0)
	for _, pair := range pairs {
		if pair[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", pair[0], pair[1])
	}
	return tw.Flush()
}

// Printf writes formatted text.
func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.Stream(), format, args...)
}
