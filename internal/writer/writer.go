// Package writer implements C6's flush half: producing a durable,
// atomically-written cache output file in one of two formats (spec §4.6,
// §6 format). The manifest is written alongside via internal/manifest's
// own atomic Save; this package only owns the cache output.
//
// The PHP array-literal shape is grounded on
// _examples/original_source/src/writer.rs's write_php_cache/PhpFormatter;
// the JSON format is this module's own addition (spec §6 format: "php" |
// "json"), selected by the format setting alone under either strategy.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

// Format selects the on-disk representation of the cache output.
type Format string

const (
	PHP  Format = "php"
	JSON Format = "json"
)

// WriteCache serializes classes to outputPath in the requested format,
// via a temp-then-rename write so readers never observe a partial file
// (spec §4.6, P5).
func WriteCache(classes []metadata.Class, outputPath string, format Format, pretty bool) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var data []byte
	var err error
	switch format {
	case JSON:
		data, err = marshalJSON(classes, pretty)
	default:
		data, err = marshalPHP(classes, pretty)
	}
	if err != nil {
		return err
	}

	return atomic.WriteFile(outputPath, bytes.NewReader(data))
}

// Render produces the cache output in the requested format as a string,
// without touching disk — used by the IPC server's getCode family to
// serve a fresh snapshot on demand (spec §4.7 getCode).
func Render(classes []metadata.Class, format Format, pretty bool) (string, error) {
	var data []byte
	var err error
	switch format {
	case JSON:
		data, err = marshalJSON(classes, pretty)
	default:
		data, err = marshalPHP(classes, pretty)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalJSON(classes []metadata.Class, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(classes, "", "  ")
	}
	return json.Marshal(classes)
}

func marshalPHP(classes []metadata.Class, pretty bool) ([]byte, error) {
	f := &phpFormatter{pretty: pretty}
	f.writeln("<?php")
	if pretty {
		f.writeln("")
	} else {
		f.write(" ")
	}
	f.writeln("declare(strict_types=1);")
	if pretty {
		f.writeln("")
	}

	f.write("return ")
	f.arrayStart()
	for i, c := range classes {
		f.writeClassEntry(c, i == len(classes)-1)
	}
	f.arrayEnd(true)
	f.write(";\n")

	return f.buf.Bytes(), nil
}

// phpFormatter builds a pretty- or compact-printed PHP array literal the
// same way _examples/original_source/src/writer.rs's PhpFormatter does:
// a thin indent-tracking wrapper around sequential writes.
type phpFormatter struct {
	buf    bytes.Buffer
	pretty bool
	depth  int
}

func (f *phpFormatter) write(s string)   { f.buf.WriteString(s) }
func (f *phpFormatter) writeln(s string) { f.buf.WriteString(s); f.buf.WriteByte('\n') }

func (f *phpFormatter) indent() {
	if f.pretty {
		f.buf.WriteString(strings.Repeat("    ", f.depth))
	}
}

func (f *phpFormatter) arrayStart() {
	f.write("[")
	if f.pretty {
		f.buf.WriteByte('\n')
	}
	f.depth++
}

func (f *phpFormatter) arrayEnd(last bool) {
	f.depth--
	f.indent()
	f.write("]")
	f.comma(last)
}

func (f *phpFormatter) comma(last bool) {
	if !last {
		f.write(",")
	}
	if f.pretty {
		f.buf.WriteByte('\n')
	}
}

func (f *phpFormatter) keyValueString(key, value string, last bool) {
	f.indent()
	f.write(fmt.Sprintf("'%s' => '%s'", key, escapePHPString(value)))
	f.comma(last)
}

func (f *phpFormatter) keyValueBool(key string, value, last bool) {
	f.indent()
	f.write(fmt.Sprintf("'%s' => %s", key, strconv.FormatBool(value)))
	f.comma(last)
}

func (f *phpFormatter) keyValueNull(key string, last bool) {
	f.indent()
	f.write(fmt.Sprintf("'%s' => null", key))
	f.comma(last)
}

func (f *phpFormatter) keyArrayStart(key string) {
	f.indent()
	f.write(fmt.Sprintf("'%s' => ", key))
	f.arrayStart()
}

func (f *phpFormatter) keyArrayEmpty(key string, last bool) {
	f.indent()
	f.write(fmt.Sprintf("'%s' => []", key))
	f.comma(last)
}

func (f *phpFormatter) writeStringList(key string, values []string, last bool) {
	if len(values) == 0 {
		f.keyArrayEmpty(key, last)
		return
	}
	f.keyArrayStart(key)
	for i, v := range values {
		f.indent()
		f.write(fmt.Sprintf("'%s'", escapePHPString(v)))
		f.comma(i == len(values)-1)
	}
	f.arrayEnd(last)
}

func (f *phpFormatter) writeClassEntry(c metadata.Class, last bool) {
	f.indent()
	f.write(fmt.Sprintf("'%s' => ", escapePHPString(c.FQCN)))
	f.arrayStart()

	f.keyValueString("file", c.File, false)
	f.keyValueString("type", c.Kind, false)

	f.keyArrayStart("modifiers")
	f.keyValueBool("abstract", c.Modifiers.Abstract, false)
	f.keyValueBool("final", c.Modifiers.Final, false)
	f.keyValueBool("readonly", c.Modifiers.Readonly, true)
	f.arrayEnd(false)

	f.writeAttributes(c.Attributes, false)

	if c.Extends != "" {
		f.keyValueString("extends", c.Extends, false)
	} else {
		f.keyValueNull("extends", false)
	}

	f.writeStringList("implements", c.Implements, false)
	f.writeMethods(c.Methods, false)
	f.writeProperties(c.Properties, false)
	f.writeCases(c.Cases, true)

	f.arrayEnd(last)
}

func (f *phpFormatter) writeMethods(methods []metadata.Method, last bool) {
	if len(methods) == 0 {
		f.keyArrayEmpty("methods", last)
		return
	}
	f.keyArrayStart("methods")
	for i, m := range methods {
		isLast := i == len(methods)-1
		f.indent()
		f.write(fmt.Sprintf("'%s' => ", escapePHPString(m.Name)))
		f.arrayStart()
		f.keyValueString("visibility", m.Visibility, false)
		f.keyArrayStart("modifiers")
		f.keyValueBool("abstract", m.Modifiers.Abstract, false)
		f.keyValueBool("final", m.Modifiers.Final, false)
		f.keyValueBool("static", m.Modifiers.Static, true)
		f.arrayEnd(false)
		f.writeAttributes(m.Attributes, false)
		f.writeParameters(m.Parameters, false)
		if m.ReturnType != "" {
			f.keyValueString("return_type", m.ReturnType, true)
		} else {
			f.keyValueNull("return_type", true)
		}
		f.arrayEnd(isLast)
	}
	f.arrayEnd(last)
}

func (f *phpFormatter) writeParameters(params []metadata.Parameter, last bool) {
	if len(params) == 0 {
		f.keyArrayEmpty("parameters", last)
		return
	}
	f.keyArrayStart("parameters")
	for i, p := range params {
		isLast := i == len(params)-1
		f.indent()
		f.write(fmt.Sprintf("'%s' => ", escapePHPString(p.Name)))
		f.arrayStart()
		if p.TypeHint != "" {
			f.keyValueString("type", p.TypeHint, false)
		} else {
			f.keyValueNull("type", false)
		}
		if p.DefaultValue != "" {
			f.keyValueString("default", p.DefaultValue, false)
		} else {
			f.keyValueNull("default", false)
		}
		f.writeAttributes(p.Attributes, true)
		f.arrayEnd(isLast)
	}
	f.arrayEnd(last)
}

func (f *phpFormatter) writeProperties(props []metadata.Property, last bool) {
	if len(props) == 0 {
		f.keyArrayEmpty("properties", last)
		return
	}
	f.keyArrayStart("properties")
	for i, p := range props {
		isLast := i == len(props)-1
		f.indent()
		f.write(fmt.Sprintf("'%s' => ", escapePHPString(p.Name)))
		f.arrayStart()
		f.keyValueString("visibility", p.Visibility, false)
		f.keyArrayStart("modifiers")
		f.keyValueBool("static", p.Modifiers.Static, false)
		f.keyValueBool("readonly", p.Modifiers.Readonly, true)
		f.arrayEnd(false)
		if p.TypeHint != "" {
			f.keyValueString("type", p.TypeHint, false)
		} else {
			f.keyValueNull("type", false)
		}
		if p.DefaultValue != "" {
			f.keyValueString("default", p.DefaultValue, false)
		} else {
			f.keyValueNull("default", false)
		}
		f.writeAttributes(p.Attributes, true)
		f.arrayEnd(isLast)
	}
	f.arrayEnd(last)
}

func (f *phpFormatter) writeCases(cases []metadata.EnumCase, last bool) {
	if len(cases) == 0 {
		f.keyArrayEmpty("cases", last)
		return
	}
	f.keyArrayStart("cases")
	for i, e := range cases {
		isLast := i == len(cases)-1
		f.indent()
		f.write(fmt.Sprintf("'%s' => ", escapePHPString(e.Name)))
		f.arrayStart()
		if e.Value != "" {
			f.keyValueString("value", e.Value, true)
		} else {
			f.keyValueNull("value", true)
		}
		f.arrayEnd(isLast)
	}
	f.arrayEnd(last)
}

func (f *phpFormatter) writeAttributes(attrs map[string][]metadata.Args, last bool) {
	if len(attrs) == 0 {
		f.keyArrayEmpty("attributes", last)
		return
	}
	f.keyArrayStart("attributes")
	names := sortedKeys(attrs)
	for i, name := range names {
		isLastName := i == len(names)-1
		f.keyArrayStart(name)
		instances := attrs[name]
		for j, args := range instances {
			isLastInstance := j == len(instances)-1
			f.indent()
			f.arrayStart()
			for k, arg := range args {
				isLastArg := k == len(args)-1
				f.indent()
				if arg.Key != "" {
					f.write(fmt.Sprintf("'%s' => '%s'", escapePHPString(arg.Key), escapePHPString(arg.Value)))
				} else {
					f.write(fmt.Sprintf("'%s'", escapePHPString(arg.Value)))
				}
				f.comma(isLastArg)
			}
			f.arrayEnd(isLastInstance)
		}
		f.arrayEnd(isLastName)
	}
	f.arrayEnd(last)
}

func sortedKeys(attrs map[string][]metadata.Args) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapePHPString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}
