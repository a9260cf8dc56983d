// Package parser is the source-language attribute parser the daemon core
// treats as an external collaborator (spec §1: "Source-language attribute/
// annotation parsing — a pure function parse(bytes, path) -> list<ClassMetadata>").
//
// The daemon's concurrency, lifecycle, and IPC engine do not depend on the
// source language; this implementation extracts PHP class/interface/trait/
// enum declarations and their attributes with a lightweight lexical scan,
// matching the shape the original aurynx/discovery-cli extractor produces
// (see _examples/original_source/src/parser.rs), without attempting a full
// PHP grammar.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

var (
	namespaceRe = regexp.MustCompile(`(?m)^\s*namespace\s+([A-Za-z0-9_\\]+)\s*;`)
	classRe     = regexp.MustCompile(`(?m)^\s*(?:(abstract|final)\s+)?(class|interface|trait|enum)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	attributeRe = regexp.MustCompile(`#\[\s*([A-Za-z0-9_\\]+)\s*(?:\(([^)]*)\))?\s*\]`)
)

// Parse extracts class-like declarations from the given PHP source.
// Declarations it cannot recognise are skipped rather than reported, so
// for PHP input it returns every declaration it found and a nil error.
// Only when the input isn't PHP at all (missing opening tag) does it
// return no classes and a descriptive error, so callers can distinguish
// "nothing found" from "this wasn't PHP"; the caller (the Scanner) logs
// that error and skips the file (spec §4.3).
func Parse(src []byte, path string) ([]metadata.Class, error) {
	text := string(src)
	if !strings.Contains(text, "<?php") {
		return nil, fmt.Errorf("parser: %s: missing <?php open tag", path)
	}

	ns := ""
	if m := namespaceRe.FindStringSubmatch(text); m != nil {
		ns = m[1]
	}

	var classes []metadata.Class
	matches := classRe.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		modifier := ""
		if m[2] >= 0 {
			modifier = text[m[2]:m[3]]
		}
		kind := text[m[4]:m[5]]
		name := text[m[6]:m[7]]

		fqcn := name
		if ns != "" {
			fqcn = ns + "\\" + name
		}

		declStart := m[0]
		precedingAttrs := attributesBefore(text, declStart)

		c := metadata.Class{
			FQCN:       fqcn,
			File:       path,
			Kind:       kind,
			Attributes: precedingAttrs,
			Implements: []string{},
		}
		c.Modifiers.Abstract = modifier == "abstract"
		c.Modifiers.Final = modifier == "final"

		bodyEnd := len(text)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1][0]
		}
		body := text[m[1]:bodyEnd]
		c.Extends = extendsOf(body)
		c.Implements = implementsOf(body)

		classes = append(classes, c)
	}

	return classes, nil
}

// attributesBefore collects `#[Attr(args)]` blocks immediately preceding a
// declaration offset, stopping at the first non-attribute, non-blank line.
func attributesBefore(text string, declStart int) map[string][]metadata.Args {
	lineStart := strings.LastIndex(text[:declStart], "\n")
	preceding := text[:lineStart+1]

	attrs := map[string][]metadata.Args{}
	lines := strings.Split(strings.TrimRight(preceding, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		m := attributeRe.FindStringSubmatch(trimmed)
		if m == nil {
			break
		}
		name, argsRaw := m[1], m[2]
		attrs[name] = append(attrs[name], parseArgs(argsRaw))
	}
	return attrs
}

func parseArgs(raw string) metadata.Args {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return metadata.Args{}
	}
	var args metadata.Args
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, ":"); idx >= 0 {
			args = append(args, metadata.Arg{
				Key:   strings.TrimSpace(part[:idx]),
				Value: strings.TrimSpace(part[idx+1:]),
			})
			continue
		}
		args = append(args, metadata.Arg{Value: part})
	}
	return args
}

func extendsOf(body string) string {
	re := regexp.MustCompile(`(?m)^\s*extends\s+([A-Za-z0-9_\\]+)`)
	if m := re.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

func implementsOf(body string) []string {
	re := regexp.MustCompile(`(?m)implements\s+([A-Za-z0-9_\\, ]+)`)
	m := re.FindStringSubmatch(body)
	if m == nil {
		return []string{}
	}
	parts := strings.Split(m[1], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.SplitN(p, "{", 2)[0])
		}
	}
	return out
}
