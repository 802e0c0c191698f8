package jslang

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/lang"
)

func sampleBlock(what string) block.Block {
	return block.Block{
		Narrative: block.Narrative{
			What:       what,
			Why:        "Single place for the lookup.",
			Guardrails: []string{"Keep it synchronous."},
		},
		Dependencies: facts.Dependencies{Calls: []string{"fetch"}},
	}
}

type fixture struct {
	t *testing.T
	a *Adapter
}

func (fx fixture) parse(src string) *lang.File {
	fx.t.Helper()
	f, err := fx.a.Parse("x"+fx.a.exts[0], []byte(src))
	require.NoError(fx.t, err)
	fx.t.Cleanup(f.Close)
	return f
}

func (fx fixture) slot(src, name string) (*lang.File, *lang.Slot) {
	fx.t.Helper()
	f := fx.parse(src)
	for _, u := range f.Units {
		if u.QualifiedName == name {
			slot, err := fx.a.DocSlot(f, u)
			require.NoError(fx.t, err)
			return f, slot
		}
	}
	fx.t.Fatalf("unit %q not found", name)
	return nil, nil
}

func (fx fixture) write(src, name string, b block.Block) string {
	fx.t.Helper()
	f, slot := fx.slot(src, name)
	text, err := block.Serialize(b)
	require.NoError(fx.t, err)
	e, err := fx.a.Wrap(f, slot, text)
	require.NoError(fx.t, err)
	out := src[:e.Start] + e.Text + src[e.End:]
	require.NoError(fx.t, fx.a.Validate([]byte(out)), "result must parse:\n%s", out)
	return out
}

func (fx fixture) strip(src, name string) string {
	fx.t.Helper()
	f, slot := fx.slot(src, name)
	require.NotNil(fx.t, slot.Block)
	e, err := fx.a.Strip(f, slot)
	require.NoError(fx.t, err)
	out := src[:e.Start] + e.Text + src[e.End:]
	require.NoError(fx.t, fx.a.Validate([]byte(out)))
	return out
}

func (fx fixture) read(src, name string) block.Block {
	fx.t.Helper()
	_, slot := fx.slot(src, name)
	require.NotNil(fx.t, slot.Block, "no block in:\n%s", src)
	b, err := block.Parse(slot.Block.Text)
	require.NoError(fx.t, err)
	return b
}

func TestParseUnits(t *testing.T) {
	src := `export class Cache {
  lookup(key) {
    return this.items[key];
  }
}

const helper = (x) => x + 1;
let a = 1, b = function () {};

export function main() {
  function inner() {}
}
`
	fx := fixture{t, NewJavaScript()}
	f := fx.parse(src)
	var got []string
	for _, u := range f.Units {
		got = append(got, string(u.Kind)+":"+u.QualifiedName)
	}
	assert.Equal(t, []string{
		"class:Cache",
		"method:Cache.lookup",
		"function:helper",
		"function:b",
		"function:main",
		"function:main.inner",
	}, got)
}

func TestInsertAboveExportAndStrip(t *testing.T) {
	src := `import { fetch } from './net';

export async function load(id) {
  return fetch(id);
}
`
	fx := fixture{t, NewJavaScript()}
	out := fx.write(src, "load", sampleBlock("Loads a record."))
	assert.Contains(t, out, "\n/**\n * ---agentspec\n")
	assert.Contains(t, out, " * ---/agentspec\n */\nexport async function load(id) {\n")
	assert.Equal(t, "Loads a record.", fx.read(out, "load").Narrative.What)

	assert.Equal(t, src, fx.strip(out, "load"))
}

func TestInsertAboveHumanCommentGroup(t *testing.T) {
	src := `class Repo {
  // Human note one.
  /** Human JSDoc. */
  find(id) {
    return id;
  }
}
`
	fx := fixture{t, NewJavaScript()}
	out := fx.write(src, "Repo.find", sampleBlock("Finds by id."))
	assert.Contains(t, out, "class Repo {\n  /**\n   * ---agentspec\n")
	assert.Contains(t, out, "   * ---/agentspec\n   */\n  // Human note one.\n  /** Human JSDoc. */\n  find(id) {")

	assert.Equal(t, src, fx.strip(out, "Repo.find"))
}

func TestMethodDecoratorsStayWithMethod(t *testing.T) {
	src := `class Api {
  // Routes reads.
  @log
  @cache(60)
  get(id: string) {
    return fetch(id);
  }
}
`
	fx := fixture{t, NewTypeScript()}
	f := fx.parse(src)
	var get *lang.Unit
	for _, u := range f.Units {
		if u.QualifiedName == "Api.get" {
			get = u
		}
	}
	require.NotNil(t, get)
	assert.Equal(t, 3, get.StartLine)
	assert.True(t, strings.HasPrefix(get.Source, "@log\n"), "source %q", get.Source)

	syn := fx.a.Syntax(f, get)
	assert.Equal(t, []string{"log", "cache"}, syn.Decorators)
	assert.Equal(t, []string{"log", "cache", "fetch"}, syn.Calls)

	out := fx.write(src, "Api.get", sampleBlock("Reads one record."))
	assert.Contains(t, out, "class Api {\n  /**\n   * ---agentspec\n")
	assert.Contains(t, out, "   */\n  // Routes reads.\n  @log\n  @cache(60)\n  get(id: string) {")
	assert.Equal(t, "Reads one record.", fx.read(out, "Api.get").Narrative.What)

	again := fx.write(out, "Api.get", sampleBlock("Reads one record."))
	assert.Equal(t, out, again)
	assert.Equal(t, src, fx.strip(out, "Api.get"))
}

func TestCRLFLineEndingsKept(t *testing.T) {
	src := "class Api {\r\n  @log\r\n  get(id) {\r\n    return id;\r\n  }\r\n}\r\n"
	fx := fixture{t, NewJavaScript()}
	first := fx.write(src, "Api.get", sampleBlock("Reads."))
	second := fx.write(first, "Api.get", sampleBlock("Reads one."))
	for _, out := range []string{first, second} {
		assert.Equal(t, strings.Count(out, "\n"), strings.Count(out, "\r\n"), "mixed line endings: %q", out)
	}
	assert.Equal(t, "Reads one.", fx.read(second, "Api.get").Narrative.What)
	assert.Equal(t, src, fx.strip(second, "Api.get"))
}

func TestUpdateIsIdempotent(t *testing.T) {
	src := "export const add = (a: number, b: number): number => a + b;\n"
	fx := fixture{t, NewTypeScript()}
	first := fx.write(src, "add", sampleBlock("Adds."))
	second := fx.write(first, "add", sampleBlock("Adds two numbers."))
	third := fx.write(second, "add", sampleBlock("Adds two numbers."))

	assert.Equal(t, second, third)
	assert.Equal(t, 1, strings.Count(third, block.StartMarker))
	assert.Equal(t, "Adds two numbers.", fx.read(third, "add").Narrative.What)
}

func TestCommentTerminatorEscaped(t *testing.T) {
	b := sampleBlock(`Handles /* nested */ comments and C:\dir\ paths`)
	b.Narrative.Guardrails = []string{"*/ must never close early", `literal *\/ stays`}

	fx := fixture{t, NewJavaScript()}
	out := fx.write("function f() {}\n", "f", b)
	body := out[:strings.Index(out, "function f")]
	assert.Equal(t, 1, strings.Count(body, "*/"), "only the real terminator may appear:\n%s", body)
	assert.Equal(t, b.Normalize(), fx.read(out, "f"))
}

func TestHumanCommentNotABlock(t *testing.T) {
	src := "/** Just docs. */\nfunction f() {}\n"
	fx := fixture{t, NewJavaScript()}
	_, slot := fx.slot(src, "f")
	assert.Nil(t, slot.Block)
	assert.Len(t, slot.Containers, 1)
}

func TestDeclarationSharingLineUnsupported(t *testing.T) {
	src := "let x = 1; function f() {}\n"
	fx := fixture{t, NewJavaScript()}
	f, slot := fx.slot(src, "f")
	_, err := fx.a.Wrap(f, slot, "---agentspec\nwhat: x\n---/agentspec")
	assert.True(t, errors.Is(err, lang.ErrUnsupportedSlot), "got %v", err)
}

func TestImports(t *testing.T) {
	src := `import React, { useState as useS } from 'react';
import * as path from "path";
import './side-effect';
const { readFile } = require('fs');
const os = require('os');
`
	fx := fixture{t, NewJavaScript()}
	f := fx.parse(src)
	assert.Equal(t, []lang.Import{
		{Symbol: "react", Binding: "React"},
		{Symbol: "react:useState", Binding: "useS"},
		{Symbol: "path", Binding: "path"},
		{Symbol: "./side-effect"},
		{Symbol: "fs:readFile", Binding: "readFile"},
		{Symbol: "os", Binding: "os"},
	}, fx.a.Imports(f))
}

func TestEscapeUnescape(t *testing.T) {
	for _, s := range []string{"", "plain", "*/", `*\/`, `\/`, `a\\b`, `**/ x */`, `trailing\`} {
		assert.Equal(t, s, unescape(escape(s)), "round trip of %q", s)
		assert.NotContains(t, escape(s), "*/")
	}
}
