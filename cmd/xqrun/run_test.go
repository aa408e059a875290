package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-quicktest/qt"
)

const library = `<root><a>1</a><a>2</a><b><a>3</a></b></root>`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte(content), 0o644)))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRunPlan(t *testing.T) {
	dir := t.TempDir()
	doc := write(t, dir, "library.xml", library)
	q := write(t, dir, "q.yaml", `
documents: [/db/library.xml]
query: {path: ["//", b]}
`)
	out, err := execute(t, "-d", "/db/library.xml="+doc, q)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(out, "<b><a>3</a></b>\n"))
}

func TestExternalVariables(t *testing.T) {
	dir := t.TempDir()
	q := write(t, dir, "q.yaml", `
variables:
  - {name: who, external: true}
query: {call: concat, args: [hello, " ", {var: who}]}
`)
	out, err := execute(t, "--var", "who=world", q)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(out, "hello world\n"))
}

func TestRepeatReusesPool(t *testing.T) {
	dir := t.TempDir()
	doc := write(t, dir, "library.xml", library)
	q := write(t, dir, "count.yaml", `query: {call: count, args: [{path: ["//", a]}]}`)
	out, err := execute(t, "-d", doc, "--repeat", "3", "-j", "2", q)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(strings.Count(out, "== "+q+"\n3\n"), 3))
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()
	q := write(t, dir, "q.yaml", `query: {div: [1, 0]}`)
	_, err := execute(t, q)
	qt.Assert(t, qt.ErrorMatches(err, `.*q\.yaml: FOAR0001.*`))

	missing := write(t, dir, "docs.yaml", "documents: [/db/none.xml]\nquery: 1\n")
	_, err = execute(t, missing)
	qt.Assert(t, qt.ErrorMatches(err, `.*document /db/none.xml is not loaded`))

	_, err = execute(t, "--var", "novalue", q)
	qt.Assert(t, qt.ErrorMatches(err, `invalid variable "novalue".*`))

	_, err = execute(t)
	qt.Assert(t, qt.IsNotNil(err))
}
