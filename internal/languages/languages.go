package languages

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/mini-maxit/coderunner/pkg/constants"
	"github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/messages"
)

// Profile describes how submissions in one language are checked, built and
// run inside the sandbox. Commands are shell snippets executed in the
// sandbox working directory where the program is stored as FileName.
type Profile struct {
	Name     string
	Image    string
	FileName string
	// Preamble is placed before the student answer, both for the syntax
	// check and when the program is assembled.
	Preamble string
	// CheckCommand fails when the answer does not parse.
	CheckCommand string
	// BuildCommand is run before every execution; empty for interpreted
	// languages.
	BuildCommand string
	RunCommand   string
	// Template assembles the answer with one or more testcodes. It sees
	// .Preamble, .StudentAnswer, .TestCodes and .Separator.
	Template string
}

// Language is a registered profile with its template parsed.
type Language struct {
	Profile
	program *template.Template
}

type programData struct {
	Preamble      string
	StudentAnswer string
	TestCodes     []string
	Separator     string
}

// Program returns the source to run for a single testcode. An empty testcode
// means the answer is a complete program.
func (l *Language) Program(answer, testCode string) (string, error) {
	if testCode == "" {
		return l.Preamble + answer, nil
	}
	return l.render(programData{Preamble: l.Preamble, StudentAnswer: answer, TestCodes: []string{testCode}})
}

// CombinedProgram returns one program running every testcode in order and
// printing separator on its own line between them.
func (l *Language) CombinedProgram(answer string, testCodes []string, separator string) (string, error) {
	if len(testCodes) == 0 {
		return "", fmt.Errorf("%w: no testcode to combine", errors.ErrConfiguration)
	}
	for i, tc := range testCodes {
		if tc == "" {
			return "", fmt.Errorf("%w: testcase %d has no testcode", errors.ErrConfiguration, i+1)
		}
	}
	return l.render(programData{
		Preamble:      l.Preamble,
		StudentAnswer: answer,
		TestCodes:     testCodes,
		Separator:     separator,
	})
}

// CheckSource is what the syntax check is run against.
func (l *Language) CheckSource(answer string) string {
	return l.Preamble + answer
}

func (l *Language) render(data programData) (string, error) {
	var b strings.Builder
	if err := l.program.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s program: %w", l.Name, err)
	}
	return b.String(), nil
}

// Registry holds the languages a worker can grade. It is built once at
// startup and is read only afterwards.
type Registry struct {
	languages map[string]*Language
}

func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{languages: make(map[string]*Language, len(profiles))}
	for _, p := range profiles {
		if p.Name == "" || p.Image == "" || p.FileName == "" || p.RunCommand == "" {
			return nil, fmt.Errorf("language profile %q is incomplete", p.Name)
		}
		key := strings.ToLower(p.Name)
		if _, ok := r.languages[key]; ok {
			return nil, fmt.Errorf("language %q registered twice", p.Name)
		}
		tmpl, err := template.New(key).Parse(p.Template)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", p.Name, err)
		}
		r.languages[key] = &Language{Profile: p, program: tmpl}
	}
	return r, nil
}

// DefaultRegistry registers python3 and c.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Python3(), C())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Get(name string) (*Language, error) {
	l, ok := r.languages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidLanguageType, name)
	}
	return l, nil
}

// Specs lists the registered languages sorted by name.
func (r *Registry) Specs() []messages.LanguageSpec {
	specs := make([]messages.LanguageSpec, 0, len(r.languages))
	for _, l := range r.languages {
		specs = append(specs, messages.LanguageSpec{
			Name:       l.Name,
			Image:      l.Image,
			Combinator: true,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

const pythonTemplate = `{{.Preamble}}{{.StudentAnswer}}

{{range $i, $tc := .TestCodes}}{{if $i}}print("{{$.Separator}}")
{{end}}{{$tc}}
{{end}}`

func Python3() Profile {
	return Profile{
		Name:         "python3",
		Image:        constants.RuntimeImagePrefix + "-python:3.12",
		FileName:     "prog.py",
		CheckCommand: `python3 -c "import ast; ast.parse(open('prog.py').read(), 'prog.py')"`,
		RunCommand:   "python3 prog.py",
		Template:     pythonTemplate,
	}
}

const cPreamble = `#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <ctype.h>
#include <math.h>

`

const cTemplate = `{{.Preamble}}{{.StudentAnswer}}

int main(void) {
{{range $i, $tc := .TestCodes}}{{if $i}}    printf("%s\n", "{{$.Separator}}");
{{end}}    {
{{$tc}}
    }
{{end}}    return 0;
}
`

func C() Profile {
	return Profile{
		Name:         "c",
		Image:        constants.RuntimeImagePrefix + "-gcc:13",
		FileName:     "prog.c",
		Preamble:     cPreamble,
		CheckCommand: "gcc -std=c99 -fsyntax-only prog.c",
		BuildCommand: "gcc -std=c99 -o prog prog.c -lm",
		RunCommand:   "./prog",
		Template:     cTemplate,
	}
}
