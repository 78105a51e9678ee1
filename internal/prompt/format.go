// Package prompt builds bounded prompt context from the repository tree and
// formats it into provider-ready prompt strings.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// Task selects a prompt template.
type Task string

const (
	TaskFileAnalysis    Task = "file-analysis"
	TaskFileSummary     Task = "file-summary"
	TaskFolderSummary   Task = "folder-summary"
	TaskQuestion        Task = "question"
	TaskProfileQuestion Task = "profile-question"
	TaskFindFile        Task = "find-file"
)

// ErrMissingField is returned when a request lacks what its task needs.
var ErrMissingField = errors.New("prompt: missing field")

// Request is everything Format needs to produce one prompt.
type Request struct {
	Task     Task
	Context  Context
	Question string
	// Branch labels file summaries; empty means "default".
	Branch string
	// Paths lists candidate files for TaskFindFile.
	Paths []string
}

const fileAnalysisTemplate = `Analyze "{{.Context.TargetName}}".
1. Summary: 2 sentences on its architectural role.
2. Items: list the main functions, classes and components, each with a description of at most 10 words.
Respond with JSON only, shaped as:
{"summary": "...", "items": [{"name": "...", "type": "FUNCTION|CLASS|COMPONENT", "description": "..."}]}

CODE:
{{.Context.Excerpt}}
`

const fileSummaryTemplate = `You are an expert senior software engineer. Summarize this code file clearly and briefly for a junior developer who is new to a large, unfamiliar codebase.
Keep the tone friendly, like you are helping a friend.

1. What is the purpose of this file?
2. What are the main functions, classes or components?
3. Which modules or libraries does it depend on?
4. Point out any tricky logic or patterns.
5. The file is from the branch: {{branch .Branch}}.

File: {{.Context.TargetPath}}
Here is the code:

{{.Context.Excerpt}}
`

const folderSummaryTemplate = `Analyze folder: {{.Context.TargetName}}
Structure:
{{.Context.LocalOutline}}
Summarize its responsibility in 2 sentences.
`

const questionTemplate = `You are an expert senior software engineer analyzing a codebase.

Target File/Folder: "{{.Context.TargetPath}}" ({{.Context.TargetKind}})

Global Repository Context:
{{- if .Context.GlobalOutline}}
Repository Structure (Root):
{{.Context.GlobalOutline}}
{{- end}}

Specific Context (the user is looking at this right now):
{{- if eq .Context.TargetKind "FOLDER"}}
Folder Structure Map (Recursive):
{{.Context.LocalOutline}}
{{- else if .Context.ContentAvailable}}
Code Content:
{{.Context.Excerpt}}
{{- else}}
File: {{.Context.TargetName}} (Content unavailable)
{{- end}}

User Question: "{{.Question}}"

Instructions:
1. Answer directly and authoritatively. Avoid hedging words like "likely", "possibly", "might".
2. Use the Global Repository Context to place the target in the bigger picture.
3. If the answer depends on code not shown, say what you would expect to find based on standard patterns instead of guessing.
4. Keep the answer under 150 words. Use Markdown for formatting.
`

const profileQuestionTemplate = `You are an expert software engineer analyzing a GitHub user's profile and repositories.

Target Node: "{{.Context.TargetName}}" ({{.Context.TargetKind}})

Context:
{{.Context.Profile}}
User Question: "{{.Question}}"

Instructions:
1. Answer directly and helpfully.
2. Use the provided context to give specific details.
3. Keep the answer under 150 words. Use Markdown.
`

const findFileTemplate = `I have a list of file paths from a software repository.
The user is asking: "{{.Question}}"

Based on the file names, folder structure and common software conventions, identify the SINGLE file path that is MOST LIKELY to contain the logic or definition the user is looking for.

Return ONLY the full path string.
If nothing is relevant, return "null".

File Paths:
{{join .Paths "\n"}}
`

var templates = func() map[Task]*template.Template {
	funcs := template.FuncMap{
		"join": strings.Join,
		"branch": func(b string) string {
			if b == "" {
				return "default"
			}
			return b
		},
	}
	sources := map[Task]string{
		TaskFileAnalysis:    fileAnalysisTemplate,
		TaskFileSummary:     fileSummaryTemplate,
		TaskFolderSummary:   folderSummaryTemplate,
		TaskQuestion:        questionTemplate,
		TaskProfileQuestion: profileQuestionTemplate,
		TaskFindFile:        findFileTemplate,
	}
	out := make(map[Task]*template.Template, len(sources))
	for task, src := range sources {
		out[task] = template.Must(template.New(string(task)).Funcs(funcs).Parse(src))
	}
	return out
}()

// Format renders the prompt for req. It embeds outline and excerpt text as
// given and never truncates it again.
func Format(req Request) (string, error) {
	tmpl, ok := templates[req.Task]
	if !ok {
		return "", fmt.Errorf("prompt: unknown task %q", req.Task)
	}
	if err := req.check(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", req.Task, err)
	}
	return buf.String(), nil
}

func (r Request) check() error {
	switch r.Task {
	case TaskQuestion, TaskProfileQuestion, TaskFindFile:
		if strings.TrimSpace(r.Question) == "" {
			return fmt.Errorf("%w: question", ErrMissingField)
		}
	}
	switch r.Task {
	case TaskFileAnalysis, TaskFileSummary:
		if r.Context.TargetKind != TargetFile {
			return fmt.Errorf("%w: %s needs a file target", ErrMissingField, r.Task)
		}
	case TaskFolderSummary:
		if r.Context.TargetKind != TargetFolder {
			return fmt.Errorf("%w: %s needs a folder target", ErrMissingField, r.Task)
		}
	case TaskFindFile:
		if len(r.Paths) == 0 {
			return fmt.Errorf("%w: paths", ErrMissingField)
		}
	}
	return nil
}
