package web

import (
	"fmt"
	"html/template"
	"io"

	"github.com/me/simq/pkg/task"
)

// Template functions available in all pages.
var templateFuncs = template.FuncMap{
	"defaultFor": func(p task.ParameterSpec) string {
		return p.DefaultValue().Display()
	},
	"rangeStart": func(p task.ParameterSpec) string {
		if p.RangeStart == nil {
			return ""
		}
		return fmt.Sprintf("%g", *p.RangeStart)
	},
	"rangeEnd": func(p task.ParameterSpec) string {
		if p.RangeEnd == nil {
			return ""
		}
		return fmt.Sprintf("%g", *p.RangeEnd)
	},
	"isKind": func(p task.ParameterSpec, kind string) bool {
		return string(p.Kind) == kind
	},
	"boolDefault": func(p task.ParameterSpec) bool {
		return p.DefaultBool != nil && *p.DefaultBool
	},
}

// render executes the named page inside the layout.
func render(w io.Writer, name string, data any) error {
	content, ok := pages[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	tmpl, err := template.New("layout").Funcs(templateFuncs).Parse(pages["layout"])
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}
	if _, err := tmpl.New("content").Parse(content); err != nil {
		return fmt.Errorf("parse page %s: %w", name, err)
	}
	return tmpl.Execute(w, data)
}

// pages holds all template content. In a larger deployment these would
// be loaded from files.
var pages = map[string]string{
	"layout": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
        h1 { font-size: 1.5rem; }
        label { display: block; margin-top: 1rem; font-weight: bold; }
        .help { font-weight: normal; color: #666; font-size: 0.9rem; }
        .units { color: #666; }
        .error { color: #a00; border: 1px solid #a00; padding: 0.5rem 1rem; margin: 1rem 0; }
        .warning { color: #850; border: 1px solid #850; padding: 0.5rem 1rem; margin: 1rem 0; }
        .notice { color: #063; border: 1px solid #063; padding: 0.5rem 1rem; margin: 1rem 0; }
        input[type=text], input[type=number], input[type=email], select { padding: 0.25rem; }
        button { margin-top: 1.5rem; padding: 0.5rem 1.5rem; }
        ul.models li { margin: 0.5rem 0; }
    </style>
</head>
<body>
{{template "content" .}}
</body>
</html>`,

	"index": `<h1>Available models</h1>
{{if .Models}}
<ul class="models">
{{range .Models}}
    <li><a href="/models/{{.Name}}">{{.Title}}</a>{{if .Subtitle}} <span class="help">{{.Subtitle}}</span>{{end}}</li>
{{end}}
</ul>
{{else}}
<p>No models are currently available.</p>
{{end}}`,

	"model": `<h1>{{.Spec.Title}}</h1>
{{if .Spec.Subtitle}}<p>{{.Spec.Subtitle}}</p>{{end}}
{{if not .HasWorkers}}
<div class="warning">No compute workers are currently connected. Your request will be
queued and run once a worker becomes available.</div>
{{end}}
{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
<form method="post" action="/models/{{.Spec.Name}}">
    <label>Email address
        <span class="help">results are sent to this address</span>
        <input type="email" name="email" value="{{.Email}}" required>
    </label>
{{range .Spec.Parameters}}
    <label>{{if .Description}}{{.Description}}{{else}}{{.Name}}{{end}}
        {{if .Units}}<span class="units">({{.Units}})</span>{{end}}
        {{if .HelpText}}<span class="help">{{.HelpText}}</span>{{end}}
    {{if isKind . "range"}}
        <input type="number" step="any" name="{{.Name}}_start" value="{{rangeStart .}}">
        to
        <input type="number" step="any" name="{{.Name}}_end" value="{{rangeEnd .}}">
    {{else if isKind . "boolean"}}
        <input type="checkbox" name="{{.Name}}" value="true"{{if boolDefault .}} checked{{end}}>
    {{else if isKind . "select"}}
        <select name="{{.Name}}">
        {{$def := defaultFor .}}
        {{range .Options}}<option value="{{.}}"{{if eq . $def}} selected{{end}}>{{.}}</option>{{end}}
        </select>
    {{else}}
        <input type="text" name="{{.Name}}" value="{{defaultFor .}}">
    {{end}}
    </label>
{{end}}
    <button type="submit">Submit request</button>
</form>
<p><a href="/">Back to model list</a></p>`,

	"submitted": `<h1>Check your email</h1>
<div class="notice">Your {{.Spec.Title}} request has been received. A confirmation
link was sent to <strong>{{.Email}}</strong>; the request will not run until you
follow it.</div>
<p>Unconfirmed requests are discarded after a while, so please confirm soon.</p>
<p><a href="/">Back to model list</a></p>`,

	"confirmed": `<h1>Request confirmed</h1>
<div class="notice">Your request is now queued for execution. The results will be
emailed to you when the run completes.</div>
<p><a href="/">Back to model list</a></p>`,

	"confirm_failed": `<h1>Confirmation failed</h1>
<div class="error">{{.Reason}}</div>
<p><a href="/">Back to model list</a></p>`,

	"error": `<h1>Something went wrong</h1>
<div class="error">{{.Reason}}</div>
<p><a href="/">Back to model list</a></p>`,
}
