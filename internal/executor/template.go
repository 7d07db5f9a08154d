package executor

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"conveyor/internal/config"
)

// TemplateData is exposed to worker argument and environment templates.
type TemplateData struct {
	HashID       string
	TaskID       string
	BucketDir    string
	ManifestPath string
	Output       string
	SourceURL    string
	Context      map[string]any
}

func (d TemplateData) lookup(key string, def ...string) string {
	if v, ok := d.Context[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

func renderTemplate(name, text string, data TemplateData) (string, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"ctx": data.lookup}).
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}

// buildInvocation renders a worker definition for one task.
func buildInvocation(worker config.Worker, data TemplateData) (Invocation, error) {
	inv := Invocation{Command: worker.Command, Dir: worker.Dir}
	for i, arg := range worker.Args {
		rendered, err := renderTemplate(fmt.Sprintf("arg[%d]", i), arg, data)
		if err != nil {
			return Invocation{}, err
		}
		inv.Args = append(inv.Args, rendered)
	}

	keys := make([]string, 0, len(worker.Env))
	for k := range worker.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rendered, err := renderTemplate("env."+k, worker.Env[k], data)
		if err != nil {
			return Invocation{}, err
		}
		inv.Env = append(inv.Env, k+"="+rendered)
	}
	inv.Env = append(inv.Env,
		"CONVEYOR_HASH_ID="+data.HashID,
		"CONVEYOR_TASK_ID="+data.TaskID,
		"CONVEYOR_BUCKET_DIR="+data.BucketDir,
		"CONVEYOR_MANIFEST="+data.ManifestPath,
	)
	return inv, nil
}

func commandLine(inv Invocation) string {
	parts := append([]string{inv.Command}, inv.Args...)
	return strings.Join(parts, " ")
}
