package main

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/tierllm/internal/adaptive"
	"github.com/flemzord/tierllm/internal/config"
	"github.com/flemzord/tierllm/internal/prompt"
	"github.com/flemzord/tierllm/pkg/app"
)

// setupAnswers are the values collected by the init form.
type setupAnswers struct {
	Engine    string
	ModelPath string
	ServerURL string
	Profile   string
	Dialect   string
	Chatlog   bool
	Gateway   bool
	Bind      string
}

var configTemplate = template.Must(template.New("config").Parse(`version: "1"

modules:
{{- if eq .Engine "engine.yzma" }}
  engine.yzma:
    lib_path: ${YZMA_LIB:-./lib}
{{- else }}
  engine.llamacpp:
    base_url: {{ .ServerURL }}
{{- end }}
{{- if .Chatlog }}
  chatlog.sqlite: {}
{{- end }}
  model.manager:
    model_path: {{ .ModelPath }}
    profile: {{ .Profile }}
    dialect: {{ .Dialect }}
    warmup: true
{{- if .Gateway }}
  gateway.http:
    bind: {{ .Bind }}
{{- end }}
`))

// render produces the config file for a, validated by parsing it back.
func (a setupAnswers) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, a); err != nil {
		return nil, err
	}
	cfg, err := config.Parse(buf.Bytes(), "generated config")
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if out == "" {
				out = app.DefaultConfigPath()
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}

			answers := setupAnswers{
				Engine:    "engine.yzma",
				ServerURL: "http://127.0.0.1:8080",
				Profile:   "constrained",
				Dialect:   "zephyr",
				Chatlog:   true,
				Gateway:   true,
				Bind:      "127.0.0.1:8090",
			}
			if err := runSetupForm(&answers); err != nil {
				return err
			}

			data, err := answers.render()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Where to write the configuration")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func runSetupForm(a *setupAnswers) error {
	profileOpts := make([]huh.Option[string], 0)
	for _, name := range adaptive.ProfileNames() {
		p, _ := adaptive.LookupProfile(name)
		profileOpts = append(profileOpts, huh.NewOption(name+" - "+p.Description, name))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Inference engine").
				Options(
					huh.NewOption("In-process llama.cpp (yzma)", "engine.yzma"),
					huh.NewOption("External llama.cpp server", "engine.llamacpp"),
				).
				Value(&a.Engine),
			huh.NewInput().
				Title("Model file (GGUF)").
				Value(&a.ModelPath).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("model path is required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("llama.cpp server URL").
				Value(&a.ServerURL),
		).WithHideFunc(func() bool { return a.Engine != "engine.llamacpp" }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Deployment profile").
				Options(profileOpts...).
				Value(&a.Profile),
			huh.NewSelect[string]().
				Title("Chat template dialect").
				Options(huh.NewOptions(prompt.DialectNames()...)...).
				Value(&a.Dialect),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Record conversations in a SQLite chat log?").
				Value(&a.Chatlog),
			huh.NewConfirm().
				Title("Expose /health, /status and /metrics over HTTP?").
				Value(&a.Gateway),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway bind address").
				Value(&a.Bind).
				Validate(func(s string) error {
					_, port, err := net.SplitHostPort(s)
					if err != nil {
						return errors.New("expected host:port")
					}
					if _, err := strconv.Atoi(port); err != nil {
						return errors.New("port must be numeric")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return !a.Gateway }),
	)
	return form.Run()
}
