package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/tierllm/pkg/app"
)

// program runs the application under the OS service manager.
type program struct {
	params app.RunParams

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
	logger service.Logger
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan error, 1)
	p.mu.Unlock()

	go func() {
		err := app.Run(ctx, p.params)
		if err != nil && p.logger != nil {
			_ = p.logger.Error(err)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	return <-done
}

func newService(params app.RunParams) (service.Service, *program, error) {
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		params.ConfigPath = abs
	}

	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		args = append(args, "--config", params.ConfigPath)
	}
	if params.DataDir != "" {
		args = append(args, "--data-dir", params.DataDir)
	}
	args = append(args, "--log-level", params.LogLevel.String())

	prg := &program{params: params}
	svc, err := service.New(prg, &service.Config{
		Name:        "tierllm",
		DisplayName: "tierllm",
		Description: "Memory-pressure-adaptive local LLM runner",
		Arguments:   args,
	})
	if err != nil {
		return nil, nil, err
	}
	prg.logger, err = svc.Logger(nil)
	if err != nil {
		return nil, nil, err
	}
	return svc, prg, nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|run>",
		Short:     "Manage tierllm as an OS service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: append(slices.Clone(service.ControlAction[:]), "run"),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			svc, _, err := newService(params)
			if err != nil {
				return err
			}

			action := args[0]
			if action == "run" {
				return svc.Run()
			}
			if !slices.Contains(service.ControlAction[:], action) {
				return fmt.Errorf("unknown service action %q (valid: %v, run)", action, service.ControlAction)
			}
			if err := service.Control(svc, action); err != nil {
				return fmt.Errorf("service %s: %w", action, err)
			}
			fmt.Fprintf(os.Stdout, "service %s: ok\n", action)
			return nil
		},
	}
	return cmd
}
