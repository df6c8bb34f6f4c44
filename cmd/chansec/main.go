package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/glimte/mmate-chansec/contracts"
	"github.com/glimte/mmate-chansec/interceptors"
	"github.com/glimte/mmate-chansec/security"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chansec",
		Short: "Inspect and watch channel security policies",
		Long: `chansec loads channel security policy files and reports which channels
are secured, which attributes guard them and whether a principal is granted access.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringP("policy", "p", "policy.yaml", "Path to the policy file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newCheckCmd(), newDecideCmd(), newWatchCmd())
	return rootCmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [channel-names...]",
		Short: "Validate a policy and show how channels are secured",
		Long:  "Validates the policy file. Without channel names the rules are listed; otherwise each channel is matched against them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := loadSource(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, rule := range source.Rules() {
					fmt.Fprintf(out, "%-30s send=%s receive=%s\n",
						rule.Pattern, formatAttributes(rule.Policy.Send), formatAttributes(rule.Policy.Receive))
				}
				return nil
			}

			interceptor, err := security.NewInterceptor(source, security.NewRoleDecisionManager(), security.WithLogger(newLogger(cmd)))
			if err != nil {
				return err
			}
			gatekeeper, err := security.NewGatekeeper(interceptor, security.WithGatekeeperLogger(newLogger(cmd)))
			if err != nil {
				return err
			}

			for _, name := range args {
				if !gatekeeper.ShouldSecure(name) {
					fmt.Fprintf(out, "%-30s public\n", name)
					continue
				}
				fmt.Fprintf(out, "%-30s secured send=%s receive=%s\n", name,
					formatAttributes(source.Attributes(name, interceptors.OperationSend)),
					formatAttributes(source.Attributes(name, interceptors.OperationReceive)))
			}
			return nil
		},
	}
}

func newDecideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide <channel-name>",
		Short: "Decide whether a principal may use a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := loadSource(cmd)
			if err != nil {
				return err
			}

			name, _ := cmd.Flags().GetString("principal")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			op, _ := cmd.Flags().GetString("operation")
			regoPath, _ := cmd.Flags().GetString("rego")

			operation := interceptors.Operation(op)
			if operation != interceptors.OperationSend && operation != interceptors.OperationReceive {
				return fmt.Errorf("unknown operation %q, expected send or receive", op)
			}

			decider, err := newDecider(cmd.Context(), regoPath)
			if err != nil {
				return err
			}

			interceptor, err := security.NewInterceptor(source, decider, security.WithLogger(newLogger(cmd)))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if name != "" {
				ctx = security.WithPrincipal(ctx, &security.Principal{Name: name, Roles: roles})
			}

			inv := &interceptors.Invocation{Channel: args[0], Operation: operation, Timeout: interceptors.NoTimeout}
			_, err = interceptor.Intercept(ctx, inv, interceptors.InvokerFunc(
				func(ctx context.Context, inv *interceptors.Invocation) (contracts.Message, error) {
					return nil, nil
				}))
			return reportDecision(cmd.OutOrStdout(), err)
		},
	}

	cmd.Flags().String("principal", "", "Principal name; empty means unauthenticated")
	cmd.Flags().StringSlice("roles", nil, "Roles held by the principal")
	cmd.Flags().StringP("operation", "o", string(interceptors.OperationSend), "Operation (send, receive)")
	cmd.Flags().String("rego", "", "Decide with this Rego module (query data.chansec.allow) instead of roles")
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a policy file and report reloads",
		Long:  "Loads the policy file and reloads it on change until interrupted. Reload metrics are served when --metrics-addr is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := newLogger(cmd)
			policyPath, _ := cmd.Flags().GetString("policy")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			source, err := security.NewDefinitionSource()
			if err != nil {
				return err
			}
			metrics := security.NewMetrics()

			watcher, err := security.NewPolicyWatcher(policyPath, source,
				security.WithWatcherLogger(logger),
				security.WithWatcherMetrics(metrics),
			)
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Stop() }()

			if err := watcher.Load(); err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}

			if metricsAddr != "" {
				server := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					_ = server.Shutdown(shutdownCtx)
				}()
				logger.Info("serving metrics", "addr", metricsAddr)
			}

			logger.Info("watching policy file", "path", policyPath)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().String("metrics-addr", "", "Address to serve prometheus metrics on (e.g. :9090)")
	return cmd
}

func loadSource(cmd *cobra.Command) (*security.DefinitionSource, error) {
	path, _ := cmd.Flags().GetString("policy")

	file, err := security.LoadPolicyFile(path)
	if err != nil {
		return nil, err
	}
	return security.NewDefinitionSource(file.Rules()...)
}

func newDecider(ctx context.Context, regoPath string) (security.AccessDecisionManager, error) {
	if regoPath == "" {
		return security.NewRoleDecisionManager(), nil
	}

	// #nosec G304 -- module path is supplied by the operator
	module, err := os.ReadFile(regoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rego module: %w", err)
	}
	return security.NewOPADecisionManager(ctx, security.OPAOptions{
		Modules: map[string]string{regoPath: string(module)},
	})
}

func reportDecision(out io.Writer, err error) error {
	if err == nil {
		fmt.Fprintln(out, "granted")
		return nil
	}
	if security.IsAccessDenied(err) {
		fmt.Fprintf(out, "denied: %v\n", err)
		return nil
	}
	return err
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func formatAttributes(attrs []string) string {
	if len(attrs) == 0 {
		return "-"
	}
	return strings.Join(attrs, ",")
}
