package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"marketplace-client/internal/app"
	"marketplace-client/internal/config"
	"marketplace-client/internal/event"
	"marketplace-client/internal/logger"
	"marketplace-client/internal/model"
	"marketplace-client/internal/screen"
)

const usage = `usage: marketplace-client <command> [args]

commands:
  signin <identifier>   sign in (secret from -secret, MARKETPLACE_SECRET or stdin)
  signup <identifier>   create an account and sign in
  signout               sign out and revoke the session
  switch                clear the session, keep saved accounts
  accounts              list saved accounts, most recent first
  resume <slug>         make a saved account current again
  forget <slug>         remove a saved account
  whoami                show the signed-in identity
  status                show session state`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logHandler := logger.NewPrettyHandler(os.Stderr, &slog.HandlerOptions{
		Level: logger.ParseLevel(cfg.LogLevel),
	})
	slog.SetDefault(slog.New(logHandler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	unsubscribe := application.Broadcaster.Subscribe(func(state event.SessionState) {
		if state.Visible {
			fmt.Fprintln(os.Stderr, "!", state.Message)
		}
	})
	defer unsubscribe()

	if err := run(ctx, application, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, a *app.App, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "signin", "signup":
		return signIn(ctx, a, command, rest, stdin, stdout)
	case "signout":
		if err := a.Session.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "signed out")
	case "switch":
		if err := a.Session.SwitchUser(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "session cleared; saved accounts kept")
	case "accounts":
		printAccounts(stdout, a.Session.Accounts(ctx))
	case "resume":
		if len(rest) != 1 {
			return errUsage
		}
		identity, err := a.Session.ResumeAccount(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "signed in as %s (%s)\n", identity.Name, identity.Slug)
	case "forget":
		if len(rest) != 1 {
			return errUsage
		}
		if err := a.Session.ForgetAccount(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "forgot %s\n", rest[0])
	case "whoami":
		return whoami(ctx, a, stdout)
	case "status":
		return status(ctx, a, stdout)
	default:
		return errUsage
	}

	return nil
}

func signIn(ctx context.Context, a *app.App, command string, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	secret := fs.String("secret", "", "account secret")
	name := fs.String("name", "", "display name (signup)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	identifier := fs.Arg(0)

	if *secret == "" {
		*secret = os.Getenv("MARKETPLACE_SECRET")
	}
	if *secret == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read secret: %w", err)
		}
		*secret = strings.TrimRight(line, "\r\n")
	}

	screenName := screen.SignIn
	if command == "signup" {
		screenName = screen.SignUp
	}
	a.Screen.SetCurrent(screenName)
	defer a.Screen.SetCurrent("")

	var err error
	var identity model.Identity
	if command == "signup" {
		result, signUpErr := a.Session.SignUp(ctx, model.SignUpRequest{Identifier: identifier, Secret: *secret, Name: *name})
		identity, err = result.Identity, signUpErr
	} else {
		result, signInErr := a.Session.SignIn(ctx, identifier, *secret)
		identity, err = result.Identity, signInErr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "signed in as %s (%s)\n", identity.Name, identity.Slug)
	return nil
}

func whoami(ctx context.Context, a *app.App, stdout io.Writer) error {
	if !a.Session.EnsureAuthenticated(ctx) {
		return model.ErrNotAuthenticated
	}

	identity, err := a.Session.RefreshProfile(ctx)
	if err != nil {
		cached := a.Session.CurrentUser(ctx)
		if cached == nil {
			return err
		}
		slog.Warn("profile unavailable; showing cached identity", "error", err)
		identity = *cached
	}

	fmt.Fprintf(stdout, "%s (%s) role=%s locale=%s\n", identity.Name, identity.Slug, identity.Role, identity.Settings.Locale)
	return nil
}

func status(ctx context.Context, a *app.App, stdout io.Writer) error {
	w := tabwriter.NewWriter(stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "state\t%s\n", a.Session.State(ctx))
	fmt.Fprintf(w, "token stored\t%t\n", a.Session.CheckAuth(ctx))
	if credential, ok := a.Session.Tokens().Credential(ctx); ok {
		fmt.Fprintf(w, "token valid\t%t\n", a.Session.IsValid(credential.Token))
		if credential.IssuedAt != nil {
			fmt.Fprintf(w, "issued at\t%s\n", credential.IssuedAt.Local().Format(time.RFC3339))
		}
	}
	if user := a.Session.CurrentUser(ctx); user != nil {
		fmt.Fprintf(w, "user\t%s\n", user.Slug)
	}
	fmt.Fprintf(w, "saved accounts\t%d\n", len(a.Session.Accounts(ctx)))
	fmt.Fprintf(w, "timeout\t%s %s\n", a.Config.SessionTimeoutMode, a.Config.SessionTimeout)
	if err := w.Flush(); err != nil {
		return err
	}

	if a.Metrics == nil {
		return nil
	}

	families, err := a.Metrics.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}
			fmt.Fprintf(stdout, "%s{%s} %g\n", family.GetName(), strings.Join(labels, ","), metric.GetCounter().GetValue())
		}
	}
	return nil
}

func printAccounts(stdout io.Writer, accounts []model.SavedAuthentication) {
	if len(accounts) == 0 {
		fmt.Fprintln(stdout, "no saved accounts")
		return
	}

	w := tabwriter.NewWriter(stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tLAST SIGN-IN")
	for _, account := range accounts {
		fmt.Fprintf(w, "%s\t%s\n", account.IdentitySlug, account.LastSignInAt.Local().Format(time.RFC3339))
	}
	_ = w.Flush()
}
