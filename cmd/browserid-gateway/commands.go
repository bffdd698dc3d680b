// ABOUTME: Maintenance subcommands: verify an assertion, manage users, read the audit log
// ABOUTME: Opens the configured store directly, so they work while the server is down

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/browserid-gateway/internal/auth"
	"github.com/2389/browserid-gateway/internal/browserid"
	"github.com/2389/browserid-gateway/internal/config"
	"github.com/2389/browserid-gateway/internal/store"
)

// openStore opens the SQLite store named by config or BROWSERID_DB_PATH.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BROWSERID_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

// quietLogger keeps store and verifier chatter off the command output.
func quietLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slog.SetDefault(logger)
	return logger
}

// flagValue handles both "--name value" and "--name=value". It returns the
// value, how many extra args were consumed, and whether arg matched.
func flagValue(args []string, i int, names ...string) (string, int, bool, error) {
	arg := args[i]
	for _, name := range names {
		if arg == name {
			if i+1 >= len(args) {
				return "", 0, true, fmt.Errorf("%s requires a value", name)
			}
			return args[i+1], 1, true, nil
		}
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, 0, true, nil
		}
	}
	return "", 0, false, nil
}

func runVerify(ctx context.Context, args []string) error {
	var audience, assertion string
	for i := 0; i < len(args); i++ {
		v, skip, ok, err := flagValue(args, i, "--audience", "-a")
		if err != nil {
			return err
		}
		switch {
		case ok:
			audience = v
			i += skip
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		case assertion == "":
			assertion = args[i]
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if assertion == "" {
		return fmt.Errorf("usage: browserid-gateway verify [--audience URL] ASSERTION")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if audience == "" {
		audience = cfg.BrowserID.Audiences[0]
	}

	verifier, err := auth.NewVerifier(cfg.BrowserID, quietLogger())
	if err != nil {
		return err
	}
	if c, ok := verifier.(interface{ Close() }); ok {
		defer c.Close()
	}

	result, err := verifier.Verify(ctx, assertion, browserid.StaticAudience(audience), nil)
	if err != nil {
		return fmt.Errorf("verifying: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	if !result.OK() {
		color.Red("  ✗ rejected: %s\n", result.Reason())
		fmt.Println()
		return errors.New("assertion rejected")
	}

	green.Println("  ✓ assertion accepted")
	fmt.Println()
	cyan.Println("  Result")
	cyan.Println("  ------")
	fmt.Printf("  Email:    %s\n", result.Email())
	fmt.Printf("  Audience: %s\n", result.Audience())
	fmt.Printf("  Issuer:   %s\n", result.Issuer())
	if exp, err := result.Expires(); err == nil && exp.Valid() {
		fmt.Printf("  Expires:  %s\n", exp.Time.Local().Format(time.RFC1123))
	}
	if extra := result.Extra(); len(extra) > 0 {
		data, _ := json.Marshal(extra)
		fmt.Printf("  Extra:    %s\n", data)
	}
	fmt.Println()
	return nil
}

func runUsers(ctx context.Context, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	quietLogger()
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	switch sub {
	case "list":
		return cmdUsersList(ctx, s, args)
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("usage: browserid-gateway users show ID|USERNAME|EMAIL")
		}
		return cmdUsersShow(ctx, s, args[0])
	case "enable", "disable":
		if len(args) != 1 {
			return fmt.Errorf("usage: browserid-gateway users %s ID", sub)
		}
		return cmdUsersSetActive(ctx, s, args[0], sub == "enable")
	default:
		return fmt.Errorf("unknown users command: %s", sub)
	}
}

func cmdUsersList(ctx context.Context, s store.UserStore, args []string) error {
	limit := 0
	for i := 0; i < len(args); i++ {
		v, skip, ok, err := flagValue(args, i, "--limit", "-n")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown argument: %s", args[i])
		}
		if limit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid --limit %q", v)
		}
		i += skip
	}

	users, err := s.ListUsers(ctx, limit)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Users")
	cyan.Println("  -----")

	if len(users) == 0 {
		fmt.Println("  (no users)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tUSERNAME\tEMAIL\tACTIVE\tCREATED\tLAST LOGIN")
	fmt.Fprintln(w, "  --\t--------\t-----\t------\t-------\t----------")
	for _, u := range users {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(u.ID, 12),
			truncate(u.Username, 28),
			u.Email,
			activeLabel(u.IsActive),
			u.CreatedAt.Local().Format("Jan 02 15:04"),
			lastLogin(u),
		)
	}
	w.Flush()
	fmt.Println()
	return nil
}

// findUser resolves ref as an ID, then a username, then a unique email.
func findUser(ctx context.Context, s store.UserStore, ref string) (*store.User, error) {
	if u, err := s.GetByID(ctx, ref); err == nil {
		return u, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}
	if u, err := s.GetByUsername(ctx, ref); err == nil {
		return u, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	users, err := s.FindByEmail(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch len(users) {
	case 0:
		return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, ref)
	case 1:
		return users[0], nil
	default:
		return nil, fmt.Errorf("%d users share %s; use an ID", len(users), ref)
	}
}

func cmdUsersShow(ctx context.Context, s store.UserStore, ref string) error {
	u, err := findUser(ctx, s, ref)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  User")
	cyan.Println("  ----")
	fmt.Printf("  ID:         %s\n", u.ID)
	fmt.Printf("  Username:   %s\n", u.Username)
	fmt.Printf("  Email:      %s\n", u.Email)
	fmt.Printf("  Active:     %s\n", activeLabel(u.IsActive))
	fmt.Printf("  Created:    %s\n", u.CreatedAt.Local().Format(time.RFC1123))
	fmt.Printf("  Last login: %s\n", lastLogin(u))
	fmt.Println()
	return nil
}

func cmdUsersSetActive(ctx context.Context, s store.UserStore, ref string, active bool) error {
	u, err := findUser(ctx, s, ref)
	if err != nil {
		return err
	}
	if err := s.SetActive(ctx, u.ID, active); err != nil {
		return err
	}

	verb := "Disabled"
	if active {
		verb = "Enabled"
	}
	color.New(color.FgGreen).Printf("  ✓ %s %s (%s)\n", verb, u.Email, u.ID)
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	var filter store.AuditFilter
	for i := 0; i < len(args); i++ {
		if v, skip, ok, err := flagValue(args, i, "--action"); err != nil {
			return err
		} else if ok {
			action := store.AuditAction(v)
			filter.Action = &action
			i += skip
			continue
		}
		if v, skip, ok, err := flagValue(args, i, "--user"); err != nil {
			return err
		} else if ok {
			filter.TargetID = &v
			i += skip
			continue
		}
		v, skip, ok, err := flagValue(args, i, "--limit", "-n")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown argument: %s", args[i])
		}
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid --limit %q", v)
		}
		i += skip
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	quietLogger()
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListAuditLog(ctx, filter)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Audit Log")
	cyan.Println("  ---------")

	if len(entries) == 0 {
		fmt.Println("  (no entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTION\tACTOR\tUSER\tDETAIL")
	fmt.Fprintln(w, "  ----\t------\t-----\t----\t------")
	for _, e := range entries {
		detail := ""
		if len(e.Detail) > 0 {
			data, _ := json.Marshal(e.Detail)
			detail = string(data)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"),
			e.Action,
			e.Actor,
			truncate(e.TargetID, 12),
			detail,
		)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func activeLabel(active bool) string {
	if active {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}

func lastLogin(u *store.User) string {
	if u.LastLogin == nil {
		return "never"
	}
	return u.LastLogin.Local().Format("Jan 02 15:04")
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
