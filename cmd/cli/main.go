// Command atelier is a CLI client for the Virtual Atelier API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "virtual-atelier")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "virtual-atelier")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

func dropToken() { _ = os.Remove(tokenPath()) }

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `atelier CLI
Usage:
  atelier -addr URL <cmd> [args]

Commands:
  version
  login      -email <email>                       (saves token)
  me
  logout
  generate   -product <file> [-model <file>] [-theme id] [-pose id] [-gender g] [-aspect r] [-desc text] [-out dir]
  studio                                          (current workspace)
  regen      -index <n>
  history
  show       -id <session id>
  load       -id <session id>
  clear-history
  users                                           (admin)
  add-user   -email <email>                       (admin)
  rm-user    -email <email>                       (admin)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API.
func main() {
	addr := flag.String("addr", envOr("ATELIER_ADDR", "http://localhost:3001"), "server base URL")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := newClient(*addr, "")
	authed := func() *apiClient {
		tok, err := loadToken()
		if err != nil {
			fail(err)
		}
		return newClient(*addr, tok)
	}

	switch cmd {

	case "version":
		fmt.Printf("atelier %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "allow-listed email")
		_ = fs.Parse(args)
		if strings.TrimSpace(*email) == "" {
			fmt.Fprintln(os.Stderr, "need -email")
			os.Exit(1)
		}
		resp, err := c.verify(ctx, *email)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tokenFile{AccessToken: resp.Token, Email: resp.Email, ExpiresAt: resp.ExpiresAt}); err != nil {
			fail(err)
		}
		fmt.Printf("ok (%s, %d requests)\n", resp.Email, resp.RequestCount)

	case "me":
		var out map[string]any
		if err := authed().do(ctx, "GET", "/api/auth/me", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "logout":
		err := authed().do(ctx, "POST", "/api/auth/logout", nil, nil)
		dropToken()
		if err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "generate":
		cmdGenerate(ctx, authed(), args)

	case "studio":
		var out map[string]any
		if err := authed().do(ctx, "GET", "/api/studio", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "regen":
		fs := flag.NewFlagSet("regen", flag.ExitOnError)
		index := fs.Int("index", -1, "slot index (0..3)")
		_ = fs.Parse(args)
		if *index < 0 {
			fmt.Fprintln(os.Stderr, "need -index")
			os.Exit(1)
		}
		var out map[string]any
		if err := authed().do(ctx, "POST", fmt.Sprintf("/api/studio/slots/%d/regenerate", *index), nil, &out); err != nil {
			fail(err)
		}
		printJSON(out["result"])

	case "history":
		var out struct {
			Sessions []sessionRow `json:"sessions"`
		}
		if err := authed().do(ctx, "GET", "/api/history", nil, &out); err != nil {
			fail(err)
		}
		rows := make([]historyLine, 0, len(out.Sessions))
		for _, s := range out.Sessions {
			rows = append(rows, lineOf(s))
		}
		printJSON(rows)

	case "show", "load":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "history session id")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		method, path := "GET", "/api/history/"+*id
		if cmd == "load" {
			method, path = "POST", "/api/studio/load/"+*id
		}
		var out map[string]any
		if err := authed().do(ctx, method, path, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "clear-history":
		if err := authed().do(ctx, "DELETE", "/api/history", nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "users":
		var out map[string]any
		if err := authed().do(ctx, "GET", "/api/admin/users", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out["users"])

	case "add-user", "rm-user":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		email := fs.String("email", "", "email")
		_ = fs.Parse(args)
		if strings.TrimSpace(*email) == "" {
			fmt.Fprintln(os.Stderr, "need -email")
			os.Exit(1)
		}
		var err error
		if cmd == "add-user" {
			err = authed().do(ctx, "POST", "/api/admin/users", map[string]string{"email": *email}, nil)
		} else {
			err = authed().do(ctx, "DELETE", "/api/admin/users/"+strings.TrimSpace(*email), nil, nil)
		}
		if err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

// ---- helpers ----

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "api error: status=%d code=%s msg=%s\n", apiErr.Status, apiErr.Code, apiErr.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
