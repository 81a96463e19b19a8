package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mavuno/cmd/internal/passphrase"
	"mavuno/crypto"
	"mavuno/gateway/middleware"
	"mavuno/services/onramp"
)

const (
	defaultPassEnv   = "MAVUNO_KEYSTORE_PASS"
	defaultSecretEnv = "MAVUNO_JWT_SECRET"
)

// passphraseFor is swapped in tests so keystores can be written without a TTY.
var passphraseFor = func(envVar string) (string, error) {
	return passphrase.NewSource(envVar).Get()
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "sign-webhook":
		return runSignWebhook(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`
Usage: mavunoctl <command> [flags]

Commands:
  keygen        generate a key and write it to an encrypted keystore
  address       print the account address held by a keystore
  token         issue a bearer token for the mavunod API
  sign-webhook  sign an on-ramp notification body the way a provider does`)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "output keystore path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	if !*force {
		if _, err := os.Stat(*out); err == nil {
			fmt.Fprintf(stderr, "Error: keystore %s already exists (use --force to overwrite)\n", *out)
			return 1
		} else if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	pass, err := passphraseFor(*passEnv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: write keystore: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keystore := fs.String("keystore", "", "keystore path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := keystoreAddress(*keystore, *passEnv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, addr.String())
	return 0
}

func keystoreAddress(path, passEnv string) (crypto.Address, error) {
	if strings.TrimSpace(path) == "" {
		return crypto.Address{}, errors.New("--keystore is required")
	}
	pass, err := passphraseFor(passEnv)
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("load keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	subject := fs.String("subject", "", "account address the token acts as")
	keystore := fs.String("keystore", "", "derive the subject from this keystore instead")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "environment variable holding the signing secret")
	issuer := fs.String("issuer", "mavuno", "token issuer")
	audience := fs.String("audience", "mavuno-api", "token audience")
	scopes := fs.String("scopes", "", "comma separated scopes, e.g. admin")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		fmt.Fprintf(stderr, "Error: %s is not set\n", *secretEnv)
		return 1
	}
	var (
		addr crypto.Address
		err  error
	)
	switch {
	case strings.TrimSpace(*keystore) != "":
		addr, err = keystoreAddress(*keystore, *passEnv)
	case strings.TrimSpace(*subject) != "":
		addr, err = crypto.DecodeAddress(strings.TrimSpace(*subject))
	default:
		err = errors.New("--subject or --keystore is required")
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := middleware.IssueToken([]byte(secret), *issuer, *audience, addr, splitScopes(*scopes), *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: issue token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func splitScopes(raw string) []string {
	var out []string
	for _, scope := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runSignWebhook(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-webhook", stderr)
	secretEnv := fs.String("secret-env", "MAVUNO_WEBHOOK_SECRET", "environment variable holding the webhook secret")
	file := fs.String("body", "", "notification JSON file; stdin when empty")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		fmt.Fprintf(stderr, "Error: %s is not set\n", *secretEnv)
		return 1
	}
	var (
		body []byte
		err  error
	)
	if *file == "" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*file)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: read body: %v\n", err)
		return 1
	}
	var notification onramp.Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		fmt.Fprintf(stderr, "Error: body is not a notification: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s: %s\n", onramp.SignatureHeader, onramp.Sign(secret, body))
	return 0
}
