package cli

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ed25519"

	"funblink/app/internal/domain/account"
	"funblink/app/internal/domain/address"
	"funblink/app/internal/platform/auth"
)

type keyView struct {
	PublicKey  string `json:"public_key" yaml:"public_key"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

type derivedView struct {
	Owner     string `json:"owner" yaml:"owner"`
	Address   string `json:"address" yaml:"address"`
	Bump      uint8  `json:"bump" yaml:"bump"`
	Program   string `json:"program" yaml:"program"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type signedView struct {
	Method     string       `json:"method" yaml:"method"`
	RequestURI string       `json:"request_uri" yaml:"request_uri"`
	Headers    auth.Headers `json:"headers" yaml:"headers"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an owner keypair",
		Long: `Generate an ed25519 owner keypair.

With --out the base58 private key is written to the file (mode 0600) and only the
public key is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			public, private, err := ed25519.GenerateKey(nil)
			if err != nil {
				return WrapExitError(ExitFailure, "generating key", err)
			}

			owner, err := account.PubkeyFromBytes(public)
			if err != nil {
				return WrapExitError(ExitFailure, "encoding public key", err)
			}

			view := keyView{PublicKey: owner.String()}
			if out != "" {
				if err := os.WriteFile(out, []byte(account.EncodePrivateKey(private)+"\n"), 0o600); err != nil {
					return WrapExitError(ExitCommandError, "writing key file", err)
				}
				view.KeyFile = out
			} else {
				view.PrivateKey = account.EncodePrivateKey(private)
			}

			return rootOpts.formatter(cmd).Success(view, func(w io.Writer) {
				fmt.Fprintf(w, "public key:  %s\n", view.PublicKey)
				if view.KeyFile != "" {
					fmt.Fprintf(w, "key file:    %s\n", view.KeyFile)
				} else {
					fmt.Fprintf(w, "private key: %s\n", view.PrivateKey)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the private key to this file")

	return cmd
}

// NewDeriveCommand creates the derive command.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	var program, namespace string

	cmd := &cobra.Command{
		Use:   "derive <owner>",
		Short: "Derive the list address of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArg(args[0])
			if err != nil {
				return err
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			programID := cfg.Program.ID
			if program != "" {
				if programID, err = account.ParsePubkey(program); err != nil {
					return WrapExitError(ExitCommandError, "--program is not a valid public key", err)
				}
			}
			if namespace == "" {
				namespace = cfg.Program.Namespace
			}

			deriver, err := address.NewDeriver(programID, namespace)
			if err != nil {
				return WrapExitError(ExitCommandError, "creating deriver", err)
			}

			derived, err := deriver.Derive(owner)
			if err != nil {
				return WrapExitError(ExitFailure, "deriving list address", err)
			}

			view := derivedView{
				Owner:     owner.String(),
				Address:   derived.Address.String(),
				Bump:      derived.Bump,
				Program:   deriver.Program().String(),
				Namespace: deriver.Namespace(),
			}

			return rootOpts.formatter(cmd).Success(view, func(w io.Writer) {
				fmt.Fprintf(w, "%s (bump %d)\n", view.Address, view.Bump)
			})
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "program id (defaults to PROGRAM_ID)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "list namespace seed (defaults to LIST_NAMESPACE)")

	return cmd
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	var keyPath, method, target, body, bodyFile string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature headers for an HTTP request",
		Long: `Print the signature headers for an HTTP request.

Example:
  blinkctl sign --key owner.key --method POST --path /v1/blinks --body '{"id":"1"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _, err := readKeyFile(keyPath)
			if err != nil {
				return err
			}

			payload := []byte(body)
			if bodyFile != "" {
				if payload, err = os.ReadFile(bodyFile); err != nil {
					return WrapExitError(ExitCommandError, "reading body file", err)
				}
			}

			requestURI, err := normalizeRequestURI(target)
			if err != nil {
				return err
			}

			headers, err := auth.Sign(key, method, requestURI, time.Now(), payload)
			if err != nil {
				return WrapExitError(ExitFailure, "signing request", err)
			}

			view := signedView{Method: strings.ToUpper(method), RequestURI: requestURI, Headers: headers}
			return rootOpts.formatter(cmd).Success(view, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", auth.HeaderOwner, headers.Owner)
				fmt.Fprintf(w, "%s: %s\n", auth.HeaderTimestamp, headers.Timestamp)
				fmt.Fprintf(w, "%s: %s\n", auth.HeaderSignature, headers.Signature)
			})
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "private key file written by keygen")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method")
	cmd.Flags().StringVar(&target, "path", "/v1/blinks", "request path with query, or a full URL")
	cmd.Flags().StringVar(&body, "body", "", "request body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "read the request body from a file")

	return cmd
}

// normalizeRequestURI accepts either a request URI or an absolute URL and returns the
// path and query the server will verify against.
func normalizeRequestURI(target string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", WrapExitError(ExitCommandError, "parsing --path", err)
	}
	uri := parsed.RequestURI()
	if !strings.HasPrefix(uri, "/") {
		return "", NewExitError(ExitCommandError, "--path must start with /")
	}
	return uri, nil
}
