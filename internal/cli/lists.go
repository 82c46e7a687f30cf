package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"funblink/app/internal/domain/blink"
)

type blinkView struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	ToPubkey    string `json:"toPubkey,omitempty" yaml:"toPubkey,omitempty"`
	Link        string `json:"link,omitempty" yaml:"link,omitempty"`
}

type listView struct {
	Address  string      `json:"address" yaml:"address"`
	Owner    string      `json:"owner" yaml:"owner"`
	Bump     uint8       `json:"bump" yaml:"bump"`
	Capacity int         `json:"capacity" yaml:"capacity"`
	Size     int         `json:"size" yaml:"size"`
	Deposit  uint64      `json:"deposit" yaml:"deposit"`
	Blinks   []blinkView `json:"blinks" yaml:"blinks"`
}

type closedView struct {
	Address  string `json:"address" yaml:"address"`
	Refunded uint64 `json:"refunded" yaml:"refunded"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <owner>",
		Short: "Show an owner's blink list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArg(args[0])
			if err != nil {
				return err
			}

			services, err := rootOpts.openServices(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeServices(services, cmd)

			snapshot, err := services.BlinkService.GetList(cmd.Context(), owner)
			if err != nil {
				return domainError("reading list", err)
			}

			return renderList(rootOpts, cmd, snapshot)
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var keyPath string
	var b blink.Blink

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Append a blink to the key owner's list",
		Long: `Append a blink to the key owner's list, allocating the list on first use.

Example:
  blinkctl create --key owner.key --id 1 --title "Tip jar" --to <pubkey> --link '{"a":[{"value":1}],"m":true}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, owner, err := readKeyFile(keyPath)
			if err != nil {
				return err
			}

			services, err := rootOpts.openServices(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeServices(services, cmd)

			snapshot, err := services.BlinkService.CreateBlink(cmd.Context(), blink.Call{Owner: owner}, b)
			if err != nil {
				return domainError("creating blink", err)
			}

			return renderList(rootOpts, cmd, snapshot)
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "private key file written by keygen")
	cmd.Flags().StringVar(&b.ID, "id", "", "blink id")
	cmd.Flags().StringVar(&b.Title, "title", "", "title")
	cmd.Flags().StringVar(&b.Icon, "icon", "", "icon URL")
	cmd.Flags().StringVar(&b.Description, "description", "", "description")
	cmd.Flags().StringVar(&b.Label, "label", "", "button label")
	cmd.Flags().StringVar(&b.ToPubkey, "to", "", "transfer recipient")
	cmd.Flags().StringVar(&b.Link, "link", "", `action definition, e.g. {"a":[{"value":1}],"m":true}`)
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove every blink with the id from the key owner's list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, owner, err := readKeyFile(keyPath)
			if err != nil {
				return err
			}

			services, err := rootOpts.openServices(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeServices(services, cmd)

			snapshot, err := services.BlinkService.DeleteBlink(cmd.Context(), blink.Call{Owner: owner}, args[0])
			if err != nil {
				return domainError("deleting blink", err)
			}

			return renderList(rootOpts, cmd, snapshot)
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "private key file written by keygen")

	return cmd
}

// NewCloseCommand creates the close command.
func NewCloseCommand(rootOpts *RootOptions) *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close the key owner's list and refund its deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, owner, err := readKeyFile(keyPath)
			if err != nil {
				return err
			}

			services, err := rootOpts.openServices(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeServices(services, cmd)

			closed, err := services.BlinkService.CloseBlink(cmd.Context(), blink.Call{Owner: owner})
			if err != nil {
				return domainError("closing list", err)
			}

			view := closedView{Address: closed.Address.String(), Refunded: closed.Refunded}
			return rootOpts.formatter(cmd).Success(view, func(w io.Writer) {
				fmt.Fprintf(w, "closed %s, refunded %d lamports\n", view.Address, view.Refunded)
			})
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "private key file written by keygen")

	return cmd
}

func renderList(rootOpts *RootOptions, cmd *cobra.Command, snapshot *blink.Snapshot) error {
	view := listView{
		Address:  snapshot.Address.String(),
		Owner:    snapshot.Owner.String(),
		Bump:     snapshot.Bump,
		Capacity: snapshot.Capacity,
		Size:     snapshot.Size,
		Deposit:  snapshot.Deposit,
		Blinks:   make([]blinkView, 0, len(snapshot.Blinks)),
	}
	for _, b := range snapshot.Blinks {
		view.Blinks = append(view.Blinks, blinkView(b))
	}

	return rootOpts.formatter(cmd).Success(view, func(w io.Writer) {
		fmt.Fprintf(w, "list %s (%d/%d bytes, %d blinks)\n", view.Address, view.Size, view.Capacity, len(view.Blinks))
		for _, b := range view.Blinks {
			title := b.Title
			if strings.TrimSpace(title) == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(w, "  %s\t%s\n", b.ID, title)
		}
	})
}

// domainError keeps the coded message for refused operations and exits with ExitFailure.
func domainError(action string, err error) error {
	if code, ok := blink.CodeOf(err); ok {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s: %s (%d)", action, code.Name, code.Number), err)
	}
	return WrapExitError(ExitFailure, action, err)
}
