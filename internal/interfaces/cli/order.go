package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/spf13/cobra"
)

// OrderOptions holds flags for the order command.
type OrderOptions struct {
	*RootOptions
	Output string
}

// orderDump is the JSON document written by the order command
type orderDump struct {
	OrderDetails orderJSON `json:"order_details"`
}

type orderJSON struct {
	ID          string         `json:"id"`
	CreatedTime int64          `json:"createdTime"`
	LineItems   []lineItemJSON `json:"lineItems"`
}

type lineItemJSON struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Modifications []modificationJSON `json:"modifications"`
}

type modificationJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newOrderJSON(o kitchen.Order) orderJSON {
	out := orderJSON{
		ID:          o.ID,
		CreatedTime: o.CreatedTime,
		LineItems:   make([]lineItemJSON, 0, len(o.LineItems)),
	}
	for _, li := range o.LineItems {
		item := lineItemJSON{
			ID:            li.ID,
			Name:          li.Name,
			Modifications: make([]modificationJSON, 0, len(li.Modifications)),
		}
		for _, m := range li.Modifications {
			item.Modifications = append(item.Modifications, modificationJSON(m))
		}
		out.LineItems = append(out.LineItems, item)
	}
	return out
}

// NewOrderCommand creates the order command.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "order <order-id>",
		Short: "Fetch one order with its line item modifications",
		Long: `Fetch one order, its line items and each line item's modifications
exactly as the point-of-sale API returns them (names are not normalized).

Example:
  kdsctl order ABC123 --output orders/ABC123.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to this file instead of stdout")

	return cmd
}

func runOrder(cmd *cobra.Command, opts *OrderOptions, orderID string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	log, err := newLogger(opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client, err := newCloverClient(cfg, log)
	if err != nil {
		return err
	}

	order, err := client.FetchOrderWithModifications(cmd.Context(), orderID)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("fetch order %s", orderID), Err: err}
	}
	dump := orderDump{OrderDetails: newOrderJSON(order)}

	if opts.Output == "" || opts.Output == "-" {
		if opts.Format == "text" {
			printOrderText(cmd.OutOrStdout(), dump.OrderDetails)
			return nil
		}
		return writeJSON(cmd.OutOrStdout(), dump)
	}

	if err := writeFile(opts.Output, dump); err != nil {
		return &ExitError{Code: ExitFailure, Message: "write output", Err: err}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Order data with modifications saved to %s\n", opts.Output)
	return nil
}

func writeFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printOrderText(w io.Writer, o orderJSON) {
	fmt.Fprintf(w, "%s\n", o.ID)
	for _, li := range o.LineItems {
		fmt.Fprintf(w, "  %s\n", li.Name)
		for _, m := range li.Modifications {
			fmt.Fprintf(w, "      + %s\n", m.Name)
		}
	}
}
