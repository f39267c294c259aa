package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/tokenforge/client"
	natspkg "github.com/brojonat/tokenforge/service/nats"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/urfave/cli/v2"
)

func remoteCommands() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Commands against a running tokenforge server (HTTP API)",
		Subcommands: []*cli.Command{
			remoteCreateCommand(),
			remoteReceiptCommand(),
			remoteReceiptsCommand(),
			remoteQRCommand(),
			watchCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, newLogger(c))
}

func remoteCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a token through the server, signing locally",
		Description: `The server uploads the content and builds the transaction; only the
signed transaction leaves this machine. Expired transactions are rebuilt by the
server and signed again.`,
		Flags: append(assetFlags(), walletFlags()...),
		Action: func(c *cli.Context) error {
			asset, err := loadAssetConfig(c)
			if err != nil {
				return err
			}
			payer, err := loadWallet(c)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Creating %s (%s) via %s, paid by %s...\n",
				asset.Name, asset.Symbol, c.String("server-url"), payer.PublicKey())

			result, err := newClient(c).Create(c.Context, asset, payer)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Signature != "" && errors.Is(err, token.ErrTimeout) {
					fmt.Fprintf(os.Stderr, "Submitted %s but confirmation timed out; the server keeps watching it.\n", apiErr.Signature)
					fmt.Fprintf(os.Stderr, "Check it later with: tokenforge remote receipt %s\n", apiErr.Signature)
				}
				return err
			}

			return printOutput(c, result, func(w io.Writer) {
				if result.Result == nil {
					fmt.Fprintf(w, "✓ Submitted %s\n", result.Signature)
					return
				}
				printResult(w, result.Result)
			})
		},
	}
}

func remoteReceiptCommand() *cli.Command {
	return &cli.Command{
		Name:      "receipt",
		Usage:     "Show the receipt of a submitted creation",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one signature argument")
			}
			receipt, err := newClient(c).Receipt(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return printOutput(c, receipt, func(w io.Writer) { printReceipt(w, receipt) })
		},
	}
}

func remoteReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "receipts",
		Usage:     "List journaled creations paid by a wallet",
		ArgsUsage: "FEE_PAYER",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of receipts", Value: 20},
			&cli.IntFlag{Name: "offset", Usage: "Number of receipts to skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one fee payer argument")
			}
			receipts, err := newClient(c).ListReceipts(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return err
			}
			return printOutput(c, receipts, func(w io.Writer) {
				if len(receipts) == 0 {
					fmt.Fprintln(w, "No receipts found")
					return
				}
				fmt.Fprintf(w, "%-88s %-10s %-8s %s\n", "SIGNATURE", "STATUS", "SYMBOL", "SUBMITTED")
				for _, r := range receipts {
					submitted := ""
					if r.SubmittedAt != nil {
						submitted = r.SubmittedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%-88s %-10s %-8s %s\n", r.Signature, r.Status, r.Symbol, submitted)
				}
			})
		},
	}
}

func printReceipt(w io.Writer, r *client.Receipt) {
	fmt.Fprintf(w, "Signature: %s\n", r.Signature)
	fmt.Fprintf(w, "Status:    %s (from %s)\n", r.Status, r.Source)
	if r.Name != "" {
		fmt.Fprintf(w, "Token:     %s (%s)\n", r.Name, r.Symbol)
	}
	if r.MintAddress != "" {
		fmt.Fprintf(w, "Mint:      %s\n", r.MintAddress)
	}
	if r.FeePayer != "" {
		fmt.Fprintf(w, "Fee payer: %s\n", r.FeePayer)
	}
	if r.Slot != nil {
		fmt.Fprintf(w, "Slot:      %d\n", *r.Slot)
	}
	if r.Error != nil {
		fmt.Fprintf(w, "Error:     %s\n", *r.Error)
	}
	if r.SubmittedAt != nil {
		fmt.Fprintf(w, "Submitted: %s\n", r.SubmittedAt.Format(time.RFC3339))
	}
	if r.ConfirmedAt != nil {
		fmt.Fprintf(w, "Confirmed: %s\n", r.ConfirmedAt.Format(time.RFC3339))
	}
}

func remoteQRCommand() *cli.Command {
	return &cli.Command{
		Name:      "qr",
		Usage:     "Download a QR code linking to a token's explorer page",
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output PNG path", Value: "token-qr.png"},
			&cli.IntFlag{Name: "size", Usage: "Image size in pixels (64-1024)", Value: 256},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one mint argument")
			}
			png, err := newClient(c).TokenQR(c.Context, c.Args().First(), c.Int("size"))
			if err != nil {
				return err
			}
			out := c.String("out")
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(os.Stderr, "✓ Wrote %s (%d bytes)\n", out, len(png))
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream creation events for a fee payer via SSE",
		ArgsUsage: "FEE_PAYER",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one fee payer argument")
			}
			feePayer := c.Args().First()
			jsonOutput := c.Bool("json")
			url := fmt.Sprintf("%s/api/v1/events/%s", strings.TrimRight(c.String("server-url"), "/"), feePayer)

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			// No timeout for streaming
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Watching creations paid by %s... (Ctrl+C to stop)\n\n", feePayer)
			}

			err = readEvents(resp.Body, func(eventType, data string) error {
				return handleEvent(os.Stdout, eventType, data, jsonOutput)
			})
			if err != nil && ctx.Err() != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "\nDisconnected\n")
				}
				return nil
			}
			return err
		},
	}
}

// readEvents parses an SSE stream and calls handle for every complete event.
func readEvents(r io.Reader, handle func(eventType, data string) error) error {
	scanner := bufio.NewScanner(r)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := handle(currentEvent, currentData); err != nil {
					return err
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func handleEvent(w io.Writer, eventType, data string, jsonOutput bool) error {
	switch natspkg.EventType(eventType) {
	case "connected":
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "✓ Subscribed\n\n")
		}
		return nil

	case "error":
		var errInfo map[string]any
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %v", errInfo["error"])

	case natspkg.EventSubmitted, natspkg.EventConfirmed, natspkg.EventFailed, natspkg.EventTimeout:
		var event natspkg.TokenEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return err
		}
		if jsonOutput {
			fmt.Fprintln(w, data)
			return nil
		}
		printEvent(w, &event)
		return nil

	default:
		// Unknown event type, ignore
		return nil
	}
}

func printEvent(w io.Writer, e *natspkg.TokenEvent) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Event:      %s\n", e.Type)
	fmt.Fprintf(w, "Signature:  %s\n", e.Signature)
	if e.Symbol != "" {
		fmt.Fprintf(w, "Token:      %s (%s)\n", e.Name, e.Symbol)
	}
	if e.MintAddress != "" {
		fmt.Fprintf(w, "Mint:       %s\n", e.MintAddress)
	}
	if e.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", e.Error)
	}
	fmt.Fprintf(w, "Time:       %s\n", e.PublishedAt.Format(time.RFC3339))
}
