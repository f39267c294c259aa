package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brojonat/tokenforge/client"
	"github.com/brojonat/tokenforge/service/config"
	"github.com/brojonat/tokenforge/service/solana"
	"github.com/brojonat/tokenforge/service/storage"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/brojonat/tokenforge/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func costFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "revoke-mint", Usage: "Revoke the mint authority (fixed supply)"},
		&cli.BoolFlag{Name: "revoke-freeze", Usage: "Revoke the freeze authority"},
		&cli.BoolFlag{Name: "revoke-update", Usage: "Make the metadata immutable"},
	}
}

// assetFlags describe a token either through a --config JSON file or
// individual flags; flags override the file.
func assetFlags() []cli.Flag {
	return append(costFlags(),
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a JSON asset config"},
		&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "Path to the token image (PNG or JPEG)", Required: true},
		&cli.StringFlag{Name: "name", Usage: "Token name"},
		&cli.StringFlag{Name: "symbol", Usage: "Token symbol"},
		&cli.IntFlag{Name: "decimals", Usage: "Token decimals (0-18)", Value: -1},
		&cli.StringFlag{Name: "supply", Usage: "Total supply in whole tokens"},
		&cli.StringFlag{Name: "description", Usage: "Token description"},
		&cli.StringSliceFlag{Name: "link", Usage: "Social link as label=url (repeatable)"},
		&cli.StringFlag{Name: "creator-name", Usage: "Creator name shown in metadata"},
		&cli.StringFlag{Name: "creator-website", Usage: "Creator website shown in metadata"},
	)
}

func walletFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "keypair",
			Aliases: []string{"k"},
			Usage:   "Path to a solana-keygen keypair file that pays for the creation",
			EnvVars: []string{"TOKENFORGE_KEYPAIR"},
		},
		&cli.StringFlag{
			Name:    "secret-key",
			Usage:   "Base58 secret key that pays for the creation",
			EnvVars: []string{"TOKENFORGE_SECRET_KEY"},
		},
	}
}

func flagsFromContext(c *cli.Context) token.CostFlags {
	return token.CostFlags{
		RevokeMint:   c.Bool("revoke-mint"),
		RevokeFreeze: c.Bool("revoke-freeze"),
		RevokeUpdate: c.Bool("revoke-update"),
		CreatorInfo:  c.Bool("creator-info"),
	}
}

// loadAssetConfig reads the --config file, applies flag overrides and
// attaches the --image file.
func loadAssetConfig(c *cli.Context) (*token.AssetConfig, error) {
	cfg := &token.AssetConfig{}
	if path := c.String("config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if v := c.String("name"); v != "" {
		cfg.Name = v
	}
	if v := c.String("symbol"); v != "" {
		cfg.Symbol = v
	}
	if v := c.Int("decimals"); v >= 0 {
		cfg.Decimals = v
	}
	if v := c.String("supply"); v != "" {
		supply, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --supply %q: %w", v, err)
		}
		cfg.TotalSupply = supply
	}
	if v := c.String("description"); v != "" {
		cfg.Description = v
	}
	for _, link := range c.StringSlice("link") {
		label, url, ok := strings.Cut(link, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --link %q: expected label=url", link)
		}
		cfg.SocialLinks = append(cfg.SocialLinks, token.SocialLink{Label: label, URL: url})
	}
	if name := c.String("creator-name"); name != "" {
		cfg.Creator = &token.CreatorInfo{Name: name, Website: c.String("creator-website")}
	}

	cfg.Authorities.RevokeMint = cfg.Authorities.RevokeMint || c.Bool("revoke-mint")
	cfg.Authorities.RevokeFreeze = cfg.Authorities.RevokeFreeze || c.Bool("revoke-freeze")
	cfg.Authorities.RevokeUpdate = cfg.Authorities.RevokeUpdate || c.Bool("revoke-update")

	imagePath := c.String("image")
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	cfg.Image = token.Image{
		Data:        data,
		ContentType: mime.TypeByExtension(filepath.Ext(imagePath)),
		Filename:    filepath.Base(imagePath),
	}
	return cfg, nil
}

// loadWallet returns the keypair wallet named by --keypair or --secret-key.
func loadWallet(c *cli.Context) (*wallet.KeypairWallet, error) {
	if secret := c.String("secret-key"); secret != "" {
		return wallet.FromBase58(secret)
	}
	path := c.String("keypair")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("keypair is required (use --keypair or --secret-key)")
		}
		path = filepath.Join(home, ".config", "solana", "id.json")
	}
	return wallet.FromKeygenFile(path)
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Show the service fee for a set of options",
		Flags: append(costFlags(),
			&cli.BoolFlag{Name: "creator-info", Usage: "Include creator info in the metadata"},
			&cli.BoolFlag{Name: "remote", Usage: "Ask the server instead of using the default price list"},
		),
		Action: func(c *cli.Context) error {
			flags := flagsFromContext(c)

			var quote *client.Quote
			if c.Bool("remote") {
				cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
				q, err := cl.Quote(c.Context, flags)
				if err != nil {
					return fmt.Errorf("failed to get quote: %w", err)
				}
				quote = q
			} else {
				breakdown := token.NewCostCalculator(token.DefaultFeeSchedule()).ComputeTotal(flags)
				quote = &client.Quote{CostBreakdown: breakdown, TotalLamports: breakdown.TotalLamports()}
			}

			return printOutput(c, quote, func(w io.Writer) { printQuote(w, quote) })
		},
	}
}

func printQuote(w io.Writer, q *client.Quote) {
	fmt.Fprintf(w, "Base fee:   %s SOL\n", q.Base)
	for _, opt := range []token.Option{token.OptionRevokeMint, token.OptionRevokeFreeze, token.OptionRevokeUpdate, token.OptionCreatorInfo} {
		if amount, ok := q.Surcharges[opt]; ok {
			fmt.Fprintf(w, "  + %-16s %s SOL\n", opt, amount)
		}
	}
	fmt.Fprintf(w, "Total:      %s SOL (%d lamports)\n", q.Total, q.TotalLamports)
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a token directly against Solana RPC",
		Description: `Runs the whole pipeline locally: validates the asset, uploads the image and
metadata, builds the creation transaction, signs it with the keypair and submits it.
Reads the same environment as the server (SOLANA_RPC_URLS, FEE_RECEIVER_ADDRESS,
STORAGE_API_KEY, ...).`,
		Flags: append(append(assetFlags(), walletFlags()...),
			&cli.BoolFlag{Name: "dry-run", Usage: "Validate and quote without uploading or submitting"},
		),
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(c)

			asset, err := loadAssetConfig(c)
			if err != nil {
				return err
			}

			if c.Bool("dry-run") {
				if err := asset.Validate(cfg.MaxImageBytes); err != nil {
					return err
				}
				breakdown := token.NewCostCalculator(cfg.FeeSchedule).ComputeTotal(asset.CostFlags())
				quote := &client.Quote{CostBreakdown: breakdown, TotalLamports: breakdown.TotalLamports()}
				return printOutput(c, quote, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s (%s) is valid\n", asset.Name, asset.Symbol)
					printQuote(w, quote)
				})
			}

			payer, err := loadWallet(c)
			if err != nil {
				return err
			}

			endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
			if err != nil {
				return err
			}
			ledger := solana.NewClient(solana.NewRPCClient(endpoint), rpc.CommitmentType(cfg.SolanaCommitment), endpoint, nil, logger)

			publisher, err := storage.NewPublisher(storage.Config{
				APIKey:     cfg.StorageAPIKey,
				UploadURL:  cfg.StorageUploadURL,
				GatewayURL: cfg.StorageGatewayURL,
			}, nil, logger)
			if err != nil {
				return err
			}

			creator := token.NewCreator(cfg.CreatorConfig(), ledger, publisher, nil, logger)

			fmt.Fprintf(os.Stderr, "Creating %s (%s) on %s, paid by %s...\n",
				asset.Name, asset.Symbol, cfg.Network, payer.PublicKey())

			result, receipt, err := creator.Create(c.Context, asset, payer)
			if err != nil {
				if receipt != nil && errors.Is(err, token.ErrTimeout) {
					fmt.Fprintf(os.Stderr, "Submitted %s but confirmation timed out.\n", receipt.Signature)
					fmt.Fprintf(os.Stderr, "Check it later with: tokenforge status %s\n", receipt.Signature)
				}
				return err
			}

			return printOutput(c, result, func(w io.Writer) { printResult(w, result) })
		},
	}
}

func printResult(w io.Writer, r *token.Result) {
	fmt.Fprintln(w, "✓ Token created")
	if r.Name != "" {
		fmt.Fprintf(w, "  Token:     %s (%s)\n", r.Name, r.Symbol)
	}
	fmt.Fprintf(w, "  Mint:      %s\n", r.MintAddress)
	fmt.Fprintf(w, "  Account:   %s\n", r.TokenAddress)
	fmt.Fprintf(w, "  Metadata:  %s\n", r.MetadataURL)
	fmt.Fprintf(w, "  Image:     %s\n", r.ImageURL)
	fmt.Fprintf(w, "  Paid:      %s SOL\n", r.PaymentInfo.Amount)
	fmt.Fprintf(w, "  Signature: %s\n", r.PaymentInfo.Signature)
	if r.ExplorerURL != "" {
		fmt.Fprintf(w, "  Explorer:  %s\n", r.ExplorerURL)
	}
}

// statusReport is the output of the status command.
type statusReport struct {
	Signature string                  `json:"signature"`
	Status    string                  `json:"status"`
	Slot      uint64                  `json:"slot,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Creation  *solana.CreationSummary `json:"creation,omitempty"`
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Look up the outcome of a creation transaction on the ledger",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   rpc.DevNet_RPC,
			},
			&cli.BoolFlag{Name: "inspect", Usage: "Decode the confirmed transaction's steps"},
			&cli.DurationFlag{Name: "timeout", Usage: "Request timeout", Value: 30 * time.Second},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one signature argument")
			}
			sig, err := solanago.SignatureFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			endpoint := c.String("rpc-url")
			ledger := solana.NewClient(solana.NewRPCClient(endpoint), rpc.CommitmentConfirmed, endpoint, nil, newLogger(c))

			report, err := lookupStatus(ctx, ledger, sig, c.Bool("inspect"))
			if err != nil {
				return err
			}
			return printOutput(c, report, func(w io.Writer) { printStatus(w, report) })
		},
	}
}

// statusLedger is the part of the Solana client the status command needs.
type statusLedger interface {
	SignatureStatus(ctx context.Context, sig solanago.Signature) (*token.SignatureStatus, error)
	InspectCreation(ctx context.Context, sig solanago.Signature) (*solana.CreationSummary, error)
}

func lookupStatus(ctx context.Context, ledger statusLedger, sig solanago.Signature, inspect bool) (*statusReport, error) {
	status, err := ledger.SignatureStatus(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	report := &statusReport{Signature: sig.String()}
	switch {
	case status == nil:
		report.Status = "unknown"
	case status.Err != nil:
		report.Status = string(token.ReceiptFailed)
		report.Slot = status.Slot
		report.Error = status.Err.Error()
	case status.Confirmed:
		report.Status = string(token.ReceiptConfirmed)
		report.Slot = status.Slot
	default:
		report.Status = string(token.ReceiptPending)
		report.Slot = status.Slot
	}

	if inspect && status != nil && status.Confirmed {
		summary, err := ledger.InspectCreation(ctx, sig)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect transaction: %w", err)
		}
		report.Creation = summary
	}
	return report, nil
}

func printStatus(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "Signature: %s\n", r.Signature)
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	if r.Slot > 0 {
		fmt.Fprintf(w, "Slot:      %d\n", r.Slot)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.Error)
	}
	if s := r.Creation; s != nil {
		fmt.Fprintf(w, "Fee payer: %s\n", s.FeePayer)
		fmt.Fprintf(w, "Fee:       %d lamports\n", s.FeeLamports)
		if s.Mint != "" {
			fmt.Fprintf(w, "Mint:      %s\n", s.Mint)
		}
		fmt.Fprintf(w, "Minted:    %d base units\n", s.MintedAmount)
		fmt.Fprintf(w, "Steps:\n")
		for i, step := range s.Steps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, step)
		}
	}
}
