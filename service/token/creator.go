package token

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/tokenforge/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// CreatorConfig holds the pipeline settings.
type CreatorConfig struct {
	FeeReceiver   solana.PublicKey
	FeeSchedule   FeeSchedule
	MaxImageBytes int
	ConfirmPolicy ConfirmPolicy
	Network       string
}

// Prepared is a creation whose content is published and whose transaction
// is signed by the mint key, waiting for the fee payer's signature.
type Prepared struct {
	Config         *AssetConfig
	Cost           CostBreakdown
	FeePayer       solana.PublicKey
	Mint           solana.PublicKey
	HoldingAccount solana.PublicKey
	ImageURI       string
	MetadataURI    string
	Steps          []Step
	Transaction    *PartialTransaction
}

// Creator runs the creation pipeline end to end.
type Creator struct {
	cfg        CreatorConfig
	calculator *CostCalculator
	publisher  ContentPublisher
	ledger     Ledger
	builder    *InstructionBuilder
	assembler  *TransactionAssembler
	controller *SubmissionController
	reporter   *ResultReporter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewCreator wires the pipeline components. If m is nil, no metrics are
// recorded.
func NewCreator(cfg CreatorConfig, ledger Ledger, publisher ContentPublisher, m *metrics.Metrics, logger *slog.Logger) *Creator {
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.FeeSchedule.Surcharges == nil {
		cfg.FeeSchedule = DefaultFeeSchedule()
	}
	return &Creator{
		cfg:        cfg,
		calculator: NewCostCalculator(cfg.FeeSchedule),
		publisher:  publisher,
		ledger:     ledger,
		builder:    NewInstructionBuilder(),
		assembler:  NewTransactionAssembler(ledger, logger),
		controller: NewSubmissionController(ledger, cfg.ConfirmPolicy, m, logger),
		reporter:   NewResultReporter(cfg.Network),
		metrics:    m,
		logger:     logger,
	}
}

// Quote prices a configuration without validating or touching the network.
func (c *Creator) Quote(flags CostFlags) CostBreakdown {
	return c.calculator.ComputeTotal(flags)
}

func (c *Creator) Reporter() *ResultReporter {
	return c.reporter
}

// Prepare validates cfg, publishes the image and metadata, and assembles the
// transaction. Nothing on-chain is built unless both uploads succeed.
func (c *Creator) Prepare(ctx context.Context, cfg *AssetConfig, feePayer solana.PublicKey) (*Prepared, error) {
	if err := cfg.Validate(c.cfg.MaxImageBytes); err != nil {
		return nil, err
	}
	if feePayer.IsZero() {
		return nil, validationError("fee payer is required")
	}

	p := &Prepared{
		Config:   cfg,
		Cost:     c.calculator.ComputeTotal(cfg.CostFlags()),
		FeePayer: feePayer,
	}

	start := time.Now()
	imageURI, err := c.publisher.Upload(ctx, cfg.Image.Data, cfg.ImageContentType())
	if err != nil {
		return nil, newError(KindStorageUnavailable, StageUpload, err, "failed to upload image")
	}
	p.ImageURI = imageURI

	metadataURI, err := c.publisher.UploadJSON(ctx, NewMetadataDocument(cfg, imageURI))
	if err != nil {
		return nil, newError(KindStorageUnavailable, StageUpload, err, "failed to upload metadata")
	}
	p.MetadataURI = metadataURI

	c.logger.InfoContext(ctx, "published token content",
		"symbol", cfg.Symbol,
		"image_uri", imageURI,
		"metadata_uri", metadataURI,
		"duration", time.Since(start),
	)

	if err := c.assemble(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Rebuild reassembles a prepared creation whose anchor expired. The
// published content is reused; a new mint identity is generated because the
// previous one was discarded.
func (c *Creator) Rebuild(ctx context.Context, p *Prepared) (*Prepared, error) {
	next := &Prepared{
		Config:      p.Config,
		Cost:        p.Cost,
		FeePayer:    p.FeePayer,
		ImageURI:    p.ImageURI,
		MetadataURI: p.MetadataURI,
	}
	if err := c.assemble(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Creator) assemble(ctx context.Context, p *Prepared) error {
	rent, err := c.ledger.MinimumRentExemptBalance(ctx, MintAccountSize)
	if err != nil {
		return newError(KindNetworkUnavailable, StageBuild, err, "failed to fetch rent-exempt minimum")
	}

	mint, err := NewMintIdentity()
	if err != nil {
		return newError(KindValidation, StageBuild, err, "failed to create mint identity")
	}
	defer mint.Discard()

	holding, err := DeriveHoldingAccount(p.FeePayer, mint.PublicKey())
	if err != nil {
		return newError(KindValidation, StageBuild, err, "failed to derive holding account")
	}

	set, err := c.builder.Build(BuildParams{
		Config:           p.Config,
		Cost:             p.Cost,
		FeePayer:         p.FeePayer,
		FeeReceiver:      c.cfg.FeeReceiver,
		Mint:             mint.PublicKey(),
		HoldingAccount:   holding,
		MetadataURI:      p.MetadataURI,
		MintRentLamports: rent,
	})
	if err != nil {
		return err
	}

	partial, err := c.assembler.Assemble(ctx, set, p.FeePayer, mint)
	if err != nil {
		return err
	}

	p.Mint = mint.PublicKey()
	p.HoldingAccount = holding
	p.Steps = set.Steps()
	p.Transaction = partial
	return nil
}

// Complete has the wallet sign the prepared transaction and submits it.
func (c *Creator) Complete(ctx context.Context, p *Prepared, wallet Wallet) (*SubmissionReceipt, error) {
	receipt, err := c.controller.Submit(ctx, p.Transaction, wallet)
	annotateReceipt(receipt, p)
	return receipt, err
}

// CompleteSigned submits a transaction the fee payer signed out of process.
func (c *Creator) CompleteSigned(ctx context.Context, p *Prepared, signed *solana.Transaction) (*SubmissionReceipt, error) {
	receipt, err := c.controller.SubmitSigned(ctx, signed, p.Transaction.Anchor)
	annotateReceipt(receipt, p)
	return receipt, err
}

func annotateReceipt(receipt *SubmissionReceipt, p *Prepared) {
	if receipt == nil {
		return
	}
	receipt.FeePayer = p.FeePayer
	receipt.MintAddress = p.Mint
	receipt.HoldingAddress = p.HoldingAccount
	receipt.MetadataURI = p.MetadataURI
	receipt.ImageURI = p.ImageURI
	receipt.PaymentLamports = p.Cost.TotalLamports()
}

// Create runs the whole pipeline with an interactive wallet.
func (c *Creator) Create(ctx context.Context, cfg *AssetConfig, wallet Wallet) (*Result, *SubmissionReceipt, error) {
	start := time.Now()
	result, receipt, err := c.create(ctx, cfg, wallet)

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		c.logger.ErrorContext(ctx, "token creation failed",
			"symbol", cfg.Symbol,
			"kind", outcome,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordCreation(outcome, time.Since(start).Seconds())
	}
	return result, receipt, err
}

func (c *Creator) create(ctx context.Context, cfg *AssetConfig, wallet Wallet) (*Result, *SubmissionReceipt, error) {
	if err := cfg.Validate(c.cfg.MaxImageBytes); err != nil {
		return nil, nil, err
	}

	feePayer, err := wallet.Connect(ctx)
	if err != nil {
		return nil, nil, newError(KindUserRejected, StageSign, err, "wallet connection refused")
	}
	defer func() {
		if err := wallet.Disconnect(context.WithoutCancel(ctx)); err != nil {
			c.logger.WarnContext(ctx, "wallet disconnect failed", "error", err)
		}
	}()

	prepared, err := c.Prepare(ctx, cfg, feePayer)
	if err != nil {
		return nil, nil, err
	}

	receipt, err := c.Complete(ctx, prepared, wallet)
	result, err := c.reporter.ToResult(receipt, cfg, err)
	if err != nil {
		return nil, receipt, err
	}

	c.logger.InfoContext(ctx, "token created",
		"mint", result.MintAddress,
		"holding", result.TokenAddress,
		"signature", result.PaymentInfo.Signature,
	)
	return result, receipt, nil
}
