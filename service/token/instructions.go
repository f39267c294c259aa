package token

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"
)

// MintAccountSize is the size of a classic SPL mint account.
const MintAccountSize = tokenprog.MINT_SIZE

// Step names one instruction in the creation transaction.
type Step string

const (
	StepFeeTransfer           Step = "fee_transfer"
	StepCreateMintAccount     Step = "create_mint_account"
	StepInitializeMint        Step = "initialize_mint"
	StepCreateHoldingAccount  Step = "create_holding_account"
	StepMintTo                Step = "mint_to"
	StepCreateMetadata        Step = "create_metadata"
	StepRevokeMintAuthority   Step = "revoke_mint_authority"
	StepRevokeFreezeAuthority Step = "revoke_freeze_authority"
)

// PendingInstruction is a built instruction tagged with its step.
type PendingInstruction struct {
	Step        Step
	Instruction solana.Instruction
}

// InstructionSet is the ordered list of instructions for one creation.
type InstructionSet []PendingInstruction

func (s InstructionSet) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, len(s))
	for i, p := range s {
		out[i] = p.Instruction
	}
	return out
}

func (s InstructionSet) Steps() []Step {
	out := make([]Step, len(s))
	for i, p := range s {
		out[i] = p.Step
	}
	return out
}

// BuildParams carries everything the builder needs. All network lookups
// (rent, derived addresses, uploads) happen before Build.
type BuildParams struct {
	Config           *AssetConfig
	Cost             CostBreakdown
	FeePayer         solana.PublicKey
	FeeReceiver      solana.PublicKey
	Mint             solana.PublicKey
	HoldingAccount   solana.PublicKey
	MetadataURI      string
	MintRentLamports uint64
}

type instructionRule struct {
	step    Step
	applies func(p *BuildParams) bool
	build   func(p *BuildParams) (solana.Instruction, error)
}

func always(*BuildParams) bool { return true }

// creationRules is applied top to bottom. Revocations come last so the
// mint authority is still held by the fee payer for mint_to and metadata.
var creationRules = []instructionRule{
	{StepFeeTransfer, always, buildFeeTransfer},
	{StepCreateMintAccount, always, buildCreateMintAccount},
	{StepInitializeMint, always, buildInitializeMint},
	{StepCreateHoldingAccount, always, buildCreateHoldingAccount},
	{StepMintTo, always, buildMintTo},
	{StepCreateMetadata, always, buildCreateMetadata},
	{
		StepRevokeMintAuthority,
		func(p *BuildParams) bool { return p.Config.Authorities.RevokeMint },
		func(p *BuildParams) (solana.Instruction, error) {
			return buildRevokeAuthority(p, tokenprog.AuthorityMintTokens)
		},
	},
	{
		StepRevokeFreezeAuthority,
		func(p *BuildParams) bool { return p.Config.Authorities.RevokeFreeze },
		func(p *BuildParams) (solana.Instruction, error) {
			return buildRevokeAuthority(p, tokenprog.AuthorityFreezeAccount)
		},
	},
}

// InstructionBuilder turns a validated configuration into the ordered
// instruction set. It performs no I/O.
type InstructionBuilder struct {
	rules []instructionRule
}

func NewInstructionBuilder() *InstructionBuilder {
	return &InstructionBuilder{rules: creationRules}
}

// Build applies every rule whose condition holds, in table order.
func (b *InstructionBuilder) Build(p BuildParams) (InstructionSet, error) {
	if p.Config == nil {
		return nil, newError(KindValidation, StageBuild, nil, "config is required")
	}
	for _, required := range []struct {
		name string
		key  solana.PublicKey
	}{
		{"fee payer", p.FeePayer},
		{"fee receiver", p.FeeReceiver},
		{"mint", p.Mint},
		{"holding account", p.HoldingAccount},
	} {
		if required.key.IsZero() {
			return nil, newError(KindValidation, StageBuild, nil, "%s is required", required.name)
		}
	}
	if p.MetadataURI == "" {
		return nil, newError(KindValidation, StageBuild, nil, "metadata uri is required")
	}

	set := make(InstructionSet, 0, len(b.rules))
	for _, rule := range b.rules {
		if !rule.applies(&p) {
			continue
		}
		inst, err := rule.build(&p)
		if err != nil {
			if _, ok := err.(*Error); ok {
				return nil, err
			}
			return nil, newError(KindValidation, StageBuild, err, "failed to build %s", rule.step)
		}
		set = append(set, PendingInstruction{Step: rule.step, Instruction: inst})
	}
	return set, nil
}

// DeriveHoldingAccount returns the associated token account of owner for mint.
func DeriveHoldingAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

func buildFeeTransfer(p *BuildParams) (solana.Instruction, error) {
	lamports := p.Cost.TotalLamports()
	if lamports == 0 {
		return nil, fmt.Errorf("fee must be greater than zero")
	}
	return system.NewTransferInstruction(lamports, p.FeePayer, p.FeeReceiver).ValidateAndBuild()
}

func buildCreateMintAccount(p *BuildParams) (solana.Instruction, error) {
	return system.NewCreateAccountInstruction(
		p.MintRentLamports,
		MintAccountSize,
		solana.TokenProgramID,
		p.FeePayer,
		p.Mint,
	).ValidateAndBuild()
}

func buildInitializeMint(p *BuildParams) (solana.Instruction, error) {
	return tokenprog.NewInitializeMint2Instruction(
		uint8(p.Config.Decimals),
		p.FeePayer,
		p.FeePayer,
		p.Mint,
	).ValidateAndBuild()
}

func buildCreateHoldingAccount(p *BuildParams) (solana.Instruction, error) {
	return associatedtokenaccount.NewCreateInstruction(p.FeePayer, p.FeePayer, p.Mint).ValidateAndBuild()
}

func buildMintTo(p *BuildParams) (solana.Instruction, error) {
	amount, err := p.Config.MintAmount()
	if err != nil {
		return nil, err
	}
	return tokenprog.NewMintToInstruction(
		amount,
		p.Mint,
		p.HoldingAccount,
		p.FeePayer,
		nil,
	).ValidateAndBuild()
}

func buildCreateMetadata(p *BuildParams) (solana.Instruction, error) {
	metadataPDA, _, err := solana.FindTokenMetadataAddress(p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive metadata address: %w", err)
	}
	return newCreateMetadataInstruction(
		metadataAccounts{
			Metadata:        metadataPDA,
			Mint:            p.Mint,
			MintAuthority:   p.FeePayer,
			Payer:           p.FeePayer,
			UpdateAuthority: p.FeePayer,
		},
		metadataArgs{
			Name:      strings.TrimSpace(p.Config.Name),
			Symbol:    strings.TrimSpace(p.Config.Symbol),
			URI:       p.MetadataURI,
			IsMutable: !p.Config.Authorities.RevokeUpdate,
		},
	)
}

// buildRevokeAuthority leaves NewAuthority unset, which encodes "none".
func buildRevokeAuthority(p *BuildParams, authority tokenprog.AuthorityType) (solana.Instruction, error) {
	return tokenprog.NewSetAuthorityInstructionBuilder().
		SetAuthorityType(authority).
		SetSubjectAccount(p.Mint).
		SetAuthorityAccount(p.FeePayer).
		ValidateAndBuild()
}
