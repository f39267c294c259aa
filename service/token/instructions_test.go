package token

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuildParams(t *testing.T, cfg *AssetConfig) BuildParams {
	t.Helper()
	feePayer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	holding, err := DeriveHoldingAccount(feePayer, mint)
	require.NoError(t, err)

	return BuildParams{
		Config:           cfg,
		Cost:             NewCostCalculator(DefaultFeeSchedule()).ComputeTotal(cfg.CostFlags()),
		FeePayer:         feePayer,
		FeeReceiver:      solana.MustPublicKeyFromBase58("27BCQDeDE2y1iSnfYYwGWPNE9tXaq8YbJyJZ2bf9NZuR"),
		Mint:             mint,
		HoldingAccount:   holding,
		MetadataURI:      "https://gateway.example/ipfs/metadata-cid",
		MintRentLamports: 1_461_600,
	}
}

func decodeSystem(t *testing.T, inst solana.Instruction) *system.Instruction {
	t.Helper()
	data, err := inst.Data()
	require.NoError(t, err)
	decoded, err := system.DecodeInstruction(inst.Accounts(), data)
	require.NoError(t, err)
	return decoded
}

func decodeToken(t *testing.T, inst solana.Instruction) *tokenprog.Instruction {
	t.Helper()
	data, err := inst.Data()
	require.NoError(t, err)
	decoded, err := tokenprog.DecodeInstruction(inst.Accounts(), data)
	require.NoError(t, err)
	return decoded
}

func TestBuild_Order(t *testing.T) {
	tests := []struct {
		name        string
		authorities AuthorityFlags
		want        []Step
	}{
		{
			name: "no revocations",
			want: []Step{
				StepFeeTransfer, StepCreateMintAccount, StepInitializeMint,
				StepCreateHoldingAccount, StepMintTo, StepCreateMetadata,
			},
		},
		{
			name:        "revoke update only keeps metadata",
			authorities: AuthorityFlags{RevokeUpdate: true},
			want: []Step{
				StepFeeTransfer, StepCreateMintAccount, StepInitializeMint,
				StepCreateHoldingAccount, StepMintTo, StepCreateMetadata,
			},
		},
		{
			name:        "all revocations",
			authorities: AuthorityFlags{RevokeMint: true, RevokeFreeze: true, RevokeUpdate: true},
			want: []Step{
				StepFeeTransfer, StepCreateMintAccount, StepInitializeMint,
				StepCreateHoldingAccount, StepMintTo, StepCreateMetadata,
				StepRevokeMintAuthority, StepRevokeFreezeAuthority,
			},
		},
		{
			name:        "freeze only",
			authorities: AuthorityFlags{RevokeFreeze: true},
			want: []Step{
				StepFeeTransfer, StepCreateMintAccount, StepInitializeMint,
				StepCreateHoldingAccount, StepMintTo, StepCreateMetadata,
				StepRevokeFreezeAuthority,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Authorities = tt.authorities

			set, err := NewInstructionBuilder().Build(newBuildParams(t, cfg))
			require.NoError(t, err)
			assert.Equal(t, tt.want, set.Steps())
			assert.Len(t, set.Instructions(), len(tt.want))
		})
	}
}

func TestBuild_FeeTransfer(t *testing.T) {
	cfg := validConfig()
	cfg.Authorities = AuthorityFlags{RevokeMint: true, RevokeFreeze: true}
	params := newBuildParams(t, cfg)

	set, err := NewInstructionBuilder().Build(params)
	require.NoError(t, err)

	transfer, ok := decodeSystem(t, set[0].Instruction).Impl.(*system.Transfer)
	require.True(t, ok)
	assert.Equal(t, uint64(260_000_000), *transfer.Lamports)
	assert.Equal(t, params.FeePayer, transfer.GetFundingAccount().PublicKey)
	assert.Equal(t, params.FeeReceiver, transfer.GetRecipientAccount().PublicKey)
}

func TestBuild_MintAccount(t *testing.T) {
	params := newBuildParams(t, validConfig())

	set, err := NewInstructionBuilder().Build(params)
	require.NoError(t, err)

	create, ok := decodeSystem(t, set[1].Instruction).Impl.(*system.CreateAccount)
	require.True(t, ok)
	assert.Equal(t, uint64(82), *create.Space)
	assert.Equal(t, params.MintRentLamports, *create.Lamports)
	assert.Equal(t, solana.TokenProgramID, *create.Owner)
	assert.Equal(t, params.Mint, create.GetNewAccount().PublicKey)

	init, ok := decodeToken(t, set[2].Instruction).Impl.(*tokenprog.InitializeMint2)
	require.True(t, ok)
	assert.Equal(t, uint8(9), *init.Decimals)
	assert.Equal(t, params.FeePayer, *init.MintAuthority)
	assert.Equal(t, params.FeePayer, *init.FreezeAuthority)
}

func TestBuild_MintToExactAmount(t *testing.T) {
	params := newBuildParams(t, validConfig())

	set, err := NewInstructionBuilder().Build(params)
	require.NoError(t, err)

	require.Equal(t, StepMintTo, set[4].Step)
	mintTo, ok := decodeToken(t, set[4].Instruction).Impl.(*tokenprog.MintTo)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000_000_000_000), *mintTo.Amount)
	assert.Equal(t, params.HoldingAccount, mintTo.GetDestinationAccount().PublicKey)
}

func TestBuild_HoldingAccount(t *testing.T) {
	params := newBuildParams(t, validConfig())

	set, err := NewInstructionBuilder().Build(params)
	require.NoError(t, err)

	accounts := set[3].Instruction.Accounts()
	require.GreaterOrEqual(t, len(accounts), 4)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, set[3].Instruction.ProgramID())
	assert.Equal(t, params.HoldingAccount, accounts[1].PublicKey)
}

func TestBuild_Metadata(t *testing.T) {
	tests := []struct {
		name        string
		revoke      bool
		wantMutable bool
	}{
		{name: "mutable", revoke: false, wantMutable: true},
		{name: "immutable", revoke: true, wantMutable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Authorities.RevokeUpdate = tt.revoke
			params := newBuildParams(t, cfg)

			set, err := NewInstructionBuilder().Build(params)
			require.NoError(t, err)

			inst := set[5].Instruction
			assert.Equal(t, solana.TokenMetadataProgramID, inst.ProgramID())

			data, err := inst.Data()
			require.NoError(t, err)
			args, err := decodeMetadataArgs(data)
			require.NoError(t, err)
			assert.Equal(t, "Forge Token", args.Name)
			assert.Equal(t, "FRG", args.Symbol)
			assert.Equal(t, params.MetadataURI, args.URI)
			assert.Equal(t, tt.wantMutable, args.IsMutable)

			pda, _, err := solana.FindTokenMetadataAddress(params.Mint)
			require.NoError(t, err)
			assert.Equal(t, pda, inst.Accounts()[0].PublicKey)
		})
	}
}

func TestBuild_RevokeSetsNoAuthority(t *testing.T) {
	cfg := validConfig()
	cfg.Authorities = AuthorityFlags{RevokeMint: true, RevokeFreeze: true}
	params := newBuildParams(t, cfg)

	set, err := NewInstructionBuilder().Build(params)
	require.NoError(t, err)

	wantTypes := map[Step]tokenprog.AuthorityType{
		StepRevokeMintAuthority:   tokenprog.AuthorityMintTokens,
		StepRevokeFreezeAuthority: tokenprog.AuthorityFreezeAccount,
	}
	for _, pending := range set[6:] {
		revoke, ok := decodeToken(t, pending.Instruction).Impl.(*tokenprog.SetAuthority)
		require.True(t, ok)
		assert.Equal(t, wantTypes[pending.Step], *revoke.AuthorityType)
		assert.Nil(t, revoke.NewAuthority)
		assert.Equal(t, params.Mint, revoke.GetSubjectAccount().PublicKey)
	}
}

func TestBuild_MissingInputs(t *testing.T) {
	params := newBuildParams(t, validConfig())
	params.MetadataURI = ""

	_, err := NewInstructionBuilder().Build(params)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	params = newBuildParams(t, validConfig())
	params.FeeReceiver = solana.PublicKey{}
	_, err = NewInstructionBuilder().Build(params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee receiver")
}

func TestBuild_MissingKeysReportedInOrder(t *testing.T) {
	params := newBuildParams(t, validConfig())
	params.FeeReceiver = solana.PublicKey{}
	params.Mint = solana.PublicKey{}
	params.HoldingAccount = solana.PublicKey{}

	// The first missing key wins on every run.
	for i := 0; i < 20; i++ {
		_, err := NewInstructionBuilder().Build(params)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fee receiver is required")
	}
}
