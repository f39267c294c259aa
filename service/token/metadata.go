package token

import (
	"bytes"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	createMetadataAccountV3Discriminator uint8 = 33

	maxMetadataURILength = 200
)

// MetadataDocument is the off-chain JSON the on-chain metadata URI points at.
type MetadataDocument struct {
	Name        string              `json:"name"`
	Symbol      string              `json:"symbol"`
	Description string              `json:"description"`
	Image       string              `json:"image"`
	ExternalURL string              `json:"external_url,omitempty"`
	Attributes  []MetadataAttribute `json:"attributes"`
	Properties  MetadataProperties  `json:"properties"`
	Creator     *CreatorInfo        `json:"creator,omitempty"`
}

type MetadataAttribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

type MetadataProperties struct {
	Files    []MetadataFile `json:"files"`
	Category string         `json:"category"`
	Creators []CreatorInfo  `json:"creators,omitempty"`
}

type MetadataFile struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

// NewMetadataDocument builds the off-chain document for cfg, embedding the
// already-published image URI.
func NewMetadataDocument(cfg *AssetConfig, imageURI string) *MetadataDocument {
	doc := &MetadataDocument{
		Name:        strings.TrimSpace(cfg.Name),
		Symbol:      strings.TrimSpace(cfg.Symbol),
		Description: cfg.Description,
		Image:       imageURI,
		Attributes:  make([]MetadataAttribute, 0, len(cfg.SocialLinks)),
		Properties: MetadataProperties{
			Files:    []MetadataFile{{URI: imageURI, Type: cfg.ImageContentType()}},
			Category: "image",
		},
	}
	for _, link := range cfg.SocialLinks {
		doc.Attributes = append(doc.Attributes, MetadataAttribute{
			TraitType: link.Label,
			Value:     link.URL,
		})
		if doc.ExternalURL == "" && strings.EqualFold(link.Label, "website") {
			doc.ExternalURL = link.URL
		}
	}
	if cfg.Creator != nil {
		creator := *cfg.Creator
		doc.Creator = &creator
		doc.Properties.Creators = []CreatorInfo{creator}
	}
	return doc
}

// metadataAccounts are the accounts of a CreateMetadataAccountV3 call.
type metadataAccounts struct {
	Metadata        solana.PublicKey
	Mint            solana.PublicKey
	MintAuthority   solana.PublicKey
	Payer           solana.PublicKey
	UpdateAuthority solana.PublicKey
}

// metadataArgs mirrors DataV2 plus the V3 trailing fields.
type metadataArgs struct {
	Name      string
	Symbol    string
	URI       string
	IsMutable bool
}

func (a metadataArgs) encode() ([]byte, error) {
	if len(a.Name) > MaxNameLength {
		return nil, fmt.Errorf("metadata name exceeds %d bytes", MaxNameLength)
	}
	if len(a.Symbol) > MaxSymbolBytes {
		return nil, fmt.Errorf("metadata symbol exceeds %d bytes", MaxSymbolBytes)
	}
	if len(a.URI) > maxMetadataURILength {
		return nil, fmt.Errorf("metadata uri exceeds %d bytes", maxMetadataURILength)
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	steps := []func() error{
		func() error { return enc.WriteUint8(createMetadataAccountV3Discriminator) },
		func() error { return enc.WriteString(a.Name) },
		func() error { return enc.WriteString(a.Symbol) },
		func() error { return enc.WriteString(a.URI) },
		func() error { return enc.WriteUint16(0, bin.LE) }, // seller_fee_basis_points
		func() error { return enc.WriteOption(false) },     // creators
		func() error { return enc.WriteOption(false) },     // collection
		func() error { return enc.WriteOption(false) },     // uses
		func() error { return enc.WriteBool(a.IsMutable) },
		func() error { return enc.WriteOption(false) }, // collection_details
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("failed to encode metadata args: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decodeMetadataArgs(data []byte) (metadataArgs, error) {
	var args metadataArgs
	dec := bin.NewBorshDecoder(data)

	disc, err := dec.ReadUint8()
	if err != nil {
		return args, err
	}
	if disc != createMetadataAccountV3Discriminator {
		return args, fmt.Errorf("unexpected discriminator %d", disc)
	}
	if args.Name, err = dec.ReadString(); err != nil {
		return args, err
	}
	if args.Symbol, err = dec.ReadString(); err != nil {
		return args, err
	}
	if args.URI, err = dec.ReadString(); err != nil {
		return args, err
	}
	if _, err = dec.ReadUint16(bin.LE); err != nil {
		return args, err
	}
	for i := 0; i < 3; i++ {
		if _, err = dec.ReadOption(); err != nil {
			return args, err
		}
	}
	if args.IsMutable, err = dec.ReadBool(); err != nil {
		return args, err
	}
	return args, nil
}

// newCreateMetadataInstruction builds a Metaplex CreateMetadataAccountV3
// instruction. The update authority must sign.
func newCreateMetadataInstruction(accounts metadataAccounts, args metadataArgs) (solana.Instruction, error) {
	data, err := args.encode()
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Metadata).WRITE(),
		solana.Meta(accounts.Mint),
		solana.Meta(accounts.MintAuthority).SIGNER(),
		solana.Meta(accounts.Payer).WRITE().SIGNER(),
		solana.Meta(accounts.UpdateAuthority).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, metas, data), nil
}
