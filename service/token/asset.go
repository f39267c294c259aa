package token

import (
	"errors"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxNameLength   = 32
	MaxSymbolLength = 8
	MaxSymbolBytes  = 10
	MaxDecimals     = 18

	// DefaultMaxImageBytes is the image size bound enforced before upload.
	DefaultMaxImageBytes = 5 * 1024 * 1024
)

var maxMintAmount = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

var (
	errInvalidScheme = errors.New("scheme must be http or https")
	errMissingHost   = errors.New("missing host")
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

// AssetConfig is the user's declared token configuration.
type AssetConfig struct {
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    int             `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	Description string          `json:"description,omitempty"`
	Image       Image           `json:"-"`
	SocialLinks []SocialLink    `json:"social_links,omitempty"`
	Creator     *CreatorInfo    `json:"creator,omitempty"`
	Authorities AuthorityFlags  `json:"authorities"`
}

// Image is the raw token image.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

type SocialLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type CreatorInfo struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

// AuthorityFlags selects which authorities are permanently given up.
type AuthorityFlags struct {
	RevokeMint   bool `json:"revoke_mint"`
	RevokeFreeze bool `json:"revoke_freeze"`
	RevokeUpdate bool `json:"revoke_update"`
}

// CostFlags returns the priced options this configuration enables.
func (c *AssetConfig) CostFlags() CostFlags {
	return CostFlags{
		RevokeMint:   c.Authorities.RevokeMint,
		RevokeFreeze: c.Authorities.RevokeFreeze,
		RevokeUpdate: c.Authorities.RevokeUpdate,
		CreatorInfo:  c.Creator != nil,
	}
}

// Validate checks the configuration without touching the network. A
// maxImageBytes of zero uses DefaultMaxImageBytes.
func (c *AssetConfig) Validate(maxImageBytes int) error {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}

	name := strings.TrimSpace(c.Name)
	if name == "" {
		return validationError("name is required")
	}
	if len(name) > MaxNameLength {
		return validationError("name must be at most %d bytes", MaxNameLength)
	}

	symbol := strings.TrimSpace(c.Symbol)
	if symbol == "" {
		return validationError("symbol is required")
	}
	if utf8.RuneCountInString(symbol) > MaxSymbolLength {
		return validationError("symbol must be at most %d characters", MaxSymbolLength)
	}
	// On-chain metadata stores the symbol in at most MaxSymbolBytes bytes.
	if len(symbol) > MaxSymbolBytes {
		return validationError("symbol must be at most %d bytes", MaxSymbolBytes)
	}

	if c.Decimals < 0 || c.Decimals > MaxDecimals {
		return validationError("decimals must be between 0 and %d", MaxDecimals)
	}

	if !c.TotalSupply.IsPositive() {
		return validationError("total supply must be greater than zero")
	}
	if _, err := c.MintAmount(); err != nil {
		return err
	}

	if len(c.Image.Data) == 0 {
		return validationError("image is required")
	}
	if len(c.Image.Data) > maxImageBytes {
		return validationError("image is %d bytes, limit is %d", len(c.Image.Data), maxImageBytes)
	}
	detected := http.DetectContentType(c.Image.Data)
	if !allowedImageTypes[detected] {
		return validationError("image must be PNG or JPEG, got %s", detected)
	}

	for _, link := range c.SocialLinks {
		if strings.TrimSpace(link.Label) == "" {
			return validationError("social link label is required")
		}
		if err := validateURL(link.URL); err != nil {
			return validationError("social link %q: %v", link.Label, err)
		}
	}

	if c.Creator != nil {
		if strings.TrimSpace(c.Creator.Name) == "" {
			return validationError("creator name is required when creator info is set")
		}
		if c.Creator.Website != "" {
			if err := validateURL(c.Creator.Website); err != nil {
				return validationError("creator website: %v", err)
			}
		}
	}

	return nil
}

// MintAmount is TotalSupply scaled by 10^Decimals as an exact integer.
func (c *AssetConfig) MintAmount() (uint64, error) {
	if c.Decimals < 0 || c.Decimals > MaxDecimals {
		return 0, validationError("decimals must be between 0 and %d", MaxDecimals)
	}
	scaled := c.TotalSupply.Shift(int32(c.Decimals))
	if !scaled.IsInteger() {
		return 0, validationError("total supply %s has more than %d decimal places", c.TotalSupply, c.Decimals)
	}
	if scaled.IsNegative() || scaled.GreaterThan(maxMintAmount) {
		return 0, validationError("total supply %s is out of range at %d decimals", c.TotalSupply, c.Decimals)
	}
	return scaled.BigInt().Uint64(), nil
}

// ImageContentType is the sniffed MIME type, falling back to the declared one.
func (c *AssetConfig) ImageContentType() string {
	detected := http.DetectContentType(c.Image.Data)
	if allowedImageTypes[detected] {
		return detected
	}
	return c.Image.ContentType
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &url.Error{Op: "parse", URL: raw, Err: errInvalidScheme}
	}
	if u.Host == "" {
		return &url.Error{Op: "parse", URL: raw, Err: errMissingHost}
	}
	return nil
}
