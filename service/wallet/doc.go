// Package wallet provides Wallet implementations for the token creation
// pipeline.
//
//   - FromKeygenFile / FromBase58: hold a fee payer key locally. Intended for
//     CLI and backend use.
//   - FromCallback: delegate signing to an external signer (browser wallet
//     bridge, custodial API). The callback returning an error is treated as
//     the user declining.
package wallet
