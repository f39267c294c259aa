package token

import (
	"errors"
	"fmt"
)

// Kind classifies a creation failure. Callers branch on the kind to decide
// whether to retry, rebuild or give up.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindStorageUnavailable    Kind = "storage_unavailable"
	KindNetworkUnavailable    Kind = "network_unavailable"
	KindUserRejected          Kind = "user_rejected"
	KindLedgerExecutionFailed Kind = "ledger_execution_failed"
	KindTimeout               Kind = "timeout"
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageUpload    Stage = "upload"
	StageBuild     Stage = "build"
	StageAssemble  Stage = "assemble"
	StageSign      Stage = "sign"
	StageBroadcast Stage = "broadcast"
	StageConfirm   Stage = "confirm"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrStorageUnavailable    = &Error{Kind: KindStorageUnavailable}
	ErrNetworkUnavailable    = &Error{Kind: KindNetworkUnavailable}
	ErrUserRejected          = &Error{Kind: KindUserRejected}
	ErrLedgerExecutionFailed = &Error{Kind: KindLedgerExecutionFailed}
	ErrTimeout               = &Error{Kind: KindTimeout}
)

// Errors a Ledger implementation wraps so the submission controller can
// classify broadcast failures.
var (
	// ErrTransactionRejected means the ledger refused the transaction during
	// simulation or execution.
	ErrTransactionRejected = errors.New("transaction rejected by ledger")
	// ErrAnchorExpired means the recent blockhash is no longer accepted.
	ErrAnchorExpired = errors.New("transaction anchor expired")
)

// ErrSignatureDeclined is returned by wallets when the user refuses to sign.
var ErrSignatureDeclined = errors.New("signature declined")

// Error is the typed error returned by every pipeline stage.
type Error struct {
	Kind      Kind
	Stage     Stage
	Message   string
	Cause     error
	Signature string // set once a broadcast has happened
	Expired   bool   // anchor passed its last valid height; rebuild from assembly
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Stage)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry the failed step as-is.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetworkUnavailable || e.Kind == KindStorageUnavailable
}

func newError(kind Kind, stage Stage, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func validationError(format string, args ...any) *Error {
	return newError(KindValidation, StageValidate, nil, format, args...)
}

// KindOf returns the kind of err, or "" if err is not a pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsExpired reports whether err signals that the transaction anchor expired
// and the transaction must be reassembled.
func IsExpired(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Expired
}
