package csm

import (
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[0-9]{6}$`)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// NormalizeSymbols trims whitespace around every symbol.
func NormalizeSymbols(watchSymbols []string) []string {
	out := make([]string, len(watchSymbols))
	for i, symbol := range watchSymbols {
		out[i] = strings.TrimSpace(symbol)
	}
	return out
}

// ValidateWatchSymbols enforces 1..20 six-digit codes without duplicates.
func ValidateWatchSymbols(watchSymbols []string) error {
	if len(watchSymbols) < 1 || len(watchSymbols) > 20 {
		return newValidationError(CodeSymbolCountOutOfRange, "watchSymbols", len(watchSymbols))
	}
	seen := make(map[string]bool, len(watchSymbols))
	for _, symbol := range watchSymbols {
		if !symbolPattern.MatchString(symbol) {
			return newValidationError(CodeSymbolFormatInvalid, "watchSymbols", symbol)
		}
		if seen[symbol] {
			return newValidationError(CodeSymbolDuplicated, "watchSymbols", symbol)
		}
		seen[symbol] = true
	}
	return nil
}

// ValidateMode checks the mode value and the live confirmation flag.
func ValidateMode(mode string, liveModeConfirmed bool) error {
	if mode != "mock" && mode != "live" {
		return newValidationError(CodeModeInvalid, "mode", mode)
	}
	if mode == "live" && !liveModeConfirmed {
		return newValidationError(CodeLiveConfirmRequired, "liveModeConfirmed", liveModeConfirmed)
	}
	return nil
}

// NormalizeCredential trims every field and strips dashes from the account
// number.
func NormalizeCredential(c Credential) Credential {
	return Credential{
		AppKey:    strings.TrimSpace(c.AppKey),
		AppSecret: strings.TrimSpace(c.AppSecret),
		AccountNo: strings.TrimSpace(strings.ReplaceAll(c.AccountNo, "-", "")),
		UserID:    strings.TrimSpace(c.UserID),
	}
}

// ValidateCredential requires every field; the account number must be at
// least eight digits after normalisation. Error values carry masked
// renderings only.
func ValidateCredential(c Credential) error {
	if c.AppKey == "" {
		return newValidationError(CodeCredentialFieldMissing, "appKey", "")
	}
	if c.AppSecret == "" {
		return newValidationError(CodeCredentialFieldMissing, "appSecret", "")
	}
	if c.AccountNo == "" {
		return newValidationError(CodeCredentialFieldMissing, "accountNo", "")
	}
	if !digitsOnly.MatchString(c.AccountNo) || len(c.AccountNo) < 8 {
		return newValidationError(CodeCredentialFieldMissing, "accountNo", MaskAccountNo(c.AccountNo))
	}
	if c.UserID == "" {
		return newValidationError(CodeCredentialFieldMissing, "userId", "")
	}
	return nil
}

// ValidateModeSwitchGuard rejects a mode switch while the engine is busy.
func ValidateModeSwitchGuard(guard TradingGuardStatus) error {
	if guard.OpenOrders != 0 || guard.OpenPositions != 0 || guard.EngineState != "IDLE" {
		return newValidationError(CodeModeSwitchPreconditionFailed, "guard", map[string]any{
			"openOrders":    guard.OpenOrders,
			"openPositions": guard.OpenPositions,
			"engineState":   guard.EngineState,
		})
	}
	return nil
}
