package csm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validationCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	return v.Code
}

func TestValidateWatchSymbols(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateWatchSymbols([]string{"005930", "000660"}))

	require.Equal(t, CodeSymbolCountOutOfRange, validationCode(t, ValidateWatchSymbols(nil)))

	many := make([]string, 21)
	for i := range many {
		many[i] = "005930"
	}
	require.Equal(t, CodeSymbolCountOutOfRange, validationCode(t, ValidateWatchSymbols(many)))

	require.Equal(t, CodeSymbolFormatInvalid, validationCode(t, ValidateWatchSymbols([]string{"5930"})))
	require.Equal(t, CodeSymbolFormatInvalid, validationCode(t, ValidateWatchSymbols([]string{"00593A"})))
	require.Equal(t, CodeSymbolFormatInvalid, validationCode(t, ValidateWatchSymbols([]string{""})))
	require.Equal(t, CodeSymbolDuplicated, validationCode(t, ValidateWatchSymbols([]string{"005930", "005930"})))
}

func TestValidateMode(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateMode("mock", false))
	require.NoError(t, ValidateMode("live", true))
	require.Equal(t, CodeModeInvalid, validationCode(t, ValidateMode("paper", false)))
	require.Equal(t, CodeLiveConfirmRequired, validationCode(t, ValidateMode("live", false)))
}

func TestNormalizeCredentialStripsDashes(t *testing.T) {
	t.Parallel()

	normalized := NormalizeCredential(Credential{
		AppKey:    " key ",
		AppSecret: "secret",
		AccountNo: " 1234-5678-90 ",
		UserID:    " user1 ",
	})
	require.Equal(t, "key", normalized.AppKey)
	require.Equal(t, "1234567890", normalized.AccountNo)
	require.Equal(t, "user1", normalized.UserID)
}

func TestValidateCredential(t *testing.T) {
	t.Parallel()

	valid := Credential{AppKey: "k", AppSecret: "s", AccountNo: "12345678", UserID: "user1"}
	require.NoError(t, ValidateCredential(valid))

	cases := []struct {
		name   string
		mutate func(Credential) Credential
	}{
		{"missing app key", func(c Credential) Credential { c.AppKey = ""; return c }},
		{"missing secret", func(c Credential) Credential { c.AppSecret = ""; return c }},
		{"missing account", func(c Credential) Credential { c.AccountNo = ""; return c }},
		{"short account", func(c Credential) Credential { c.AccountNo = "1234567"; return c }},
		{"non-numeric account", func(c Credential) Credential { c.AccountNo = "12345678a"; return c }},
		{"missing user", func(c Credential) Credential { c.UserID = ""; return c }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, CodeCredentialFieldMissing, validationCode(t, ValidateCredential(tc.mutate(valid))))
		})
	}
}

func TestValidateModeSwitchGuard(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateModeSwitchGuard(TradingGuardStatus{EngineState: "IDLE"}))

	require.Equal(t, CodeModeSwitchPreconditionFailed,
		validationCode(t, ValidateModeSwitchGuard(TradingGuardStatus{OpenOrders: 1, EngineState: "IDLE"})))
	require.Equal(t, CodeModeSwitchPreconditionFailed,
		validationCode(t, ValidateModeSwitchGuard(TradingGuardStatus{OpenPositions: 1, EngineState: "IDLE"})))
	require.Equal(t, CodeModeSwitchPreconditionFailed,
		validationCode(t, ValidateModeSwitchGuard(TradingGuardStatus{EngineState: "RUNNING"})))
}

func TestMaskCredential(t *testing.T) {
	t.Parallel()

	masked := MaskCredential(Credential{
		AppKey:    "real-key",
		AppSecret: "real-secret",
		AccountNo: "1234567890",
		UserID:    "trader1",
	})
	require.Equal(t, "***masked***", masked.AppKey)
	require.Equal(t, "***masked***", masked.AppSecret)
	require.Equal(t, "******7890", masked.AccountNo)
	require.Equal(t, "tr***", masked.UserID)

	require.Equal(t, "******123", MaskAccountNo("123"))
	require.Equal(t, "u***", MaskUserID("u"))
}
