package csm

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kiwoom-trader/internal/kia"
)

func newTestService(t *testing.T) (*Service, *Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repository, err := NewRepository(dir)
	require.NoError(t, err)
	svc := NewService(repository, slog.Default())
	svc.SetNowFunc(func() time.Time {
		return time.Date(2026, 2, 17, 8, 30, 0, 0, time.UTC)
	})
	return svc, repository, dir
}

func validRequest() SaveSettingsRequest {
	return SaveSettingsRequest{
		WatchSymbols:      []string{" 005930 ", "000660"},
		Mode:              "mock",
		LiveModeConfirmed: false,
		BuyBudget:         "1,000,000",
		Credential: Credential{
			AppKey:    "app-key",
			AppSecret: "app-secret",
			AccountNo: "1234-5678-90",
			UserID:    "trader1",
		},
	}
}

func TestSaveSettingsPersistsAndMasks(t *testing.T) {
	t.Parallel()

	svc, repository, dir := newTestService(t)

	view, err := svc.SaveSettings(validRequest())
	require.NoError(t, err)

	require.Equal(t, "v0.1.0", view.ConfigVersion)
	require.Equal(t, []string{"005930", "000660"}, view.WatchSymbols)
	require.Equal(t, "1000000", view.BuyBudget)
	require.Equal(t, "***masked***", view.CredentialMasked.AppKey)
	require.Equal(t, "******7890", view.CredentialMasked.AccountNo)
	require.Equal(t, "tr***", view.CredentialMasked.UserID)

	settings, err := repository.ReadSettings()
	require.NoError(t, err)
	require.NotNil(t, settings)
	require.Equal(t, "cred-20260217-083000", settings.CredentialsRef)

	credentials, err := repository.ReadCredentials()
	require.NoError(t, err)
	require.NotNil(t, credentials)
	require.Equal(t, "kiwoom-rest", credentials.Provider)
	require.Equal(t, "1234567890", credentials.Credential.AccountNo)

	// The settings document never contains raw credential material.
	raw, err := os.ReadFile(filepath.Join(dir, "settings.local.json"))
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "app-secret"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "temp file left behind: %s", entry.Name())
	}
}

func TestSaveSettingsRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	req := validRequest()
	req.Mode = "live"
	_, err := svc.SaveSettings(req)
	require.Equal(t, CodeLiveConfirmRequired, validationCode(t, err))

	req = validRequest()
	req.WatchSymbols = []string{"bad"}
	_, err = svc.SaveSettings(req)
	require.Equal(t, CodeSymbolFormatInvalid, validationCode(t, err))
}

func TestSwitchModeGuard(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, err := svc.SaveSettings(validRequest())
	require.NoError(t, err)

	_, err = svc.SwitchMode("live", true, TradingGuardStatus{OpenOrders: 1, EngineState: "IDLE"})
	require.Equal(t, CodeModeSwitchPreconditionFailed, validationCode(t, err))

	view, err := svc.SwitchMode("live", true, TradingGuardStatus{EngineState: "IDLE"})
	require.NoError(t, err)
	require.Equal(t, "live", view.Mode)

	current, err := svc.CurrentSettings()
	require.NoError(t, err)
	require.Equal(t, "live", current.Mode)
	require.True(t, current.LiveModeConfirmed)
}

func TestSwitchModeBeforeSaveFails(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, err := svc.SwitchMode("mock", false, TradingGuardStatus{EngineState: "IDLE"})
	require.Equal(t, CodeModeSwitchPreconditionFailed, validationCode(t, err))
}

func TestConfigSourceFeedsBrokerClient(t *testing.T) {
	t.Parallel()

	svc, repository, _ := newTestService(t)
	source := NewConfigSource(repository, slog.Default())

	require.Equal(t, kia.ModeMock, source.Mode(), "unsaved settings default to mock")
	require.Empty(t, source.Credential().AppKey)

	req := validRequest()
	req.Mode = "live"
	req.LiveModeConfirmed = true
	_, err := svc.SaveSettings(req)
	require.NoError(t, err)

	require.Equal(t, kia.ModeLive, source.Mode())
	cred := source.Credential()
	require.Equal(t, "app-key", cred.AppKey)
	require.Equal(t, "1234567890", cred.AccountNo)
}

func TestCurrentSettingsBeforeSaveIsNil(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	view, err := svc.CurrentSettings()
	require.NoError(t, err)
	require.Nil(t, view)
}
