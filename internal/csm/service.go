package csm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const configVersion = "v0.1.0"

// Service validates and persists operator configuration.
type Service struct {
	repository *Repository
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires the settings manager to its repository.
func NewService(repository *Repository, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		logger:     logger.With("component", "csm"),
		now:        time.Now,
	}
}

// SetNowFunc overrides wall clock for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	s.now = now
}

// SaveSettings validates the request, persists credentials and settings,
// and returns the masked view.
func (s *Service) SaveSettings(req SaveSettingsRequest) (*SettingsView, error) {
	watchSymbols := NormalizeSymbols(req.WatchSymbols)
	if err := ValidateWatchSymbols(watchSymbols); err != nil {
		return nil, err
	}
	if err := ValidateMode(req.Mode, req.LiveModeConfirmed); err != nil {
		return nil, err
	}
	credential := NormalizeCredential(req.Credential)
	if err := ValidateCredential(credential); err != nil {
		return nil, err
	}
	buyBudget := strings.ReplaceAll(strings.TrimSpace(req.BuyBudget), ",", "")

	now := s.now().UTC()
	updatedAt := now.Format(time.RFC3339Nano)
	credentialsID := fmt.Sprintf("cred-%s", now.Format("20060102-150405"))

	if err := s.repository.WriteCredentials(StoredCredentials{
		CredentialsID: credentialsID,
		UpdatedAt:     updatedAt,
		Provider:      "kiwoom-rest",
		Credential:    credential,
	}); err != nil {
		return nil, err
	}
	settings := Settings{
		Version:           configVersion,
		UpdatedAt:         updatedAt,
		WatchSymbols:      watchSymbols,
		Mode:              req.Mode,
		LiveModeConfirmed: req.LiveModeConfirmed,
		CredentialsRef:    credentialsID,
		BuyBudget:         buyBudget,
	}
	if err := s.repository.WriteSettings(settings); err != nil {
		return nil, err
	}

	masked := MaskCredential(credential)
	s.logger.Info("settings saved",
		"mode", settings.Mode,
		"watch_symbols", len(watchSymbols),
		"account_no", masked.AccountNo)

	return &SettingsView{
		ConfigVersion:     settings.Version,
		UpdatedAt:         settings.UpdatedAt,
		WatchSymbols:      settings.WatchSymbols,
		Mode:              settings.Mode,
		LiveModeConfirmed: settings.LiveModeConfirmed,
		BuyBudget:         settings.BuyBudget,
		CredentialMasked:  masked,
	}, nil
}

// ModeSwitchView is the switch-mode response.
type ModeSwitchView struct {
	Mode      string `json:"mode"`
	UpdatedAt string `json:"updatedAt"`
}

// SwitchMode changes the trading mode. It refuses while any order or
// position is open or the engine is not idle.
func (s *Service) SwitchMode(targetMode string, liveModeConfirmed bool, guard TradingGuardStatus) (*ModeSwitchView, error) {
	if err := ValidateMode(targetMode, liveModeConfirmed); err != nil {
		return nil, err
	}
	if err := ValidateModeSwitchGuard(guard); err != nil {
		return nil, err
	}

	settings, err := s.repository.ReadSettings()
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, newValidationError(CodeModeSwitchPreconditionFailed, "settings", "not saved")
	}

	settings.Mode = targetMode
	settings.LiveModeConfirmed = liveModeConfirmed
	settings.UpdatedAt = s.now().UTC().Format(time.RFC3339Nano)
	if err := s.repository.WriteSettings(*settings); err != nil {
		return nil, err
	}

	s.logger.Info("trading mode switched", "mode", targetMode)
	return &ModeSwitchView{Mode: settings.Mode, UpdatedAt: settings.UpdatedAt}, nil
}

// CurrentSettings returns the persisted settings with credentials masked.
// Returns nil when nothing has been saved yet.
func (s *Service) CurrentSettings() (*SettingsView, error) {
	settings, err := s.repository.ReadSettings()
	if err != nil || settings == nil {
		return nil, err
	}
	var masked MaskedCredential
	if credentials, err := s.repository.ReadCredentials(); err != nil {
		return nil, err
	} else if credentials != nil {
		masked = MaskCredential(credentials.Credential)
	}
	return &SettingsView{
		ConfigVersion:     settings.Version,
		UpdatedAt:         settings.UpdatedAt,
		WatchSymbols:      settings.WatchSymbols,
		Mode:              settings.Mode,
		LiveModeConfirmed: settings.LiveModeConfirmed,
		BuyBudget:         settings.BuyBudget,
		CredentialMasked:  masked,
	}, nil
}
