package csm

import (
	"log/slog"

	"kiwoom-trader/internal/kia"
)

// ConfigSource adapts the repository to the broker client's view of the
// runtime configuration. Reads go to disk on every call so a saved mode
// switch takes effect without a restart.
type ConfigSource struct {
	repository *Repository
	logger     *slog.Logger
}

// NewConfigSource wraps the repository for the broker client.
func NewConfigSource(repository *Repository, logger *slog.Logger) *ConfigSource {
	return &ConfigSource{repository: repository, logger: logger.With("component", "csm-source")}
}

// Mode returns the stored trading mode, defaulting to mock.
func (s *ConfigSource) Mode() kia.Mode {
	settings, err := s.repository.ReadSettings()
	if err != nil {
		s.logger.Warn("settings read failed, defaulting to mock", "error", err)
		return kia.ModeMock
	}
	if settings != nil && settings.Mode == "live" {
		return kia.ModeLive
	}
	return kia.ModeMock
}

// Credential returns the stored credentials, or zero values when none are
// saved yet.
func (s *ConfigSource) Credential() kia.CredentialInfo {
	credentials, err := s.repository.ReadCredentials()
	if err != nil {
		s.logger.Warn("credentials read failed", "error", err)
		return kia.CredentialInfo{}
	}
	if credentials == nil {
		return kia.CredentialInfo{}
	}
	return kia.CredentialInfo{
		AppKey:    credentials.Credential.AppKey,
		AppSecret: credentials.Credential.AppSecret,
		AccountNo: credentials.Credential.AccountNo,
	}
}
