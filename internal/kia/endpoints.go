package kia

const (
	// DefaultMockBaseURL is the Kiwoom paper-trading host.
	DefaultMockBaseURL = "https://mockapi.kiwoom.com"
	// DefaultLiveBaseURL is the Kiwoom production host.
	DefaultLiveBaseURL = "https://api.kiwoom.com"
)

// Broker api-ids.
const (
	APIIDQuote       = "ka10007"
	APIIDMinuteChart = "ka10080"
	APIIDOrderBuy    = "kt10000"
	APIIDOrderSell   = "kt10001"
)

// Endpoint is a resolved broker route.
type Endpoint struct {
	BaseURL string
	Path    string
	Method  string
}

// CredentialInfo is what the endpoint resolver needs from stored
// credentials. Base URLs are optional overrides.
type CredentialInfo struct {
	AppKey      string
	AppSecret   string
	AccountNo   string
	MockBaseURL string
	LiveBaseURL string
}

// ConfigSource supplies the runtime mode and credentials, normally backed
// by the CSM repository. Implementations return zero values when the
// documents do not exist yet.
type ConfigSource interface {
	Mode() Mode
	Credential() CredentialInfo
}

var routes = map[ServiceType]Endpoint{
	ServiceAuth:      {Path: "/oauth2/token", Method: "POST"},
	ServiceQuote:     {Path: "/api/dostk/mrkcond", Method: "POST"},
	ServiceChart:     {Path: "/api/dostk/chart", Method: "POST"},
	ServiceOrder:     {Path: "/api/dostk/ordr", Method: "POST"},
	ServiceExecution: {Path: "/api/dostk/websocket", Method: "POST"},
}

// EndpointResolver maps (mode, service) to a concrete endpoint using the
// stored credentials' base-URL overrides.
type EndpointResolver struct {
	source ConfigSource
}

// NewEndpointResolver builds a resolver. A nil source resolves everything
// against the default hosts in mock mode.
func NewEndpointResolver(source ConfigSource) *EndpointResolver {
	return &EndpointResolver{source: source}
}

// Resolve returns the endpoint for a service in a mode.
func (r *EndpointResolver) Resolve(mode Mode, service ServiceType) (Endpoint, error) {
	route, ok := routes[service]
	if !ok {
		return Endpoint{}, NewError(CodeRouteNotFound, "no route for service "+string(service), false, nil)
	}
	route.BaseURL = r.baseURL(mode)
	return route, nil
}

// ConfiguredMode returns the stored mode, defaulting to mock.
func (r *EndpointResolver) ConfiguredMode() Mode {
	if r.source == nil {
		return ModeMock
	}
	if mode := r.source.Mode(); mode == ModeLive {
		return ModeLive
	}
	return ModeMock
}

// HasLiveCredentials reports whether an app key and secret are stored.
func (r *EndpointResolver) HasLiveCredentials() bool {
	if r.source == nil {
		return false
	}
	cred := r.source.Credential()
	return cred.AppKey != "" && cred.AppSecret != ""
}

// AuthPayload returns the oauth request body fields from stored credentials.
func (r *EndpointResolver) AuthPayload() map[string]any {
	cred := CredentialInfo{}
	if r.source != nil {
		cred = r.source.Credential()
	}
	return map[string]any{
		"grant_type": "client_credentials",
		"appkey":     cred.AppKey,
		"secretkey":  cred.AppSecret,
	}
}

// AccountNo returns the stored account number.
func (r *EndpointResolver) AccountNo() string {
	if r.source == nil {
		return ""
	}
	return r.source.Credential().AccountNo
}

func (r *EndpointResolver) baseURL(mode Mode) string {
	cred := CredentialInfo{}
	if r.source != nil {
		cred = r.source.Credential()
	}
	if mode == ModeMock {
		if cred.MockBaseURL != "" {
			return cred.MockBaseURL
		}
		return DefaultMockBaseURL
	}
	if cred.LiveBaseURL != "" {
		return cred.LiveBaseURL
	}
	return DefaultLiveBaseURL
}
