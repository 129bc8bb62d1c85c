package manifest

// Manifest is the operator's description of an app and how to set it up.
type Manifest struct {
	About     *About `json:"about,omitempty" yaml:"about,omitempty" validate:"required"`
	Setup     Setup  `json:"setup" yaml:"setup"`
	Memcached bool   `json:"memcached,omitempty" yaml:"memcached,omitempty"`
	Redis     bool   `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// About identifies the app.
type About struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Type        string `json:"type" yaml:"type" validate:"required"`
	DomainNames string `json:"domain_names" yaml:"domain_names" validate:"required"`
}

// Setup holds provisioning options. Every field is optional; NewContext
// fills in defaults.
type Setup struct {
	User                             string `json:"user,omitempty" yaml:"user,omitempty"`
	AppDir                           string `json:"app_dir,omitempty" yaml:"app_dir,omitempty"`
	RubyVersion                      string `json:"ruby_version,omitempty" yaml:"ruby_version,omitempty"`
	RubyManager                      string `json:"ruby_manager,omitempty" yaml:"ruby_manager,omitempty"`
	InstallPassenger                 bool   `json:"install_passenger,omitempty" yaml:"install_passenger,omitempty"`
	PassengerEnterprise              bool   `json:"passenger_enterprise,omitempty" yaml:"passenger_enterprise,omitempty"`
	PassengerEnterpriseDownloadToken string `json:"passenger_enterprise_download_token,omitempty" yaml:"passenger_enterprise_download_token,omitempty" validate:"required_if=PassengerEnterprise true"`
}

// App types with special handling.
const (
	TypeRuby = "ruby"
)

// RubyManagerRVM is the default Ruby version manager for Ruby apps.
const RubyManagerRVM = "rvm"
