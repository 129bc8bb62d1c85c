package host

import "context"

// FactState records what is known about a fact on a host.
type FactState int

const (
	// NotComputed means the fact has never been computed in this run.
	NotComputed FactState = iota
	// Computed means a value was found and is reused for the rest of the run.
	Computed
	// ComputedAbsent means the last computation found nothing. It is not
	// reused: the next request computes again, so software installed later
	// in the run is picked up.
	ComputedAbsent
)

func (s FactState) String() string {
	switch s {
	case Computed:
		return "computed"
	case ComputedAbsent:
		return "absent"
	default:
		return "not-computed"
	}
}

// Fact is a memoized per-host value.
type Fact[T any] struct {
	state FactState
	value T
}

// State returns the fact's state.
func (f *Fact[T]) State() FactState {
	return f.state
}

// Fetch returns the cached value, if one was found.
func (f *Fact[T]) Fetch() (T, bool) {
	if f.state == Computed {
		return f.value, true
	}
	var zero T
	return zero, false
}

// Set stores a found value.
func (f *Fact[T]) Set(v T) {
	f.state = Computed
	f.value = v
}

// Clear forgets the fact so the next request recomputes it.
func (f *Fact[T]) Clear() {
	var zero T
	f.state = NotComputed
	f.value = zero
}

// ComputeFunc computes a fact. found is false when the fact is absent.
type ComputeFunc[T any] func(ctx context.Context) (value T, found bool, err error)

// ComputeOrFetch returns the cached value when one was found earlier.
// Otherwise it calls compute; a found value is cached, an absent one is
// recorded as ComputedAbsent and computed again on the next call. Errors are
// returned without touching the fact.
func ComputeOrFetch[T any](ctx context.Context, f *Fact[T], compute ComputeFunc[T]) (T, bool, error) {
	if v, ok := f.Fetch(); ok {
		return v, true, nil
	}

	v, found, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if !found {
		var zero T
		f.state = ComputedAbsent
		f.value = zero
		return zero, false, nil
	}
	f.Set(v)
	return v, true, nil
}

// WebServerInfo describes a detected Nginx installation.
type WebServerInfo struct {
	Binary                     string `json:"binary"`
	ConfigFile                 string `json:"config_file"`
	ConfigTestCommand          string `json:"configtest_command"`
	RestartCommand             string `json:"restart_command"`
	InstalledFromSystemPackage bool   `json:"installed_from_system_package"`
}

// AppServerInfo describes a detected Phusion Passenger installation.
type AppServerInfo struct {
	Ruby                       string `json:"ruby"`
	BinDir                     string `json:"bindir"`
	NginxInstaller             string `json:"nginx_installer"`
	Apache2Installer           string `json:"apache2_installer"`
	ConfigCommand              string `json:"config_command"`
	InstalledFromSystemPackage bool   `json:"installed_from_system_package"`
}

// Properties is the typed record of facts for one host and one run.
type Properties struct {
	// WebServer is the detected Nginx installation.
	WebServer Fact[WebServerInfo]

	// AppServer is the detected Passenger installation.
	AppServer Fact[AppServerInfo]

	// Ruby is the path of the Ruby interpreter used for Passenger.
	Ruby Fact[string]

	// EscalationVerified is set once sudo was shown to work without a
	// password. It is never reset during a run.
	EscalationVerified bool

	// PackagesRefreshed is set once the package index was refreshed.
	PackagesRefreshed bool
}
