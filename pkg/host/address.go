package host

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/onepush/onepush/pkg/engine"
)

// Address is one parsed inventory entry.
type Address struct {
	User     string
	Hostname string
	Port     int
}

// HostPort returns "hostname:port", with port 22 when none was given.
func (a Address) HostPort() string {
	port := a.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(a.Hostname, strconv.Itoa(port))
}

// ParseAddress parses "[user@]hostname[:port]". The user defaults to
// defaultUser, or root when that is empty.
func ParseAddress(s, defaultUser string) (Address, error) {
	u, err := url.Parse("scheme://" + s)
	if err != nil || u.Hostname() == "" {
		return Address{}, engine.NewConfigurationError(
			fmt.Sprintf("invalid server address %q", s), err,
		).WithCode(engine.ErrCodeValidation)
	}

	addr := Address{
		User:     defaultUser,
		Hostname: u.Hostname(),
	}
	if addr.User == "" {
		addr.User = Superuser
	}
	if u.User != nil && u.User.Username() != "" {
		addr.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Address{}, engine.NewConfigurationError(
				fmt.Sprintf("invalid port in server address %q", s), err,
			).WithCode(engine.ErrCodeValidation)
		}
		addr.Port = port
	}
	return addr, nil
}
