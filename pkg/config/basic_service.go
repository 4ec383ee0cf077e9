package config

import (
	"net"
	"strconv"
)

// BasicService is used as a simple base for operational services like Pprof
// or Prometheus monitoring.
type BasicService struct {
	Enabled bool   `yaml:"Enabled"`
	Address string `yaml:"Address"`
	Port    uint16 `yaml:"Port"`
}

// BindAddress returns the host:port pair the service binds to.
func (s BasicService) BindAddress() string {
	return net.JoinHostPort(s.Address, strconv.FormatUint(uint64(s.Port), 10))
}
