package server

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsService = "_http._tcp"
	mdnsDomain  = "local."
)

// advertise registers the server with mDNS and returns the function that
// withdraws it.
func advertise(port string) (func(), error) {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", port, err)
	}

	name := instanceName()
	txt := []string{
		"app=audiocomments",
		"path=/status",
		"events=/events",
	}

	server, err := zeroconf.Register(name, mdnsService, mdnsDomain, portNum, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register failed: %w", err)
	}
	slog.Info("mDNS advertised", "name", name, "service", mdnsService, "domain", mdnsDomain, "port", portNum)

	return server.Shutdown, nil
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "audiocomments"
	}
	host = strings.TrimSuffix(host, ".local")
	return "audiocomments on " + host
}
