package discovery

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
)

// DefaultService is the mDNS service a local relay advertises.
const DefaultService = "_syncd-relay._tcp"

type Logger interface {
	Printf(format string, args ...any)
}

// Relay is one relay instance found on the local network.
type Relay struct {
	Instance string
	Host     string
	Port     int
	URL      string
}

// Browse scans the local network for relays until the context expires and
// returns everything found. Callers bound the scan with a context timeout.
func Browse(ctx context.Context, service string, logger Logger) ([]Relay, error) {
	if service == "" {
		service = DefaultService
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Relay, 1)
	go func() {
		var relays []Relay
		for entry := range entries {
			relay, ok := relayFromEntry(entry)
			if !ok {
				continue
			}
			if logger != nil {
				logger.Printf("discovered relay %s at %s:%d", relay.Instance, relay.Host, relay.Port)
			}
			relays = append(relays, relay)
		}
		done <- relays
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	relays := <-done
	return relays, nil
}

func relayFromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port <= 0 {
		return Relay{}, false
	}
	host := ""
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if entry.HostName != "" {
		host = entry.HostName
	}
	if host == "" {
		return Relay{}, false
	}
	return Relay{
		Instance: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		URL:      fmt.Sprintf("ws://%s:%d/v1/sync", host, entry.Port),
	}, true
}
