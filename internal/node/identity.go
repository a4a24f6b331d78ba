package node

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timskillet/p2pshare/internal/config"
)

var metadataBaseURL = "http://169.254.169.254/latest/meta-data/"

// Identity is how this node names and locates itself to other peers.
type Identity struct {
	NodeID      string
	AdvertiseIP string
}

// ResolveIdentity determines the node id and the address advertised to the
// peer registry. Explicit configuration wins, then EC2 instance metadata when
// enabled, then the hostname and the outbound interface address.
func ResolveIdentity(ctx context.Context, cfg *config.Config) (Identity, error) {
	id := Identity{NodeID: cfg.NodeID, AdvertiseIP: cfg.AdvertiseIP}

	if cfg.UseEC2Metadata {
		if id.NodeID == "" {
			instanceID, err := getMetadata(ctx, "instance-id")
			if err != nil {
				return id, fmt.Errorf("failed to get instance ID: %w", err)
			}
			id.NodeID = instanceID
		}
		if id.AdvertiseIP == "" {
			ip, err := getMetadata(ctx, "local-ipv4")
			if err != nil {
				return id, fmt.Errorf("failed to get private IP: %w", err)
			}
			id.AdvertiseIP = ip
		}
	}

	if id.NodeID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			id.NodeID = host
		} else {
			id.NodeID = uuid.NewString()
		}
	}
	if id.AdvertiseIP == "" {
		id.AdvertiseIP = outboundIP()
	}
	return id, nil
}

func getMetadata(ctx context.Context, path string) (string, error) {
	client := &http.Client{
		Timeout: 2 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataBaseURL+path, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

// outboundIP returns the local address the kernel would route public traffic
// from, or the loopback address on hosts without a route. No packet is sent.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
