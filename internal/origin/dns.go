package origin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// DNSConfig configures preview branch discovery through DNS.
type DNSConfig struct {
	// Suffix is appended to the branch name, e.g. "preview.example.com"
	// turns branch "feature-x" into "feature-x.preview.example.com".
	Suffix string `yaml:"suffix"`

	// Nameserver is queried as host:port. Empty uses the first server in
	// ResolvConf.
	Nameserver string        `yaml:"nameserver"`
	ResolvConf string        `yaml:"resolv_conf"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DNSResolver treats a branch as deployed when its host name has records.
type DNSResolver struct {
	suffix     string
	nameserver string
	client     *dns.Client
	logger     *logrus.Logger
}

var branchLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NewDNSResolver creates a DNS backed resolver.
func NewDNSResolver(config *DNSConfig, logger *logrus.Logger) (*DNSResolver, error) {
	suffix := strings.Trim(config.Suffix, ".")
	if suffix == "" {
		return nil, errors.New("dns resolver requires a suffix")
	}
	if _, ok := dns.IsDomainName(suffix); !ok {
		return nil, fmt.Errorf("invalid dns suffix %q", config.Suffix)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	nameserver := config.Nameserver
	if nameserver == "" {
		resolvConf := config.ResolvConf
		if resolvConf == "" {
			resolvConf = "/etc/resolv.conf"
		}
		cc, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolvConf, err)
		}
		if len(cc.Servers) == 0 {
			return nil, fmt.Errorf("no nameserver in %s", resolvConf)
		}
		nameserver = net.JoinHostPort(cc.Servers[0], cc.Port)
	}

	return &DNSResolver{
		suffix:     suffix,
		nameserver: nameserver,
		client:     &dns.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// HostFor returns the host name a branch is expected at, or false when the
// branch name cannot be a DNS label.
func (d *DNSResolver) HostFor(name string) (string, bool) {
	label := strings.ToLower(name)
	if !branchLabel.MatchString(label) {
		return "", false
	}
	return label + "." + d.suffix, true
}

// FindEnvByName looks up the branch host and returns it when the
// nameserver has an answer for it.
func (d *DNSResolver) FindEnvByName(ctx context.Context, name string) (string, error) {
	host, ok := d.HostFor(name)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a valid branch name", ErrNotFound, name)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	r, rtt, err := d.client.ExchangeContext(ctx, m, d.nameserver)
	if err != nil {
		return "", fmt.Errorf("dns lookup of %s failed: %w", host, err)
	}

	d.logger.WithFields(logrus.Fields{
		"host":    host,
		"rcode":   dns.RcodeToString[r.Rcode],
		"answers": len(r.Answer),
		"rtt_ms":  rtt.Milliseconds(),
	}).Debug("Branch lookup")

	switch {
	case r.Rcode == dns.RcodeNameError:
		return "", fmt.Errorf("%w: %s does not exist", ErrNotFound, host)
	case r.Rcode != dns.RcodeSuccess:
		return "", fmt.Errorf("dns lookup of %s failed: %s", host, dns.RcodeToString[r.Rcode])
	case len(r.Answer) == 0:
		return "", fmt.Errorf("%w: %s has no records", ErrNotFound, host)
	}
	return host, nil
}
