package host

import "strings"

// hostPolicy lists the hosts guests may reach. Empty allows all; a leading
// "*." matches any subdomain.
type hostPolicy []string

func newHostPolicy(hosts []string) hostPolicy {
	var p hostPolicy
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			p = append(p, h)
		}
	}
	return p
}

func (p hostPolicy) allows(host string) bool {
	if len(p) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, pattern := range p {
		if pattern == host {
			return true
		}
		if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(host, pattern[1:]) {
			return true
		}
	}
	return false
}
