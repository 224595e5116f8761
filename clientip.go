package main

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

type trustedProxyList struct {
	trieV4 *ipaddr.IPv4AddressTrie
	trieV6 *ipaddr.IPv6AddressTrie
}

func newTrustedProxyList(entries []string) (*trustedProxyList, error) {
	proxyList := &trustedProxyList{
		trieV4: &ipaddr.IPv4AddressTrie{},
		trieV6: &ipaddr.IPv6AddressTrie{},
	}
	for _, entry := range entries {
		proxyAddress, parseError := ipaddr.NewIPAddressString(entry).ToAddress()
		if parseError != nil || proxyAddress == nil {
			return nil, fmt.Errorf("bad %s entry %q", envKeyTrustedProxies, entry)
		}
		proxyBlock := proxyAddress.ToPrefixBlock()
		if proxyBlock.IsIPv4() {
			proxyList.trieV4.Add(proxyBlock.ToIPv4())
		} else if proxyBlock.IsIPv6() {
			proxyList.trieV6.Add(proxyBlock.ToIPv6())
		}
	}
	return proxyList, nil
}

func (l *trustedProxyList) contains(address *ipaddr.IPAddress) bool {
	if l == nil || address == nil {
		return false
	}
	if address.IsIPv4() {
		return l.trieV4.ElementContains(address.ToIPv4())
	}
	if address.IsIPv6() {
		return l.trieV6.ElementContains(address.ToIPv6())
	}
	return false
}

// IPv6 addresses come back with '-' in place of ':' so the limiter's port
// stripping leaves them intact.
func clientIdentifier(httpRequest *http.Request, trustedProxies *trustedProxyList) string {
	peerHost, _, splitError := net.SplitHostPort(strings.TrimSpace(httpRequest.RemoteAddr))
	if splitError != nil {
		peerHost = strings.TrimSpace(httpRequest.RemoteAddr)
	}

	candidate := peerHost
	if peerHost == "" {
		return ""
	}
	if peerAddress, parseError := ipaddr.NewIPAddressString(peerHost).ToAddress(); parseError == nil && trustedProxies.contains(peerAddress) {
		if forwardedFor := strings.TrimSpace(httpRequest.Header.Get(headerForwardedFor)); forwardedFor != "" {
			firstHop, _, _ := strings.Cut(forwardedFor, ",")
			candidate = strings.TrimSpace(firstHop)
		} else if realIP := strings.TrimSpace(httpRequest.Header.Get(headerRealIP)); realIP != "" {
			candidate = realIP
		}
	}
	return renderIdentifier(candidate)
}

func renderIdentifier(host string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return ""
	}
	clientAddress, parseError := ipaddr.NewIPAddressString(host).ToAddress()
	if parseError != nil || clientAddress == nil {
		return host
	}
	if clientAddress.IsIPv6() {
		return strings.ReplaceAll(clientAddress.ToFullString(), ":", "-")
	}
	return clientAddress.ToCanonicalString()
}
