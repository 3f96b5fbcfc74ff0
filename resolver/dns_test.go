// Copyright 2026 Hypergig, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resolver

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

func TestDNSProberAddressFamilyAffinity(t *testing.T) {
	t.Parallel()

	ip4Header := dnsmessage.ResourceHeader{
		Name:  dnsmessage.MustNewName("example.com."),
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}
	ip6Header := dnsmessage.ResourceHeader{
		Name:  dnsmessage.MustNewName("example.com."),
		Type:  dnsmessage.TypeAAAA,
		Class: dnsmessage.ClassINET,
	}
	ip4Address1 := net.ParseIP("10.0.0.100")
	ip4Address2 := net.ParseIP("10.0.0.101")
	ip6Address1 := net.ParseIP("fe80::1")
	ip6Address2 := net.ParseIP("fe80::2")
	mixed := []dnsmessage.Resource{
		{Header: ip4Header, Body: &dnsmessage.AResource{A: [4]byte(ip4Address1.To4())}},
		{Header: ip6Header, Body: &dnsmessage.AAAAResource{AAAA: [16]byte(ip6Address1)}},
		{Header: ip4Header, Body: &dnsmessage.AResource{A: [4]byte(ip4Address2.To4())}},
		{Header: ip6Header, Body: &dnsmessage.AAAAResource{AAAA: [16]byte(ip6Address2)}},
	}
	ip4Only := mixed[:1]
	ip6Only := mixed[1:2]

	testCases := []struct {
		name     string
		answers  []dnsmessage.Resource
		affinity AddressFamilyAffinity
		want     []net.IP
	}{
		{"mixed all families", mixed, AllFamilies, []net.IP{ip4Address1, ip4Address2, ip6Address1, ip6Address2}},
		{"mixed prefer ipv4", mixed, PreferIPv4, []net.IP{ip4Address1, ip4Address2}},
		{"mixed prefer ipv6", mixed, PreferIPv6, []net.IP{ip6Address1, ip6Address2}},
		{"ipv4 only prefer ipv6 falls back", ip4Only, PreferIPv6, []net.IP{ip4Address1}},
		{"ipv6 only prefer ipv4 falls back", ip6Only, PreferIPv4, []net.IP{ip6Address1}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			prober := &dnsResolveProber{
				resolver: newFakeDNSResolver(t, testCase.answers),
				network:  "ip",
				affinity: testCase.affinity,
			}
			addresses, ttl, err := prober.ResolveOnce(context.Background(), "example.com:8080")
			require.NoError(t, err)
			require.Equal(t, time.Duration(0), ttl)
			actual := make([]net.IP, len(addresses))
			for i, address := range addresses {
				host, port, err := net.SplitHostPort(address.HostPort)
				require.NoError(t, err)
				require.Equal(t, "8080", port)
				require.Equal(t, "example.com", address.Hostname)
				actual[i] = net.ParseIP(host)
			}
			assert.ElementsMatch(t, testCase.want, actual)
		})
	}
}

func TestDNSProberDefaultPort(t *testing.T) {
	t.Parallel()
	prober := &dnsResolveProber{
		resolver: net.DefaultResolver,
		network:  "ip",
		affinity: AllFamilies,
	}
	// A bare IP literal resolves without hitting the network; the
	// missing port defaults to 443.
	addresses, _, err := prober.ResolveOnce(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, addresses, 1)
	require.Equal(t, "127.0.0.1:443", addresses[0].HostPort)

	// An IPv4 address mapped into IPv6 comes back unmapped.
	addresses, _, err = prober.ResolveOnce(context.Background(), "::ffff:127.0.0.1")
	require.NoError(t, err)
	require.Len(t, addresses, 1)
	require.Equal(t, "127.0.0.1:443", addresses[0].HostPort)
}

type fakeDNSDialer struct {
	t       *testing.T
	answers []dnsmessage.Resource
}

func (r *fakeDNSDialer) Dial(context.Context, string, string) (net.Conn, error) {
	clientConn, serverConn := net.Pipe()
	go func() {
		var requestLength uint16
		if err := binary.Read(serverConn, binary.BigEndian, &requestLength); err != nil {
			r.t.Errorf("error reading dns request length: %v", err)
			return
		}
		requestData := make([]byte, requestLength)
		if _, err := io.ReadFull(serverConn, requestData); err != nil {
			r.t.Errorf("error reading dns request: %v", err)
			return
		}
		request := &dnsmessage.Message{}
		if err := request.Unpack(requestData); err != nil {
			r.t.Errorf("error unpacking dns request: %v", err)
			return
		}
		answers := []dnsmessage.Resource{}
		for _, answer := range r.answers {
			if answer.Header.Type == request.Questions[0].Type {
				answers = append(answers, answer)
			}
		}
		response := &dnsmessage.Message{
			Header: dnsmessage.Header{
				ID:            request.ID,
				Response:      true,
				RCode:         dnsmessage.RCodeSuccess,
				Authoritative: true,
			},
			Questions: request.Questions,
			Answers:   answers,
		}
		responseData, err := response.Pack()
		if err != nil {
			r.t.Errorf("error packing dns response: %v", err)
			return
		}
		responseLength := uint16(len(responseData))
		if err := binary.Write(serverConn, binary.BigEndian, &responseLength); err != nil {
			r.t.Errorf("error writing dns response length: %v", err)
			return
		}
		if _, err := serverConn.Write(responseData); err != nil {
			r.t.Errorf("error writing dns response: %v", err)
			return
		}
		if err := serverConn.Close(); err != nil {
			r.t.Errorf("error closing dns server connection: %v", err)
			return
		}
	}()
	return clientConn, nil
}

func newFakeDNSResolver(t *testing.T, answers []dnsmessage.Resource) *net.Resolver {
	t.Helper()
	dialer := fakeDNSDialer{t: t, answers: answers}
	return &net.Resolver{
		PreferGo: true,
		Dial:     dialer.Dial,
	}
}
