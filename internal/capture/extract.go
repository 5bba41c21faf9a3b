// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/dreadl0ck/ja3"
	"github.com/dreadl0ck/tlsx"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

const emptyJA3 = "d41d8cd98f00b204e9800998ecf8427e" // md5("")

// ExtractHostname pulls the first available hostname from a frame: DNS
// query name, then HTTP Host header, then TLS SNI. Returns "" when the
// frame carries none.
func ExtractHostname(packet gopacket.Packet) string {
	if name := dnsQueryName(packet); name != "" {
		return name
	}

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return ""
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	if len(tcp.Payload) == 0 {
		return ""
	}

	if name := httpHost(tcp.Payload); name != "" {
		return name
	}
	return tlsSNI(tcp.Payload)
}

// ExtractDevice pulls DHCP hostname and JA3 fingerprint metadata from a
// frame, when present.
func ExtractDevice(packet gopacket.Packet) (DeviceInfo, bool) {
	var info DeviceInfo

	if name := dhcpHostname(packet); name != "" {
		info.Name = name
		return info, true
	}

	if hash := ja3Hash(packet); hash != "" {
		info.JA3 = hash
		return info, true
	}
	return info, false
}

func dnsQueryName(packet gopacket.Packet) string {
	layer := packet.Layer(layers.LayerTypeDNS)
	if layer == nil {
		return ""
	}
	msg, _ := layer.(*layers.DNS)
	if msg.QR || len(msg.Questions) == 0 {
		return ""
	}
	return strings.TrimSuffix(string(msg.Questions[0].Name), ".")
}

// httpHost parses the Host header of a plaintext HTTP request. Only the
// first few lines are scanned; this is captive-portal traffic, not a full
// HTTP implementation.
func httpHost(payload []byte) string {
	if !looksLikeHTTPRequest(payload) {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for i := 0; scanner.Scan() && i < 32; i++ {
		line := scanner.Text()
		if line == "" {
			break
		}
		if host, ok := strings.CutPrefix(line, "Host:"); ok {
			host = strings.TrimSpace(host)
			if idx := strings.IndexByte(host, ':'); idx > 0 {
				host = host[:idx]
			}
			return host
		}
	}
	return ""
}

var httpMethods = []string{"GET ", "POST ", "HEAD ", "PUT ", "DELETE ", "OPTIONS ", "CONNECT ", "PATCH "}

func looksLikeHTTPRequest(payload []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(payload, []byte(m)) {
			return true
		}
	}
	return false
}

// tlsSNI extracts the server name from a TLS ClientHello.
func tlsSNI(payload []byte) string {
	if len(payload) < 6 || payload[0] != 0x16 || payload[5] != 0x01 {
		return ""
	}
	var hello tlsx.ClientHelloBasic
	if err := hello.Unmarshal(payload); err != nil {
		return ""
	}
	return hello.SNI
}

func dhcpHostname(packet gopacket.Packet) string {
	if packet.Layer(layers.LayerTypeDHCPv4) == nil {
		return ""
	}
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return ""
	}
	udp, _ := udpLayer.(*layers.UDP)

	msg, err := dhcpv4.FromBytes(udp.Payload)
	if err != nil {
		return ""
	}
	switch msg.MessageType() {
	case dhcpv4.MessageTypeDiscover, dhcpv4.MessageTypeRequest:
		return msg.HostName()
	}
	return ""
}

func ja3Hash(packet gopacket.Packet) string {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return ""
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	payload := tcp.Payload
	if len(payload) < 6 || payload[0] != 0x16 || payload[5] != 0x01 {
		return ""
	}

	digest := ja3.DigestPacket(packet)
	hash := hex.EncodeToString(digest[:])
	if hash == emptyJA3 || hash == "00000000000000000000000000000000" {
		return ""
	}
	return hash
}
