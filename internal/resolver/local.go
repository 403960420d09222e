package resolver

import "net"

const (
	// Loopback is reported when the local address cannot be determined
	Loopback = "127.0.0.1"

	// probeTarget need not be reachable, connecting a UDP socket sends nothing
	probeTarget = "10.255.255.255:1"
)

// ProbeLocal returns the address of the interface the OS would use for
// outbound traffic. It never fails.
func ProbeLocal() string {
	return ProbeLocalVia(probeTarget)
}

// ProbeLocalVia is ProbeLocal with an explicit target
func ProbeLocalVia(target string) string {
	conn, err := net.Dial("udp4", target)
	if err != nil {
		return Loopback
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return Loopback
	}
	ip := addr.IP.To4()
	if ip == nil || ip.IsUnspecified() {
		return Loopback
	}
	return ip.String()
}
