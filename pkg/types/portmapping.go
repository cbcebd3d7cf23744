package types

import (
	"encoding/json"
	"fmt"
)

// PortRange is an inclusive range of 1-based port numbers. It is only ever
// constructed via NewPortRange, which rejects zero endpoints and start > end.
type PortRange struct {
	start uint16
	end   uint16
}

// NewPortRange constructs a checked PortRange, or reports why it could not.
func NewPortRange(start, end uint16) (PortRange, error) {
	if start == 0 || end == 0 {
		return PortRange{}, fmt.Errorf("port range endpoints must be non-zero, got %d-%d", start, end)
	}
	if start > end {
		return PortRange{}, fmt.Errorf("port range start (%d) must not be greater than end (%d)", start, end)
	}
	return PortRange{start: start, end: end}, nil
}

// Start returns the first port in the range.
func (r PortRange) Start() uint16 { return r.start }

// End returns the last port in the range.
func (r PortRange) End() uint16 { return r.end }

// Len returns the number of ports covered by the range.
func (r PortRange) Len() int { return int(r.end) - int(r.start) + 1 }

// Overlaps reports whether two ranges share at least one port.
func (r PortRange) Overlaps(other PortRange) bool {
	return r.start <= other.end && other.start <= r.end
}

// Contains reports whether a single port falls within the range.
func (r PortRange) Contains(port uint16) bool {
	return port >= r.start && port <= r.end
}

// String renders the range the way the wire format expects it: a bare
// integer for a single port, "start-end" otherwise.
func (r PortRange) String() string {
	if r.start == r.end {
		return fmt.Sprintf("%d", r.start)
	}
	return fmt.Sprintf("%d-%d", r.start, r.end)
}

// MarshalJSON renders the range as its string form.
func (r PortRange) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON parses either "p" or "start-end".
func (r *PortRange) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid port range %q", data)
	}
	s := string(data[1 : len(data)-1])
	var start, end uint16
	if _, err := fmt.Sscanf(s, "%d-%d", &start, &end); err == nil {
		rng, rerr := NewPortRange(start, end)
		if rerr != nil {
			return rerr
		}
		*r = rng
		return nil
	}
	if _, err := fmt.Sscanf(s, "%d", &start); err != nil {
		return fmt.Errorf("invalid port range %q: %w", s, err)
	}
	rng, rerr := NewPortRange(start, start)
	if rerr != nil {
		return rerr
	}
	*r = rng
	return nil
}

// PortMappingKind distinguishes the two PortMapping variants.
type PortMappingKind string

const (
	PortMappingSingle PortMappingKind = "single"
	PortMappingRange  PortMappingKind = "range"
)

// PortMapping is the tagged union of a single host<->container port pair or
// a pair of equal-cardinality host/container port ranges. Single(p,p) and
// Range(p..=p -> p..=p) are distinct on the wire but equal for the purposes
// of uniqueness/overlap checks, since HostRange()/ContainerRange() always
// normalize a Single into a length-1 range.
type PortMapping struct {
	Kind         PortMappingKind
	Host         uint16
	Container    uint16
	HostRng      PortRange
	ContainerRng PortRange
}

// portMappingWire is the on-disk/wire shape of a PortMapping: only the
// fields relevant to its Kind are populated.
type portMappingWire struct {
	Kind            PortMappingKind `json:"kind"`
	HostPort        *uint16         `json:"host_port,omitempty"`
	ContainerPort   *uint16         `json:"container_port,omitempty"`
	HostRange       *PortRange      `json:"host_range,omitempty"`
	ContainerRange  *PortRange      `json:"container_range,omitempty"`
}

// MarshalJSON renders only the fields relevant to the mapping's Kind.
func (m PortMapping) MarshalJSON() ([]byte, error) {
	w := portMappingWire{Kind: m.Kind}
	if m.Kind == PortMappingSingle {
		w.HostPort = &m.Host
		w.ContainerPort = &m.Container
	} else {
		w.HostRange = &m.HostRng
		w.ContainerRange = &m.ContainerRng
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape produced by MarshalJSON.
func (m *PortMapping) UnmarshalJSON(data []byte) error {
	var w portMappingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case PortMappingSingle:
		if w.HostPort == nil || w.ContainerPort == nil {
			return fmt.Errorf("single port mapping missing host_port/container_port")
		}
		mapping, err := NewSinglePortMapping(*w.HostPort, *w.ContainerPort)
		if err != nil {
			return err
		}
		*m = mapping
	case PortMappingRange:
		if w.HostRange == nil || w.ContainerRange == nil {
			return fmt.Errorf("range port mapping missing host_range/container_range")
		}
		*m = PortMapping{Kind: PortMappingRange, HostRng: *w.HostRange, ContainerRng: *w.ContainerRange}
	default:
		return fmt.Errorf("unknown port mapping kind %q", w.Kind)
	}
	return nil
}

// NewSinglePortMapping builds a Single(host, container) mapping.
func NewSinglePortMapping(host, container uint16) (PortMapping, error) {
	if host == 0 || container == 0 {
		return PortMapping{}, fmt.Errorf("port mapping endpoints must be non-zero, got host=%d container=%d", host, container)
	}
	return PortMapping{Kind: PortMappingSingle, Host: host, Container: container}, nil
}

// NewRangePortMapping builds a Range mapping from two already-checked ranges.
// Host and container ranges must have equal cardinality.
func NewRangePortMapping(host, container PortRange) (PortMapping, error) {
	if host.Len() != container.Len() {
		return PortMapping{}, fmt.Errorf(
			"the size of the container port range (%s) and host port range (%s) has to be equal",
			container, host,
		)
	}
	return PortMapping{Kind: PortMappingRange, HostRng: host, ContainerRng: container}, nil
}

// HostRange normalizes either variant into the host-side PortRange it
// occupies.
func (m PortMapping) HostRange() PortRange {
	if m.Kind == PortMappingSingle {
		r, _ := NewPortRange(m.Host, m.Host)
		return r
	}
	return m.HostRng
}

// ContainerRange normalizes either variant into the container-side PortRange.
func (m PortMapping) ContainerRange() PortRange {
	if m.Kind == PortMappingSingle {
		r, _ := NewPortRange(m.Container, m.Container)
		return r
	}
	return m.ContainerRng
}

// SizeMismatched reports whether a Range mapping's host/container
// cardinalities differ. Single mappings can never mismatch.
func (m PortMapping) SizeMismatched() bool {
	return m.Kind == PortMappingRange && m.HostRng.Len() != m.ContainerRng.Len()
}

// OverlapsHostPorts reports whether two mappings' host port sets intersect.
func (m PortMapping) OverlapsHostPorts(other PortMapping) bool {
	return m.HostRange().Overlaps(other.HostRange())
}

// String renders the mapping for use in validation error messages.
func (m PortMapping) String() string {
	if m.Kind == PortMappingSingle {
		return fmt.Sprintf("%d:%d", m.Host, m.Container)
	}
	return fmt.Sprintf("%s:%s", m.HostRng, m.ContainerRng)
}

// TransportProtocol partitions a PortMappingSet into independently
// validated lists.
type TransportProtocol string

const (
	ProtocolTCP  TransportProtocol = "tcp"
	ProtocolUDP  TransportProtocol = "udp"
	ProtocolSCTP TransportProtocol = "sctp"
)

// PortMappingSet holds the three protocol-partitioned port mapping lists of
// an instance's configuration.
type PortMappingSet struct {
	TCP  []PortMapping `json:"tcp,omitempty"`
	UDP  []PortMapping `json:"udp,omitempty"`
	SCTP []PortMapping `json:"sctp,omitempty"`
}

// List returns the ordered mapping list for a protocol.
func (s PortMappingSet) List(proto TransportProtocol) []PortMapping {
	switch proto {
	case ProtocolTCP:
		return s.TCP
	case ProtocolUDP:
		return s.UDP
	case ProtocolSCTP:
		return s.SCTP
	default:
		return nil
	}
}

// WithList returns a copy of the set with the given protocol's list
// replaced.
func (s PortMappingSet) WithList(proto TransportProtocol, list []PortMapping) PortMappingSet {
	switch proto {
	case ProtocolTCP:
		s.TCP = list
	case ProtocolUDP:
		s.UDP = list
	case ProtocolSCTP:
		s.SCTP = list
	}
	return s
}
