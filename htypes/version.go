package htypes

import "fmt"

// HosVersion is a major.minor.micro triplet. Major fits 16 bits,
// minor and micro each fit 8 bits; the packed form defines a total
// order across versions.
type HosVersion struct {
	Major uint16
	Minor uint8
	Micro uint8
}

// NewHosVersion builds a HosVersion from its three components.
func NewHosVersion(major uint16, minor, micro uint8) HosVersion {
	return HosVersion{Major: major, Minor: minor, Micro: micro}
}

// Packed returns (major<<16)|(minor<<8)|micro.
func (v HosVersion) Packed() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)<<8 | uint32(v.Micro)
}

func (v HosVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
}

// Equal reports whether v and other pack to the same value.
func (v HosVersion) Equal(other HosVersion) bool { return v.Packed() == other.Packed() }

// Less reports whether v orders before other.
func (v HosVersion) Less(other HosVersion) bool { return v.Packed() < other.Packed() }

// Greater reports whether v orders after other.
func (v HosVersion) Greater(other HosVersion) bool { return v.Packed() > other.Packed() }

// InRange reports whether v falls within [lo, hi], inclusive on both
// ends, per the packed total order.
func (v HosVersion) InRange(lo, hi HosVersion) bool {
	p := v.Packed()
	return p >= lo.Packed() && p <= hi.Packed()
}
