package types

import (
	"fmt"
	"sort"
)

// Kind identifies one resource type of the configuration service.
// The set is closed: every kind is registered in kindSpecs below.
type Kind string

// Container kinds
const (
	KindFolder  Kind = "folder"
	KindSnippet Kind = "snippet"
)

// Rule kinds
const (
	KindSecurityRule Kind = "security-rule"
)

// Object kinds
const (
	KindTag                 Kind = "tag"
	KindAddress             Kind = "address"
	KindAddressGroup        Kind = "address-group"
	KindService             Kind = "service"
	KindServiceGroup        Kind = "service-group"
	KindApplicationFilter   Kind = "application-filter"
	KindApplicationGroup    Kind = "application-group"
	KindExternalDynamicList Kind = "external-dynamic-list"
	KindURLCategory         Kind = "url-category"
	KindSchedule            Kind = "schedule"
)

// Profile kinds
const (
	KindAntiSpywareProfile   Kind = "anti-spyware-profile"
	KindVulnerabilityProfile Kind = "vulnerability-protection-profile"
	KindWildfireAntivirus    Kind = "wildfire-antivirus-profile"
	KindURLAccessProfile     Kind = "url-access-profile"
	KindFileBlockingProfile  Kind = "file-blocking-profile"
	KindDNSSecurityProfile   Kind = "dns-security-profile"
	KindDecryptionProfile    Kind = "decryption-profile"
	KindProfileGroup         Kind = "profile-group"
)

// HIP kinds
const (
	KindHIPObject  Kind = "hip-object"
	KindHIPProfile Kind = "hip-profile"
)

// Infrastructure kinds
const (
	KindIKECryptoProfile   Kind = "ike-crypto-profile"
	KindIPsecCryptoProfile Kind = "ipsec-crypto-profile"
	KindIKEGateway         Kind = "ike-gateway"
	KindIPsecTunnel        Kind = "ipsec-tunnel"
	KindRemoteNetwork      Kind = "remote-network"
	KindServiceConnection  Kind = "service-connection"
	KindBandwidthAlloc     Kind = "bandwidth-allocation"
	KindInternalDNSServer  Kind = "internal-dns-server"
)

// Family groups kinds that are captured and pushed together.
type Family string

const (
	FamilyContainer      Family = "container"
	FamilyRule           Family = "rule"
	FamilyObject         Family = "object"
	FamilyProfile        Family = "profile"
	FamilyHIP            Family = "hip"
	FamilyInfrastructure Family = "infrastructure"
)

// Scope says how a kind is addressed on the remote API.
type Scope string

const (
	// ScopeFolder kinds are listed with a folder or snippet query parameter.
	ScopeFolder Scope = "folder"
	// ScopeTenant kinds exist once per tenant and take no folder parameter.
	ScopeTenant Scope = "tenant"
)

// Rule positions for security rules.
const (
	PositionPre  = "pre"
	PositionPost = "post"
)

// RefField describes one attribute of a kind that names other records.
type RefField struct {
	// Path into the record attributes, see Walk.
	Path string
	// Kinds the named record may be.
	Targets []Kind
	// Soft references may point at the platform catalog and are only
	// edges when a captured record of a target kind carries the name.
	Soft bool
}

// KindSpec is the static description of a kind.
type KindSpec struct {
	Kind      Kind
	Family    Family
	Path      string
	Scope     Scope
	Positions []string
	Refs      []RefField
	// Writable is false for kinds that have no push path yet.
	Writable bool
	// Snippets is true when the kind can live inside a snippet.
	Snippets bool
}

var addressTargets = []Kind{KindAddress, KindAddressGroup, KindExternalDynamicList}

var kindSpecs = map[Kind]KindSpec{
	KindFolder:  {Kind: KindFolder, Family: FamilyContainer, Path: "/folders", Scope: ScopeTenant, Writable: true},
	KindSnippet: {Kind: KindSnippet, Family: FamilyContainer, Path: "/snippets", Scope: ScopeTenant, Writable: true},

	KindSecurityRule: {
		Kind: KindSecurityRule, Family: FamilyRule, Path: "/security-rules", Scope: ScopeFolder,
		Positions: []string{PositionPre, PositionPost}, Writable: true, Snippets: true,
		Refs: []RefField{
			{Path: "source[]", Targets: addressTargets},
			{Path: "destination[]", Targets: addressTargets},
			{Path: "service[]", Targets: []Kind{KindService, KindServiceGroup}},
			{Path: "application[]", Targets: []Kind{KindApplicationGroup, KindApplicationFilter}, Soft: true},
			{Path: "category[]", Targets: []Kind{KindURLCategory}, Soft: true},
			{Path: "source_hip[]", Targets: []Kind{KindHIPProfile}},
			{Path: "destination_hip[]", Targets: []Kind{KindHIPProfile}},
			{Path: "profile_setting.group[]", Targets: []Kind{KindProfileGroup}},
			{Path: "tag[]", Targets: []Kind{KindTag}},
			{Path: "schedule", Targets: []Kind{KindSchedule}},
		},
	},

	KindTag: {Kind: KindTag, Family: FamilyObject, Path: "/tags", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindAddress: {
		Kind: KindAddress, Family: FamilyObject, Path: "/addresses", Scope: ScopeFolder, Writable: true, Snippets: true,
		Refs: []RefField{{Path: "tag[]", Targets: []Kind{KindTag}}},
	},
	KindAddressGroup: {
		Kind: KindAddressGroup, Family: FamilyObject, Path: "/address-groups", Scope: ScopeFolder, Writable: true, Snippets: true,
		Refs: []RefField{
			{Path: "static[]", Targets: []Kind{KindAddress, KindAddressGroup}},
			{Path: "tag[]", Targets: []Kind{KindTag}},
		},
	},
	KindService: {
		Kind: KindService, Family: FamilyObject, Path: "/services", Scope: ScopeFolder, Writable: true, Snippets: true,
		Refs: []RefField{{Path: "tag[]", Targets: []Kind{KindTag}}},
	},
	KindServiceGroup: {
		Kind: KindServiceGroup, Family: FamilyObject, Path: "/service-groups", Scope: ScopeFolder, Writable: true, Snippets: true,
		Refs: []RefField{
			{Path: "members[]", Targets: []Kind{KindService, KindServiceGroup}},
			{Path: "tag[]", Targets: []Kind{KindTag}},
		},
	},
	KindApplicationFilter: {Kind: KindApplicationFilter, Family: FamilyObject, Path: "/application-filters", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindApplicationGroup: {
		Kind: KindApplicationGroup, Family: FamilyObject, Path: "/application-groups", Scope: ScopeFolder, Writable: true, Snippets: true,
		Refs: []RefField{{Path: "members[]", Targets: []Kind{KindApplicationGroup, KindApplicationFilter}, Soft: true}},
	},
	KindExternalDynamicList: {Kind: KindExternalDynamicList, Family: FamilyObject, Path: "/external-dynamic-lists", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindURLCategory:         {Kind: KindURLCategory, Family: FamilyObject, Path: "/url-categories", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindSchedule:            {Kind: KindSchedule, Family: FamilyObject, Path: "/schedules", Scope: ScopeFolder, Writable: true, Snippets: true},

	KindAntiSpywareProfile:   {Kind: KindAntiSpywareProfile, Family: FamilyProfile, Path: "/anti-spyware-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindVulnerabilityProfile: {Kind: KindVulnerabilityProfile, Family: FamilyProfile, Path: "/vulnerability-protection-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindWildfireAntivirus:    {Kind: KindWildfireAntivirus, Family: FamilyProfile, Path: "/wildfire-anti-virus-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindURLAccessProfile:     {Kind: KindURLAccessProfile, Family: FamilyProfile, Path: "/url-access-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindFileBlockingProfile:  {Kind: KindFileBlockingProfile, Family: FamilyProfile, Path: "/file-blocking-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindDNSSecurityProfile:   {Kind: KindDNSSecurityProfile, Family: FamilyProfile, Path: "/dns-security-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindDecryptionProfile:    {Kind: KindDecryptionProfile, Family: FamilyProfile, Path: "/decryption-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindProfileGroup: {
		Kind: KindProfileGroup, Family: FamilyProfile, Path: "/profile-groups", Scope: ScopeFolder, Writable: true, Snippets: true,
		Refs: []RefField{
			{Path: "spyware[]", Targets: []Kind{KindAntiSpywareProfile}},
			{Path: "vulnerability[]", Targets: []Kind{KindVulnerabilityProfile}},
			{Path: "virus_and_wildfire_analysis[]", Targets: []Kind{KindWildfireAntivirus}},
			{Path: "url_filtering[]", Targets: []Kind{KindURLAccessProfile}},
			{Path: "file_blocking[]", Targets: []Kind{KindFileBlockingProfile}},
			{Path: "dns_security[]", Targets: []Kind{KindDNSSecurityProfile}},
		},
	},

	KindHIPObject:  {Kind: KindHIPObject, Family: FamilyHIP, Path: "/hip-objects", Scope: ScopeFolder, Writable: true, Snippets: true},
	KindHIPProfile: {Kind: KindHIPProfile, Family: FamilyHIP, Path: "/hip-profiles", Scope: ScopeFolder, Writable: true, Snippets: true},

	KindIKECryptoProfile:   {Kind: KindIKECryptoProfile, Family: FamilyInfrastructure, Path: "/ike-crypto-profiles", Scope: ScopeFolder, Writable: true},
	KindIPsecCryptoProfile: {Kind: KindIPsecCryptoProfile, Family: FamilyInfrastructure, Path: "/ipsec-crypto-profiles", Scope: ScopeFolder, Writable: true},
	KindIKEGateway: {
		Kind: KindIKEGateway, Family: FamilyInfrastructure, Path: "/ike-gateways", Scope: ScopeFolder, Writable: true,
		Refs: []RefField{
			{Path: "protocol.ikev1.ike_crypto_profile", Targets: []Kind{KindIKECryptoProfile}},
			{Path: "protocol.ikev2.ike_crypto_profile", Targets: []Kind{KindIKECryptoProfile}},
		},
	},
	KindIPsecTunnel: {
		Kind: KindIPsecTunnel, Family: FamilyInfrastructure, Path: "/ipsec-tunnels", Scope: ScopeFolder, Writable: true,
		Refs: []RefField{
			{Path: "auto_key.ike_gateway[].name", Targets: []Kind{KindIKEGateway}},
			{Path: "auto_key.ipsec_crypto_profile", Targets: []Kind{KindIPsecCryptoProfile}},
		},
	},
	KindRemoteNetwork: {
		Kind: KindRemoteNetwork, Family: FamilyInfrastructure, Path: "/remote-networks", Scope: ScopeFolder, Writable: true,
		Refs: []RefField{
			{Path: "ipsec_tunnel", Targets: []Kind{KindIPsecTunnel}},
			{Path: "secondary_ipsec_tunnel", Targets: []Kind{KindIPsecTunnel}},
		},
	},
	KindServiceConnection: {
		Kind: KindServiceConnection, Family: FamilyInfrastructure, Path: "/service-connections", Scope: ScopeFolder, Writable: true,
		Refs: []RefField{
			{Path: "ipsec_tunnel", Targets: []Kind{KindIPsecTunnel}},
			{Path: "secondary_ipsec_tunnel", Targets: []Kind{KindIPsecTunnel}},
		},
	},
	KindBandwidthAlloc:    {Kind: KindBandwidthAlloc, Family: FamilyInfrastructure, Path: "/bandwidth-allocations", Scope: ScopeTenant},
	KindInternalDNSServer: {Kind: KindInternalDNSServer, Family: FamilyInfrastructure, Path: "/internal-dns-servers", Scope: ScopeTenant, Writable: true},
}

// Capture and push order of kinds inside each family. Referenced kinds
// come before the kinds that reference them.
var familyKinds = map[Family][]Kind{
	FamilyContainer: {KindFolder, KindSnippet},
	FamilyRule:      {KindSecurityRule},
	FamilyObject: {
		KindTag, KindAddress, KindAddressGroup, KindService, KindServiceGroup,
		KindApplicationFilter, KindApplicationGroup, KindExternalDynamicList,
		KindURLCategory, KindSchedule,
	},
	FamilyProfile: {
		KindAntiSpywareProfile, KindVulnerabilityProfile, KindWildfireAntivirus,
		KindURLAccessProfile, KindFileBlockingProfile, KindDNSSecurityProfile,
		KindDecryptionProfile, KindProfileGroup,
	},
	FamilyHIP: {KindHIPObject, KindHIPProfile},
	FamilyInfrastructure: {
		KindIKECryptoProfile, KindIPsecCryptoProfile, KindIKEGateway,
		KindIPsecTunnel, KindRemoteNetwork, KindServiceConnection,
		KindBandwidthAlloc, KindInternalDNSServer,
	},
}

// Spec returns the static description of k.
func (k Kind) Spec() (KindSpec, bool) {
	s, ok := kindSpecs[k]
	return s, ok
}

// MustSpec returns the description of k and panics on an unknown kind.
func (k Kind) MustSpec() KindSpec {
	s, ok := kindSpecs[k]
	if !ok {
		panic(fmt.Sprintf("unknown kind %q", k))
	}
	return s
}

// Valid reports whether k is part of the closed kind set.
func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// Family returns the family of k, or "" for an unknown kind.
func (k Kind) Family() Family {
	return kindSpecs[k].Family
}

// KindsOf returns the kinds of a family in dependency order.
func KindsOf(f Family) []Kind {
	kinds := familyKinds[f]
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// KindsOfScope returns the kinds of a family that have the given scope.
func KindsOfScope(f Family, s Scope) []Kind {
	var out []Kind
	for _, k := range familyKinds[f] {
		if kindSpecs[k].Scope == s {
			out = append(out, k)
		}
	}
	return out
}

// AllKinds returns every registered kind sorted by name.
func AllKinds() []Kind {
	out := make([]Kind, 0, len(kindSpecs))
	for k := range kindSpecs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind converts a string into a Kind, failing on unknown names.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
	return k, nil
}
