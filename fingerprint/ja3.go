package fingerprint

import (
	"fmt"
	"strconv"
	"strings"

	tls "github.com/refraction-networking/utls"
)

const defaultRecordSizeLimit = 0x4001

var defaultSignatureAlgorithms = []uint16{
	uint16(tls.ECDSAWithP256AndSHA256),
	uint16(tls.PSSWithSHA256),
	uint16(tls.PKCS1WithSHA256),
	uint16(tls.ECDSAWithP384AndSHA384),
	uint16(tls.PSSWithSHA384),
	uint16(tls.PKCS1WithSHA384),
	uint16(tls.PSSWithSHA512),
	uint16(tls.PKCS1WithSHA512),
}

// isGREASE returns true if the value is a TLS GREASE value (RFC 8701).
func isGREASE(v uint16) bool {
	return (v & 0x0f0f) == 0x0a0a
}

// ParseJA3 parses a JA3 fingerprint string into a TLSSpec.
// Format: TLSVersion,CipherSuites,Extensions,EllipticCurves,PointFormats
// Fields use dash-separated decimal values. GREASE values are stripped and
// recorded in the GREASE flag. Fields JA3 cannot carry (signature algorithms,
// ALPN, certificate compression) get modern Chrome values.
func ParseJA3(ja3 string) (*TLSSpec, error) {
	parts := strings.Split(ja3, ",")
	if len(parts) != 5 {
		return nil, fmt.Errorf("ja3: expected 5 comma-separated fields, got %d", len(parts))
	}

	version, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid TLS version %q: %w", parts[0], err)
	}
	ciphers, err := parseDashSeparatedUint16(parts[1])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid cipher suites: %w", err)
	}
	extensions, err := parseDashSeparatedUint16(parts[2])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid extensions: %w", err)
	}
	curves, err := parseDashSeparatedUint16(parts[3])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid elliptic curves: %w", err)
	}
	points, err := parseDashSeparatedUint8(parts[4])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid point formats: %w", err)
	}

	spec := &TLSSpec{
		Version:             uint16(version),
		PointFormats:        points,
		SignatureAlgorithms: defaultSignatureAlgorithms,
		ALPN:                []string{"h2", "http/1.1"},
		CertCompression:     []uint16{uint16(tls.CertCompressionBrotli)},
		RecordSizeLimit:     defaultRecordSizeLimit,
	}
	spec.CipherSuites, spec.GREASE = stripGREASE(ciphers, spec.GREASE)
	spec.Extensions, spec.GREASE = stripGREASE(extensions, spec.GREASE)
	spec.Curves, spec.GREASE = stripGREASE(curves, spec.GREASE)
	for _, id := range spec.Extensions {
		if id == 17513 || id == 17613 {
			spec.ALPSCodepoint = id
		}
	}
	return spec, nil
}

func stripGREASE(in []uint16, seen bool) ([]uint16, bool) {
	out := make([]uint16, 0, len(in))
	for _, v := range in {
		if isGREASE(v) {
			seen = true
			continue
		}
		out = append(out, v)
	}
	return out, seen
}

// ClientHelloSpec builds a uTLS ClientHelloSpec from the TLS data. A non-empty
// alpn replaces the profile's ALPN list; the transport uses this for
// http1_only and http2_only. Every call allocates a new spec; uTLS mutates
// extensions while marshalling.
func (s *TLSSpec) ClientHelloSpec(alpn []string) (*tls.ClientHelloSpec, error) {
	if len(s.CipherSuites) == 0 {
		return nil, fmt.Errorf("ja3: no cipher suites")
	}
	if len(alpn) == 0 {
		alpn = s.ALPN
	}

	ciphers := make([]uint16, 0, len(s.CipherSuites)+1)
	if s.GREASE {
		ciphers = append(ciphers, tls.GREASE_PLACEHOLDER)
	}
	ciphers = append(ciphers, s.CipherSuites...)

	extensions := make([]tls.TLSExtension, 0, len(s.Extensions)+2)
	if s.GREASE {
		extensions = append(extensions, &tls.UtlsGREASEExtension{})
	}
	var padding tls.TLSExtension
	for _, id := range s.Extensions {
		ext := s.extensionForID(id, alpn)
		// padding is positionally fixed after the trailing GREASE
		if id == 21 && s.GREASE {
			padding = ext
			continue
		}
		extensions = append(extensions, ext)
	}
	if s.GREASE {
		extensions = append(extensions, &tls.UtlsGREASEExtension{Body: []byte{0}})
	}
	if padding != nil {
		extensions = append(extensions, padding)
	}

	// Shuffle extensions if requested (Chrome 106+ shuffles to avoid ossification)
	if s.PermuteExtensions {
		extensions = tls.ShuffleChromeTLSExtensions(extensions)
	}

	// JA3 records the ClientHello version field, which is TLS 1.2 even for
	// TLS 1.3 clients. supported_versions (43) raises the maximum.
	maxVersion := s.Version
	for _, id := range s.Extensions {
		if id == 43 {
			maxVersion = tls.VersionTLS13
			break
		}
	}
	if maxVersion < tls.VersionTLS10 {
		maxVersion = tls.VersionTLS12
	}

	return &tls.ClientHelloSpec{
		TLSVersMin:         s.minVersion(),
		TLSVersMax:         maxVersion,
		CipherSuites:       ciphers,
		CompressionMethods: []uint8{0}, // null compression
		Extensions:         extensions,
	}, nil
}

func (s *TLSSpec) minVersion() uint16 {
	if s.MinVersion != 0 {
		return s.MinVersion
	}
	return tls.VersionTLS12
}

func (s *TLSSpec) curveIDs() []tls.CurveID {
	curves := make([]tls.CurveID, 0, len(s.Curves)+1)
	if s.GREASE {
		curves = append(curves, tls.GREASE_PLACEHOLDER)
	}
	for _, c := range s.Curves {
		curves = append(curves, tls.CurveID(c))
	}
	return curves
}

func (s *TLSSpec) keyShares() []tls.KeyShare {
	var shares []tls.KeyShare
	if s.GREASE {
		shares = append(shares, tls.KeyShare{Group: tls.CurveID(tls.GREASE_PLACEHOLDER), Data: []byte{0}})
	}
	groups := s.KeyShares
	if len(groups) == 0 && len(s.Curves) > 0 {
		// Real browsers only generate a key share for the preferred curve,
		// plus classic X25519 when the preferred one is a hybrid.
		groups = []uint16{s.Curves[0]}
		if isHybrid(s.Curves[0]) && s.offersCurve(uint16(tls.X25519)) {
			groups = append(groups, uint16(tls.X25519))
		}
	}
	for _, g := range groups {
		shares = append(shares, tls.KeyShare{Group: tls.CurveID(g)})
	}
	return shares
}

func isHybrid(curve uint16) bool {
	return curve == uint16(tls.X25519MLKEM768) || curve == uint16(tls.X25519Kyber768Draft00)
}

func (s *TLSSpec) offersCurve(curve uint16) bool {
	for _, c := range s.Curves {
		if c == curve {
			return true
		}
	}
	return false
}

func (s *TLSSpec) supportedVersions() []uint16 {
	var versions []uint16
	if s.GREASE {
		versions = append(versions, tls.GREASE_PLACEHOLDER)
	}
	for v := uint16(tls.VersionTLS13); v >= s.minVersion() && v >= tls.VersionTLS10; v-- {
		versions = append(versions, v)
	}
	return versions
}

func signatureSchemes(ids []uint16) []tls.SignatureScheme {
	out := make([]tls.SignatureScheme, len(ids))
	for i, id := range ids {
		out[i] = tls.SignatureScheme(id)
	}
	return out
}

func alpsProtocols(alpn []string) []string {
	for _, p := range alpn {
		if p == "h2" {
			return []string{"h2"}
		}
	}
	return alpn
}

// extensionForID returns the appropriate TLSExtension for a given extension ID.
func (s *TLSSpec) extensionForID(id uint16, alpn []string) tls.TLSExtension {
	switch id {
	case 0: // server_name (SNI)
		return &tls.SNIExtension{}

	case 5: // status_request (OCSP stapling)
		return &tls.StatusRequestExtension{}

	case 10: // supported_groups
		return &tls.SupportedCurvesExtension{Curves: s.curveIDs()}

	case 11: // ec_point_formats
		points := s.PointFormats
		if len(points) == 0 {
			points = []uint8{0}
		}
		return &tls.SupportedPointsExtension{SupportedPoints: points}

	case 13: // signature_algorithms
		algs := s.SignatureAlgorithms
		if len(algs) == 0 {
			algs = defaultSignatureAlgorithms
		}
		return &tls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: signatureSchemes(algs)}

	case 16: // ALPN
		return &tls.ALPNExtension{AlpnProtocols: alpn}

	case 17: // status_request_v2
		return &tls.StatusRequestV2Extension{}

	case 18: // signed_certificate_timestamp (SCT)
		return &tls.SCTExtension{}

	case 21: // padding
		return &tls.UtlsPaddingExtension{GetPaddingLen: tls.BoringPaddingStyle}

	case 22: // encrypt_then_mac has no dedicated type
		return &tls.GenericExtension{Id: 22}

	case 23: // extended_master_secret
		return &tls.ExtendedMasterSecretExtension{}

	case 27: // compress_certificate
		algs := make([]tls.CertCompressionAlgo, 0, len(s.CertCompression))
		for _, a := range s.CertCompression {
			algs = append(algs, tls.CertCompressionAlgo(a))
		}
		if len(algs) == 0 {
			algs = []tls.CertCompressionAlgo{tls.CertCompressionBrotli}
		}
		return &tls.UtlsCompressCertExtension{Algorithms: algs}

	case 28: // record_size_limit
		limit := s.RecordSizeLimit
		if limit == 0 {
			limit = defaultRecordSizeLimit
		}
		return &tls.FakeRecordSizeLimitExtension{Limit: limit}

	case 34: // delegated_credentials
		algs := s.DelegatedCredentials
		if len(algs) == 0 {
			algs = []uint16{
				uint16(tls.ECDSAWithP256AndSHA256),
				uint16(tls.ECDSAWithP384AndSHA384),
				uint16(tls.ECDSAWithP521AndSHA512),
				uint16(tls.ECDSAWithSHA1),
			}
		}
		return &tls.DelegatedCredentialsExtension{SupportedSignatureAlgorithms: signatureSchemes(algs)}

	case 35: // session_ticket
		return &tls.SessionTicketExtension{}

	case 41: // pre_shared_key, filled in during resumption
		return &tls.UtlsPreSharedKeyExtension{}

	case 43: // supported_versions
		return &tls.SupportedVersionsExtension{Versions: s.supportedVersions()}

	case 44: // cookie
		return &tls.CookieExtension{}

	case 45: // psk_key_exchange_modes
		return &tls.PSKKeyExchangeModesExtension{Modes: []uint8{tls.PskModeDHE}}

	case 49: // post_handshake_auth
		return &tls.GenericExtension{Id: 49}

	case 50: // signature_algorithms_cert
		// certificate verification also accepts legacy SHA-1 chains
		algs := append(signatureSchemes(defaultSignatureAlgorithms), tls.PKCS1WithSHA1)
		return &tls.SignatureAlgorithmsCertExtension{SupportedSignatureAlgorithms: algs}

	case 51: // key_share
		return &tls.KeyShareExtension{KeyShares: s.keyShares()}

	case 17513: // application_settings (ALPS)
		return &tls.ApplicationSettingsExtension{SupportedProtocols: alpsProtocols(alpn)}

	case 17613: // application_settings, new codepoint (Chrome 133+)
		return &tls.ApplicationSettingsExtensionNew{SupportedProtocols: alpsProtocols(alpn)}

	case 65037: // encrypted_client_hello
		if s.GREASE {
			return tls.BoringGREASEECH()
		}
		return &tls.GREASEEncryptedClientHelloExtension{}

	case 65281: // renegotiation_info
		return &tls.RenegotiationInfoExtension{Renegotiation: tls.RenegotiateOnceAsClient}

	default:
		// Unknown extension: send the id with empty data
		return &tls.GenericExtension{Id: id}
	}
}

// parseDashSeparatedUint16 parses a dash-separated string of decimal uint16 values.
func parseDashSeparatedUint16(s string) ([]uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	result := make([]uint16, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		result = append(result, uint16(v))
	}
	return result, nil
}

// parseDashSeparatedUint8 parses a dash-separated string of decimal uint8 values.
func parseDashSeparatedUint8(s string) ([]uint8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	result := make([]uint8, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		result = append(result, uint8(v))
	}
	return result, nil
}
