package fingerprint

// OS identifiers accepted by the registry.
const (
	OSWindows = "windows"
	OSMacOS   = "macos"
	OSLinux   = "linux"
	OSAndroid = "android"
	OSIOS     = "ios"
)

// osInfo holds the per-OS values substituted into header templates.
type osInfo struct {
	token        string // user-agent platform token, Chromium style
	firefoxToken string
	platform     string // sec-ch-ua-platform
	mobile       bool
}

var osTable = map[string]osInfo{
	OSWindows: {token: "Windows NT 10.0; Win64; x64", firefoxToken: "Windows NT 10.0; Win64; x64", platform: "Windows"},
	OSMacOS:   {token: "Macintosh; Intel Mac OS X 10_15_7", firefoxToken: "Macintosh; Intel Mac OS X 10.15", platform: "macOS"},
	OSLinux:   {token: "X11; Linux x86_64", firefoxToken: "X11; Linux x86_64", platform: "Linux"},
	OSAndroid: {token: "Linux; Android 10; K", firefoxToken: "Android 14; Mobile", platform: "Android", mobile: true},
	OSIOS:     {token: "iPhone; CPU iPhone OS 18_1_1 like Mac OS X", firefoxToken: "iPhone; CPU iPhone OS 18_1_1 like Mac OS X", platform: "iOS", mobile: true},
}

// browserRow is one registry entry. Header values may contain the
// placeholders {os}, {ffos}, {platform}, {mobile} and {mobile-ua}, which are
// filled from osTable when the row is expanded per OS.
type browserRow struct {
	family    string
	version   string
	oses      []string
	defaultOS string
	tls       *TLSSpec
	http2     *HTTP2Spec
	headers   []Header
}

// TLS data. Lists are GREASE-free; GREASE is injected at handshake time.

var chromeCiphers = []uint16{4865, 4866, 4867, 49195, 49199, 49196, 49200, 52393, 52392, 49171, 49172, 156, 157, 47, 53}

var chromeSigAlgs = []uint16{1027, 2052, 1025, 1283, 2053, 1281, 2054, 1537}

var tlsChrome120 = &TLSSpec{
	Version:             771,
	CipherSuites:        chromeCiphers,
	Extensions:          []uint16{0, 23, 65281, 10, 11, 35, 16, 5, 13, 18, 51, 45, 43, 27, 17513, 65037},
	Curves:              []uint16{29, 23, 24},
	PointFormats:        []uint8{0},
	SignatureAlgorithms: chromeSigAlgs,
	ALPN:                []string{"h2", "http/1.1"},
	CertCompression:     []uint16{2},
	ALPSCodepoint:       17513,
	GREASE:              true,
	PermuteExtensions:   true,
}

var tlsChrome124 = &TLSSpec{
	Version:             771,
	CipherSuites:        chromeCiphers,
	Extensions:          []uint16{0, 23, 65281, 10, 11, 35, 16, 5, 13, 18, 51, 45, 43, 27, 17513, 65037},
	Curves:              []uint16{25497, 29, 23, 24},
	PointFormats:        []uint8{0},
	SignatureAlgorithms: chromeSigAlgs,
	ALPN:                []string{"h2", "http/1.1"},
	CertCompression:     []uint16{2},
	ALPSCodepoint:       17513,
	GREASE:              true,
	PermuteExtensions:   true,
}

var tlsChrome131 = &TLSSpec{
	Version:             771,
	CipherSuites:        chromeCiphers,
	Extensions:          []uint16{0, 23, 65281, 10, 11, 35, 16, 5, 13, 18, 51, 45, 43, 27, 17513, 65037},
	Curves:              []uint16{4588, 29, 23, 24},
	PointFormats:        []uint8{0},
	SignatureAlgorithms: chromeSigAlgs,
	ALPN:                []string{"h2", "http/1.1"},
	CertCompression:     []uint16{2},
	ALPSCodepoint:       17513,
	GREASE:              true,
	PermuteExtensions:   true,
}

var tlsChrome133 = &TLSSpec{
	Version:             771,
	CipherSuites:        chromeCiphers,
	Extensions:          []uint16{0, 23, 65281, 10, 11, 35, 16, 5, 13, 18, 51, 45, 43, 27, 17613, 65037},
	Curves:              []uint16{4588, 29, 23, 24},
	PointFormats:        []uint8{0},
	SignatureAlgorithms: chromeSigAlgs,
	ALPN:                []string{"h2", "http/1.1"},
	CertCompression:     []uint16{2},
	ALPSCodepoint:       17613,
	GREASE:              true,
	PermuteExtensions:   true,
}

var firefoxCiphers = []uint16{4865, 4867, 4866, 49195, 49199, 52393, 52392, 49196, 49200, 49162, 49161, 49171, 49172, 156, 157, 47, 53}

var firefoxSigAlgs = []uint16{1027, 1283, 1539, 2052, 2053, 2054, 1025, 1281, 1537, 515, 513}

var tlsFirefox128 = &TLSSpec{
	Version:              771,
	CipherSuites:         firefoxCiphers,
	Extensions:           []uint16{0, 23, 65281, 10, 11, 35, 16, 5, 34, 51, 43, 13, 45, 28, 27, 65037},
	Curves:               []uint16{29, 23, 24, 25, 256, 257},
	PointFormats:         []uint8{0},
	SignatureAlgorithms:  firefoxSigAlgs,
	DelegatedCredentials: []uint16{1027, 1283, 1539, 515},
	KeyShares:            []uint16{29, 23},
	ALPN:                 []string{"h2", "http/1.1"},
	CertCompression:      []uint16{1, 2, 3},
	RecordSizeLimit:      0x4001,
}

var tlsFirefox133 = &TLSSpec{
	Version:              771,
	CipherSuites:         firefoxCiphers,
	Extensions:           []uint16{0, 23, 65281, 10, 11, 35, 16, 5, 34, 51, 43, 13, 45, 28, 27, 65037},
	Curves:               []uint16{4588, 29, 23, 24, 25, 256, 257},
	PointFormats:         []uint8{0},
	SignatureAlgorithms:  firefoxSigAlgs,
	DelegatedCredentials: []uint16{1027, 1283, 1539, 515},
	KeyShares:            []uint16{4588, 29, 23},
	ALPN:                 []string{"h2", "http/1.1"},
	CertCompression:      []uint16{1, 2, 3},
	RecordSizeLimit:      0x4001,
}

var safariCiphers = []uint16{4865, 4866, 4867, 49196, 49195, 52393, 49200, 49199, 52392, 49162, 49161, 49172, 49171, 157, 156, 53, 47, 49160, 49170, 10}

var tlsSafari = &TLSSpec{
	Version:             771,
	MinVersion:          0x0301,
	CipherSuites:        safariCiphers,
	Extensions:          []uint16{0, 23, 65281, 10, 11, 16, 5, 13, 18, 51, 45, 43, 27, 21},
	Curves:              []uint16{29, 23, 24, 25},
	PointFormats:        []uint8{0},
	SignatureAlgorithms: []uint16{1027, 2052, 1025, 1283, 515, 2053, 2053, 1281, 2054, 1537, 513},
	ALPN:                []string{"h2", "http/1.1"},
	CertCompression:     []uint16{1},
	GREASE:              true,
}

var tlsOkHttp = &TLSSpec{
	Version:             771,
	CipherSuites:        []uint16{4865, 4866, 4867, 49195, 49196, 52393, 49199, 49200, 52392, 49171, 49172, 156, 157, 47, 53},
	Extensions:          []uint16{0, 23, 65281, 10, 11, 35, 16, 5, 13, 51, 45, 43, 21},
	Curves:              []uint16{29, 23, 24},
	PointFormats:        []uint8{0},
	SignatureAlgorithms: []uint16{1027, 2052, 1025, 1283, 2053, 1281, 2054, 1537, 513},
	ALPN:                []string{"h2", "http/1.1"},
}

// HTTP/2 data.

var pseudoMASP = []string{":method", ":authority", ":scheme", ":path"}
var pseudoMPAS = []string{":method", ":path", ":authority", ":scheme"}
var pseudoMSPA = []string{":method", ":scheme", ":path", ":authority"}
var pseudoMSAP = []string{":method", ":scheme", ":authority", ":path"}

var h2Chrome = &HTTP2Spec{
	Settings: []Setting{
		{SettingHeaderTableSize, 65536},
		{SettingEnablePush, 0},
		{SettingInitialWindowSize, 6291456},
		{SettingMaxHeaderListSize, 262144},
	},
	WindowUpdate:       15663105,
	PseudoOrder:        pseudoMASP,
	Priority:           &Priority{Weight: 256, Exclusive: true},
	PriorityFromHeader: true,
}

var h2Firefox = &HTTP2Spec{
	Settings: []Setting{
		{SettingHeaderTableSize, 65536},
		{SettingEnablePush, 0},
		{SettingInitialWindowSize, 131072},
		{SettingMaxFrameSize, 16384},
	},
	WindowUpdate: 12517377,
	PseudoOrder:  pseudoMPAS,
	Priority:     &Priority{Weight: 42},
}

var h2Safari17 = &HTTP2Spec{
	Settings: []Setting{
		{SettingEnablePush, 0},
		{SettingInitialWindowSize, 4194304},
		{SettingMaxConcurrentStreams, 100},
	},
	WindowUpdate: 10485760,
	PseudoOrder:  pseudoMSPA,
	Priority:     &Priority{Weight: 255},
}

var h2Safari18 = &HTTP2Spec{
	Settings: []Setting{
		{SettingEnablePush, 0},
		{SettingMaxConcurrentStreams, 100},
		{SettingInitialWindowSize, 2097152},
		{SettingNoRFC7540Priorities, 1},
	},
	WindowUpdate: 10420225,
	PseudoOrder:  pseudoMSAP,
}

var h2OkHttp = &HTTP2Spec{
	Settings: []Setting{
		{SettingInitialWindowSize, 16777216},
	},
	WindowUpdate: 16711681,
	PseudoOrder:  pseudoMPAS,
}

// Header data, in the order each browser sends them on a top-level navigation.

const (
	acceptChrome  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	acceptFirefox = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptSafari  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

func chromiumHeaders(secChUA, product string, priority bool) []Header {
	h := []Header{
		{"sec-ch-ua", secChUA},
		{"sec-ch-ua-mobile", "{mobile}"},
		{"sec-ch-ua-platform", `"{platform}"`},
		{"Upgrade-Insecure-Requests", "1"},
		{"User-Agent", "Mozilla/5.0 ({os}) AppleWebKit/537.36 (KHTML, like Gecko) " + product},
		{"Accept", acceptChrome},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Sec-Fetch-User", "?1"},
		{"Sec-Fetch-Dest", "document"},
		{"Accept-Encoding", "gzip, deflate, br, zstd"},
		{"Accept-Language", "en-US,en;q=0.9"},
	}
	if priority {
		h = append(h, Header{"priority", "u=0, i"})
	}
	return h
}

func firefoxHeaders(version string) []Header {
	return []Header{
		{"User-Agent", "Mozilla/5.0 ({ffos}; rv:" + version + ".0) Gecko/20100101 Firefox/" + version + ".0"},
		{"Accept", acceptFirefox},
		{"Accept-Language", "en-US,en;q=0.5"},
		{"Accept-Encoding", "gzip, deflate, br, zstd"},
		{"Upgrade-Insecure-Requests", "1"},
		{"Sec-Fetch-Dest", "document"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-User", "?1"},
		{"priority", "u=0, i"},
	}
}

func safariHeaders(userAgent string) []Header {
	return []Header{
		{"Sec-Fetch-Dest", "document"},
		{"User-Agent", userAgent},
		{"Accept", acceptSafari},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Accept-Language", "en-US,en;q=0.9"},
		{"Accept-Encoding", "gzip, deflate, br"},
		{"priority", "u=0, i"},
	}
}

func okhttpHeaders(version string) []Header {
	return []Header{
		{"Accept-Encoding", "gzip"},
		{"User-Agent", "okhttp/" + version},
	}
}

var desktopOSes = []string{OSWindows, OSMacOS, OSLinux}
var chromeOSes = []string{OSWindows, OSMacOS, OSLinux, OSAndroid}

// browserRows is the registry table. Rows within a family are ordered oldest
// to newest; the family alias resolves to the last row.
var browserRows = []browserRow{
	{"chrome", "120", chromeOSes, OSMacOS, tlsChrome120, h2Chrome,
		chromiumHeaders(`"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`, "Chrome/120.0.0.0 {mobile-ua}Safari/537.36", false)},
	{"chrome", "124", chromeOSes, OSMacOS, tlsChrome124, h2Chrome,
		chromiumHeaders(`"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`, "Chrome/124.0.0.0 {mobile-ua}Safari/537.36", true)},
	{"chrome", "131", chromeOSes, OSMacOS, tlsChrome131, h2Chrome,
		chromiumHeaders(`"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`, "Chrome/131.0.0.0 {mobile-ua}Safari/537.36", true)},
	{"chrome", "133", chromeOSes, OSMacOS, tlsChrome133, h2Chrome,
		chromiumHeaders(`"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`, "Chrome/133.0.0.0 {mobile-ua}Safari/537.36", true)},
	{"edge", "122", desktopOSes, OSWindows, tlsChrome120, h2Chrome,
		chromiumHeaders(`"Chromium";v="122", "Not(A:Brand";v="24", "Microsoft Edge";v="122"`, "Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0", true)},
	{"edge", "131", desktopOSes, OSWindows, tlsChrome131, h2Chrome,
		chromiumHeaders(`"Microsoft Edge";v="131", "Chromium";v="131", "Not_A Brand";v="24"`, "Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0", true)},
	{"firefox", "128", desktopOSes, OSWindows, tlsFirefox128, h2Firefox, firefoxHeaders("128")},
	{"firefox", "133", desktopOSes, OSWindows, tlsFirefox133, h2Firefox, firefoxHeaders("133")},
	{"firefox", "135", desktopOSes, OSWindows, tlsFirefox133, h2Firefox, firefoxHeaders("135")},
	{"safari", "17.0", []string{OSMacOS}, OSMacOS, tlsSafari, h2Safari17,
		safariHeaders("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15")},
	{"safari", "18", []string{OSMacOS}, OSMacOS, tlsSafari, h2Safari18,
		safariHeaders("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15")},
	{"safari_ios", "17.4.1", []string{OSIOS}, OSIOS, tlsSafari, h2Safari17,
		safariHeaders("Mozilla/5.0 (iPhone; CPU iPhone OS 17_4_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Mobile/15E148 Safari/604.1")},
	{"safari_ios", "18.1.1", []string{OSIOS}, OSIOS, tlsSafari, h2Safari18,
		safariHeaders("Mozilla/5.0 (iPhone; CPU iPhone OS 18_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1.1 Mobile/15E148 Safari/604.1")},
	{"okhttp", "4.10", []string{OSAndroid}, OSAndroid, tlsOkHttp, h2OkHttp, okhttpHeaders("4.10.0")},
	{"okhttp", "5", []string{OSAndroid}, OSAndroid, tlsOkHttp, h2OkHttp, okhttpHeaders("5.0.0-alpha.14")},
}
