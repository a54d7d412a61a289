package fingerprint

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownProfile is matched by errors.Is for every UnknownProfileError.
var ErrUnknownProfile = errors.New("unknown impersonation profile")

// UnknownProfileError reports a browser/OS pair with no registry entry.
type UnknownProfileError struct {
	Browser string
	OS      string
}

func (e *UnknownProfileError) Error() string {
	if e.OS == "" {
		return fmt.Sprintf("unknown impersonation profile %q", e.Browser)
	}
	return fmt.Sprintf("unknown impersonation profile %q for os %q", e.Browser, e.OS)
}

func (e *UnknownProfileError) Is(target error) bool {
	return target == ErrUnknownProfile
}

type registryEntry struct {
	defaultOS string
	byOS      map[string]*Profile
}

var (
	registry = map[string]*registryEntry{} // keyed by "chrome_133" and family aliases
	names    []string
)

func init() {
	for i := range browserRows {
		row := &browserRows[i]
		entry := &registryEntry{defaultOS: row.defaultOS, byOS: make(map[string]*Profile, len(row.oses))}
		for _, os := range row.oses {
			entry.byOS[os] = expand(row, os)
		}
		name := row.family + "_" + row.version
		registry[name] = entry
		names = append(names, name)
		// rows are ordered oldest to newest, so the last one wins the alias
		registry[row.family] = entry
	}
	slices.Sort(names)
}

func expand(row *browserRow, os string) *Profile {
	info := osTable[os]
	mobile, mobileUA := "?0", ""
	if info.mobile {
		mobile, mobileUA = "?1", "Mobile "
	}
	r := strings.NewReplacer(
		"{os}", info.token,
		"{ffos}", info.firefoxToken,
		"{platform}", info.platform,
		"{mobile}", mobile,
		"{mobile-ua}", mobileUA,
	)
	headers := make([]Header, len(row.headers))
	for i, h := range row.headers {
		headers[i] = Header{Name: h.Name, Value: r.Replace(h.Value)}
	}
	return &Profile{
		Browser: row.family,
		Version: row.version,
		OS:      os,
		TLS:     *row.tls,
		HTTP2:   *row.http2,
		Headers: headers,
	}
}

// Resolve returns the profile registered for browser and os. An empty os
// selects the browser's default OS. Browser may be a versioned id such as
// "chrome_133" or a family alias such as "chrome", which resolves to the
// newest version. Lookups are case-insensitive.
func Resolve(browser, os string) (*Profile, error) {
	key := strings.ToLower(strings.TrimSpace(browser))
	osKey := strings.ToLower(strings.TrimSpace(os))
	entry, ok := registry[key]
	if !ok {
		return nil, &UnknownProfileError{Browser: browser, OS: os}
	}
	if osKey == "" {
		osKey = entry.defaultOS
	}
	p, ok := entry.byOS[osKey]
	if !ok {
		return nil, &UnknownProfileError{Browser: browser, OS: os}
	}
	return p, nil
}

// Available returns the sorted list of versioned browser ids.
func Available() []string {
	return slices.Clone(names)
}

// OperatingSystems returns the OS ids registered for browser, default first.
func OperatingSystems(browser string) ([]string, error) {
	entry, ok := registry[strings.ToLower(strings.TrimSpace(browser))]
	if !ok {
		return nil, &UnknownProfileError{Browser: browser}
	}
	out := []string{entry.defaultOS}
	for os := range entry.byOS {
		if os != entry.defaultOS {
			out = append(out, os)
		}
	}
	slices.Sort(out[1:])
	return out, nil
}
