// Package validate checks common user-entered values.
package validate

import (
	"net/url"
	"regexp"
)

var (
	// Whitespace includes Unicode spaces.
	emailRe  = regexp.MustCompile(`^[^\s\v\p{Z}\x{FEFF}@]+@[^\s\v\p{Z}\x{FEFF}@]+\.[^\s\v\p{Z}\x{FEFF}@]+$`)
	phoneRe  = regexp.MustCompile(`^1[3-9]\d{9}$`)
	idCardRe = regexp.MustCompile(`^[1-9]\d{5}(18|19|20)\d{2}(0[1-9]|1[0-2])(0[1-9]|[12]\d|3[01])\d{3}[\dXx]$`)
)

// IsEmail reports whether s looks like an email address.
func IsEmail(s string) bool {
	return emailRe.MatchString(s)
}

// IsPhone reports whether s is an 11-digit mainland China mobile number.
func IsPhone(s string) bool {
	return phoneRe.MatchString(s)
}

// IsURL reports whether s is an absolute URL with a scheme.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && (u.Host != "" || u.Opaque != "" || u.Path != "")
}

// IsIDCard reports whether s has the format of an 18-character mainland
// China resident ID. The checksum digit is not verified.
func IsIDCard(s string) bool {
	return idCardRe.MatchString(s)
}
