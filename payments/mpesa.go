package payments

import (
	"errors"
	"regexp"
	"strings"
)

var nonNumericRegex = regexp.MustCompile(`[^0-9]`)

var errInvalidMpesaNumber = errors.New("invalid M-Pesa phone number format")

// SanitizeMpesaNumber normalises a Kenyan mobile number to the 2547XXXXXXXX
// form the provider expects.
func SanitizeMpesaNumber(phone string) (string, error) {
	sanitized := nonNumericRegex.ReplaceAllString(phone, "")

	if (strings.HasPrefix(sanitized, "07") || strings.HasPrefix(sanitized, "01")) && len(sanitized) == 10 {
		return "254" + sanitized[1:], nil
	}
	if (strings.HasPrefix(sanitized, "7") || strings.HasPrefix(sanitized, "1")) && len(sanitized) == 9 {
		return "254" + sanitized, nil
	}
	if strings.HasPrefix(sanitized, "254") && len(sanitized) == 12 {
		return sanitized, nil
	}

	return "", errInvalidMpesaNumber
}

// accountFor formats party for method. Only M-Pesa accounts are
// rewritten; everything else is passed through trimmed.
func accountFor(method, party string) (string, error) {
	if strings.EqualFold(method, "mpesa") {
		return SanitizeMpesaNumber(party)
	}
	return strings.TrimSpace(party), nil
}
