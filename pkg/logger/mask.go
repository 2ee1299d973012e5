package logger

import (
	"strings"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/utils"
)

// MaskEndpoint masks the dialled number inside a dial string such as
// "PJSIP/+919876543210@trunk" while keeping technology and trunk readable.
func MaskEndpoint(key, endpoint string) zap.Field {
	return zap.String(key, MaskEndpointString(endpoint))
}

func MaskEndpointString(endpoint string) string {
	if endpoint == "" {
		return ""
	}

	tech, rest, found := strings.Cut(endpoint, "/")
	if !found {
		return maskIfNumber(endpoint)
	}

	number, trunk, hasTrunk := strings.Cut(rest, "@")
	masked := tech + "/" + maskIfNumber(number)
	if hasTrunk {
		masked += "@" + trunk
	}
	return masked
}

// Extensions stay readable, only things that look like external numbers are masked.
func maskIfNumber(s string) string {
	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 7 {
		return s
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return s
		}
	}
	return utils.MaskPhoneNumber(s)
}
