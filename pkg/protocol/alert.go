package protocol

import "fmt"

// AlertCode is the single byte carried by an AUTH_ALERT message. Kept as its
// own type so new alert codes can be added without touching every switch
// that already handles the existing ones.
type AlertCode byte

const (
	AlertUnknownEntity           AlertCode = 0x01
	AlertInvalidDistributionKey  AlertCode = 0x02
)

func (c AlertCode) String() string {
	switch c {
	case AlertUnknownEntity:
		return "UNKNOWN_ENTITY"
	case AlertInvalidDistributionKey:
		return "INVALID_DISTRIBUTION_KEY"
	default:
		return fmt.Sprintf("UNKNOWN_ALERT(0x%02x)", byte(c))
	}
}

// EncodeAlert produces the one-byte AUTH_ALERT payload for code.
func EncodeAlert(code AlertCode) []byte {
	return []byte{byte(code)}
}

// DecodeAlert reads the alert code from an AUTH_ALERT payload.
func DecodeAlert(payload []byte) (AlertCode, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("protocol: alert payload must be exactly 1 byte, got %d", len(payload))
	}
	return AlertCode(payload[0]), nil
}
