package protocol

import (
	"encoding/json"
	"fmt"
)

// Purpose is the small JSON tagged union carried in a SessionKeyReq: exactly
// one of Group, PubTopic, SubTopic, or KeyID is set, determining what kind
// of session key the entity is asking for.
type Purpose struct {
	Group    *string `json:"group,omitempty"`
	PubTopic *string `json:"pubTopic,omitempty"`
	SubTopic *string `json:"subTopic,omitempty"`
	KeyID    *int64  `json:"keyId,omitempty"`
}

// Kind enumerates the one field a valid Purpose has set.
type Kind int

const (
	KindGroup Kind = iota
	KindPubTopic
	KindSubTopic
	KindSessionKeyID
)

// Resolve validates that exactly one field is set and returns which kind it
// is; the caller reads the associated value from the matching field itself.
func (p Purpose) Resolve() (Kind, error) {
	set := 0
	var kind Kind
	if p.Group != nil {
		set++
		kind = KindGroup
	}
	if p.PubTopic != nil {
		set++
		kind = KindPubTopic
	}
	if p.SubTopic != nil {
		set++
		kind = KindSubTopic
	}
	if p.KeyID != nil {
		set++
		kind = KindSessionKeyID
	}
	if set != 1 {
		return 0, fmt.Errorf("protocol: purpose must set exactly one of group/pubTopic/subTopic/keyId, got %d", set)
	}
	return kind, nil
}

// EncodePurpose marshals p to its JSON wire form.
func EncodePurpose(p Purpose) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePurpose parses a purpose JSON object.
func DecodePurpose(data []byte) (Purpose, error) {
	var p Purpose
	if err := json.Unmarshal(data, &p); err != nil {
		return Purpose{}, fmt.Errorf("protocol: decoding purpose JSON: %w", err)
	}
	return p, nil
}
