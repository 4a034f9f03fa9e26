// Package policy maps a requesting entity's group and a target's kind and
// name to the communication policy governing session keys issued for that
// target: the crypto spec, key size, validity windows, and owner cap.
package policy

import (
	"fmt"
	"time"

	authcrypto "authcore/pkg/crypto"
)

// TargetKind names what a session-key request is asking about.
type TargetKind int

const (
	TargetGroup TargetKind = iota
	PublishTopic
	SubscribeTopic
)

func (k TargetKind) String() string {
	switch k {
	case TargetGroup:
		return "GROUP"
	case PublishTopic:
		return "PUB_TOPIC"
	case SubscribeTopic:
		return "SUB_TOPIC"
	default:
		return "UNKNOWN"
	}
}

// CommunicationPolicy is the resolved rule for session keys issued to
// entities in RequesterGroup that want to talk to (TargetKind, TargetName).
type CommunicationPolicy struct {
	RequesterGroup        string
	TargetKind            TargetKind
	TargetName            string
	CryptoSpec            authcrypto.SymmetricKeyCryptoSpec
	KeyBits               int
	AbsValidity           time.Duration
	RelValidity           time.Duration
	MaxNumSessionKeyOwners int
}

// ErrPolicyNotFound is returned by Store.Resolve when no policy matches.
var ErrPolicyNotFound = fmt.Errorf("policy: no matching communication policy")

// Store resolves communication policies. The in-memory reference
// implementation lives in pkg/store; a production deployment would back
// this with a database or config file, per the core's delegation of
// persistent storage to an external collaborator.
type Store interface {
	Resolve(requesterGroup string, targetKind TargetKind, targetName string) (CommunicationPolicy, error)
}
