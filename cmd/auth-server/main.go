// Command auth-server is an illustrative wiring binary: it builds the
// in-memory registry/policy/session-key stores, a handful of demo entities,
// and drives the connection handler over a plain TCP listener. A real
// deployment supplies its own config/CLI loader and a database-backed
// Registry/PolicyStore/SessionKeyStore instead of this package's in-memory
// ones; see pkg/store's doc comment.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"net"
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/policy"
	"authcore/pkg/registry"
	"authcore/pkg/server"
	"authcore/pkg/store"

	"github.com/sirupsen/logrus"
)

const listenAddr = ":9443"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	authPrivKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		entry.WithError(err).Fatal("failed to generate Auth key pair")
	}

	reg, err := buildDemoRegistry()
	if err != nil {
		entry.WithError(err).Fatal("failed to build demo registry")
	}
	policies := buildDemoPolicyStore()
	sessionKeys := store.NewSessionKeyStore(1)

	deps := server.Deps{
		Config: server.Config{
			LocalAuthID:       1,
			Timeout:           10 * time.Second,
			FederationTimeout: 5 * time.Second,
		},
		Crypto:      authcrypto.NewFacade(authPrivKey),
		Registry:    reg,
		Policies:    policies,
		SessionKeys: sessionKeys,
		Federation:  nil,
	}
	handler := server.NewHandler(deps, entry)

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		entry.WithError(err).Fatal("failed to listen")
	}
	defer listener.Close()
	entry.WithField("addr", listenAddr).Info("auth server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			entry.WithError(err).Error("accept failed")
			continue
		}
		go handler.Run(conn)
	}
}

// buildDemoRegistry seeds one registered entity with a freshly generated
// key pair, since the on-disk entity loader is out of this repo's scope.
func buildDemoRegistry() (*registry.AtomicRegistry, error) {
	entityKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	spec := authcrypto.SymmetricKeyCryptoSpec{CipherAlgo: "AES", CipherKeyBits: 128, CipherMode: "CBC", HashAlgo: "SHA256"}
	entity := registry.NewRegisteredEntity("demo-entity", "demo-group", &entityKey.PublicKey, false, spec, time.Hour, 8, nil)

	snap := registry.NewSnapshot([]*registry.RegisteredEntity{entity}, nil)
	return registry.NewAtomicRegistry(snap), nil
}

func buildDemoPolicyStore() *store.PolicyStore {
	spec := authcrypto.SymmetricKeyCryptoSpec{CipherAlgo: "AES", CipherKeyBits: 128, CipherMode: "CBC", HashAlgo: "SHA256"}
	return store.NewPolicyStore([]policy.CommunicationPolicy{{
		RequesterGroup:         "demo-group",
		TargetKind:             policy.TargetGroup,
		TargetName:             "demo-group",
		CryptoSpec:             spec,
		KeyBits:                128,
		AbsValidity:            time.Hour,
		RelValidity:            time.Hour,
		MaxNumSessionKeyOwners: 8,
	}})
}
