package wa

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand/v2"

	"go.mau.fi/whatsmeow/proto/waAdv"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/util/keys"
	"google.golang.org/protobuf/proto"
)

var errNoKeyMaterial = errors.New("credentials carry no key material")

// credentials is the primary auth record: the device's long-term keys and
// the identity the server assigned at pairing.
type credentials struct {
	NoiseKey       []byte       `json:"noise_key"`
	IdentityKey    []byte       `json:"identity_key"`
	SignedPreKey   signedPreKey `json:"signed_pre_key"`
	RegistrationID uint32       `json:"registration_id"`
	AdvSecretKey   []byte       `json:"adv_secret_key"`

	JID                   string `json:"jid,omitempty"`
	LID                   string `json:"lid,omitempty"`
	Account               []byte `json:"account,omitempty"`
	Platform              string `json:"platform,omitempty"`
	BusinessName          string `json:"business_name,omitempty"`
	PushName              string `json:"push_name,omitempty"`
	LIDMigrationTimestamp int64  `json:"lid_migration_ts,omitempty"`
}

type signedPreKey struct {
	ID        uint32 `json:"id"`
	Priv      []byte `json:"priv"`
	Signature []byte `json:"signature"`
}

// freshDevice generates the keys of a device that has not paired yet.
func freshDevice() *store.Device {
	identity := keys.NewKeyPair()
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return &store.Device{
		NoiseKey:       keys.NewKeyPair(),
		IdentityKey:    identity,
		SignedPreKey:   identity.CreateSignedPreKey(1),
		RegistrationID: mathrand.Uint32(),
		AdvSecretKey:   secret,
	}
}

func encodeCredentials(device *store.Device) (json.RawMessage, error) {
	creds := credentials{
		NoiseKey:    device.NoiseKey.Priv[:],
		IdentityKey: device.IdentityKey.Priv[:],
		SignedPreKey: signedPreKey{
			ID:        device.SignedPreKey.KeyID,
			Priv:      device.SignedPreKey.Priv[:],
			Signature: device.SignedPreKey.Signature[:],
		},
		RegistrationID:        device.RegistrationID,
		AdvSecretKey:          device.AdvSecretKey,
		Platform:              device.Platform,
		BusinessName:          device.BusinessName,
		PushName:              device.PushName,
		LIDMigrationTimestamp: device.LIDMigrationTimestamp,
	}
	if device.ID != nil {
		creds.JID = device.ID.String()
	}
	if !device.LID.IsEmpty() {
		creds.LID = device.LID.String()
	}
	if device.Account != nil {
		account, err := proto.Marshal(device.Account)
		if err != nil {
			return nil, fmt.Errorf("encode account: %w", err)
		}
		creds.Account = account
	}
	return json.Marshal(creds)
}

func decodeCredentials(raw json.RawMessage) (credentials, error) {
	var creds credentials
	if len(raw) == 0 {
		return creds, errNoKeyMaterial
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("decode credentials: %w", err)
	}
	if len(creds.NoiseKey) == 0 {
		return creds, errNoKeyMaterial
	}
	return creds, nil
}

func privateKey(name string, b []byte) (*keys.KeyPair, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%s has %d bytes", name, len(b))
	}
	return keys.NewKeyPairFromPrivateKey([32]byte(b)), nil
}

// device rebuilds the library's device from stored credentials.
func (c credentials) device() (*store.Device, error) {
	noise, err := privateKey("noise key", c.NoiseKey)
	if err != nil {
		return nil, err
	}
	identity, err := privateKey("identity key", c.IdentityKey)
	if err != nil {
		return nil, err
	}
	spk, err := privateKey("signed pre-key", c.SignedPreKey.Priv)
	if err != nil {
		return nil, err
	}
	if len(c.SignedPreKey.Signature) != 64 {
		return nil, fmt.Errorf("signed pre-key signature has %d bytes", len(c.SignedPreKey.Signature))
	}
	signature := [64]byte(c.SignedPreKey.Signature)

	device := &store.Device{
		NoiseKey:              noise,
		IdentityKey:           identity,
		SignedPreKey:          &keys.PreKey{KeyPair: *spk, KeyID: c.SignedPreKey.ID, Signature: &signature},
		RegistrationID:        c.RegistrationID,
		AdvSecretKey:          c.AdvSecretKey,
		Platform:              c.Platform,
		BusinessName:          c.BusinessName,
		PushName:              c.PushName,
		LIDMigrationTimestamp: c.LIDMigrationTimestamp,
	}
	if c.JID != "" {
		jid, err := types.ParseJID(c.JID)
		if err != nil {
			return nil, fmt.Errorf("parse jid: %w", err)
		}
		device.ID = &jid
	}
	if c.LID != "" {
		lid, err := types.ParseJID(c.LID)
		if err != nil {
			return nil, fmt.Errorf("parse lid: %w", err)
		}
		device.LID = lid
	}
	if len(c.Account) > 0 {
		var account waAdv.ADVSignedDeviceIdentity
		if err := proto.Unmarshal(c.Account, &account); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		device.Account = &account
	}
	return device, nil
}

// credsSink receives the library's device saves and republishes them as
// credential updates.
type credsSink struct {
	publish func(json.RawMessage)
}

func (s *credsSink) PutDevice(_ context.Context, device *store.Device) error {
	raw, err := encodeCredentials(device)
	if err != nil {
		return err
	}
	if s.publish != nil {
		s.publish(raw)
	}
	return nil
}

// DeleteDevice is a no-op; the session's owner wipes the auth records.
func (s *credsSink) DeleteDevice(context.Context, *store.Device) error {
	return nil
}
