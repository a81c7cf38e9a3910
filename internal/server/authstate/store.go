// Package authstate is the encrypted, database-backed store for per-device
// credentials and key material. Every record is encrypted under a key derived
// from the process secret and the device identifier.
package authstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/cryptox"
	"github.com/dmitrijs2005/wagate/internal/dbx"
	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wagate/internal/transport"
	"golang.org/x/sync/errgroup"
)

// CredsFile is the filename of the primary credential record.
const CredsFile = "creds"

const readConcurrency = 8

var filenameReplacer = strings.NewReplacer("/", "__", ":", "-")

// FixFilename makes a record name safe for use as a storage key.
func FixFilename(name string) string {
	return filenameReplacer.Replace(name)
}

type Store struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	secret string
	logger logging.Logger

	mu   sync.Mutex
	keys map[string][]byte
}

func NewStore(db *sql.DB, rm repomanager.RepositoryManager, secret string, logger logging.Logger) *Store {
	return &Store{
		db:     db,
		rm:     rm,
		secret: secret,
		logger: logger.With("module", "authstate"),
		keys:   make(map[string][]byte),
	}
}

// deviceKey derives the AES key for a device once and caches it.
func (s *Store) deviceKey(deviceID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[deviceID]; ok {
		return k, nil
	}
	k, err := cryptox.DeriveSessionKey(s.secret, deviceID)
	if err != nil {
		return nil, err
	}
	s.keys[deviceID] = k
	return k, nil
}

func (s *Store) seal(deviceID string, value any) (string, error) {
	plain, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	key, err := s.deviceKey(deviceID)
	if err != nil {
		return "", err
	}
	return cryptox.EncryptString(plain, key)
}

// Write encrypts value as JSON and upserts it under (deviceID, filename).
func (s *Store) Write(ctx context.Context, deviceID, filename string, value any) error {
	data, err := s.seal(deviceID, value)
	if err != nil {
		return err
	}
	rec := &models.SessionRecord{DeviceID: deviceID, Filename: FixFilename(filename), Data: data}
	return s.rm.Sessions(s.db).Upsert(ctx, rec)
}

// Read returns the decrypted JSON of a record. A missing record, a storage
// error, a record that fails to decrypt, or one that is not valid JSON are
// all reported as absent; only the unexpected cases are logged.
func (s *Store) Read(ctx context.Context, deviceID, filename string) (json.RawMessage, bool) {
	name := FixFilename(filename)

	rec, err := s.rm.Sessions(s.db).Find(ctx, deviceID, name)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "session record read failed", "device_id", deviceID, "filename", name, "error", err)
		}
		return nil, false
	}

	key, err := s.deviceKey(deviceID)
	if err != nil {
		s.logger.Error(ctx, "key derivation failed", "device_id", deviceID, "error", err)
		return nil, false
	}

	plain, err := cryptox.DecryptString(rec.Data, key)
	if err != nil {
		s.logger.Warn(ctx, "session record decrypt failed", "device_id", deviceID, "filename", name, "error", err)
		return nil, false
	}
	if !json.Valid(plain) {
		s.logger.Warn(ctx, "session record is not valid json", "device_id", deviceID, "filename", name)
		return nil, false
	}
	return json.RawMessage(plain), true
}

// ReadMany reads several records concurrently. Absent records are omitted
// from the result.
func (s *Store) ReadMany(ctx context.Context, deviceID string, filenames []string) map[string]json.RawMessage {
	var mu sync.Mutex
	out := make(map[string]json.RawMessage, len(filenames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for _, name := range filenames {
		g.Go(func() error {
			if v, ok := s.Read(gctx, deviceID, name); ok {
				mu.Lock()
				out[name] = v
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Store) Remove(ctx context.Context, deviceID, filename string) error {
	return s.rm.Sessions(s.db).Delete(ctx, deviceID, FixFilename(filename))
}

// RemoveAll deletes every record of a device, credentials included.
func (s *Store) RemoveAll(ctx context.Context, deviceID string) error {
	return s.rm.Sessions(s.db).DeleteAll(ctx, deviceID)
}

// DeviceIDs lists devices that have stored credentials.
func (s *Store) DeviceIDs(ctx context.Context) ([]string, error) {
	return s.rm.Sessions(s.db).ListDeviceIDs(ctx, CredsFile)
}

// Load builds the auth state a transport needs to resume a device. Creds is
// nil when the device has no usable credentials.
func (s *Store) Load(ctx context.Context, deviceID string) transport.AuthState {
	creds, _ := s.Read(ctx, deviceID, CredsFile)
	return transport.AuthState{Creds: creds, Keys: &deviceKeys{store: s, deviceID: deviceID}}
}

// SaveCreds persists the primary credential blob.
func (s *Store) SaveCreds(ctx context.Context, deviceID string, creds json.RawMessage) error {
	return s.Write(ctx, deviceID, CredsFile, creds)
}

type deviceKeys struct {
	store    *Store
	deviceID string
}

func keyFilename(category, id string) string {
	return category + "-" + id
}

func (k *deviceKeys) Get(ctx context.Context, category string, ids []string) (map[string]json.RawMessage, error) {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = keyFilename(category, id)
	}
	found := k.store.ReadMany(ctx, k.deviceID, names)

	out := make(map[string]json.RawMessage, len(found))
	for i, id := range ids {
		if v, ok := found[names[i]]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// Set applies a batch of writes and removals in one transaction.
func (k *deviceKeys) Set(ctx context.Context, data map[string]map[string]json.RawMessage) error {
	s := k.store
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Sessions(tx)
		for category, entries := range data {
			for id, value := range entries {
				name := FixFilename(keyFilename(category, id))
				if value == nil {
					if err := repo.Delete(ctx, k.deviceID, name); err != nil {
						return err
					}
					continue
				}
				enc, err := s.seal(k.deviceID, value)
				if err != nil {
					return err
				}
				if err := repo.Upsert(ctx, &models.SessionRecord{DeviceID: k.deviceID, Filename: name, Data: enc}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
