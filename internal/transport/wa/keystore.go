package wa

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dmitrijs2005/wagate/internal/transport"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/util/keys"
)

// Key record categories.
const (
	categorySession        = "session"
	categoryIdentity       = "identity-key"
	categoryPreKey         = "pre-key"
	categorySenderKey      = "sender-key"
	categoryAppStateKey    = "app-state-sync-key"
	categoryAppStateVer    = "app-state-sync-version"
	categoryAppStateMAC    = "app-state-mac"
	categoryIndex          = "key-index"
	preKeyStateID          = "pre-key-state"
	appStateKeyIndexID     = "app-state-sync-keys"
	firstGeneratedPreKeyID = 1
)

var errBadKeyRecord = errors.New("malformed key record")

// keyStore keeps the client library's signal and app state records in the
// device's encrypted key store. Records addressed by "user:device" are
// indexed per user so they can be dropped or migrated together.
type keyStore struct {
	keys transport.KeyStore
	mu   sync.Mutex
}

var (
	_ store.IdentityStore        = (*keyStore)(nil)
	_ store.SessionStore         = (*keyStore)(nil)
	_ store.PreKeyStore          = (*keyStore)(nil)
	_ store.SenderKeyStore       = (*keyStore)(nil)
	_ store.AppStateSyncKeyStore = (*keyStore)(nil)
	_ store.AppStateStore        = (*keyStore)(nil)
)

func newKeyStore(keys transport.KeyStore) *keyStore {
	return &keyStore{keys: keys}
}

// batch collects writes for a single KeyStore.Set call.
type batch map[string]map[string]json.RawMessage

func (b batch) putRaw(category, id string, raw json.RawMessage) {
	if b[category] == nil {
		b[category] = make(map[string]json.RawMessage)
	}
	b[category][id] = raw
}

func (b batch) put(category, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", category, id, err)
	}
	b.putRaw(category, id, raw)
	return nil
}

func (b batch) remove(category, id string) {
	b.putRaw(category, id, nil)
}

func (s *keyStore) commit(ctx context.Context, b batch) error {
	if len(b) == 0 {
		return nil
	}
	return s.keys.Set(ctx, b)
}

// get decodes one record into v and reports whether it existed.
func (s *keyStore) get(ctx context.Context, category, id string, v any) (bool, error) {
	found, err := s.keys.Get(ctx, category, []string{id})
	if err != nil {
		return false, err
	}
	raw, ok := found[id]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: %s/%s: %v", errBadKeyRecord, category, id, err)
	}
	return true, nil
}

// addressUser is the part of a signal address before the device suffix.
func addressUser(address string) string {
	if i := strings.LastIndexByte(address, ':'); i >= 0 {
		return address[:i]
	}
	return address
}

func indexID(category, user string) string {
	return category + "." + user
}

func (s *keyStore) index(ctx context.Context, category, user string) ([]string, error) {
	var addrs []string
	if _, err := s.get(ctx, categoryIndex, indexID(category, user), &addrs); err != nil {
		return nil, err
	}
	return addrs, nil
}

func (s *keyStore) putIndex(b batch, category, user string, addrs []string) error {
	if len(addrs) == 0 {
		b.remove(categoryIndex, indexID(category, user))
		return nil
	}
	return b.put(categoryIndex, indexID(category, user), addrs)
}

// putAddressed writes records keyed by signal address and adds them to the
// per-user index. The caller holds s.mu.
func (s *keyStore) putAddressed(ctx context.Context, category string, records map[string][]byte) error {
	b := batch{}
	byUser := make(map[string][]string)
	for addr, data := range records {
		if err := b.put(category, addr, data); err != nil {
			return err
		}
		user := addressUser(addr)
		byUser[user] = append(byUser[user], addr)
	}
	for user, added := range byUser {
		addrs, err := s.index(ctx, category, user)
		if err != nil {
			return err
		}
		changed := false
		for _, addr := range added {
			if !slices.Contains(addrs, addr) {
				addrs = append(addrs, addr)
				changed = true
			}
		}
		if changed {
			if err := s.putIndex(b, category, user, addrs); err != nil {
				return err
			}
		}
	}
	return s.commit(ctx, b)
}

func (s *keyStore) deleteAddressed(ctx context.Context, category, address string) error {
	user := addressUser(address)
	addrs, err := s.index(ctx, category, user)
	if err != nil {
		return err
	}
	b := batch{}
	b.remove(category, address)
	if i := slices.Index(addrs, address); i >= 0 {
		if err := s.putIndex(b, category, user, slices.Delete(addrs, i, i+1)); err != nil {
			return err
		}
	}
	return s.commit(ctx, b)
}

func (s *keyStore) deleteAllAddressed(ctx context.Context, category, user string) error {
	addrs, err := s.index(ctx, category, user)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return nil
	}
	b := batch{}
	for _, addr := range addrs {
		b.remove(category, addr)
	}
	b.remove(categoryIndex, indexID(category, user))
	return s.commit(ctx, b)
}

func (s *keyStore) PutIdentity(ctx context.Context, address string, key [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putAddressed(ctx, categoryIdentity, map[string][]byte{address: key[:]})
}

func (s *keyStore) DeleteAllIdentities(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAllAddressed(ctx, categoryIdentity, phone)
}

func (s *keyStore) DeleteIdentity(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAddressed(ctx, categoryIdentity, address)
}

// IsTrustedIdentity trusts unknown addresses on first use.
func (s *keyStore) IsTrustedIdentity(ctx context.Context, address string, key [32]byte) (bool, error) {
	var stored []byte
	found, err := s.get(ctx, categoryIdentity, address, &stored)
	if err != nil || !found {
		return err == nil, err
	}
	if len(stored) != len(key) {
		return false, fmt.Errorf("%w: identity key for %s has %d bytes", errBadKeyRecord, address, len(stored))
	}
	return [32]byte(stored) == key, nil
}

func (s *keyStore) GetSession(ctx context.Context, address string) ([]byte, error) {
	var session []byte
	if _, err := s.get(ctx, categorySession, address, &session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *keyStore) HasSession(ctx context.Context, address string) (bool, error) {
	session, err := s.GetSession(ctx, address)
	return session != nil, err
}

// GetManySessions returns an entry for every address, nil when unknown.
func (s *keyStore) GetManySessions(ctx context.Context, addresses []string) (map[string][]byte, error) {
	found, err := s.keys.Get(ctx, categorySession, addresses)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(addresses))
	for _, addr := range addresses {
		out[addr] = nil
		raw, ok := found[addr]
		if !ok || len(raw) == 0 {
			continue
		}
		var session []byte
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("%w: session/%s: %v", errBadKeyRecord, addr, err)
		}
		out[addr] = session
	}
	return out, nil
}

func (s *keyStore) PutSession(ctx context.Context, address string, session []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putAddressed(ctx, categorySession, map[string][]byte{address: session})
}

func (s *keyStore) PutManySessions(ctx context.Context, sessions map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putAddressed(ctx, categorySession, sessions)
}

func (s *keyStore) DeleteAllSessions(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAllAddressed(ctx, categorySession, phone)
}

func (s *keyStore) DeleteSession(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAddressed(ctx, categorySession, address)
}

// MigratePNToLID moves the sessions and identities of a phone number user
// onto its LID.
func (s *keyStore) MigratePNToLID(ctx context.Context, pn, lid types.JID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := pn.SignalAddressUser(), lid.SignalAddressUser()
	b := batch{}
	for _, category := range []string{categorySession, categoryIdentity} {
		addrs, err := s.index(ctx, category, from)
		if err != nil {
			return err
		}
		if len(addrs) == 0 {
			continue
		}
		found, err := s.keys.Get(ctx, category, addrs)
		if err != nil {
			return err
		}
		moved, err := s.index(ctx, category, to)
		if err != nil {
			return err
		}
		for _, addr := range addrs {
			raw, ok := found[addr]
			b.remove(category, addr)
			if !ok || len(raw) == 0 {
				continue
			}
			target := to + strings.TrimPrefix(addr, from)
			b.putRaw(category, target, raw)
			if !slices.Contains(moved, target) {
				moved = append(moved, target)
			}
		}
		b.remove(categoryIndex, indexID(category, from))
		if err := s.putIndex(b, category, to, moved); err != nil {
			return err
		}
	}
	return s.commit(ctx, b)
}

// preKeyState tracks pre-key id allocation and upload progress.
type preKeyState struct {
	NextID       uint32 `json:"next_id"`
	UploadedUpTo uint32 `json:"uploaded_up_to"`
	Uploaded     int    `json:"uploaded_count"`
}

type preKeyRecord struct {
	Priv []byte `json:"priv"`
}

func preKeyID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (s *keyStore) preKeyState(ctx context.Context) (preKeyState, error) {
	var st preKeyState
	if _, err := s.get(ctx, categoryIndex, preKeyStateID, &st); err != nil {
		return st, err
	}
	if st.NextID < firstGeneratedPreKeyID {
		st.NextID = firstGeneratedPreKeyID
	}
	return st, nil
}

func decodePreKey(id uint32, raw json.RawMessage) (*keys.PreKey, error) {
	var rec preKeyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: pre-key/%d: %v", errBadKeyRecord, id, err)
	}
	if len(rec.Priv) != 32 {
		return nil, fmt.Errorf("%w: pre-key/%d has %d bytes", errBadKeyRecord, id, len(rec.Priv))
	}
	return &keys.PreKey{KeyPair: *keys.NewKeyPairFromPrivateKey([32]byte(rec.Priv)), KeyID: id}, nil
}

// generate allocates the next pre-key id and stages the record.
func (s *keyStore) generate(b batch, st *preKeyState) (*keys.PreKey, error) {
	key := keys.NewPreKey(st.NextID)
	st.NextID++
	if err := b.put(categoryPreKey, preKeyID(key.KeyID), preKeyRecord{Priv: key.Priv[:]}); err != nil {
		return nil, err
	}
	return key, nil
}

// GetOrGenPreKeys returns pending pre-keys first and tops them up with new
// ones.
func (s *keyStore) GetOrGenPreKeys(ctx context.Context, count uint32) ([]*keys.PreKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.preKeyState(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id := st.UploadedUpTo + 1; id < st.NextID && uint32(len(ids)) < count; id++ {
		ids = append(ids, preKeyID(id))
	}
	found := map[string]json.RawMessage{}
	if len(ids) > 0 {
		if found, err = s.keys.Get(ctx, categoryPreKey, ids); err != nil {
			return nil, err
		}
	}

	out := make([]*keys.PreKey, 0, count)
	for id := st.UploadedUpTo + 1; id < st.NextID && uint32(len(out)) < count; id++ {
		raw, ok := found[preKeyID(id)]
		if !ok || len(raw) == 0 {
			continue
		}
		key, err := decodePreKey(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}

	b := batch{}
	for uint32(len(out)) < count {
		key, err := s.generate(b, &st)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	if len(b) > 0 {
		if err := b.put(categoryIndex, preKeyStateID, st); err != nil {
			return nil, err
		}
	}
	return out, s.commit(ctx, b)
}

// GenOnePreKey creates a key that counts as already uploaded.
func (s *keyStore) GenOnePreKey(ctx context.Context) (*keys.PreKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.preKeyState(ctx)
	if err != nil {
		return nil, err
	}
	b := batch{}
	key, err := s.generate(b, &st)
	if err != nil {
		return nil, err
	}
	st.Uploaded++
	if err := b.put(categoryIndex, preKeyStateID, st); err != nil {
		return nil, err
	}
	return key, s.commit(ctx, b)
}

func (s *keyStore) GetPreKey(ctx context.Context, id uint32) (*keys.PreKey, error) {
	found, err := s.keys.Get(ctx, categoryPreKey, []string{preKeyID(id)})
	if err != nil {
		return nil, err
	}
	raw, ok := found[preKeyID(id)]
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	return decodePreKey(id, raw)
}

func (s *keyStore) RemovePreKey(ctx context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.GetPreKey(ctx, id)
	if err != nil || key == nil {
		return err
	}
	st, err := s.preKeyState(ctx)
	if err != nil {
		return err
	}
	b := batch{}
	b.remove(categoryPreKey, preKeyID(id))
	if id <= st.UploadedUpTo && st.Uploaded > 0 {
		st.Uploaded--
		if err := b.put(categoryIndex, preKeyStateID, st); err != nil {
			return err
		}
	}
	return s.commit(ctx, b)
}

func (s *keyStore) MarkPreKeysAsUploaded(ctx context.Context, upToID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.preKeyState(ctx)
	if err != nil {
		return err
	}
	if upToID <= st.UploadedUpTo {
		return nil
	}
	st.Uploaded += int(upToID - st.UploadedUpTo)
	st.UploadedUpTo = upToID
	b := batch{}
	if err := b.put(categoryIndex, preKeyStateID, st); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

func (s *keyStore) UploadedPreKeyCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.preKeyState(ctx)
	return st.Uploaded, err
}

func senderKeyID(group, user string) string {
	return group + "." + user
}

func (s *keyStore) PutSenderKey(ctx context.Context, group, user string, session []byte) error {
	b := batch{}
	if err := b.put(categorySenderKey, senderKeyID(group, user), session); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

func (s *keyStore) GetSenderKey(ctx context.Context, group, user string) ([]byte, error) {
	var session []byte
	if _, err := s.get(ctx, categorySenderKey, senderKeyID(group, user), &session); err != nil {
		return nil, err
	}
	return session, nil
}

type appStateKeyRecord struct {
	Data        []byte `json:"data"`
	Fingerprint []byte `json:"fingerprint"`
	Timestamp   int64  `json:"timestamp"`
}

type appStateKeyRef struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

func (s *keyStore) appStateKeyIndex(ctx context.Context) ([]appStateKeyRef, error) {
	var refs []appStateKeyRef
	if _, err := s.get(ctx, categoryIndex, appStateKeyIndexID, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// PutAppStateSyncKey keeps an existing key unless the new one is newer.
func (s *keyStore) PutAppStateSyncKey(ctx context.Context, id []byte, key store.AppStateSyncKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hexID := hex.EncodeToString(id)
	var existing appStateKeyRecord
	found, err := s.get(ctx, categoryAppStateKey, hexID, &existing)
	if err != nil {
		return err
	}
	if found && existing.Timestamp >= key.Timestamp {
		return nil
	}
	refs, err := s.appStateKeyIndex(ctx)
	if err != nil {
		return err
	}
	refs = slices.DeleteFunc(refs, func(r appStateKeyRef) bool { return r.ID == hexID })
	refs = append(refs, appStateKeyRef{ID: hexID, Timestamp: key.Timestamp})

	b := batch{}
	if err := b.put(categoryAppStateKey, hexID, appStateKeyRecord(key)); err != nil {
		return err
	}
	if err := b.put(categoryIndex, appStateKeyIndexID, refs); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

func (s *keyStore) GetAppStateSyncKey(ctx context.Context, id []byte) (*store.AppStateSyncKey, error) {
	var rec appStateKeyRecord
	found, err := s.get(ctx, categoryAppStateKey, hex.EncodeToString(id), &rec)
	if err != nil || !found {
		return nil, err
	}
	key := store.AppStateSyncKey(rec)
	return &key, nil
}

func (s *keyStore) GetLatestAppStateSyncKeyID(ctx context.Context) ([]byte, error) {
	refs, err := s.appStateKeyIndex(ctx)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	latest := slices.MaxFunc(refs, func(a, b appStateKeyRef) int { return compareInt64(a.Timestamp, b.Timestamp) })
	return hex.DecodeString(latest.ID)
}

// GetAllAppStateSyncKeys lists keys newest first.
func (s *keyStore) GetAllAppStateSyncKeys(ctx context.Context) ([]*store.AppStateSyncKey, error) {
	refs, err := s.appStateKeyIndex(ctx)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	slices.SortFunc(refs, func(a, b appStateKeyRef) int { return compareInt64(b.Timestamp, a.Timestamp) })
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	found, err := s.keys.Get(ctx, categoryAppStateKey, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*store.AppStateSyncKey, 0, len(ids))
	for _, id := range ids {
		raw, ok := found[id]
		if !ok || len(raw) == 0 {
			continue
		}
		var rec appStateKeyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: app-state-sync-key/%s: %v", errBadKeyRecord, id, err)
		}
		key := store.AppStateSyncKey(rec)
		out = append(out, &key)
	}
	return out, nil
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// appStateVersion is the sync position of one app state collection. Epoch
// grows on every reset so MACs of an earlier sync are ignored.
type appStateVersion struct {
	Epoch   int    `json:"epoch"`
	Version uint64 `json:"version"`
	Hash    []byte `json:"hash,omitempty"`
}

type appStateMAC struct {
	Epoch    int    `json:"epoch"`
	Version  uint64 `json:"version"`
	ValueMAC []byte `json:"value_mac"`
}

func appStateMACID(name string, indexMAC []byte) string {
	return name + "." + hex.EncodeToString(indexMAC)
}

func (s *keyStore) appStateVersion(ctx context.Context, name string) (appStateVersion, error) {
	var v appStateVersion
	_, err := s.get(ctx, categoryAppStateVer, name, &v)
	return v, err
}

func (s *keyStore) PutAppStateVersion(ctx context.Context, name string, version uint64, hash [128]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.appStateVersion(ctx, name)
	if err != nil {
		return err
	}
	b := batch{}
	if err := b.put(categoryAppStateVer, name, appStateVersion{Epoch: cur.Epoch, Version: version, Hash: hash[:]}); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

func (s *keyStore) GetAppStateVersion(ctx context.Context, name string) (uint64, [128]byte, error) {
	var hash [128]byte
	cur, err := s.appStateVersion(ctx, name)
	if err != nil || cur.Version == 0 {
		return 0, hash, err
	}
	if len(cur.Hash) != len(hash) {
		return 0, hash, fmt.Errorf("%w: app state hash for %s has %d bytes", errBadKeyRecord, name, len(cur.Hash))
	}
	return cur.Version, [128]byte(cur.Hash), nil
}

// DeleteAppStateVersion resets the collection along with its MACs.
func (s *keyStore) DeleteAppStateVersion(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.appStateVersion(ctx, name)
	if err != nil {
		return err
	}
	b := batch{}
	if err := b.put(categoryAppStateVer, name, appStateVersion{Epoch: cur.Epoch + 1}); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

func (s *keyStore) PutAppStateMutationMACs(ctx context.Context, name string, version uint64, mutations []store.AppStateMutationMAC) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.appStateVersion(ctx, name)
	if err != nil {
		return err
	}
	b := batch{}
	for _, m := range mutations {
		rec := appStateMAC{Epoch: cur.Epoch, Version: version, ValueMAC: m.ValueMAC}
		if err := b.put(categoryAppStateMAC, appStateMACID(name, m.IndexMAC), rec); err != nil {
			return err
		}
	}
	return s.commit(ctx, b)
}

func (s *keyStore) DeleteAppStateMutationMACs(ctx context.Context, name string, indexMACs [][]byte) error {
	b := batch{}
	for _, indexMAC := range indexMACs {
		b.remove(categoryAppStateMAC, appStateMACID(name, indexMAC))
	}
	return s.commit(ctx, b)
}

func (s *keyStore) GetAppStateMutationMAC(ctx context.Context, name string, indexMAC []byte) ([]byte, error) {
	cur, err := s.appStateVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	var rec appStateMAC
	found, err := s.get(ctx, categoryAppStateMAC, appStateMACID(name, indexMAC), &rec)
	if err != nil || !found || rec.Epoch != cur.Epoch {
		return nil, err
	}
	return rec.ValueMAC, nil
}
