// Package cache implements the persistent cache store (spec.md §4.3): TLS
// cipher-scan results, WHOIS lookups, and HTTP probe responses, each keyed
// differently and reused while fresh.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// table namespaces the three logical tables within one Badger keyspace.
type table string

const (
	tableTLS   table = "tls"
	tableWHOIS table = "whois"
	tableHTTP  table = "http"
)

// Entry is the persisted envelope for every cached row: spec.md §6 names
// the schema as `(id, checked_at, key..., response_content)`.
type Entry struct {
	CheckedAt time.Time       `json:"checked_at"`
	Value     json.RawMessage `json:"response_content"`
}

// Store wraps a Badger database providing row-scoped get/put per table,
// safe for concurrent access across many simultaneously running
// validations (spec.md §5 "shared-resource policy"). Grounded on the
// thin-wrapper-over-*badger.DB shape in
// onflow-flow-go/consensus/hotstuff/persister/persister.go.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// get reads a row and reports whether it is present at all. Badger itself
// refuses reads of entries past their TTL, so a cache miss and an expired
// entry look identical to the caller — which is exactly the "reuse iff
// now-checked_at <= ttl" contract in spec.md §3.
func (s *Store) get(t table, key string) (Entry, bool, error) {
	var entry Entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rowKey(t, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &entry); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: get %s/%s: %w", t, key, err)
	}
	return entry, found, nil
}

// put writes a row, replacing any existing value in place, with the given
// TTL enforced by Badger natively.
func (s *Store) put(t table, key string, value json.RawMessage, ttl time.Duration) error {
	entry := Entry{CheckedAt: time.Now(), Value: value}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal %s/%s: %w", t, key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(rowKey(t, key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func rowKey(t table, key string) []byte {
	return []byte(string(t) + ":" + key)
}

// ---------------------------------------------------------------------
// TLS table: key = MD5(url|ip|port), value = []string of TLS version
// labels (spec.md §4.3, §4.7).
// ---------------------------------------------------------------------

func TLSKey(url, ip string, port int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d", url, ip, port)))
	return hex.EncodeToString(sum[:])
}

func (s *Store) GetTLSVersions(url, ip string, port int) ([]string, bool, error) {
	entry, found, err := s.get(tableTLS, TLSKey(url, ip, port))
	if err != nil || !found {
		return nil, found, err
	}
	var versions []string
	if err := json.Unmarshal(entry.Value, &versions); err != nil {
		return nil, false, fmt.Errorf("cache: decode tls entry: %w", err)
	}
	return versions, true, nil
}

func (s *Store) PutTLSVersions(url, ip string, port int, versions []string, ttl time.Duration) error {
	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	return s.put(tableTLS, TLSKey(url, ip, port), data, ttl)
}

// ---------------------------------------------------------------------
// WHOIS table: key = IP address, value = parsed field map (spec.md §4.3,
// §4.5).
// ---------------------------------------------------------------------

type WHOISRecord struct {
	Organization string `json:"organization"`
	Country      string `json:"country"`
}

func (s *Store) GetWHOIS(ip string) (WHOISRecord, bool, error) {
	entry, found, err := s.get(tableWHOIS, ip)
	if err != nil || !found {
		return WHOISRecord{}, found, err
	}
	var rec WHOISRecord
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return WHOISRecord{}, false, fmt.Errorf("cache: decode whois entry: %w", err)
	}
	return rec, true, nil
}

func (s *Store) PutWHOIS(ip string, rec WHOISRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.put(tableWHOIS, ip, data, ttl)
}

// ---------------------------------------------------------------------
// HTTP table: key = request fingerprint (method/URL/body/headers), value
// = response envelope (spec.md §4.3, §4.4).
// ---------------------------------------------------------------------

// HTTPFingerprint builds the request fingerprint used as the HTTP cache
// key. Header values are included so that, e.g., an Accept-header-gated
// request does not collide with a differently-negotiated one.
func HTTPFingerprint(method, url string, body []byte, headers map[string]string) string {
	h := md5.New()
	fmt.Fprintf(h, "%s\x00%s\x00", method, url)
	h.Write(body)
	for k, v := range headers {
		fmt.Fprintf(h, "\x00%s=%s", k, v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) GetHTTP(fingerprint string, out interface{}) (bool, error) {
	entry, found, err := s.get(tableHTTP, fingerprint)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return false, fmt.Errorf("cache: decode http entry: %w", err)
	}
	return true, nil
}

func (s *Store) PutHTTP(fingerprint string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.put(tableHTTP, fingerprint, data, ttl)
}
