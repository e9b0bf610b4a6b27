// Package state persists client state in a bbolt database: the session
// token, read watermarks and the last conversation list.
package state

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alexjbarnes/hrchat/internal/models"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.hrchat/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
	nonceLen     = 24
)

// Stored token encodings. The first byte of the value says which.
const (
	tokenPlain  byte = 'p'
	tokenSealed byte = 's'
)

var (
	appBucket          = []byte("app")
	// watermarksBucket holds one nested bucket per user id, each keyed
	// by conversation id.
	watermarksBucket   = []byte("user_watermarks")
	conversationBucket = []byte("conversations")

	tokenKey    = []byte("token")
	identityKey = []byte("identity")
	saltKey     = []byte("salt")
	listKey     = []byte("list")
)

// ErrSealedToken is returned when the stored token is sealed and the
// state was opened without a passphrase or with the wrong one.
var ErrSealedToken = errors.New("stored token cannot be unsealed")

// CachedConversations is the last conversation list fetched from the
// backend.
type CachedConversations struct {
	SavedAt       time.Time             `json:"saved_at"`
	Conversations []models.Conversation `json:"conversations"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db  *bolt.DB
	key *[32]byte
}

// DefaultPath returns ~/.hrchat/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".hrchat", "state.db"), nil
}

// LoadAt opens the state database at path, creating it if needed. When
// passphrase is non-empty the stored token is sealed with a key derived
// from it.
func LoadAt(path, passphrase string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	var salt []byte

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, watermarksBucket, conversationBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		app := tx.Bucket(appBucket)
		if v := app.Get(saltKey); v != nil {
			salt = append([]byte(nil), v...)
			return nil
		}

		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}

		return app.Put(saltKey, salt)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	s := &State{db: db}

	if passphrase != "" {
		k, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("deriving state key: %w", err)
		}

		s.key = new([32]byte)
		copy(s.key[:], k)
	}

	return s, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Token returns the stored access token, or "" if none is stored.
func (s *State) Token() (string, error) {
	var raw []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(tokenKey); v != nil {
			raw = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil || len(raw) == 0 {
		return "", err
	}

	switch raw[0] {
	case tokenPlain:
		return string(raw[1:]), nil
	case tokenSealed:
		return s.unseal(raw[1:])
	default:
		return "", fmt.Errorf("unknown token encoding %q", raw[0])
	}
}

// SetToken stores the access token, sealed when a passphrase is set.
// An empty token clears it.
func (s *State) SetToken(token string) error {
	if token == "" {
		return s.ClearToken()
	}

	var value []byte

	if s.key == nil {
		value = append([]byte{tokenPlain}, token...)
	} else {
		var nonce [nonceLen]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return fmt.Errorf("generating nonce: %w", err)
		}

		value = append([]byte{tokenSealed}, nonce[:]...)
		value = secretbox.Seal(value, []byte(token), &nonce, s.key)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(tokenKey, value)
	})
}

// ClearToken removes the stored token and identity.
func (s *State) ClearToken() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)
		if err := b.Delete(tokenKey); err != nil {
			return err
		}

		return b.Delete(identityKey)
	})
}

func (s *State) unseal(data []byte) (string, error) {
	if s.key == nil || len(data) < nonceLen {
		return "", ErrSealedToken
	}

	var nonce [nonceLen]byte
	copy(nonce[:], data[:nonceLen])

	plain, ok := secretbox.Open(nil, data[nonceLen:], &nonce, s.key)
	if !ok {
		return "", ErrSealedToken
	}

	return string(plain), nil
}

// Identity returns the stored user identity. ok is false when none is
// stored.
func (s *State) Identity() (id models.Identity, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(identityKey)
		if v == nil {
			return nil
		}

		ok = true

		return json.Unmarshal(v, &id)
	})

	return id, ok, err
}

// SetIdentity stores the user identity that goes with the token.
func (s *State) SetIdentity(id models.Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(identityKey, data)
	})
}

func conversationKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// userWatermarks returns the watermark bucket nested under userID, or
// nil when the user has none yet.
func userWatermarks(tx *bolt.Tx, userID int64) *bolt.Bucket {
	return tx.Bucket(watermarksBucket).Bucket(conversationKey(userID))
}

// Watermark returns userID's stored read watermark for a conversation,
// or 0.
func (s *State) Watermark(userID, conversationID int64) (int64, error) {
	var w int64

	err := s.db.View(func(tx *bolt.Tx) error {
		b := userWatermarks(tx, userID)
		if b == nil {
			return nil
		}

		v := b.Get(conversationKey(conversationID))
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &w)
	})

	return w, err
}

// SetWatermark stores messageID as userID's read watermark unless a
// higher one is already stored.
func (s *State) SetWatermark(userID, conversationID, messageID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(watermarksBucket).CreateBucketIfNotExists(conversationKey(userID))
		if err != nil {
			return fmt.Errorf("creating watermark bucket for user %d: %w", userID, err)
		}

		k := conversationKey(conversationID)

		if v := b.Get(k); v != nil {
			var current int64
			if err := json.Unmarshal(v, &current); err != nil {
				return err
			}

			if current >= messageID {
				return nil
			}
		}

		data, err := json.Marshal(messageID)
		if err != nil {
			return err
		}

		return b.Put(k, data)
	})
}

// AllWatermarks returns every watermark stored for userID keyed by
// conversation.
func (s *State) AllWatermarks(userID int64) (map[int64]int64, error) {
	result := make(map[int64]int64)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := userWatermarks(tx, userID)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil
			}

			id, err := strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return fmt.Errorf("parsing watermark key %q: %w", k, err)
			}

			var w int64
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}

			result[id] = w

			return nil
		})
	})

	return result, err
}

// SaveConversations replaces the cached conversation list.
func (s *State) SaveConversations(convs []models.Conversation, savedAt time.Time) error {
	data, err := json.Marshal(CachedConversations{SavedAt: savedAt, Conversations: convs})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationBucket).Put(listKey, data)
	})
}

// Conversations returns the cached conversation list, or nil if nothing
// has been cached.
func (s *State) Conversations() (*CachedConversations, error) {
	var cached *CachedConversations

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationBucket).Get(listKey)
		if v == nil {
			return nil
		}

		cached = &CachedConversations{}

		return json.Unmarshal(v, cached)
	})

	return cached, err
}
