package mcu

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// dictionaryCache is the on-disk form of a downloaded dictionary, keyed by
// the firmware version it came from.
type dictionaryCache struct {
	Version   string    `cbor:"1,keyasint"`
	Raw       []byte    `cbor:"2,keyasint"`
	Retrieved time.Time `cbor:"3,keyasint"`
}

var cacheEnc = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// SaveDictionaryCache writes the loaded dictionary to path.
func (m *MCU) SaveDictionaryCache(path string) error {
	if m.dictionary == nil {
		return ErrNoDictionary
	}
	data, err := cacheEnc.Marshal(dictionaryCache{
		Version:   m.dictionary.Version,
		Raw:       m.dictionaryData,
		Retrieved: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dictionary cache: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadDictionaryCache installs a dictionary saved by SaveDictionaryCache.
// A missing file reports os.ErrNotExist.
func (m *MCU) LoadDictionaryCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var c dictionaryCache
	if err := cbor.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("decode dictionary cache: %w", err)
	}
	if err := m.LoadDictionary(c.Raw); err != nil {
		return err
	}
	if m.dictionary.Version != c.Version {
		m.dictionary = nil
		return errors.New("dictionary cache is inconsistent")
	}
	m.log.Debug("dictionary loaded from cache",
		zap.String("path", path), zap.String("version", c.Version), zap.Time("retrieved", c.Retrieved))
	return nil
}

// EnsureDictionary loads the dictionary from cachePath when it holds one
// for the connected firmware's version, and downloads it otherwise. An
// empty cachePath always downloads.
func (m *MCU) EnsureDictionary(cachePath string) error {
	if cachePath == "" {
		return m.RetrieveDictionary()
	}

	if err := m.LoadDictionaryCache(cachePath); err == nil {
		if m.versionMatches() {
			return nil
		}
		m.log.Info("dictionary cache is stale", zap.String("path", cachePath))
	} else if !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("ignoring dictionary cache", zap.String("path", cachePath), zap.Error(err))
	}

	if err := m.RetrieveDictionary(); err != nil {
		return err
	}
	if err := m.SaveDictionaryCache(cachePath); err != nil {
		m.log.Warn("could not save dictionary cache", zap.Error(err))
	}
	return nil
}

// versionMatches asks the firmware for the start of its dictionary and
// compares it with the loaded one.
func (m *MCU) versionMatches() bool {
	if !m.connected {
		return false
	}
	head, err := m.identify(0, identifyChunk)
	if err != nil {
		return false
	}
	raw := m.dictionaryData
	return len(raw) >= len(head) && string(raw[:len(head)]) == string(head)
}
